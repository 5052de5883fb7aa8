// Package validation содержит функции валидации входных данных.
// Все проверки выполняются до начала транзакции и возвращают ошибки,
// оборачивающие model.ErrValidation.
package validation

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/testermarket/internal/model"
)

const maxAge = 150

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{model.ErrValidation}, args...)...)
}

// Amount проверяет, что сумма положительна и не содержит долей копейки.
func Amount(d decimal.Decimal) error {
	if !d.IsPositive() {
		return invalid("amount must be positive, got %s", d)
	}
	if !model.IsWholeCents(d) {
		return invalid("amount %s has more than two decimal places", d)
	}
	return nil
}

// Country проверяет двухбуквенный код страны ISO 3166-1 alpha-2.
func Country(code string) error {
	if len(code) != 2 {
		return invalid("country code %q must have two letters", code)
	}
	for _, ch := range code {
		if (ch < 'A' || ch > 'Z') && (ch < 'a' || ch > 'z') {
			return invalid("country code %q must have two letters", code)
		}
	}
	return nil
}

// URL проверяет абсолютный http(s) адрес.
func URL(field, raw string) error {
	u, err := url.ParseRequestURI(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return invalid("%s must be an absolute http(s) url", field)
	}
	return nil
}

func gender(g model.Gender, allowAny bool) error {
	switch g {
	case model.GenderMale, model.GenderFemale:
		return nil
	case model.GenderAny:
		if allowAny {
			return nil
		}
	}
	return invalid("unknown gender %q", g)
}

// Tester проверяет профиль тестировщика.
func Tester(t *model.Tester) error {
	if strings.TrimSpace(t.Name) == "" {
		return invalid("tester name is required")
	}
	if t.Age <= 0 || t.Age > maxAge {
		return invalid("tester age %d is out of range", t.Age)
	}
	if err := gender(t.Gender, false); err != nil {
		return err
	}
	return Country(t.Country)
}

// Creator проверяет профиль заказчика.
func Creator(c *model.Creator) error {
	if strings.TrimSpace(c.Name) == "" {
		return invalid("creator name is required")
	}
	return nil
}
