package model

import "github.com/shopspring/decimal"

// ToCents переводит сумму в копейки. Сумма должна быть округлена до двух знаков.
func ToCents(d decimal.Decimal) int64 {
	return d.Shift(2).IntPart()
}

// FromCents переводит копейки в денежную сумму.
func FromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}

// IsWholeCents сообщает, что у суммы не больше двух знаков после запятой.
func IsWholeCents(d decimal.Decimal) bool {
	return d.Equal(d.Round(2))
}
