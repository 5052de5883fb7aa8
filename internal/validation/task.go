package validation

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/testermarket/internal/model"
)

var hundred = decimal.NewFromInt(100)

// TaskParams проверяет параметры создания задания.
func TaskParams(p *model.CreateTaskParams) error {
	if p.CreatorID == uuid.Nil {
		return invalid("creator id is required")
	}
	if p.PostDate.IsZero() || p.EndDate.IsZero() {
		return invalid("post date and end date are required")
	}
	if !p.EndDate.After(p.PostDate) {
		return invalid("end date must be after post date")
	}
	if p.TesterCount <= 0 {
		return invalid("tester count must be positive, got %d", p.TesterCount)
	}
	if strings.TrimSpace(p.Heading) == "" {
		return invalid("heading is required")
	}
	if err := audience(p.Audience); err != nil {
		return err
	}

	switch p.Kind {
	case model.KindApp:
		if p.App == nil || p.Marketing != nil || p.Survey != nil || p.Youtube != nil {
			return invalid("app task requires app details only")
		}
		return appDetails(p.App)
	case model.KindMarketing:
		if p.Marketing == nil || p.App != nil || p.Survey != nil || p.Youtube != nil {
			return invalid("marketing task requires marketing details only")
		}
		return marketingDetails(p.Marketing)
	case model.KindSurvey:
		if p.Survey == nil || p.App != nil || p.Marketing != nil || p.Youtube != nil {
			return invalid("survey task requires survey details only")
		}
		return surveyDetails(p.Survey)
	case model.KindYoutube:
		if p.Youtube == nil || p.App != nil || p.Marketing != nil || p.Survey != nil {
			return invalid("youtube task requires youtube details only")
		}
		return youtubeDetails(p.Youtube)
	}
	return invalid("unknown task kind %q", p.Kind)
}

func audience(a model.Audience) error {
	if a.MinAge < 0 || a.MinAge > maxAge {
		return invalid("min age %d is out of range", a.MinAge)
	}
	if a.Gender != "" {
		if err := gender(a.Gender, true); err != nil {
			return err
		}
	}
	if a.Country != "" {
		return Country(a.Country)
	}
	return nil
}

func appDetails(d *model.AppDetails) error {
	if strings.TrimSpace(d.AppName) == "" {
		return invalid("app name is required")
	}
	return URL("store url", d.StoreURL)
}

func marketingDetails(d *model.MarketingDetails) error {
	if strings.TrimSpace(d.ProductName) == "" {
		return invalid("product name is required")
	}
	if err := URL("product url", d.ProductURL); err != nil {
		return err
	}
	if err := Amount(d.ProductPrice); err != nil {
		return err
	}
	if !d.RefundPercent.IsPositive() || d.RefundPercent.GreaterThan(hundred) {
		return invalid("refund percent must be in (0, 100], got %s", d.RefundPercent)
	}
	return nil
}

func surveyDetails(d *model.SurveyDetails) error {
	if len(d.Questions) == 0 {
		return invalid("survey needs at least one question")
	}

	seen := make(map[string]struct{}, len(d.Questions))
	for _, q := range d.Questions {
		if q.ID == "" {
			return invalid("question id is required")
		}
		if _, ok := seen[q.ID]; ok {
			return invalid("duplicate question id %q", q.ID)
		}
		seen[q.ID] = struct{}{}

		if strings.TrimSpace(q.Title) == "" {
			return invalid("question %q has no title", q.ID)
		}

		switch q.AnswerType {
		case model.AnswerText:
			if len(q.Options) != 0 {
				return invalid("text question %q cannot have options", q.ID)
			}
		case model.AnswerSingle, model.AnswerMultiple:
			if len(q.Options) < 2 {
				return invalid("question %q needs at least two options", q.ID)
			}
		default:
			return invalid("question %q has unknown answer type %q", q.ID, q.AnswerType)
		}
	}
	return nil
}

func youtubeDetails(d *model.YoutubeDetails) error {
	if len(d.Thumbnails) < 2 {
		return invalid("thumbnail poll needs at least two thumbnails")
	}
	if err := URL("web link", d.WebLink); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(d.Thumbnails))
	for _, th := range d.Thumbnails {
		if th.ID == "" {
			return invalid("thumbnail id is required")
		}
		if _, ok := seen[th.ID]; ok {
			return invalid("duplicate thumbnail id %q", th.ID)
		}
		seen[th.ID] = struct{}{}

		if err := URL("thumbnail url", th.URL); err != nil {
			return err
		}
	}
	return nil
}
