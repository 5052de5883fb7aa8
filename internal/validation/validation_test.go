package validation

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/mmeshcher/testermarket/internal/model"
)

func TestAmount(t *testing.T) {
	tests := []struct {
		name  string
		value string
		valid bool
	}{
		{"positive integer", "500", true},
		{"two decimals", "12.34", true},
		{"zero", "0", false},
		{"negative", "-1", false},
		{"fraction of cent", "0.001", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Amount(decimal.RequireFromString(tt.value))
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, model.ErrValidation)
		})
	}
}

func TestCountry(t *testing.T) {
	assert.NoError(t, Country("RU"))
	assert.NoError(t, Country("us"))
	assert.Error(t, Country(""))
	assert.Error(t, Country("RUS"))
	assert.Error(t, Country("R1"))
}

func TestURL(t *testing.T) {
	assert.NoError(t, URL("link", "https://play.google.com/store/apps/details?id=x"))
	assert.NoError(t, URL("link", "http://example.com"))
	assert.Error(t, URL("link", "ftp://example.com"))
	assert.Error(t, URL("link", "example.com"))
	assert.Error(t, URL("link", ""))
}

func TestTester(t *testing.T) {
	valid := model.Tester{Name: "Anna", Age: 25, Gender: model.GenderFemale, Country: "RU"}
	assert.NoError(t, Tester(&valid))

	noName := valid
	noName.Name = " "
	assert.ErrorIs(t, Tester(&noName), model.ErrValidation)

	anyGender := valid
	anyGender.Gender = model.GenderAny
	assert.ErrorIs(t, Tester(&anyGender), model.ErrValidation)

	badAge := valid
	badAge.Age = 0
	assert.ErrorIs(t, Tester(&badAge), model.ErrValidation)
}

func baseParams() model.CreateTaskParams {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return model.CreateTaskParams{
		Kind:        model.KindApp,
		CreatorID:   uuid.New(),
		PostDate:    now,
		EndDate:     now.Add(72 * time.Hour),
		TesterCount: 5,
		Audience:    model.Audience{MinAge: 18, Gender: model.GenderAny, Country: "RU"},
		Heading:     "Review our app",
		App:         &model.AppDetails{AppName: "Notes", StoreURL: "https://apps.example.com/notes"},
	}
}

func TestTaskParams(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *model.CreateTaskParams)
		valid  bool
	}{
		{"valid app", func(p *model.CreateTaskParams) {}, true},
		{"no creator", func(p *model.CreateTaskParams) { p.CreatorID = uuid.Nil }, false},
		{"end before post", func(p *model.CreateTaskParams) { p.EndDate = p.PostDate.Add(-time.Hour) }, false},
		{"zero testers", func(p *model.CreateTaskParams) { p.TesterCount = 0 }, false},
		{"empty heading", func(p *model.CreateTaskParams) { p.Heading = "" }, false},
		{"bad country", func(p *model.CreateTaskParams) { p.Audience.Country = "Russia" }, false},
		{"unknown kind", func(p *model.CreateTaskParams) { p.Kind = "quiz" }, false},
		{"details of another kind", func(p *model.CreateTaskParams) {
			p.Survey = &model.SurveyDetails{Questions: []model.Question{{ID: "q1", Title: "t", AnswerType: model.AnswerText}}}
		}, false},
		{"valid marketing", func(p *model.CreateTaskParams) {
			p.Kind = model.KindMarketing
			p.App = nil
			p.Marketing = &model.MarketingDetails{
				ProductName:   "Kettle",
				ProductURL:    "https://shop.example.com/kettle",
				ProductPrice:  decimal.RequireFromString("1990.00"),
				RefundPercent: decimal.NewFromInt(50),
			}
		}, true},
		{"refund above hundred", func(p *model.CreateTaskParams) {
			p.Kind = model.KindMarketing
			p.App = nil
			p.Marketing = &model.MarketingDetails{
				ProductName:   "Kettle",
				ProductURL:    "https://shop.example.com/kettle",
				ProductPrice:  decimal.NewFromInt(100),
				RefundPercent: decimal.NewFromInt(120),
			}
		}, false},
		{"survey with duplicate questions", func(p *model.CreateTaskParams) {
			p.Kind = model.KindSurvey
			p.App = nil
			p.Survey = &model.SurveyDetails{Questions: []model.Question{
				{ID: "q1", Title: "a", AnswerType: model.AnswerText},
				{ID: "q1", Title: "b", AnswerType: model.AnswerText},
			}}
		}, false},
		{"single choice without options", func(p *model.CreateTaskParams) {
			p.Kind = model.KindSurvey
			p.App = nil
			p.Survey = &model.SurveyDetails{Questions: []model.Question{
				{ID: "q1", Title: "a", AnswerType: model.AnswerSingle, Options: []string{"yes"}},
			}}
		}, false},
		{"youtube with one thumbnail", func(p *model.CreateTaskParams) {
			p.Kind = model.KindYoutube
			p.App = nil
			p.Youtube = &model.YoutubeDetails{
				WebLink:    "https://youtube.com/watch?v=1",
				Thumbnails: []model.Thumbnail{{ID: "a", URL: "https://img.example.com/a.png"}},
			}
		}, false},
		{"valid youtube", func(p *model.CreateTaskParams) {
			p.Kind = model.KindYoutube
			p.App = nil
			p.Youtube = &model.YoutubeDetails{
				WebLink: "https://youtube.com/watch?v=1",
				Thumbnails: []model.Thumbnail{
					{ID: "a", URL: "https://img.example.com/a.png"},
					{ID: "b", URL: "https://img.example.com/b.png"},
				},
			}
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := baseParams()
			tt.mutate(&p)
			err := TaskParams(&p)
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, model.ErrValidation), "got %v", err)
		})
	}
}
