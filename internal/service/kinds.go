package service

import (
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/testermarket/internal/model"
	"github.com/mmeshcher/testermarket/internal/validation"
)

var hundred = decimal.NewFromInt(100)

// kindRules — поведение, зависящее от вида задания.
type kindRules struct {
	// roster — задание с подачей заявок и отбором заказчиком.
	roster bool
	// dailyResponses разрешает отвечать раз в календарные сутки (UTC) вместо одного раза.
	dailyResponses bool
	// submittedHistory — статус истории после ответа; пустой оставляет статус прежним.
	submittedHistory model.HistoryStatus
	// payout — выплата одному тестировщику.
	payout func(s *model.SpecificTask, r model.Rates) decimal.Decimal
	// rewardPool — сумма, списываемая с заказчика при создании задания.
	rewardPool func(n int, s *model.SpecificTask, r model.Rates) decimal.Decimal
	// checkSubmission проверяет содержимое ответа.
	checkSubmission func(s *model.SpecificTask, sub *model.Submission) error
}

func defaultKinds() map[model.TaskKind]kindRules {
	return map[model.TaskKind]kindRules{
		model.KindApp: {
			roster:          true,
			dailyResponses:  true,
			payout:          appPayout,
			rewardPool:      perTesterPool(appPayout),
			checkSubmission: validation.AppSubmission,
		},
		model.KindMarketing: {
			roster:           true,
			submittedHistory: model.HistoryInReview,
			payout:           marketingPayout,
			rewardPool:       marketingPool,
			checkSubmission:  validation.MarketingSubmission,
		},
		model.KindSurvey: {
			payout:          surveyPayout,
			rewardPool:      perTesterPool(surveyPayout),
			checkSubmission: validation.SurveySubmission,
		},
		model.KindYoutube: {
			payout:          youtubePayout,
			rewardPool:      perTesterPool(youtubePayout),
			checkSubmission: validation.YoutubeSubmission,
		},
	}
}

func appPayout(_ *model.SpecificTask, r model.Rates) decimal.Decimal {
	return r.AppPerTester.Round(2)
}

func marketingPayout(s *model.SpecificTask, _ model.Rates) decimal.Decimal {
	m := s.Marketing
	return m.ProductPrice.Mul(m.RefundPercent).Div(hundred).Round(2)
}

func surveyPayout(s *model.SpecificTask, r model.Rates) decimal.Decimal {
	return decimal.NewFromInt(int64(len(s.Survey.Questions))).Mul(r.SurveyPerQuestion).Round(2)
}

func youtubePayout(s *model.SpecificTask, r model.Rates) decimal.Decimal {
	return decimal.NewFromInt(int64(len(s.Youtube.Thumbnails))).Mul(r.YoutubePerThumbnail).Round(2)
}

func perTesterPool(payout func(*model.SpecificTask, model.Rates) decimal.Decimal) func(int, *model.SpecificTask, model.Rates) decimal.Decimal {
	return func(n int, s *model.SpecificTask, r model.Rates) decimal.Decimal {
		return payout(s, r).Mul(decimal.NewFromInt(int64(n)))
	}
}

// marketingPool покрывает возвраты всем тестировщикам и комиссию площадки
// с полной цены товара. Возврат складывается из уже округлённых выплат,
// чтобы пула хватило на каждую из них.
func marketingPool(n int, s *model.SpecificTask, r model.Rates) decimal.Decimal {
	count := decimal.NewFromInt(int64(n))
	refunds := marketingPayout(s, r).Mul(count)
	fee := s.Marketing.ProductPrice.Mul(r.MarketingPlatformFee).Mul(count).Round(2)
	return refunds.Add(fee)
}
