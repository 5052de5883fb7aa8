package validation

import (
	"maps"
	"slices"
	"strings"

	"github.com/mmeshcher/testermarket/internal/model"
)

func onlyField(sub *model.Submission, kind model.TaskKind) error {
	set := map[model.TaskKind]bool{
		model.KindApp:       sub.App != nil,
		model.KindMarketing: sub.Marketing != nil,
		model.KindSurvey:    sub.Survey != nil,
		model.KindYoutube:   sub.Youtube != nil,
	}
	for k, present := range set {
		if present != (k == kind) {
			return invalid("%s task expects a %s submission", kind, kind)
		}
	}
	return nil
}

// AppSubmission проверяет отзыв о приложении.
func AppSubmission(_ *model.SpecificTask, sub *model.Submission) error {
	if err := onlyField(sub, model.KindApp); err != nil {
		return err
	}
	if strings.TrimSpace(sub.App.Review) == "" {
		return invalid("review text is required")
	}
	if sub.App.ScreenshotURL != "" {
		return URL("screenshot url", sub.App.ScreenshotURL)
	}
	return nil
}

// MarketingSubmission проверяет подтверждение покупки.
func MarketingSubmission(_ *model.SpecificTask, sub *model.Submission) error {
	if err := onlyField(sub, model.KindMarketing); err != nil {
		return err
	}
	if strings.TrimSpace(sub.Marketing.OrderNumber) == "" {
		return invalid("order number is required")
	}
	return URL("review url", sub.Marketing.ReviewURL)
}

// SurveySubmission проверяет, что ответы даны на все вопросы опроса
// и выбранные варианты существуют.
func SurveySubmission(spec *model.SpecificTask, sub *model.Submission) error {
	if err := onlyField(sub, model.KindSurvey); err != nil {
		return err
	}
	if spec == nil || spec.Survey == nil {
		return invalid("task has no survey")
	}

	answers := make(map[string][]string, len(sub.Survey.Answers))
	for _, a := range sub.Survey.Answers {
		if _, ok := answers[a.QuestionID]; ok {
			return invalid("question %q answered twice", a.QuestionID)
		}
		answers[a.QuestionID] = a.Values
	}

	for _, q := range spec.Survey.Questions {
		values, ok := answers[q.ID]
		if !ok {
			return invalid("question %q is not answered", q.ID)
		}
		delete(answers, q.ID)

		switch q.AnswerType {
		case model.AnswerText:
			if len(values) != 1 || strings.TrimSpace(values[0]) == "" {
				return invalid("question %q needs a text answer", q.ID)
			}
		case model.AnswerSingle:
			if len(values) != 1 || !slices.Contains(q.Options, values[0]) {
				return invalid("question %q needs exactly one listed option", q.ID)
			}
		case model.AnswerMultiple:
			if len(values) == 0 {
				return invalid("question %q needs at least one option", q.ID)
			}
			seen := make(map[string]struct{}, len(values))
			for _, v := range values {
				if !slices.Contains(q.Options, v) {
					return invalid("question %q has no option %q", q.ID, v)
				}
				if _, dup := seen[v]; dup {
					return invalid("question %q repeats option %q", q.ID, v)
				}
				seen[v] = struct{}{}
			}
		}
	}

	if len(answers) > 0 {
		return invalid("unknown question %q", slices.Sorted(maps.Keys(answers))[0])
	}
	return nil
}

// YoutubeSubmission проверяет, что выбрана существующая обложка.
func YoutubeSubmission(spec *model.SpecificTask, sub *model.Submission) error {
	if err := onlyField(sub, model.KindYoutube); err != nil {
		return err
	}
	if spec == nil || spec.Youtube == nil {
		return invalid("task has no thumbnails")
	}
	for _, th := range spec.Youtube.Thumbnails {
		if th.ID == sub.Youtube.ThumbnailID {
			return nil
		}
	}
	return invalid("unknown thumbnail %q", sub.Youtube.ThumbnailID)
}
