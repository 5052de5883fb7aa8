package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TaskKind — вид задания.
type TaskKind string

const (
	KindApp       TaskKind = "app"
	KindMarketing TaskKind = "marketing"
	KindSurvey    TaskKind = "survey"
	KindYoutube   TaskKind = "youtube"
)

// TaskStatus — состояние жизненного цикла задания.
type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskOpen    TaskStatus = "open"
	TaskClosed  TaskStatus = "closed"
)

func (s TaskStatus) rank() int {
	switch s {
	case TaskPending:
		return 0
	case TaskOpen:
		return 1
	case TaskClosed:
		return 2
	}
	return -1
}

// Gender — пол тестировщика либо фильтр аудитории.
type Gender string

const (
	GenderAny    Gender = "any"
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

// Audience — фильтр аудитории задания.
type Audience struct {
	MinAge  int    `json:"min_age"`
	Gender  Gender `json:"gender"`
	Country string `json:"country,omitempty"`
}

// Admits сообщает, подходит ли тестировщик под фильтр.
func (a Audience) Admits(t *Tester) bool {
	if t.Age < a.MinAge {
		return false
	}
	if a.Gender != "" && a.Gender != GenderAny && a.Gender != t.Gender {
		return false
	}
	if a.Country != "" && !strings.EqualFold(a.Country, t.Country) {
		return false
	}
	return true
}

// Task — общая для всех видов оболочка задания.
type Task struct {
	ID             uuid.UUID
	Kind           TaskKind
	CreatorID      uuid.UUID
	PostDate       time.Time
	EndDate        time.Time
	TesterCount    int
	Audience       Audience
	Heading        string
	Instruction    string
	Status         TaskStatus
	Responded      []uuid.UUID
	SpecificTaskID uuid.UUID
	Specific       *SpecificTask
	CreatedAt      time.Time
}

// StatusAt вычисляет статус по окну [postDate, endDate) на момент now.
func StatusAt(post, end, now time.Time) TaskStatus {
	switch {
	case !now.Before(end):
		return TaskClosed
	case now.Before(post):
		return TaskPending
	default:
		return TaskOpen
	}
}

// Advance переводит задание в более поздний статус. Возврат назад игнорируется.
func (t *Task) Advance(s TaskStatus) bool {
	if s.rank() <= t.Status.rank() {
		return false
	}
	t.Status = s
	return true
}

// Refresh применяет временное окно задания к его статусу.
func (t *Task) Refresh(now time.Time) bool {
	return t.Advance(StatusAt(t.PostDate, t.EndDate, now))
}

// HasResponded сообщает, отвечал ли тестировщик на задание.
func (t *Task) HasResponded(testerID uuid.UUID) bool {
	for _, id := range t.Responded {
		if id == testerID {
			return true
		}
	}
	return false
}

// AddResponded добавляет тестировщика в множество ответивших.
func (t *Task) AddResponded(testerID uuid.UUID) {
	if !t.HasResponded(testerID) {
		t.Responded = append(t.Responded, testerID)
	}
}

// Full сообщает, набрано ли нужное число ответивших.
func (t *Task) Full() bool {
	return len(t.Responded) >= t.TesterCount
}

// Clone возвращает глубокую копию задания.
func (t *Task) Clone() *Task {
	c := *t
	c.Responded = append([]uuid.UUID(nil), t.Responded...)
	if t.Specific != nil {
		c.Specific = t.Specific.Clone()
	}
	return &c
}

// SpecificTask — данные, специфичные для вида задания.
type SpecificTask struct {
	ID        uuid.UUID
	TaskID    uuid.UUID
	Kind      TaskKind
	Roster    *Roster
	App       *AppDetails       `json:"app,omitempty"`
	Marketing *MarketingDetails `json:"marketing,omitempty"`
	Survey    *SurveyDetails    `json:"survey,omitempty"`
	Youtube   *YoutubeDetails   `json:"youtube,omitempty"`
}

// Clone возвращает глубокую копию.
func (s *SpecificTask) Clone() *SpecificTask {
	c := *s
	if s.Roster != nil {
		c.Roster = s.Roster.Clone()
	}
	if s.App != nil {
		app := *s.App
		c.App = &app
	}
	if s.Marketing != nil {
		m := *s.Marketing
		c.Marketing = &m
	}
	if s.Survey != nil {
		sv := SurveyDetails{Questions: make([]Question, len(s.Survey.Questions))}
		for i, q := range s.Survey.Questions {
			q.Options = append([]string(nil), q.Options...)
			sv.Questions[i] = q
		}
		c.Survey = &sv
	}
	if s.Youtube != nil {
		y := *s.Youtube
		y.Thumbnails = append([]Thumbnail(nil), s.Youtube.Thumbnails...)
		c.Youtube = &y
	}
	return &c
}

// AppDetails — задание на отзыв о мобильном приложении.
type AppDetails struct {
	AppName  string `json:"app_name"`
	StoreURL string `json:"store_url"`
}

// MarketingDetails — кампания отзывов о товаре с частичным возвратом стоимости.
type MarketingDetails struct {
	ProductName   string          `json:"product_name"`
	ProductURL    string          `json:"product_url"`
	ProductPrice  decimal.Decimal `json:"product_price"`
	RefundPercent decimal.Decimal `json:"refund_percent"`
}

// AnswerType — тип ответа на вопрос опроса.
type AnswerType string

const (
	AnswerText     AnswerType = "text"
	AnswerSingle   AnswerType = "single"
	AnswerMultiple AnswerType = "multiple"
)

// Question — вопрос опроса.
type Question struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	AnswerType AnswerType `json:"answer_type"`
	Options    []string   `json:"options,omitempty"`
}

// SurveyDetails — упорядоченный список вопросов.
type SurveyDetails struct {
	Questions []Question `json:"questions"`
}

// Thumbnail — вариант обложки в голосовании.
type Thumbnail struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// YoutubeDetails — голосование за обложку видео.
type YoutubeDetails struct {
	Thumbnails []Thumbnail `json:"thumbnails"`
	WebLink    string      `json:"web_link"`
}

// CreateTaskParams — параметры создания задания.
type CreateTaskParams struct {
	Kind        TaskKind
	CreatorID   uuid.UUID
	PostDate    time.Time
	EndDate     time.Time
	TesterCount int
	Audience    Audience
	Heading     string
	Instruction string
	App         *AppDetails
	Marketing   *MarketingDetails
	Survey      *SurveyDetails
	Youtube     *YoutubeDetails
}

// Submission — ответ тестировщика; заполнено поле, соответствующее виду задания.
type Submission struct {
	App       *AppSubmission       `json:"app,omitempty"`
	Marketing *MarketingSubmission `json:"marketing,omitempty"`
	Survey    *SurveySubmission    `json:"survey,omitempty"`
	Youtube   *YoutubeSubmission   `json:"youtube,omitempty"`
}

// AppSubmission — отзыв о приложении.
type AppSubmission struct {
	Review        string `json:"review"`
	ScreenshotURL string `json:"screenshot_url,omitempty"`
}

// MarketingSubmission — подтверждение покупки и ссылка на отзыв.
type MarketingSubmission struct {
	OrderNumber string `json:"order_number"`
	ReviewURL   string `json:"review_url"`
}

// SurveyAnswer — ответ на один вопрос.
type SurveyAnswer struct {
	QuestionID string   `json:"question_id"`
	Values     []string `json:"values"`
}

// SurveySubmission — ответы на опрос.
type SurveySubmission struct {
	Answers []SurveyAnswer `json:"answers"`
}

// YoutubeSubmission — выбранная обложка.
type YoutubeSubmission struct {
	ThumbnailID string `json:"thumbnail_id"`
}

// Response — запись журнала ответов.
type Response struct {
	ID          uuid.UUID
	TaskID      uuid.UUID
	TesterID    uuid.UUID
	Kind        TaskKind
	Payload     Submission
	SubmittedAt time.Time
}

// ReviewStatus — решение заказчика по ответу.
type ReviewStatus string

const (
	ReviewAccepted ReviewStatus = "accepted"
	ReviewRejected ReviewStatus = "rejected"
)
