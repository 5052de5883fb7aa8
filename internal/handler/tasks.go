package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/testermarket/internal/model"
	"github.com/mmeshcher/testermarket/internal/service"
)

type createTaskRequest struct {
	Kind        model.TaskKind          `json:"kind"`
	PostDate    time.Time               `json:"post_date"`
	EndDate     time.Time               `json:"end_date"`
	TesterCount int                     `json:"tester_count"`
	Audience    model.Audience          `json:"audience"`
	Heading     string                  `json:"heading"`
	Instruction string                  `json:"instruction"`
	App         *model.AppDetails       `json:"app,omitempty"`
	Marketing   *model.MarketingDetails `json:"marketing,omitempty"`
	Survey      *model.SurveyDetails    `json:"survey,omitempty"`
	Youtube     *model.YoutubeDetails   `json:"youtube,omitempty"`
}

type taskResponse struct {
	ID          uuid.UUID               `json:"id"`
	Kind        model.TaskKind          `json:"kind"`
	CreatorID   uuid.UUID               `json:"creator_id"`
	PostDate    string                  `json:"post_date"`
	EndDate     string                  `json:"end_date"`
	TesterCount int                     `json:"tester_count"`
	Audience    model.Audience          `json:"audience"`
	Heading     string                  `json:"heading"`
	Instruction string                  `json:"instruction"`
	Status      model.TaskStatus        `json:"status"`
	Responded   int                     `json:"responded"`
	Roster      *model.Roster           `json:"roster,omitempty"`
	App         *model.AppDetails       `json:"app,omitempty"`
	Marketing   *model.MarketingDetails `json:"marketing,omitempty"`
	Survey      *model.SurveyDetails    `json:"survey,omitempty"`
	Youtube     *model.YoutubeDetails   `json:"youtube,omitempty"`
}

// newTaskResponse собирает представление задания. Состав участников
// виден только заказчику.
func newTaskResponse(t *model.Task, viewer uuid.UUID) taskResponse {
	resp := taskResponse{
		ID:          t.ID,
		Kind:        t.Kind,
		CreatorID:   t.CreatorID,
		PostDate:    t.PostDate.Format(time.RFC3339),
		EndDate:     t.EndDate.Format(time.RFC3339),
		TesterCount: t.TesterCount,
		Audience:    t.Audience,
		Heading:     t.Heading,
		Instruction: t.Instruction,
		Status:      t.Status,
		Responded:   len(t.Responded),
	}
	if spec := t.Specific; spec != nil {
		resp.App, resp.Marketing, resp.Survey, resp.Youtube = spec.App, spec.Marketing, spec.Survey, spec.Youtube
		if spec.Roster != nil {
			resp.Responded = spec.Roster.Count(model.RosterSelected)
			if viewer == t.CreatorID {
				resp.Roster = spec.Roster
			}
		}
	}
	return resp
}

func newTaskList(tasks []model.Task, viewer uuid.UUID) []taskResponse {
	resp := make([]taskResponse, 0, len(tasks))
	for i := range tasks {
		resp = append(resp, newTaskResponse(&tasks[i], viewer))
	}
	return resp
}

type createTaskResponse struct {
	model.Outcome
	RewardPool decimal.Decimal `json:"reward_pool"`
	Task       *taskResponse   `json:"task,omitempty"`
}

// CreateTask публикует задание от имени текущего заказчика.
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	creatorID, ok := actor(w, r)
	if !ok {
		return
	}

	var req createTaskRequest
	if err := decode(r, &req); err != nil {
		writeStatus(w, http.StatusBadRequest)
		return
	}

	res, err := h.service.CreateTask(r.Context(), model.CreateTaskParams{
		Kind:        req.Kind,
		CreatorID:   creatorID,
		PostDate:    req.PostDate,
		EndDate:     req.EndDate,
		TesterCount: req.TesterCount,
		Audience:    req.Audience,
		Heading:     req.Heading,
		Instruction: req.Instruction,
		App:         req.App,
		Marketing:   req.Marketing,
		Survey:      req.Survey,
		Youtube:     req.Youtube,
	})
	if err != nil {
		h.writeError(w, "create task", err)
		return
	}

	if res.Underfunded {
		h.writeJSON(w, http.StatusPaymentRequired, createTaskResponse{
			Outcome:    res.Debit.Outcome,
			RewardPool: res.RewardPool,
		})
		return
	}

	task := newTaskResponse(res.Task, creatorID)
	h.writeJSON(w, http.StatusCreated, createTaskResponse{
		Outcome:    model.Accept(),
		RewardPool: res.RewardPool,
		Task:       &task,
	})
}

// ListTasks возвращает задания, доступные текущему тестировщику.
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	testerID, ok := actor(w, r)
	if !ok {
		return
	}

	tasks, err := h.service.ListEligibleTasks(r.Context(), testerID)
	if err != nil {
		h.writeError(w, "list tasks", err)
		return
	}
	if len(tasks) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.writeJSON(w, http.StatusOK, newTaskList(tasks, testerID))
}

// ListCreatorTasks возвращает задания текущего заказчика.
func (h *Handler) ListCreatorTasks(w http.ResponseWriter, r *http.Request) {
	creatorID, ok := actor(w, r)
	if !ok {
		return
	}

	tasks, err := h.service.CreatorTasks(r.Context(), creatorID)
	if err != nil {
		h.writeError(w, "creator tasks", err)
		return
	}
	if len(tasks) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.writeJSON(w, http.StatusOK, newTaskList(tasks, creatorID))
}

func taskID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "taskID"))
	if err != nil {
		writeStatus(w, http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// GetTask возвращает задание по идентификатору.
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	viewer, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := taskID(w, r)
	if !ok {
		return
	}

	task, err := h.service.GetTask(r.Context(), id)
	if err != nil {
		h.writeError(w, "get task", err)
		return
	}
	h.writeJSON(w, http.StatusOK, newTaskResponse(task, viewer))
}

type outcomeResponse struct {
	model.Outcome
	Status model.TaskStatus `json:"status,omitempty"`
}

func (h *Handler) writeOutcome(w http.ResponseWriter, o model.Outcome, task *model.Task) {
	resp := outcomeResponse{Outcome: o}
	if task != nil {
		resp.Status = task.Status
	}
	code := http.StatusOK
	if !o.Accepted {
		code = declineStatus(o)
	}
	h.writeJSON(w, code, resp)
}

// Apply подаёт заявку текущего тестировщика на задание.
func (h *Handler) Apply(w http.ResponseWriter, r *http.Request) {
	testerID, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := taskID(w, r)
	if !ok {
		return
	}

	res, err := h.service.ApplyToTask(r.Context(), testerID, id)
	if err != nil {
		h.writeError(w, "apply", err)
		return
	}
	h.writeOutcome(w, res.Outcome, res.Task)
}

type testerRef struct {
	TesterID uuid.UUID `json:"tester_id"`
}

// Approve отбирает тестировщика в задание текущего заказчика.
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, "approve", h.service.ApproveTester)
}

// Reject отклоняет заявку тестировщика на задание текущего заказчика.
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, "reject", h.service.RejectTester)
}

type rosterDecision func(ctx context.Context, taskID, testerID, creatorID uuid.UUID) (service.TaskOutcome, error)

func (h *Handler) review(w http.ResponseWriter, r *http.Request, op string, fn rosterDecision) {
	creatorID, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := taskID(w, r)
	if !ok {
		return
	}

	var req testerRef
	if err := decode(r, &req); err != nil || req.TesterID == uuid.Nil {
		writeStatus(w, http.StatusBadRequest)
		return
	}

	res, err := fn(r.Context(), id, req.TesterID, creatorID)
	if err != nil {
		h.writeError(w, op, err)
		return
	}
	h.writeOutcome(w, res.Outcome, res.Task)
}

type submitResponse struct {
	model.Outcome
	ResponseID *uuid.UUID       `json:"response_id,omitempty"`
	Balance    *decimal.Decimal `json:"balance,omitempty"`
}

// SubmitResponse принимает ответ текущего тестировщика.
func (h *Handler) SubmitResponse(w http.ResponseWriter, r *http.Request) {
	testerID, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := taskID(w, r)
	if !ok {
		return
	}

	var sub model.Submission
	if err := decode(r, &sub); err != nil {
		writeStatus(w, http.StatusBadRequest)
		return
	}

	res, err := h.service.SubmitResponse(r.Context(), id, testerID, sub)
	if err != nil {
		h.writeError(w, "submit response", err)
		return
	}
	if !res.Accepted {
		h.writeJSON(w, declineStatus(res.Outcome), submitResponse{Outcome: res.Outcome})
		return
	}

	resp := submitResponse{Outcome: res.Outcome, ResponseID: &res.Response.ID}
	if res.Payout != nil {
		resp.Balance = &res.Payout.Wallet.Balance
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type reviewRequest struct {
	TesterID uuid.UUID          `json:"tester_id"`
	Status   model.ReviewStatus `json:"status"`
}

type reviewResponse struct {
	model.Outcome
	History model.HistoryStatus `json:"history,omitempty"`
}

// ReviewResponse фиксирует решение текущего заказчика по ответу тестировщика.
func (h *Handler) ReviewResponse(w http.ResponseWriter, r *http.Request) {
	creatorID, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := taskID(w, r)
	if !ok {
		return
	}

	var req reviewRequest
	if err := decode(r, &req); err != nil || req.TesterID == uuid.Nil {
		writeStatus(w, http.StatusBadRequest)
		return
	}

	res, err := h.service.SetResponseStatus(r.Context(), id, req.TesterID, creatorID, req.Status)
	if err != nil {
		h.writeError(w, "review response", err)
		return
	}

	resp := reviewResponse{Outcome: res.Outcome}
	if res.History != nil {
		resp.History = res.History.Status
	}
	code := http.StatusOK
	if !res.Accepted {
		code = declineStatus(res.Outcome)
	}
	h.writeJSON(w, code, resp)
}
