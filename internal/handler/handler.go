// Package handler содержит HTTP-обработчики API биржи тестировщиков.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/testermarket/internal/ledger"
	"github.com/mmeshcher/testermarket/internal/middleware"
	"github.com/mmeshcher/testermarket/internal/model"
	"github.com/mmeshcher/testermarket/internal/repository"
	"github.com/mmeshcher/testermarket/internal/service"
)

// Service определяет операции жизненного цикла заданий, используемые обработчиками.
type Service interface {
	RegisterTester(ctx context.Context, t model.Tester) (*model.Tester, *model.Wallet, error)
	RegisterCreator(ctx context.Context, c model.Creator) (*model.Creator, *model.Wallet, error)
	CreateTask(ctx context.Context, p model.CreateTaskParams) (service.CreateTaskResult, error)
	GetTask(ctx context.Context, taskID uuid.UUID) (*model.Task, error)
	ListEligibleTasks(ctx context.Context, testerID uuid.UUID) ([]model.Task, error)
	CreatorTasks(ctx context.Context, creatorID uuid.UUID) ([]model.Task, error)
	TaskHistory(ctx context.Context, testerID uuid.UUID) ([]model.HistoryEntry, error)
	ApplyToTask(ctx context.Context, testerID, taskID uuid.UUID) (service.TaskOutcome, error)
	ApproveTester(ctx context.Context, taskID, testerID, creatorID uuid.UUID) (service.TaskOutcome, error)
	RejectTester(ctx context.Context, taskID, testerID, creatorID uuid.UUID) (service.TaskOutcome, error)
	SubmitResponse(ctx context.Context, taskID, testerID uuid.UUID, sub model.Submission) (service.SubmitResult, error)
	SetResponseStatus(ctx context.Context, taskID, testerID, creatorID uuid.UUID, status model.ReviewStatus) (service.ReviewResult, error)
}

// Ledger определяет операции с кошельками, используемые обработчиками.
type Ledger interface {
	GetWallet(ctx context.Context, ownerID uuid.UUID) (*model.Wallet, error)
	Transactions(ctx context.Context, ownerID uuid.UUID) ([]model.Transaction, error)
	Deposit(ctx context.Context, ownerID uuid.UUID, amount decimal.Decimal) (*model.Wallet, error)
	Reconcile(ctx context.Context, ownerID uuid.UUID) (ledger.Reconciliation, error)
}

// Handler реализует HTTP-обработчики API биржи.
type Handler struct {
	service        Service
	ledger         Ledger
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	capture        *middleware.CaptureMiddleware
}

// NewHandler создаёт обработчик HTTP-запросов.
func NewHandler(s Service, l Ledger, logger *zap.Logger, auth *middleware.AuthMiddleware, capture *middleware.CaptureMiddleware) *Handler {
	return &Handler{
		service:        s,
		ledger:         l,
		logger:         logger,
		authMiddleware: auth,
		capture:        capture,
	}
}

func writeStatus(w http.ResponseWriter, code int) {
	http.Error(w, http.StatusText(code), code)
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("encode response", zap.Error(err))
	}
}

func decode(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// writeError переводит ошибку сервиса в HTTP-статус.
func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, model.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, model.ErrNotFound):
		writeStatus(w, http.StatusNotFound)
	case errors.Is(err, model.ErrForbidden):
		writeStatus(w, http.StatusForbidden)
	case errors.Is(err, model.ErrAmountMismatch):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, repository.ErrWalletExists), errors.Is(err, repository.ErrAccountExists):
		writeStatus(w, http.StatusConflict)
	default:
		h.logger.Error(op+" error", zap.Error(err))
		writeStatus(w, http.StatusInternalServerError)
	}
}

func declineStatus(o model.Outcome) int {
	switch o.Message {
	case model.MsgInsufficientFunds, model.MsgInsufficientSystemFunds:
		return http.StatusPaymentRequired
	}
	return http.StatusConflict
}

func actor(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := middleware.GetActorIDFromContext(r.Context())
	if !ok {
		writeStatus(w, http.StatusUnauthorized)
	}
	return id, ok
}
