package handler

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/testermarket/internal/ledger"
	"github.com/mmeshcher/testermarket/internal/model"
)

type testerRequest struct {
	Name    string       `json:"name"`
	Age     int          `json:"age"`
	Gender  model.Gender `json:"gender"`
	Country string       `json:"country"`
}

type creatorRequest struct {
	Name    string `json:"name"`
	Company string `json:"company"`
}

type registrationResponse struct {
	ID       uuid.UUID `json:"id"`
	WalletID uuid.UUID `json:"wallet_id"`
}

// RegisterTester регистрирует тестировщика и выдаёт cookie.
func (h *Handler) RegisterTester(w http.ResponseWriter, r *http.Request) {
	var req testerRequest
	if err := decode(r, &req); err != nil {
		writeStatus(w, http.StatusBadRequest)
		return
	}

	tester, wallet, err := h.service.RegisterTester(r.Context(), model.Tester{
		Name:    req.Name,
		Age:     req.Age,
		Gender:  req.Gender,
		Country: req.Country,
	})
	if err != nil {
		h.writeError(w, "register tester", err)
		return
	}

	h.authMiddleware.SetAuthCookie(w, tester.ID)
	h.writeJSON(w, http.StatusOK, registrationResponse{ID: tester.ID, WalletID: wallet.ID})
}

// RegisterCreator регистрирует заказчика и выдаёт cookie.
func (h *Handler) RegisterCreator(w http.ResponseWriter, r *http.Request) {
	var req creatorRequest
	if err := decode(r, &req); err != nil {
		writeStatus(w, http.StatusBadRequest)
		return
	}

	creator, wallet, err := h.service.RegisterCreator(r.Context(), model.Creator{
		Name:    req.Name,
		Company: req.Company,
	})
	if err != nil {
		h.writeError(w, "register creator", err)
		return
	}

	h.authMiddleware.SetAuthCookie(w, creator.ID)
	h.writeJSON(w, http.StatusOK, registrationResponse{ID: creator.ID, WalletID: wallet.ID})
}

type walletResponse struct {
	ID        uuid.UUID       `json:"id"`
	OwnerKind model.OwnerKind `json:"owner_kind"`
	Balance   decimal.Decimal `json:"balance"`
}

func newWalletResponse(wl *model.Wallet) walletResponse {
	return walletResponse{ID: wl.ID, OwnerKind: wl.OwnerKind, Balance: wl.Balance}
}

// GetWallet возвращает кошелёк текущего участника.
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actor(w, r)
	if !ok {
		return
	}

	wallet, err := h.ledger.GetWallet(r.Context(), actorID)
	if err != nil {
		h.writeError(w, "get wallet", err)
		return
	}
	h.writeJSON(w, http.StatusOK, newWalletResponse(wallet))
}

type transactionResponse struct {
	ID        uuid.UUID               `json:"id"`
	Direction model.Direction         `json:"direction"`
	Amount    decimal.Decimal         `json:"amount"`
	TaskID    *uuid.UUID              `json:"task_id,omitempty"`
	Status    model.TransactionStatus `json:"status"`
	CreatedAt string                  `json:"created_at"`
}

// GetTransactions возвращает журнал операций кошелька текущего участника.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actor(w, r)
	if !ok {
		return
	}

	trs, err := h.ledger.Transactions(r.Context(), actorID)
	if err != nil {
		h.writeError(w, "get transactions", err)
		return
	}
	if len(trs) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]transactionResponse, 0, len(trs))
	for _, tr := range trs {
		resp = append(resp, transactionResponse{
			ID:        tr.ID,
			Direction: tr.Direction,
			Amount:    tr.Amount,
			TaskID:    tr.RelatedTaskID,
			Status:    tr.Status,
			CreatedAt: tr.CreatedAt.Format(time.RFC3339),
		})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type captureRequest struct {
	OwnerID uuid.UUID       `json:"owner_id"`
	Amount  decimal.Decimal `json:"amount"`
}

// CapturePayment зачисляет на кошелёк участника средства, списанные
// платёжным шлюзом. Подпись уведомления проверяет CaptureMiddleware.
func (h *Handler) CapturePayment(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	if err := decode(r, &req); err != nil || req.OwnerID == uuid.Nil {
		writeStatus(w, http.StatusBadRequest)
		return
	}

	wallet, err := h.ledger.Deposit(r.Context(), req.OwnerID, req.Amount)
	if err != nil {
		h.writeError(w, "capture payment", err)
		return
	}
	h.writeJSON(w, http.StatusOK, newWalletResponse(wallet))
}

type reconcileResponse struct {
	ledger.Reconciliation
	Consistent bool `json:"consistent"`
}

// Reconcile сверяет баланс кошелька текущего участника с журналом.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actor(w, r)
	if !ok {
		return
	}

	rec, err := h.ledger.Reconcile(r.Context(), actorID)
	if err != nil {
		h.writeError(w, "reconcile", err)
		return
	}
	h.writeJSON(w, http.StatusOK, reconcileResponse{Reconciliation: rec, Consistent: rec.Consistent()})
}

type historyResponse struct {
	TaskID    uuid.UUID           `json:"task_id"`
	Status    model.HistoryStatus `json:"status"`
	UpdatedAt string              `json:"updated_at"`
}

// GetHistory возвращает историю заданий текущего тестировщика.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actor(w, r)
	if !ok {
		return
	}

	entries, err := h.service.TaskHistory(r.Context(), actorID)
	if err != nil {
		h.writeError(w, "task history", err)
		return
	}
	if len(entries) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]historyResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, historyResponse{
			TaskID:    e.TaskID,
			Status:    e.Status,
			UpdatedAt: e.UpdatedAt.Format(time.RFC3339),
		})
	}
	h.writeJSON(w, http.StatusOK, resp)
}
