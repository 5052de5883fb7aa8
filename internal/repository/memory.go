package repository

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/testermarket/internal/model"
)

// MemoryRepository хранит данные в памяти процесса. Транзакции выполняются
// строго последовательно над копией состояния, которая заменяет исходное при успехе.
type MemoryRepository struct {
	mu        sync.Mutex
	state     *memState
	conflicts int
}

type historyKey struct {
	tester uuid.UUID
	task   uuid.UUID
}

type memState struct {
	wallets      map[uuid.UUID]model.Wallet
	transactions []model.Transaction
	testers      map[uuid.UUID]model.Tester
	creators     map[uuid.UUID]model.Creator
	tasks        map[uuid.UUID]*model.Task
	creatorTasks map[uuid.UUID][]uuid.UUID
	history      map[historyKey]model.HistoryEntry
	responses    []model.Response
}

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		state: &memState{
			wallets:      make(map[uuid.UUID]model.Wallet),
			testers:      make(map[uuid.UUID]model.Tester),
			creators:     make(map[uuid.UUID]model.Creator),
			tasks:        make(map[uuid.UUID]*model.Task),
			creatorTasks: make(map[uuid.UUID][]uuid.UUID),
			history:      make(map[historyKey]model.HistoryEntry),
		},
	}
}

func (s *memState) clone() *memState {
	c := &memState{
		wallets:      maps.Clone(s.wallets),
		transactions: slices.Clone(s.transactions),
		testers:      maps.Clone(s.testers),
		creators:     maps.Clone(s.creators),
		tasks:        make(map[uuid.UUID]*model.Task, len(s.tasks)),
		creatorTasks: make(map[uuid.UUID][]uuid.UUID, len(s.creatorTasks)),
		history:      maps.Clone(s.history),
		responses:    slices.Clone(s.responses),
	}
	for id, t := range s.tasks {
		c.tasks[id] = t.Clone()
	}
	for id, ids := range s.creatorTasks {
		c.creatorTasks[id] = slices.Clone(ids)
	}
	return c
}

// InjectConflicts заставляет следующие n транзакций завершиться ErrConflict.
func (r *MemoryRepository) InjectConflicts(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conflicts = n
}

// RunInTx выполняет fn над копией состояния и фиксирует её, если fn не вернула ошибку.
func (r *MemoryRepository) RunInTx(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conflicts > 0 {
		r.conflicts--
		return ErrConflict
	}

	next := r.state.clone()
	if err := fn(&memTx{st: next}); err != nil {
		return err
	}
	r.state = next
	return nil
}

// IsTransient сообщает, что транзакцию можно повторить с начала.
func (r *MemoryRepository) IsTransient(err error) bool {
	return IsTransientBase(err)
}

// Close ничего не делает и нужен для единообразия хранилищ.
func (r *MemoryRepository) Close() error {
	return nil
}

type memTx struct {
	st *memState
}

func (t *memTx) InsertWallet(_ context.Context, w *model.Wallet) error {
	for _, existing := range t.st.wallets {
		if w.OwnerKind == model.OwnerKindSystem && existing.OwnerKind == model.OwnerKindSystem {
			return ErrWalletExists
		}
		if w.OwnerID != nil && existing.OwnerID != nil && *existing.OwnerID == *w.OwnerID {
			return ErrWalletExists
		}
	}
	t.st.wallets[w.ID] = *w
	return nil
}

func (t *memTx) GetWalletByOwner(_ context.Context, ownerID uuid.UUID, _ bool) (*model.Wallet, error) {
	for _, w := range t.st.wallets {
		if w.OwnerID != nil && *w.OwnerID == ownerID {
			return &w, nil
		}
	}
	return nil, model.ErrWalletNotFound
}

func (t *memTx) GetWalletByID(_ context.Context, id uuid.UUID, _ bool) (*model.Wallet, error) {
	w, ok := t.st.wallets[id]
	if !ok {
		return nil, model.ErrWalletNotFound
	}
	return &w, nil
}

func (t *memTx) GetSystemWallet(_ context.Context) (*model.Wallet, error) {
	for _, w := range t.st.wallets {
		if w.OwnerKind == model.OwnerKindSystem {
			return &w, nil
		}
	}
	return nil, model.ErrWalletNotFound
}

func (t *memTx) UpdateWalletBalance(_ context.Context, id uuid.UUID, balance decimal.Decimal) error {
	w, ok := t.st.wallets[id]
	if !ok {
		return model.ErrWalletNotFound
	}
	if balance.IsNegative() {
		return fmt.Errorf("wallet %s: negative balance %s", id, balance)
	}
	w.Balance = balance
	t.st.wallets[id] = w
	return nil
}

func (t *memTx) InsertTransaction(_ context.Context, tr *model.Transaction) error {
	if tr.OwnerID != nil && tr.RelatedTaskID != nil {
		for _, existing := range t.st.transactions {
			if existing.OwnerID != nil && existing.RelatedTaskID != nil &&
				*existing.OwnerID == *tr.OwnerID && *existing.RelatedTaskID == *tr.RelatedTaskID &&
				existing.Direction == tr.Direction {
				return ErrDuplicateTransaction
			}
		}
	}
	t.st.transactions = append(t.st.transactions, *tr)
	return nil
}

func (t *memTx) FindTransaction(_ context.Context, ownerID, taskID uuid.UUID, dir model.Direction) (*model.Transaction, error) {
	for _, tr := range t.st.transactions {
		if tr.OwnerID != nil && tr.RelatedTaskID != nil &&
			*tr.OwnerID == ownerID && *tr.RelatedTaskID == taskID && tr.Direction == dir {
			return &tr, nil
		}
	}
	return nil, nil
}

func (t *memTx) ListTransactions(_ context.Context, walletID uuid.UUID) ([]model.Transaction, error) {
	var res []model.Transaction
	for _, tr := range t.st.transactions {
		if tr.WalletID == walletID {
			res = append(res, tr)
		}
	}
	return res, nil
}

func (t *memTx) InsertTester(_ context.Context, ts *model.Tester) error {
	if _, ok := t.st.testers[ts.ID]; ok {
		return fmt.Errorf("%w: tester %s", ErrAccountExists, ts.ID)
	}
	t.st.testers[ts.ID] = *ts
	return nil
}

func (t *memTx) GetTester(_ context.Context, id uuid.UUID) (*model.Tester, error) {
	ts, ok := t.st.testers[id]
	if !ok {
		return nil, model.ErrTesterNotFound
	}
	return &ts, nil
}

func (t *memTx) InsertCreator(_ context.Context, c *model.Creator) error {
	if _, ok := t.st.creators[c.ID]; ok {
		return fmt.Errorf("%w: creator %s", ErrAccountExists, c.ID)
	}
	t.st.creators[c.ID] = *c
	return nil
}

func (t *memTx) GetCreator(_ context.Context, id uuid.UUID) (*model.Creator, error) {
	c, ok := t.st.creators[id]
	if !ok {
		return nil, model.ErrCreatorNotFound
	}
	return &c, nil
}

func (t *memTx) InsertTask(_ context.Context, task *model.Task) error {
	if task.Specific == nil {
		return fmt.Errorf("insert task %s: specific task is missing", task.ID)
	}
	if _, ok := t.st.tasks[task.ID]; ok {
		return fmt.Errorf("insert task %s: already exists", task.ID)
	}
	if _, ok := t.st.creators[task.CreatorID]; !ok {
		return model.ErrCreatorNotFound
	}
	t.st.tasks[task.ID] = task.Clone()
	return nil
}

func (t *memTx) GetTask(_ context.Context, id uuid.UUID, _ bool) (*model.Task, error) {
	task, ok := t.st.tasks[id]
	if !ok {
		return nil, model.ErrTaskNotFound
	}
	return task.Clone(), nil
}

func (t *memTx) UpdateTask(_ context.Context, task *model.Task) error {
	if _, ok := t.st.tasks[task.ID]; !ok {
		return model.ErrTaskNotFound
	}
	t.st.tasks[task.ID] = task.Clone()
	return nil
}

func (t *memTx) ListTasksByStatus(_ context.Context, statuses ...model.TaskStatus) ([]model.Task, error) {
	var res []model.Task
	for _, task := range t.st.tasks {
		if slices.Contains(statuses, task.Status) {
			res = append(res, *task.Clone())
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].PostDate.Before(res[j].PostDate)
	})
	return res, nil
}

func (t *memTx) AppendCreatorTask(_ context.Context, creatorID, taskID uuid.UUID) error {
	if slices.Contains(t.st.creatorTasks[creatorID], taskID) {
		return nil
	}
	t.st.creatorTasks[creatorID] = append(t.st.creatorTasks[creatorID], taskID)
	return nil
}

func (t *memTx) ListCreatorTasks(_ context.Context, creatorID uuid.UUID) ([]uuid.UUID, error) {
	return slices.Clone(t.st.creatorTasks[creatorID]), nil
}

func (t *memTx) UpsertHistory(_ context.Context, e model.HistoryEntry) error {
	t.st.history[historyKey{tester: e.TesterID, task: e.TaskID}] = e
	return nil
}

func (t *memTx) GetHistory(_ context.Context, testerID, taskID uuid.UUID) (*model.HistoryEntry, error) {
	e, ok := t.st.history[historyKey{tester: testerID, task: taskID}]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (t *memTx) ListHistory(_ context.Context, testerID uuid.UUID) ([]model.HistoryEntry, error) {
	var res []model.HistoryEntry
	for k, e := range t.st.history {
		if k.tester == testerID {
			res = append(res, e)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].UpdatedAt.After(res[j].UpdatedAt)
	})
	return res, nil
}

func (t *memTx) InsertResponse(_ context.Context, r *model.Response) error {
	t.st.responses = append(t.st.responses, *r)
	return nil
}

func (t *memTx) ListResponses(_ context.Context, taskID, testerID uuid.UUID) ([]model.Response, error) {
	var res []model.Response
	for _, r := range t.st.responses {
		if r.TaskID == taskID && r.TesterID == testerID {
			res = append(res, r)
		}
	}
	return res, nil
}
