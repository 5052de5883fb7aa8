// Package repository содержит хранилища данных биржи заданий и единицу работы над ними.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/testermarket/internal/model"
)

var (
	// ErrWalletExists возвращается при попытке создать второй кошелёк владельца.
	ErrWalletExists = errors.New("wallet already exists")
	// ErrAccountExists возвращается при повторной регистрации профиля.
	ErrAccountExists = errors.New("account already exists")
	// ErrConflict сигнализирует о конфликте параллельной записи; операцию можно повторить.
	ErrConflict = errors.New("concurrent write conflict")
	// ErrDuplicateTransaction возвращается при нарушении ключа идемпотентности журнала.
	ErrDuplicateTransaction = errors.New("duplicate ledger transaction")
	// ErrRetriesExhausted возвращается, когда все попытки завершились конфликтом.
	ErrRetriesExhausted = errors.New("transaction retries exhausted")
)

// Tx — операции над хранилищем в пределах одной транзакции.
type Tx interface {
	InsertWallet(ctx context.Context, w *model.Wallet) error
	GetWalletByOwner(ctx context.Context, ownerID uuid.UUID, forUpdate bool) (*model.Wallet, error)
	GetWalletByID(ctx context.Context, id uuid.UUID, forUpdate bool) (*model.Wallet, error)
	GetSystemWallet(ctx context.Context) (*model.Wallet, error)
	UpdateWalletBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error

	InsertTransaction(ctx context.Context, t *model.Transaction) error
	FindTransaction(ctx context.Context, ownerID, taskID uuid.UUID, dir model.Direction) (*model.Transaction, error)
	ListTransactions(ctx context.Context, walletID uuid.UUID) ([]model.Transaction, error)

	InsertTester(ctx context.Context, t *model.Tester) error
	GetTester(ctx context.Context, id uuid.UUID) (*model.Tester, error)
	InsertCreator(ctx context.Context, c *model.Creator) error
	GetCreator(ctx context.Context, id uuid.UUID) (*model.Creator, error)

	InsertTask(ctx context.Context, t *model.Task) error
	GetTask(ctx context.Context, id uuid.UUID, forUpdate bool) (*model.Task, error)
	UpdateTask(ctx context.Context, t *model.Task) error
	ListTasksByStatus(ctx context.Context, statuses ...model.TaskStatus) ([]model.Task, error)
	AppendCreatorTask(ctx context.Context, creatorID, taskID uuid.UUID) error
	ListCreatorTasks(ctx context.Context, creatorID uuid.UUID) ([]uuid.UUID, error)

	UpsertHistory(ctx context.Context, e model.HistoryEntry) error
	GetHistory(ctx context.Context, testerID, taskID uuid.UUID) (*model.HistoryEntry, error)
	ListHistory(ctx context.Context, testerID uuid.UUID) ([]model.HistoryEntry, error)

	InsertResponse(ctx context.Context, r *model.Response) error
	ListResponses(ctx context.Context, taskID, testerID uuid.UUID) ([]model.Response, error)
}

// MaxAttempts — число попыток выполнения транзакции при конфликтах.
const MaxAttempts = 3

var retryDelays = []time.Duration{20 * time.Millisecond, 80 * time.Millisecond, 200 * time.Millisecond}

// WithRetry выполняет op до maxAttempts раз, пока isTransient признаёт ошибку временной.
// Каждая попытка повторяет единицу работы целиком.
func WithRetry(ctx context.Context, maxAttempts int, isTransient func(error) bool, op func() error) error {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = op()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if !isTransient(err) {
			return err
		}

		if attempt == maxAttempts-1 {
			break
		}

		delay := retryDelays[min(attempt, len(retryDelays)-1)]
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("%w: %w", ErrRetriesExhausted, err)
}

// IsTransientBase распознаёт ошибки, общие для всех хранилищ.
func IsTransientBase(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrDuplicateTransaction)
}

// Store — хранилище, предоставляющее единицу работы.
type Store interface {
	RunInTx(ctx context.Context, fn func(Tx) error) error
	IsTransient(err error) bool
	Close() error
}

// Atomic выполняет fn в транзакции store, повторяя её целиком при временных ошибках.
func Atomic(ctx context.Context, store Store, fn func(Tx) error) error {
	return WithRetry(ctx, MaxAttempts, store.IsTransient, func() error {
		return store.RunInTx(ctx, fn)
	})
}
