package repository

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/testermarket/internal/model"
)

func TestMemoryRepository(t *testing.T) {
	testStore(t, NewMemoryRepository())
}

func TestMemoryRepository_SingleSystemWallet(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	insert := func() error {
		return repo.RunInTx(ctx, func(tx Tx) error {
			return tx.InsertWallet(ctx, &model.Wallet{ID: uuid.New(), OwnerKind: model.OwnerKindSystem, Balance: decimal.Zero})
		})
	}
	require.NoError(t, insert())
	assert.ErrorIs(t, insert(), ErrWalletExists)
}

func TestMemoryRepository_RejectsNegativeBalance(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	owner := uuid.New()
	walletID := uuid.New()

	require.NoError(t, repo.RunInTx(ctx, func(tx Tx) error {
		return tx.InsertWallet(ctx, &model.Wallet{ID: walletID, OwnerID: &owner, OwnerKind: model.OwnerKindTester, Balance: decimal.Zero})
	}))

	err := repo.RunInTx(ctx, func(tx Tx) error {
		return tx.UpdateWalletBalance(ctx, walletID, decimal.NewFromInt(-1))
	})
	assert.Error(t, err)
}

func TestMemoryRepository_TaskIsolation(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	creatorID := uuid.New()
	task := &model.Task{
		ID:        uuid.New(),
		Kind:      model.KindApp,
		CreatorID: creatorID,
		Status:    model.TaskOpen,
		Specific:  &model.SpecificTask{Kind: model.KindApp, Roster: model.NewRoster()},
	}

	require.NoError(t, repo.RunInTx(ctx, func(tx Tx) error {
		if err := tx.InsertCreator(ctx, &model.Creator{ID: creatorID, Name: "c"}); err != nil {
			return err
		}
		return tx.InsertTask(ctx, task)
	}))

	// Изменения задания вне транзакции не попадают в хранилище.
	require.NoError(t, task.Specific.Roster.Add(uuid.New(), model.RosterApplied))

	require.NoError(t, repo.RunInTx(ctx, func(tx Tx) error {
		got, err := tx.GetTask(ctx, task.ID, false)
		if err != nil {
			return err
		}
		assert.Equal(t, 0, got.Specific.Roster.Count(model.RosterApplied))
		return nil
	}))
}

func TestMemoryRepository_InjectConflicts(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	repo.InjectConflicts(2)

	var calls int
	err := Atomic(ctx, repo, func(tx Tx) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "conflicting attempts must not reach the unit of work")
}

func TestMemoryRepository_CanceledContext(t *testing.T) {
	repo := NewMemoryRepository()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := repo.RunInTx(ctx, func(tx Tx) error {
		t.Fatal("unit of work must not run")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
