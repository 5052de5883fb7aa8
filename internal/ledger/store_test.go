package ledger

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/testermarket/internal/model"
	"github.com/mmeshcher/testermarket/internal/repository"
)

// backends возвращает хранилище в памяти и те внешние базы,
// адреса которых заданы через TEST_DATABASE_URI и TEST_MONGO_URI.
func backends(t *testing.T) map[string]repository.Store {
	t.Helper()
	stores := map[string]repository.Store{"memory": repository.NewMemoryRepository()}

	if dsn := os.Getenv("TEST_DATABASE_URI"); dsn != "" {
		repo, err := repository.NewPostgresRepository(dsn)
		require.NoError(t, err)
		t.Cleanup(func() { _ = repo.Close() })
		stores["postgres"] = repo
	}

	if uri := os.Getenv("TEST_MONGO_URI"); uri != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		repo, err := repository.NewMongoRepository(ctx, uri, "testermarket_test")
		require.NoError(t, err)
		t.Cleanup(func() { _ = repo.Close() })
		stores["mongo"] = repo
	}
	return stores
}

func TestConcurrentDebitsPerBackend(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			system, err := ResolveSystemWallet(ctx, store, uuid.Nil)
			require.NoError(t, err)
			svc := New(store, system.ID, zap.NewNop())
			owner := fundedOwner(t, svc, model.OwnerKindCreator, "1000")

			var wg sync.WaitGroup
			results := make([]model.DebitResult, 2)
			errs := make([]error, 2)
			for i := range 2 {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					results[i], errs[i] = svc.Debit(ctx, owner, dec("600"), uuid.New())
				}(i)
			}
			wg.Wait()

			accepted := 0
			for i := range 2 {
				require.NoError(t, errs[i])
				if results[i].Accepted {
					accepted++
				} else {
					assert.Equal(t, model.MsgInsufficientFunds, results[i].Message)
				}
			}
			assert.Equal(t, 1, accepted)

			w, err := svc.GetWallet(ctx, owner)
			require.NoError(t, err)
			assert.True(t, dec("400").Equal(w.Balance), "balance %s", w.Balance)

			rec, err := svc.Reconcile(ctx, owner)
			require.NoError(t, err)
			assert.True(t, rec.Consistent())

			trs, err := svc.Transactions(ctx, owner)
			require.NoError(t, err)
			assert.Len(t, trs, 2)
		})
	}
}
