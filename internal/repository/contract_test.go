package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/testermarket/internal/model"
)

var errAbort = errors.New("abort")

// testStore проверяет поведение, общее для всех реализаций Store.
// Все идентификаторы случайные, поэтому набор можно гонять на общей базе.
func testStore(t *testing.T, store Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	creator := &model.Creator{ID: uuid.New(), Name: "Acme QA", Company: "Acme", CreatedAt: now}
	tester := &model.Tester{ID: uuid.New(), Name: "Ann", Age: 30, Gender: model.GenderFemale, Country: "DE", CreatedAt: now}
	creatorWallet := &model.Wallet{ID: uuid.New(), OwnerID: &creator.ID, OwnerKind: model.OwnerKindCreator, Balance: decimal.Zero, CreatedAt: now}
	surveyTaskID := uuid.New()

	t.Run("rollback discards writes", func(t *testing.T) {
		ghost := &model.Tester{ID: uuid.New(), Name: "Ghost", Age: 20, Gender: model.GenderMale, CreatedAt: now}
		err := store.RunInTx(ctx, func(tx Tx) error {
			if err := tx.InsertTester(ctx, ghost); err != nil {
				return err
			}
			return errAbort
		})
		require.ErrorIs(t, err, errAbort)

		err = store.RunInTx(ctx, func(tx Tx) error {
			_, err := tx.GetTester(ctx, ghost.ID)
			return err
		})
		assert.ErrorIs(t, err, model.ErrTesterNotFound)
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("profiles and wallets", func(t *testing.T) {
		require.NoError(t, store.RunInTx(ctx, func(tx Tx) error {
			if err := tx.InsertCreator(ctx, creator); err != nil {
				return err
			}
			if err := tx.InsertTester(ctx, tester); err != nil {
				return err
			}
			return tx.InsertWallet(ctx, creatorWallet)
		}))

		err := store.RunInTx(ctx, func(tx Tx) error {
			return tx.InsertWallet(ctx, &model.Wallet{
				ID: uuid.New(), OwnerID: &creator.ID, OwnerKind: model.OwnerKindCreator, Balance: decimal.Zero, CreatedAt: now,
			})
		})
		assert.ErrorIs(t, err, ErrWalletExists)

		err = store.RunInTx(ctx, func(tx Tx) error {
			return tx.InsertTester(ctx, tester)
		})
		assert.ErrorIs(t, err, ErrAccountExists)

		require.NoError(t, store.RunInTx(ctx, func(tx Tx) error {
			w, err := tx.GetWalletByOwner(ctx, creator.ID, true)
			if err != nil {
				return err
			}
			assert.Equal(t, creatorWallet.ID, w.ID)
			return tx.UpdateWalletBalance(ctx, w.ID, decimal.RequireFromString("2500.50"))
		}))

		require.NoError(t, store.RunInTx(ctx, func(tx Tx) error {
			w, err := tx.GetWalletByID(ctx, creatorWallet.ID, false)
			if err != nil {
				return err
			}
			assert.True(t, w.Balance.Equal(decimal.RequireFromString("2500.50")), "balance %s", w.Balance)
			return nil
		}))
	})

	t.Run("transaction log idempotency key", func(t *testing.T) {
		taskID := uuid.New()
		debit := &model.Transaction{
			ID:            uuid.New(),
			WalletID:      creatorWallet.ID,
			OwnerID:       &creator.ID,
			Direction:     model.DirectionDebit,
			Amount:        decimal.NewFromInt(2500),
			RelatedTaskID: &taskID,
			Status:        model.TransactionCompleted,
			CreatedAt:     now,
		}
		require.NoError(t, store.RunInTx(ctx, func(tx Tx) error {
			return tx.InsertTransaction(ctx, debit)
		}))

		dup := *debit
		dup.ID = uuid.New()
		err := store.RunInTx(ctx, func(tx Tx) error {
			return tx.InsertTransaction(ctx, &dup)
		})
		assert.ErrorIs(t, err, ErrDuplicateTransaction)
		assert.True(t, store.IsTransient(err))

		require.NoError(t, store.RunInTx(ctx, func(tx Tx) error {
			found, err := tx.FindTransaction(ctx, creator.ID, taskID, model.DirectionDebit)
			if err != nil {
				return err
			}
			require.NotNil(t, found)
			assert.Equal(t, debit.ID, found.ID)

			missing, err := tx.FindTransaction(ctx, creator.ID, taskID, model.DirectionCredit)
			if err != nil {
				return err
			}
			assert.Nil(t, missing)

			trs, err := tx.ListTransactions(ctx, creatorWallet.ID)
			if err != nil {
				return err
			}
			assert.Len(t, trs, 1)
			return nil
		}))
	})

	t.Run("task round trip", func(t *testing.T) {
		task := &model.Task{
			ID:          surveyTaskID,
			Kind:        model.KindSurvey,
			CreatorID:   creator.ID,
			PostDate:    now.Add(-time.Hour),
			EndDate:     now.Add(24 * time.Hour),
			TesterCount: 2,
			Audience:    model.Audience{MinAge: 18, Gender: model.GenderAny, Country: "DE"},
			Heading:     "Checkout survey",
			Instruction: "Answer every question",
			Status:      model.TaskOpen,
			Responded:   []uuid.UUID{},
			CreatedAt:   now,
		}
		task.SpecificTaskID = uuid.New()
		task.Specific = &model.SpecificTask{
			ID:     task.SpecificTaskID,
			TaskID: task.ID,
			Kind:   model.KindSurvey,
			Survey: &model.SurveyDetails{Questions: []model.Question{
				{ID: "q1", Title: "Rate us", AnswerType: model.AnswerSingle, Options: []string{"good", "bad"}},
				{ID: "q2", Title: "Why", AnswerType: model.AnswerText},
			}},
		}

		require.NoError(t, store.RunInTx(ctx, func(tx Tx) error {
			if err := tx.InsertTask(ctx, task); err != nil {
				return err
			}
			return tx.AppendCreatorTask(ctx, creator.ID, task.ID)
		}))

		require.NoError(t, store.RunInTx(ctx, func(tx Tx) error {
			got, err := tx.GetTask(ctx, task.ID, true)
			if err != nil {
				return err
			}
			got.AddResponded(tester.ID)
			got.Advance(model.TaskClosed)
			if err := tx.UpdateTask(ctx, got); err != nil {
				return err
			}
			return tx.InsertResponse(ctx, &model.Response{
				ID:       uuid.New(),
				TaskID:   task.ID,
				TesterID: tester.ID,
				Kind:     model.KindSurvey,
				Payload: model.Submission{Survey: &model.SurveySubmission{Answers: []model.SurveyAnswer{
					{QuestionID: "q1", Values: []string{"good"}},
					{QuestionID: "q2", Values: []string{"fast"}},
				}}},
				SubmittedAt: now,
			})
		}))

		require.NoError(t, store.RunInTx(ctx, func(tx Tx) error {
			got, err := tx.GetTask(ctx, task.ID, false)
			if err != nil {
				return err
			}
			assert.Equal(t, model.TaskClosed, got.Status)
			assert.Equal(t, []uuid.UUID{tester.ID}, got.Responded)
			assert.Equal(t, "DE", got.Audience.Country)
			require.NotNil(t, got.Specific)
			require.NotNil(t, got.Specific.Survey)
			assert.Len(t, got.Specific.Survey.Questions, 2)
			assert.Equal(t, []string{"good", "bad"}, got.Specific.Survey.Questions[0].Options)
			assert.True(t, got.EndDate.Equal(task.EndDate))

			ids, err := tx.ListCreatorTasks(ctx, creator.ID)
			if err != nil {
				return err
			}
			assert.Contains(t, ids, task.ID)

			responses, err := tx.ListResponses(ctx, task.ID, tester.ID)
			if err != nil {
				return err
			}
			require.Len(t, responses, 1)
			require.NotNil(t, responses[0].Payload.Survey)
			assert.Len(t, responses[0].Payload.Survey.Answers, 2)
			return nil
		}))

		err := store.RunInTx(ctx, func(tx Tx) error {
			_, err := tx.GetTask(ctx, uuid.New(), false)
			return err
		})
		assert.ErrorIs(t, err, model.ErrTaskNotFound)
	})

	t.Run("roster round trip", func(t *testing.T) {
		roster := model.NewRoster()
		require.NoError(t, roster.Add(tester.ID, model.RosterApplied))
		require.NoError(t, roster.Move(tester.ID, model.RosterApplied, model.RosterSelected))

		task := &model.Task{
			ID:          uuid.New(),
			Kind:        model.KindMarketing,
			CreatorID:   creator.ID,
			PostDate:    now,
			EndDate:     now.Add(48 * time.Hour),
			TesterCount: 3,
			Audience:    model.Audience{Gender: model.GenderAny},
			Heading:     "Blender review",
			Status:      model.TaskOpen,
			Responded:   []uuid.UUID{},
			CreatedAt:   now,
		}
		task.SpecificTaskID = uuid.New()
		task.Specific = &model.SpecificTask{
			ID:     task.SpecificTaskID,
			TaskID: task.ID,
			Kind:   model.KindMarketing,
			Roster: roster,
			Marketing: &model.MarketingDetails{
				ProductName:   "Blender",
				ProductURL:    "https://shop.example/blender",
				ProductPrice:  decimal.RequireFromString("49.99"),
				RefundPercent: decimal.NewFromInt(50),
			},
		}
		require.NoError(t, store.RunInTx(ctx, func(tx Tx) error {
			return tx.InsertTask(ctx, task)
		}))

		require.NoError(t, store.RunInTx(ctx, func(tx Tx) error {
			got, err := tx.GetTask(ctx, task.ID, false)
			if err != nil {
				return err
			}
			require.NotNil(t, got.Specific.Roster)
			set, ok := got.Specific.Roster.Lookup(tester.ID)
			assert.True(t, ok)
			assert.Equal(t, model.RosterSelected, set)
			assert.Equal(t, 0, got.Specific.Roster.Count(model.RosterApplied))
			assert.True(t, got.Specific.Marketing.ProductPrice.Equal(decimal.RequireFromString("49.99")))
			return nil
		}))
	})

	t.Run("history upsert", func(t *testing.T) {
		taskID := surveyTaskID
		require.NoError(t, store.RunInTx(ctx, func(tx Tx) error {
			if err := tx.UpsertHistory(ctx, model.HistoryEntry{
				TesterID: tester.ID, TaskID: taskID, Status: model.HistoryApplied, UpdatedAt: now,
			}); err != nil {
				return err
			}
			return tx.UpsertHistory(ctx, model.HistoryEntry{
				TesterID: tester.ID, TaskID: taskID, Status: model.HistoryPending, UpdatedAt: now.Add(time.Minute),
			})
		}))

		require.NoError(t, store.RunInTx(ctx, func(tx Tx) error {
			e, err := tx.GetHistory(ctx, tester.ID, taskID)
			if err != nil {
				return err
			}
			require.NotNil(t, e)
			assert.Equal(t, model.HistoryPending, e.Status)

			missing, err := tx.GetHistory(ctx, tester.ID, uuid.New())
			if err != nil {
				return err
			}
			assert.Nil(t, missing)

			entries, err := tx.ListHistory(ctx, tester.ID)
			if err != nil {
				return err
			}
			var matched int
			for _, e := range entries {
				if e.TaskID == taskID {
					matched++
				}
			}
			assert.Equal(t, 1, matched)
			return nil
		}))
	})
}
