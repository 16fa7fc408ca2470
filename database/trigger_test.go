package database

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pledgefund/pledged/internal/apierror"
	"github.com/pledgefund/pledged/model"
)

func TestCreateTriggerDefaultsToDraft(t *testing.T) {
	ds, mock, err := newTestDataSource()
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO triggers").
		WillReturnResult(sqlmock.NewResult(1, 1))

	trigger, err := ds.CreateTrigger(context.Background(), &model.Trigger{
		Title:    gofakeit.Sentence(4),
		Outcomes: []model.Outcome{{Label: "Yes"}, {Label: "No"}},
		MaxSplit: 100,
	})
	require.NoError(t, err)

	assert.Contains(t, trigger.TriggerID, "trg_")
	assert.Equal(t, model.TriggerStatusDraft, trigger.Status)
	assert.Equal(t, 0, trigger.PledgeCount)
	assert.True(t, trigger.TotalPledged.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTriggerDuplicateKeyIsConflict(t *testing.T) {
	ds, mock, err := newTestDataSource()
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO triggers").
		WillReturnError(&pq.Error{Code: "23505"})

	_, err = ds.CreateTrigger(context.Background(), &model.Trigger{
		Key:      "h1234-113",
		Title:    gofakeit.Sentence(4),
		Outcomes: []model.Outcome{{Label: "Yes"}, {Label: "No"}},
		MaxSplit: 100,
	})
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteTriggerExecutionResetsTrigger(t *testing.T) {
	ds, mock, err := newTestDataSource()
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT trigger_id FROM trigger_executions WHERE execution_id = \\$1 FOR UPDATE").
		WithArgs("texc_1").
		WillReturnRows(sqlmock.NewRows([]string{"trigger_id"}).AddRow("trg_1"))
	mock.ExpectExec("DELETE FROM trigger_executions").
		WithArgs("texc_1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE triggers SET status").
		WithArgs("trg_1", model.TriggerStatusPaused).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, ds.DeleteTriggerExecution(context.Background(), "texc_1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteTriggerExecutionWithSettledPledges(t *testing.T) {
	ds, mock, err := newTestDataSource()
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT trigger_id FROM trigger_executions WHERE execution_id = \\$1 FOR UPDATE").
		WillReturnRows(sqlmock.NewRows([]string{"trigger_id"}).AddRow("trg_1"))
	mock.ExpectExec("DELETE FROM trigger_executions").
		WillReturnError(&pq.Error{Code: "23503"})
	mock.ExpectRollback()

	err = ds.DeleteTriggerExecution(context.Background(), "texc_1")
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrConflict),
		"settled pledges protect their trigger execution from deletion")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdjustTriggerPledgeTotalsMissingTrigger(t *testing.T) {
	ds, mock, err := newTestDataSource()
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE triggers").
		WillReturnResult(sqlmock.NewResult(0, 0))

	tx, err := ds.BeginTx(context.Background())
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	err = ds.AdjustTriggerPledgeTotals(context.Background(), tx, "trg_missing", 1, decimal.RequireFromString("5.00"))
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrNotFound))
}
