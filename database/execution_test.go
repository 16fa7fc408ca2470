package database

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pledgefund/pledged/internal/apierror"
	"github.com/pledgefund/pledged/model"
)

func TestApplyContributionAggregatesSameExecution(t *testing.T) {
	ds, mock, err := newTestDataSource()
	require.NoError(t, err)

	contribution := &model.Contribution{
		ContributionID: "cont_1",
		ActionID:       "act_1",
		RecipientType:  model.RecipientTypeIncumbent,
		Amount:         decimal.RequireFromString("5.00"),
	}

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE actions SET total_contributions_for = total_contributions_for \\+ \\$2").
		WithArgs("act_1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"execution_id"}).AddRow("texc_1"))
	mock.ExpectExec("UPDATE trigger_executions").
		WithArgs("texc_1", 1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	tx, err := ds.BeginTx(context.Background())
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	require.NoError(t, ds.ApplyContributionAggregates(context.Background(), tx, contribution, "texc_1", 1))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A pledge settling across another trigger's actions counts toward both the
// pledge's own trigger execution and the action's.
func TestApplyContributionAggregatesAcrossExecutions(t *testing.T) {
	ds, mock, err := newTestDataSource()
	require.NoError(t, err)

	contribution := &model.Contribution{
		ContributionID: "cont_1",
		ActionID:       "act_other",
		RecipientType:  model.RecipientTypeGeneralChallenger,
		Amount:         decimal.RequireFromString("2.50"),
	}

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE actions SET total_contributions_against = total_contributions_against \\+ \\$2").
		WithArgs("act_other", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"execution_id"}).AddRow("texc_other"))
	mock.ExpectExec("UPDATE trigger_executions").
		WithArgs("texc_pledge", 1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE trigger_executions").
		WithArgs("texc_other", 1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	tx, err := ds.BeginTx(context.Background())
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	require.NoError(t, ds.ApplyContributionAggregates(context.Background(), tx, contribution, "texc_pledge", 1))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyContributionAggregatesUnwind(t *testing.T) {
	ds, mock, err := newTestDataSource()
	require.NoError(t, err)

	contribution := &model.Contribution{
		ContributionID: "cont_1",
		ActionID:       "act_1",
		RecipientType:  model.RecipientTypeIncumbent,
		Amount:         decimal.RequireFromString("5.00"),
	}

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE actions SET total_contributions_for").
		WithArgs("act_1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"execution_id"}).AddRow("texc_1"))
	mock.ExpectExec("UPDATE trigger_executions").
		WithArgs("texc_1", -1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	tx, err := ds.BeginTx(context.Background())
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	require.NoError(t, ds.ApplyContributionAggregates(context.Background(), tx, contribution, "texc_1", -1))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatePledgeExecutionTwiceIsConflict(t *testing.T) {
	ds, mock, err := newTestDataSource()
	require.NoError(t, err)

	execution := &model.PledgeExecution{
		PledgeExecutionID:  "pexc_1",
		PledgeID:           "pldg_1",
		TriggerExecutionID: "texc_1",
		Problem:            model.ProblemNoProblem,
		Charged:            decimal.Zero,
		Fees:               decimal.Zero,
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO pledge_executions").
		WillReturnError(&pq.Error{Code: "23505"})

	tx, err := ds.BeginTx(context.Background())
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	err = ds.CreatePledgeExecution(context.Background(), tx, execution)
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrConflict))
}

func TestCreatePledgeExecutionRejectsUnknownProblem(t *testing.T) {
	ds, mock, err := newTestDataSource()
	require.NoError(t, err)

	execution := &model.PledgeExecution{
		PledgeExecutionID:  "pexc_1",
		PledgeID:           "pldg_1",
		TriggerExecutionID: "texc_1",
		Problem:            "EXPLODED",
	}

	mock.ExpectBegin()

	tx, err := ds.BeginTx(context.Background())
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	err = ds.CreatePledgeExecution(context.Background(), tx, execution)
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrInvalidInput))
}
