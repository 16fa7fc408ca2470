package pledged

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pledgefund/pledged/internal/apierror"
	"github.com/pledgefund/pledged/model"
)

func openTrigger(triggerID string) *model.Trigger {
	t := executedTrigger(triggerID)
	t.Status = model.TriggerStatusOpen
	t.PledgeCount = 0
	t.TotalPledged = t.TotalPledged.Sub(t.TotalPledged)
	return t
}

func TestCreateTriggerValidation(t *testing.T) {
	datasource, _, err := newTestDataSource()
	require.NoError(t, err)
	p, err := newTestPledged(datasource, &mockGateway{}, &mockResolver{})
	require.NoError(t, err)

	outcomes := []model.Outcome{{Label: "Yes"}, {Label: "No"}}

	tests := []struct {
		name    string
		trigger *model.Trigger
	}{
		{"missing title", &model.Trigger{Outcomes: outcomes, MaxSplit: 100}},
		{"single outcome", &model.Trigger{Title: "t", Outcomes: outcomes[:1], MaxSplit: 100}},
		{"zero max split", &model.Trigger{Title: "t", Outcomes: outcomes}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.CreateTrigger(context.Background(), tt.trigger)
			require.Error(t, err)
			assert.True(t, apierror.Is(err, apierror.ErrInvalidInput))
		})
	}
}

func TestCreateTriggerMonovalentAllowsSingleOutcome(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	require.NoError(t, err)
	p, err := newTestPledged(datasource, &mockGateway{}, &mockResolver{})
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO triggers").
		WillReturnResult(sqlmock.NewResult(1, 1))

	trigger := &model.Trigger{
		Title:    "Cosponsor the bill",
		Outcomes: []model.Outcome{{Label: "Cosponsored"}},
		MaxSplit: 1,
		Extra:    model.TriggerExtra{Monovalent: true},
	}
	_, err = p.CreateTrigger(context.Background(), trigger)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteTriggerRecordsActionsAndFlipsStatusLast(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	require.NoError(t, err)
	p, err := newTestPledged(datasource, &mockGateway{}, &mockResolver{})
	require.NoError(t, err)

	trigger := openTrigger("trg_1")

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM triggers WHERE trigger_id = \\$1 FOR UPDATE").
		WithArgs("trg_1").
		WillReturnRows(sqlmock.NewRows(triggerTestColumns).AddRow(triggerTestRow(trigger)...))
	mock.ExpectExec("INSERT INTO trigger_executions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO actions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE triggers SET status").
		WithArgs("trg_1", model.TriggerStatusExecuted).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	outcome := 0
	execution, err := p.ExecuteTrigger(context.Background(), "trg_1", TriggerExecutionInput{
		Description: "Final vote on the bill",
		Outcomes: []model.ActorOutcome{
			{Actor: &model.Actor{ActorID: "actr_1", NameLong: "Jane Smith"}, Outcome: &outcome},
		},
	})
	require.NoError(t, err)

	assert.Contains(t, execution.ExecutionID, "texc_")
	assert.Equal(t, time.Now().Year(), execution.Cycle, "cycle defaults to the configured election cycle")
	assert.False(t, execution.ActionTime.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteTriggerTwiceIsInvalidState(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	require.NoError(t, err)
	p, err := newTestPledged(datasource, &mockGateway{}, &mockResolver{})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM triggers WHERE trigger_id = \\$1 FOR UPDATE").
		WillReturnRows(sqlmock.NewRows(triggerTestColumns).AddRow(triggerTestRow(executedTrigger("trg_1"))...))
	mock.ExpectRollback()

	_, err = p.ExecuteTrigger(context.Background(), "trg_1", TriggerExecutionInput{})
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrInvalidState))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteTriggerRejectsOutOfRangeOutcome(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	require.NoError(t, err)
	p, err := newTestPledged(datasource, &mockGateway{}, &mockResolver{})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM triggers WHERE trigger_id = \\$1 FOR UPDATE").
		WillReturnRows(sqlmock.NewRows(triggerTestColumns).AddRow(triggerTestRow(openTrigger("trg_1"))...))
	mock.ExpectExec("INSERT INTO trigger_executions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectRollback()

	outcome := 5
	_, err = p.ExecuteTrigger(context.Background(), "trg_1", TriggerExecutionInput{
		Outcomes: []model.ActorOutcome{
			{Actor: &model.Actor{ActorID: "actr_1"}, Outcome: &outcome},
		},
	})
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrInvalidInput))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVacateTriggerVacatesEveryOpenPledge(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	require.NoError(t, err)
	p, err := newTestPledged(datasource, &mockGateway{}, &mockResolver{})
	require.NoError(t, err)

	pledgeA := executablePledge("pldg_a", "trg_1")
	pledgeB := executablePledge("pldg_b", "trg_1")

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM triggers WHERE trigger_id = \\$1 FOR UPDATE").
		WillReturnRows(sqlmock.NewRows(triggerTestColumns).AddRow(triggerTestRow(openTrigger("trg_1"))...))
	mock.ExpectQuery("SELECT (.+) FROM pledges WHERE trigger_id = \\$1 ORDER BY id FOR UPDATE").
		WithArgs("trg_1").
		WillReturnRows(sqlmock.NewRows(pledgeTestColumns).
			AddRow(pledgeTestRow(pledgeA)...).
			AddRow(pledgeTestRow(pledgeB)...))
	mock.ExpectExec("UPDATE pledges SET status").
		WithArgs("pldg_a", model.PledgeStatusVacated).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE pledges SET status").
		WithArgs("pldg_b", model.PledgeStatusVacated).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE triggers SET status").
		WithArgs("trg_1", model.TriggerStatusVacated).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, p.VacateTrigger(context.Background(), "trg_1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVacateTriggerAbortsOnNonOpenPledge(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	require.NoError(t, err)
	p, err := newTestPledged(datasource, &mockGateway{}, &mockResolver{})
	require.NoError(t, err)

	executed := executablePledge("pldg_a", "trg_1")
	executed.Status = model.PledgeStatusExecuted

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM triggers WHERE trigger_id = \\$1 FOR UPDATE").
		WillReturnRows(sqlmock.NewRows(triggerTestColumns).AddRow(triggerTestRow(openTrigger("trg_1"))...))
	mock.ExpectQuery("SELECT (.+) FROM pledges WHERE trigger_id = \\$1 ORDER BY id FOR UPDATE").
		WillReturnRows(sqlmock.NewRows(pledgeTestColumns).AddRow(pledgeTestRow(executed)...))
	mock.ExpectRollback()

	err = p.VacateTrigger(context.Background(), "trg_1")
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrInvalidState), "one settled pledge aborts the whole vacation")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVacateTriggerFromExecutedIsInvalidState(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	require.NoError(t, err)
	p, err := newTestPledged(datasource, &mockGateway{}, &mockResolver{})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM triggers WHERE trigger_id = \\$1 FOR UPDATE").
		WillReturnRows(sqlmock.NewRows(triggerTestColumns).AddRow(triggerTestRow(executedTrigger("trg_1"))...))
	mock.ExpectRollback()

	err = p.VacateTrigger(context.Background(), "trg_1")
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrInvalidState))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenTrigger(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	require.NoError(t, err)
	p, err := newTestPledged(datasource, &mockGateway{}, &mockResolver{})
	require.NoError(t, err)

	draft := openTrigger("trg_1")
	draft.Status = model.TriggerStatusDraft

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM triggers WHERE trigger_id = \\$1 FOR UPDATE").
		WillReturnRows(sqlmock.NewRows(triggerTestColumns).AddRow(triggerTestRow(draft)...))
	mock.ExpectExec("UPDATE triggers SET status").
		WithArgs("trg_1", model.TriggerStatusOpen).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, p.OpenTrigger(context.Background(), "trg_1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
