package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pledgefund/pledged/model"
)

type trigger interface {
	CreateTrigger(ctx context.Context, trigger *model.Trigger) (*model.Trigger, error)
	GetTrigger(ctx context.Context, triggerID string) (*model.Trigger, error)
	GetTriggerByKey(ctx context.Context, key string) (*model.Trigger, error)
	GetTriggerForUpdate(ctx context.Context, tx *sql.Tx, triggerID string) (*model.Trigger, error)
	ListTriggers(ctx context.Context) ([]*model.Trigger, error)
	UpdateTriggerStatus(ctx context.Context, tx *sql.Tx, triggerID, status string) error
	AdjustTriggerPledgeTotals(ctx context.Context, tx *sql.Tx, triggerID string, deltaCount int, deltaAmount decimal.Decimal) error
	SetTriggerPledgeTotals(ctx context.Context, triggerID string, count int, total decimal.Decimal) error
	CreateTriggerExecution(ctx context.Context, tx *sql.Tx, execution *model.TriggerExecution) error
	GetTriggerExecution(ctx context.Context, executionID string) (*model.TriggerExecution, error)
	GetTriggerExecutionByTrigger(ctx context.Context, triggerID string) (*model.TriggerExecution, error)
	AdjustTriggerExecutionPledgeCounts(ctx context.Context, tx *sql.Tx, executionID string, deltaPledges, deltaWithContribs int) error
	SetTriggerExecutionAggregates(ctx context.Context, executionID string, pledgeCount, withContribs, numContribs int, total decimal.Decimal) error
	DeleteTriggerExecution(ctx context.Context, executionID string) error
	CreateAction(ctx context.Context, tx *sql.Tx, action *model.Action) error
	GetAction(ctx context.Context, actionID string) (*model.Action, error)
	GetActionsByExecution(ctx context.Context, executionID string) ([]*model.Action, error)
	SetActionContributionTotals(ctx context.Context, actionID string, totalFor, totalAgainst decimal.Decimal) error
	CreateActor(ctx context.Context, actor *model.Actor) (*model.Actor, error)
	GetActor(ctx context.Context, actorID string) (*model.Actor, error)
	CreateRecipient(ctx context.Context, recipient *model.Recipient) (*model.Recipient, error)
	GetRecipient(ctx context.Context, recipientID string) (*model.Recipient, error)
	GetRecipientByActor(ctx context.Context, actorID string) (*model.Recipient, error)
}

type pledge interface {
	CreatePledge(ctx context.Context, pledge *model.Pledge) (*model.Pledge, error)
	GetPledge(ctx context.Context, pledgeID string) (*model.Pledge, error)
	GetPledgeForUpdate(ctx context.Context, tx *sql.Tx, pledgeID string) (*model.Pledge, error)
	GetPledgesByTriggerForUpdate(ctx context.Context, tx *sql.Tx, triggerID string) ([]*model.Pledge, error)
	ListOpenPledgesByTrigger(ctx context.Context, triggerID string) ([]*model.Pledge, error)
	ListOpenPledgesForExecutedTriggers(ctx context.Context) ([]*model.Pledge, error)
	UpdatePledgeStatus(ctx context.Context, tx *sql.Tx, pledgeID, status string) error
	DeletePledge(ctx context.Context, tx *sql.Tx, pledgeID string) error
	CreateCancelledPledge(ctx context.Context, tx *sql.Tx, cancelled *model.CancelledPledge) error
	ConfirmPledgeUser(ctx context.Context, pledgeID, userID string, confirmedAt time.Time) error
	MarkPreExecutionEmailSent(ctx context.Context, pledgeIDs []string, sentAt time.Time) error
	MarkPostExecutionEmailSent(ctx context.Context, pledgeID string, sentAt time.Time) error
	ComputeTriggerPledgeTotals(ctx context.Context, triggerID string) (int, decimal.Decimal, error)
	CreateContributorProfile(ctx context.Context, profile *model.ContributorProfile) (*model.ContributorProfile, error)
	GetContributorProfile(ctx context.Context, profileID string) (*model.ContributorProfile, error)
	UpdateContributorProfileExtra(ctx context.Context, profileID string, isGeocoded bool, extra model.ProfileExtra) error
	FindProfilesByCardLastFour(ctx context.Context, lastFour string) ([]*model.ContributorProfile, error)
}

type execution interface {
	CreatePledgeExecution(ctx context.Context, tx *sql.Tx, execution *model.PledgeExecution) error
	GetPledgeExecution(ctx context.Context, pledgeExecutionID string) (*model.PledgeExecution, error)
	GetPledgeExecutionByPledge(ctx context.Context, pledgeID string) (*model.PledgeExecution, error)
	GetPledgeExecutionForUpdate(ctx context.Context, tx *sql.Tx, pledgeExecutionID string) (*model.PledgeExecution, error)
	UpdatePledgeExecutionProblem(ctx context.Context, tx *sql.Tx, pledgeExecutionID, problem string, extra model.ExecutionExtra) error
	UpdatePledgeExecutionExtra(ctx context.Context, pledgeExecutionID string, extra model.ExecutionExtra) error
	UpdatePledgeExecutionDistrict(ctx context.Context, pledgeExecutionID, district string, extra model.ExecutionExtra) error
	DeletePledgeExecution(ctx context.Context, tx *sql.Tx, pledgeExecutionID string) error
	CreateContribution(ctx context.Context, tx *sql.Tx, contribution *model.Contribution) error
	GetContributionsByExecution(ctx context.Context, pledgeExecutionID string) ([]*model.Contribution, error)
	DeleteContribution(ctx context.Context, tx *sql.Tx, contributionID string) error
	ApplyContributionAggregates(ctx context.Context, tx *sql.Tx, contribution *model.Contribution, pledgeTriggerExecutionID string, factor int) error
	ComputeTriggerExecutionAggregates(ctx context.Context, executionID string) (pledgeCount, withContribs, numContribs int, total decimal.Decimal, err error)
	ComputeActionContributionTotals(ctx context.Context, actionID string) (totalFor, totalAgainst decimal.Decimal, err error)
}

type tip interface {
	CreateTip(ctx context.Context, tip *model.Tip) (*model.Tip, error)
	GetTipByPledge(ctx context.Context, pledgeID string) (*model.Tip, error)
}

// IDataSource is the persistence surface of the settlement core. Methods
// that take a *sql.Tx participate in a caller-managed transaction; the rest
// are single-statement and autocommit.
type IDataSource interface {
	trigger
	pledge
	execution
	tip
	BeginTx(ctx context.Context) (*sql.Tx, error)
}

// BeginTx opens a transaction on the underlying connection pool.
func (d Datasource) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return d.Conn.BeginTx(ctx, nil)
}
