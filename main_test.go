package pledged

import (
	"context"
	"database/sql/driver"
	"log"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"

	"github.com/pledgefund/pledged/config"
	"github.com/pledgefund/pledged/database"
	"github.com/pledgefund/pledged/gateway"
	"github.com/pledgefund/pledged/model"
)

func newTestDataSource() (database.IDataSource, sqlmock.Sqlmock, error) {
	config.MockConfig(&config.Configuration{})
	db, mock, err := sqlmock.New()
	if err != nil {
		log.Printf("an error '%s' was not expected when opening a stub database Connection", err)
	}
	return database.Datasource{Conn: db}, mock, err
}

func newTestPledged(ds database.IDataSource, gw gateway.Client, resolver RecipientResolver) (*Pledged, error) {
	p, err := NewPledged(ds)
	if err != nil {
		return nil, err
	}
	if gw != nil {
		p.gateway = gw
	}
	if resolver != nil {
		p.resolver = resolver
	}
	return p, nil
}

// mockGateway records calls instead of talking to a processor.
type mockGateway struct {
	createCalls int
	requests    []*gateway.DonationRequest
	donation    *model.DonationRecord
	createErr   error

	voided  []string
	voidErr error
}

func (g *mockGateway) CreateDonation(_ context.Context, req *gateway.DonationRequest) (*model.DonationRecord, error) {
	g.createCalls++
	g.requests = append(g.requests, req)
	if g.createErr != nil {
		return nil, g.createErr
	}
	return g.donation, nil
}

func (g *mockGateway) GetTransaction(_ context.Context, guid string) (*gateway.Transaction, error) {
	return &gateway.Transaction{GUID: guid, Status: "captured"}, nil
}

func (g *mockGateway) VoidOrRefundTransaction(_ context.Context, guid string) (*model.VoidResult, error) {
	if g.voidErr != nil {
		return nil, g.voidErr
	}
	g.voided = append(g.voided, guid)
	return &model.VoidResult{TransactionGUID: guid, Status: "voided"}, nil
}

// mockResolver returns a canned recipient list.
type mockResolver struct {
	resolved []ResolvedRecipient
	err      error
}

func (r *mockResolver) Resolve(_ context.Context, pledge *model.Pledge, _ *model.Trigger, _ *model.TriggerExecution) ([]ResolvedRecipient, error) {
	if r.err != nil {
		return nil, r.err
	}
	for i, amount := range model.SplitCents(pledge.Amount, len(r.resolved)) {
		r.resolved[i].Amount = amount
	}
	return r.resolved, nil
}

var pledgeTestColumns = []string{
	"pledge_id", "user_id", "anon_user_id", "profile_id", "trigger_id",
	"campaign_id", "ref_code", "status", "algorithm", "made_after_trigger_execution",
	"desired_outcome", "amount", "incumb_challgr", "filter_party", "filter_competitive",
	"tip_to_campaign_owner", "cc_last_four", "email_confirmed_at",
	"pre_execution_email_sent_at", "post_execution_email_sent_at", "extra",
	"created_at", "updated_at",
}

func pledgeTestRow(p *model.Pledge) []driverValue {
	return []driverValue{
		p.PledgeID, p.UserID, p.AnonUserID, p.ProfileID, p.TriggerID,
		p.CampaignID, p.RefCode, p.Status, p.Algorithm, p.MadeAfterTriggerExecution,
		p.DesiredOutcome, p.Amount.String(), p.IncumbChallgr, p.FilterParty, p.FilterCompetitive,
		p.TipToCampaignOwner.String(), p.CCLastFour, p.EmailConfirmedAt,
		p.PreExecutionEmailSentAt, p.PostExecutionEmailSent, []byte(`{}`),
		p.CreatedAt, p.UpdatedAt,
	}
}

type driverValue = driver.Value

var triggerTestColumns = []string{
	"trigger_id", "key", "title", "description", "status", "outcomes", "max_split",
	"pledge_count", "total_pledged", "extra", "created_at", "updated_at",
}

func triggerTestRow(t *model.Trigger) []driverValue {
	return []driverValue{
		t.TriggerID, t.Key, t.Title, t.Description, t.Status, []byte(`[{"label":"Yes"},{"label":"No"}]`), t.MaxSplit,
		t.PledgeCount, t.TotalPledged.String(), []byte(`{}`), t.CreatedAt, t.UpdatedAt,
	}
}

var executionTestColumns = []string{
	"execution_id", "trigger_id", "action_time", "cycle", "description",
	"pledge_count", "pledge_count_with_contribs", "num_contributions", "total_contributions",
	"extra", "created_at",
}

func executionTestRow(te *model.TriggerExecution) []driverValue {
	return []driverValue{
		te.ExecutionID, te.TriggerID, te.ActionTime, te.Cycle, te.Description,
		te.PledgeCount, te.PledgeCountWithContribs, te.NumContributions, te.TotalContributions.String(),
		[]byte(`{}`), te.CreatedAt,
	}
}

var profileTestColumns = []string{
	"profile_id", "cc_last_four", "cc_number_hash", "is_geocoded", "extra", "created_at",
}

func profileTestRow(profileID string) []driverValue {
	return []driverValue{
		profileID, "4242", "", false,
		[]byte(`{"contributor":{"name_first":"Jane","name_last":"Doe","address":"1 Main St","city":"Springfield","state":"IL","zip":"62701"},"billing":{"card_token":"tok_123"}}`),
		time.Now(),
	}
}

// executablePledge builds a pledge that passes CanExecute against
// executedTrigger's state under the default fee schedule.
func executablePledge(pledgeID, triggerID string) *model.Pledge {
	confirmed := time.Now().Add(-96 * time.Hour)
	noticeSent := time.Now().Add(-48 * time.Hour)
	return &model.Pledge{
		PledgeID:                pledgeID,
		UserID:                  "usr_1",
		ProfileID:               "prf_1",
		TriggerID:               triggerID,
		Status:                  model.PledgeStatusOpen,
		Algorithm:               1,
		DesiredOutcome:          0,
		Amount:                  decimal.RequireFromString("5.00"),
		TipToCampaignOwner:      decimal.Zero,
		EmailConfirmedAt:        &confirmed,
		PreExecutionEmailSentAt: &noticeSent,
		CreatedAt:               time.Now().Add(-120 * time.Hour),
		UpdatedAt:               time.Now().Add(-120 * time.Hour),
	}
}

func executedTrigger(triggerID string) *model.Trigger {
	return &model.Trigger{
		TriggerID:    triggerID,
		Title:        "Senate vote",
		Status:       model.TriggerStatusExecuted,
		MaxSplit:     100,
		PledgeCount:  1,
		TotalPledged: decimal.RequireFromString("5.00"),
		CreatedAt:    time.Now().Add(-200 * time.Hour),
		UpdatedAt:    time.Now().Add(-72 * time.Hour),
	}
}

func triggerExecutionFor(triggerID string) *model.TriggerExecution {
	return &model.TriggerExecution{
		ExecutionID:        "texc_1",
		TriggerID:          triggerID,
		ActionTime:         time.Now().Add(-72 * time.Hour),
		Cycle:              2026,
		TotalContributions: decimal.Zero,
		CreatedAt:          time.Now().Add(-72 * time.Hour),
	}
}

func testAction(actionID, executionID string, outcome int) *model.Action {
	o := outcome
	return &model.Action{
		ActionID:    actionID,
		ExecutionID: executionID,
		ActorID:     "actr_1",
		ActionTime:  time.Now().Add(-72 * time.Hour),
		Outcome:     &o,
		NameLong:    "Jane Smith",
		NameShort:   "Smith",
		NameSort:    "smith jane",
		Party:       model.PartyDemocratic,
		Title:       "Senator",
	}
}

func testRecipient(recipientID, gatewayID, actorID string) *model.Recipient {
	return &model.Recipient{
		RecipientID: recipientID,
		GatewayID:   gatewayID,
		Active:      true,
		ActorID:     actorID,
	}
}
