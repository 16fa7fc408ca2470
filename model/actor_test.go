package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartyFromLetter(t *testing.T) {
	party, err := PartyFromLetter("D")
	require.NoError(t, err)
	assert.Equal(t, PartyDemocratic, party)

	party, err = PartyFromLetter("R")
	require.NoError(t, err)
	assert.Equal(t, PartyRepublican, party)

	_, err = PartyFromLetter("X")
	assert.Error(t, err)
}

func TestOppositeParty(t *testing.T) {
	opposite, err := OppositeParty(PartyDemocratic)
	require.NoError(t, err)
	assert.Equal(t, PartyRepublican, opposite)

	_, err = OppositeParty(PartyIndependent)
	assert.Error(t, err, "independents have no opposite party")
}

func TestNewActionFreezesActorIdentity(t *testing.T) {
	execution := &TriggerExecution{ExecutionID: "texc_1", ActionTime: time.Now()}
	actor := &Actor{
		ActorID:   "actr_1",
		NameLong:  "Jane Smith",
		NameShort: "Smith",
		NameSort:  "smith jane",
		Party:     PartyDemocratic,
		Title:     "Senator",
	}

	outcome := 1
	action := NewAction(execution, ActorOutcome{Actor: actor, Outcome: &outcome})

	assert.Contains(t, action.ActionID, "act_")
	assert.Equal(t, "texc_1", action.ExecutionID)
	assert.Equal(t, "Jane Smith", action.NameLong)
	require.NotNil(t, action.Outcome)
	assert.Equal(t, 1, *action.Outcome)
	assert.True(t, action.TotalContributionsFor.IsZero())
	assert.Equal(t, execution.ActionTime, action.ActionTime)
}

func TestNewActionInactiveActorOverridesOutcome(t *testing.T) {
	execution := &TriggerExecution{ExecutionID: "texc_1", ActionTime: time.Now()}
	actor := &Actor{ActorID: "actr_1", InactiveReason: "retired before the vote"}

	outcome := 0
	action := NewAction(execution, ActorOutcome{Actor: actor, Outcome: &outcome})

	assert.Nil(t, action.Outcome, "an inactive actor never carries an outcome")
	assert.Equal(t, "retired before the vote", action.ReasonForNoOutcome)
	assert.False(t, action.HasOutcome())
}

func TestNewActionNoOutcomeCarriesReason(t *testing.T) {
	execution := &TriggerExecution{ExecutionID: "texc_1", ActionTime: time.Now()}
	actionTime := time.Now().Add(-2 * time.Hour)

	action := NewAction(execution, ActorOutcome{
		Actor:      &Actor{ActorID: "actr_1"},
		Reason:     "did not vote",
		ActionTime: &actionTime,
	})

	assert.Nil(t, action.Outcome)
	assert.Equal(t, "did not vote", action.ReasonForNoOutcome)
	assert.Equal(t, actionTime, action.ActionTime, "a per-actor action time overrides the execution's")
}
