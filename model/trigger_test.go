package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func testAlgorithm() Algorithm {
	return Algorithm{
		ID:                   1,
		MinContrib:           decimal.RequireFromString("1"),
		MaxContrib:           decimal.RequireFromString("500"),
		FeesFixed:            decimal.RequireFromString("0.20"),
		FeesPercent:          decimal.RequireFromString("0.09"),
		PreExecutionWarnTime: 24 * time.Hour,
	}
}

func TestMinimumPledge(t *testing.T) {
	alg := testAlgorithm()

	// One cent to each of 100 possible recipients, plus fees: $1.29.
	wide := &Trigger{MaxSplit: 100}
	assert.True(t, wide.MinimumPledge(alg).Equal(decimal.RequireFromString("1.29")))

	// A single recipient needs $0.21; the schedule floor of $1 wins.
	narrow := &Trigger{MaxSplit: 1}
	assert.True(t, narrow.MinimumPledge(alg).Equal(decimal.RequireFromString("1")))
}

func TestSuggestedPledge(t *testing.T) {
	alg := testAlgorithm()

	assert.True(t, (&Trigger{MaxSplit: 100}).SuggestedPledge(alg).Equal(decimal.RequireFromString("2.50")))
	assert.True(t, (&Trigger{MaxSplit: 435}).SuggestedPledge(alg).Equal(decimal.RequireFromString("5")))
	assert.True(t, (&Trigger{MaxSplit: 1}).SuggestedPledge(alg).Equal(decimal.RequireFromString("2.50")))
}

func TestChargeAmount(t *testing.T) {
	charge, fees := testAlgorithm().ChargeAmount(decimal.RequireFromString("5.00"))
	assert.True(t, fees.Equal(decimal.RequireFromString("0.65")), "fees %s", fees)
	assert.True(t, charge.Equal(decimal.RequireFromString("5.65")), "charge %s", charge)
}

func TestTriggerStatusTransitions(t *testing.T) {
	assert.True(t, CanExecuteTriggerFrom(TriggerStatusDraft))
	assert.True(t, CanExecuteTriggerFrom(TriggerStatusOpen))
	assert.True(t, CanExecuteTriggerFrom(TriggerStatusPaused))
	assert.False(t, CanExecuteTriggerFrom(TriggerStatusExecuted))
	assert.False(t, CanExecuteTriggerFrom(TriggerStatusVacated))

	assert.True(t, CanVacateTriggerFrom(TriggerStatusOpen))
	assert.True(t, CanVacateTriggerFrom(TriggerStatusPaused))
	assert.False(t, CanVacateTriggerFrom(TriggerStatusDraft))
	assert.False(t, CanVacateTriggerFrom(TriggerStatusExecuted))
}
