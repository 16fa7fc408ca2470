package model

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionGUIDs(t *testing.T) {
	record := &DonationRecord{
		LineItems: []DonationLineItem{
			{TransactionGUID: "txn_a", Amount: decimal.RequireFromString("2.50")},
			{TransactionGUID: "txn_a", Amount: decimal.RequireFromString("2.50")},
			{TransactionGUID: "txn_b", Amount: decimal.RequireFromString("0.65")},
			{TransactionGUID: "", Amount: decimal.Zero},
		},
	}
	assert.Equal(t, []string{"txn_a", "txn_b"}, record.TransactionGUIDs())
}

func TestExecutionExtraPreservesUnknownKeys(t *testing.T) {
	raw := []byte(`{"v":1,"exception":"card declined","legacy_flag":{"a":1}}`)

	var extra ExecutionExtra
	require.NoError(t, json.Unmarshal(raw, &extra))

	assert.Equal(t, 1, extra.Version)
	assert.Equal(t, "card declined", extra.Exception)
	require.Contains(t, extra.Unknown, "legacy_flag")

	out, err := json.Marshal(extra)
	require.NoError(t, err)

	var roundTrip map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &roundTrip))
	assert.Contains(t, roundTrip, "legacy_flag", "unrecognized keys survive the round trip")
	assert.Contains(t, roundTrip, "exception")
}

func TestExecutionExtraVoidMovesDonation(t *testing.T) {
	extra := ExecutionExtra{
		Version:  1,
		Donation: &DonationRecord{DonationID: "don_1"},
	}

	extra.VoidedDonation = extra.Donation
	extra.Donation = nil

	out, err := json.Marshal(extra)
	require.NoError(t, err)

	var roundTrip ExecutionExtra
	require.NoError(t, json.Unmarshal(out, &roundTrip))
	assert.Nil(t, roundTrip.Donation, "an empty live key marks nothing left to refund")
	require.NotNil(t, roundTrip.VoidedDonation)
	assert.Equal(t, "don_1", roundTrip.VoidedDonation.DonationID)
}

func TestProfileExtraPreservesUnknownKeys(t *testing.T) {
	raw := []byte(`{"contributor":{"name_first":"Jane"},"billing":{"card_token":"tok_1"},"import_batch":"2014-06"}`)

	var extra ProfileExtra
	require.NoError(t, json.Unmarshal(raw, &extra))

	assert.Equal(t, "Jane", extra.Contributor.NameFirst)
	assert.Equal(t, "tok_1", extra.Billing.CardToken)
	require.Contains(t, extra.Unknown, "import_batch")

	out, err := json.Marshal(extra)
	require.NoError(t, err)
	assert.Contains(t, string(out), "import_batch")
}
