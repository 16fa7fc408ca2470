package model

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// The "extra" blobs below are typed, versioned views of the schemaless
// JSONB columns. Known payload shapes get real fields so the void and
// aggregate logic stays type-safe; unrecognized keys survive a round trip
// through the Unknown map.

// DonationLineItem is one line of a gateway donation record.
type DonationLineItem struct {
	TransactionGUID string          `json:"transaction_guid"`
	RecipientID     string          `json:"recipient_id"`
	Amount          decimal.Decimal `json:"amount"`
}

// DonationRecord is the gateway's record of an authorized-and-captured
// charge. The line items carry the transaction identifiers needed for a
// later void or refund.
type DonationRecord struct {
	DonationID string             `json:"donation_id"`
	AuthID     string             `json:"auth_id,omitempty"`
	LineItems  []DonationLineItem `json:"line_items"`
}

// TransactionGUIDs returns the distinct transaction identifiers referenced
// by the donation's line items, in first-seen order.
func (d *DonationRecord) TransactionGUIDs() []string {
	seen := make(map[string]bool)
	var guids []string
	for _, li := range d.LineItems {
		if li.TransactionGUID != "" && !seen[li.TransactionGUID] {
			seen[li.TransactionGUID] = true
			guids = append(guids, li.TransactionGUID)
		}
	}
	return guids
}

// VoidResult is the gateway's record of a void or refund.
type VoidResult struct {
	TransactionGUID string `json:"transaction_guid"`
	Status          string `json:"status"`
}

// Geocode is the result of resolving a contributor to a district. Only the
// result is consumed here; how it is computed is someone else's problem.
type Geocode struct {
	District string `json:"district,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// ExecutionExtra is the typed extra payload of trigger executions, pledge
// executions and tips. Donation moves to VoidedDonation when an execution
// is voided, so the live key is empty exactly when there is nothing left to
// refund.
type ExecutionExtra struct {
	Version        int                        `json:"v,omitempty"`
	Donation       *DonationRecord            `json:"donation,omitempty"`
	VoidedDonation *DonationRecord            `json:"voided_donation,omitempty"`
	Void           []VoidResult               `json:"void,omitempty"`
	Exception      string                     `json:"exception,omitempty"`
	Geocode        *Geocode                   `json:"geocode,omitempty"`
	Unknown        map[string]json.RawMessage `json:"-"`
}

var executionExtraKnown = []string{"v", "donation", "voided_donation", "void", "exception", "geocode"}

func (e *ExecutionExtra) UnmarshalJSON(data []byte) error {
	type alias ExecutionExtra
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*e = ExecutionExtra(a)
	e.Unknown = unknownKeys(data, executionExtraKnown)
	return nil
}

func (e ExecutionExtra) MarshalJSON() ([]byte, error) {
	type alias ExecutionExtra
	return marshalWithUnknown(alias(e), e.Unknown)
}

// ProfileExtra is the typed extra payload of contributor profiles.
type ProfileExtra struct {
	Version     int                        `json:"v,omitempty"`
	Contributor Contributor                `json:"contributor"`
	Billing     Billing                    `json:"billing"`
	Geocode     *Geocode                   `json:"geocode,omitempty"`
	Unknown     map[string]json.RawMessage `json:"-"`
}

var profileExtraKnown = []string{"v", "contributor", "billing", "geocode"}

func (e *ProfileExtra) UnmarshalJSON(data []byte) error {
	type alias ProfileExtra
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*e = ProfileExtra(a)
	e.Unknown = unknownKeys(data, profileExtraKnown)
	return nil
}

func (e ProfileExtra) MarshalJSON() ([]byte, error) {
	type alias ProfileExtra
	return marshalWithUnknown(alias(e), e.Unknown)
}

// SubtriggerRef points a super-trigger at one of its underlying triggers.
type SubtriggerRef struct {
	TriggerID string `json:"trigger_id"`
}

// TriggerExtra is the typed extra payload of triggers.
type TriggerExtra struct {
	Version     int             `json:"v,omitempty"`
	Subtriggers []SubtriggerRef `json:"subtriggers,omitempty"`
	Monovalent  bool            `json:"monovalent,omitempty"`
}

// PledgeExtra is the typed extra payload of pledges.
type PledgeExtra struct {
	Version int      `json:"v,omitempty"`
	Geocode *Geocode `json:"geocode,omitempty"`
}

func unknownKeys(data []byte, known []string) map[string]json.RawMessage {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil
	}
	for _, k := range known {
		delete(all, k)
	}
	if len(all) == 0 {
		return nil
	}
	return all
}

func marshalWithUnknown(v interface{}, unknown map[string]json.RawMessage) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(unknown) == 0 {
		return data, nil
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for k, v := range unknown {
		if _, ok := all[k]; !ok {
			all[k] = v
		}
	}
	return json.Marshal(all)
}
