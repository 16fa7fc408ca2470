/*
Copyright 2025 Pledged Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package gateway talks to the payment processor. The settlement core only
// depends on the Client interface; the concrete client speaks the
// processor's donation API over HTTP.
package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/pledgefund/pledged/config"
	"github.com/pledgefund/pledged/internal/request"
	"github.com/pledgefund/pledged/model"
)

// LineItem is one recipient's share of a donation charge.
type LineItem struct {
	RecipientID string `json:"recipient_id"`
	Amount      string `json:"amount"`
}

// DonationRequest is a single charge split across recipients. Amounts are
// fixed-point strings; the processor rejects floats.
type DonationRequest struct {
	DonorFirstName  string     `json:"donor_first_name"`
	DonorLastName   string     `json:"donor_last_name"`
	DonorAddress1   string     `json:"donor_address1"`
	DonorCity       string     `json:"donor_city"`
	DonorState      string     `json:"donor_state"`
	DonorZip        string     `json:"donor_zip"`
	DonorEmployer   string     `json:"donor_employer,omitempty"`
	DonorOccupation string     `json:"donor_occupation,omitempty"`
	CardToken       string     `json:"cc_token"`
	ConsentText     string     `json:"authtest_request,omitempty"`
	Reference       string     `json:"source_code,omitempty"`
	LineItems       []LineItem `json:"line_items"`
}

// Transaction is the processor's view of one captured transaction.
type Transaction struct {
	GUID   string `json:"transaction_guid"`
	Status string `json:"status"`
	Amount string `json:"amount"`
}

// Client is the settlement core's view of the payment processor.
type Client interface {
	// CreateDonation authorizes and captures a charge in one call. A
	// *ValidationError means the processor rejected the request for a
	// reason the contributor can understand; any other error means the
	// outcome is unknown.
	CreateDonation(ctx context.Context, req *DonationRequest) (*model.DonationRecord, error)

	// GetTransaction fetches the current status of a captured transaction.
	GetTransaction(ctx context.Context, guid string) (*Transaction, error)

	// VoidOrRefundTransaction reverses a transaction: a void while it is
	// still authorized, a refund once it has settled.
	VoidOrRefundTransaction(ctx context.Context, guid string) (*model.VoidResult, error)
}

// ValidationError is a processor rejection with a contributor-readable
// reason, such as a declined card. Distinguished from transport errors
// because it means the charge definitively did not happen.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// FormatAmount renders a decimal the way the processor expects.
func FormatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

// HTTPClient implements Client against the processor's REST API using
// basic auth.
type HTTPClient struct {
	baseURL   string
	accountID string
	username  string
	apiKey    string
}

// NewHTTPClient builds a client from the loaded configuration.
func NewHTTPClient(conf config.GatewayConfig) *HTTPClient {
	return &HTTPClient{
		baseURL:   conf.BaseURL,
		accountID: conf.AccountID,
		username:  conf.Username,
		apiKey:    conf.APIKey,
	}
}

type donationResponse struct {
	DonationID string `json:"donation_id"`
	AuthID     string `json:"authtest_id"`
	Error      string `json:"error"`
	LineItems  []struct {
		TransactionGUID string `json:"transaction_guid"`
		RecipientID     string `json:"recipient_id"`
		Amount          string `json:"amount"`
	} `json:"line_items"`
}

func (c *HTTPClient) CreateDonation(ctx context.Context, donation *DonationRequest) (*model.DonationRecord, error) {
	payload, err := request.ToJsonReq(donation)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/accounts/%s/donations", c.baseURL, c.accountID), payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Basic "+request.BasicAuth(c.username, c.apiKey))

	var body donationResponse
	resp, err := request.Call(req, &body)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity, resp.StatusCode == http.StatusBadRequest:
		reason := body.Error
		if reason == "" {
			reason = "the payment could not be processed"
		}
		return nil, &ValidationError{Reason: reason}
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("gateway donation request failed with status %d", resp.StatusCode)
	}

	record := &model.DonationRecord{DonationID: body.DonationID, AuthID: body.AuthID}
	for _, li := range body.LineItems {
		amount, err := decimal.NewFromString(li.Amount)
		if err != nil {
			return nil, fmt.Errorf("gateway returned unparseable amount %q: %w", li.Amount, err)
		}
		record.LineItems = append(record.LineItems, model.DonationLineItem{
			TransactionGUID: li.TransactionGUID,
			RecipientID:     li.RecipientID,
			Amount:          amount,
		})
	}
	return record, nil
}

func (c *HTTPClient) GetTransaction(ctx context.Context, guid string) (*Transaction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/accounts/%s/transactions/%s", c.baseURL, c.accountID, guid), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Basic "+request.BasicAuth(c.username, c.apiKey))

	var txn Transaction
	resp, err := request.Call(req, &txn)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("gateway transaction lookup failed with status %d", resp.StatusCode)
	}
	return &txn, nil
}

// VoidOrRefundTransaction checks the transaction state first: already
// reversed transactions are reported as-is so the operation is idempotent,
// authorized ones are voided, settled ones are refunded for credit.
func (c *HTTPClient) VoidOrRefundTransaction(ctx context.Context, guid string) (*model.VoidResult, error) {
	txn, err := c.GetTransaction(ctx, guid)
	if err != nil {
		return nil, err
	}

	switch txn.Status {
	case "voided", "credited":
		return &model.VoidResult{TransactionGUID: guid, Status: txn.Status}, nil
	}

	action := "void"
	if txn.Status == "captured" || txn.Status == "settled" {
		action = "credit"
	}

	payload, err := request.ToJsonReq(map[string]string{"transaction_guid": guid})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/accounts/%s/transactions/%s/%s", c.baseURL, c.accountID, guid, action), payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Basic "+request.BasicAuth(c.username, c.apiKey))

	var body Transaction
	resp, err := request.Call(req, &body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("gateway %s of %s failed with status %d", action, guid, resp.StatusCode)
	}
	status := body.Status
	if status == "" {
		status = action
	}
	return &model.VoidResult{TransactionGUID: guid, Status: status}, nil
}
