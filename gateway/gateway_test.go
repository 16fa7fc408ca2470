package gateway

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pledgefund/pledged/config"
)

func newTestClient() *HTTPClient {
	return NewHTTPClient(config.GatewayConfig{
		BaseURL:   "https://gateway.test",
		AccountID: "acct_1",
		Username:  "pledged",
		APIKey:    "secret",
	})
}

func TestCreateDonation(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	var gotAuth string
	httpmock.RegisterResponder(http.MethodPost, "https://gateway.test/accounts/acct_1/donations",
		func(req *http.Request) (*http.Response, error) {
			gotAuth = req.Header.Get("Authorization")
			return httpmock.NewJsonResponse(200, map[string]interface{}{
				"donation_id": "don_1",
				"line_items": []map[string]string{
					{"transaction_guid": "txn_abc", "recipient_id": "gw_1", "amount": "5.00"},
					{"transaction_guid": "txn_def", "recipient_id": "gw_2", "amount": "0.65"},
				},
			})
		})

	record, err := newTestClient().CreateDonation(context.Background(), &DonationRequest{
		DonorFirstName: "Jane",
		DonorLastName:  "Doe",
		CardToken:      "tok_123",
		Reference:      "pldg_1",
		LineItems: []LineItem{
			{RecipientID: "gw_1", Amount: "5.00"},
			{RecipientID: "gw_2", Amount: "0.65"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "don_1", record.DonationID)
	require.Len(t, record.LineItems, 2)
	assert.Equal(t, "txn_abc", record.LineItems[0].TransactionGUID)
	assert.True(t, record.LineItems[0].Amount.Equal(decimal.RequireFromString("5.00")))
	assert.Equal(t, []string{"txn_abc", "txn_def"}, record.TransactionGUIDs())
	assert.NotEmpty(t, gotAuth)
}

func TestCreateDonationDeclined(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, "https://gateway.test/accounts/acct_1/donations",
		httpmock.NewStringResponder(422, `{"error": "card declined"}`))

	_, err := newTestClient().CreateDonation(context.Background(), &DonationRequest{})
	require.Error(t, err)

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "card declined", validationErr.Reason)
}

func TestCreateDonationServerErrorIsNotValidation(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, "https://gateway.test/accounts/acct_1/donations",
		httpmock.NewStringResponder(500, `{}`))

	_, err := newTestClient().CreateDonation(context.Background(), &DonationRequest{})
	require.Error(t, err)

	var validationErr *ValidationError
	assert.False(t, errors.As(err, &validationErr), "a 500 leaves the outcome unknown")
}

func TestVoidOrRefundAlreadyVoidedIsIdempotent(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodGet, "https://gateway.test/accounts/acct_1/transactions/txn_abc",
		httpmock.NewStringResponder(200, `{"transaction_guid": "txn_abc", "status": "voided"}`))

	result, err := newTestClient().VoidOrRefundTransaction(context.Background(), "txn_abc")
	require.NoError(t, err)

	assert.Equal(t, "voided", result.Status)
	info := httpmock.GetCallCountInfo()
	assert.Equal(t, 1, info["GET https://gateway.test/accounts/acct_1/transactions/txn_abc"])
}

func TestVoidOrRefundCapturedIsCredited(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodGet, "https://gateway.test/accounts/acct_1/transactions/txn_abc",
		httpmock.NewStringResponder(200, `{"transaction_guid": "txn_abc", "status": "captured"}`))
	httpmock.RegisterResponder(http.MethodPost, "https://gateway.test/accounts/acct_1/transactions/txn_abc/credit",
		httpmock.NewStringResponder(200, `{"transaction_guid": "txn_abc", "status": "credited"}`))

	result, err := newTestClient().VoidOrRefundTransaction(context.Background(), "txn_abc")
	require.NoError(t, err)
	assert.Equal(t, "credited", result.Status)
}

func TestVoidOrRefundAuthorizedIsVoided(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodGet, "https://gateway.test/accounts/acct_1/transactions/txn_abc",
		httpmock.NewStringResponder(200, `{"transaction_guid": "txn_abc", "status": "authorized"}`))
	httpmock.RegisterResponder(http.MethodPost, "https://gateway.test/accounts/acct_1/transactions/txn_abc/void",
		httpmock.NewStringResponder(200, `{"transaction_guid": "txn_abc", "status": "voided"}`))

	result, err := newTestClient().VoidOrRefundTransaction(context.Background(), "txn_abc")
	require.NoError(t, err)
	assert.Equal(t, "voided", result.Status)
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "5.00", FormatAmount(decimal.RequireFromString("5")))
	assert.Equal(t, "0.65", FormatAmount(decimal.RequireFromString("0.65")))
}
