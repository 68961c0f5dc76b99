package paygate

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/isabella232/smartstart-sub000/internal/config"
)

func newTestClient(t *testing.T, endpoint string, retries int) Client {
	t.Helper()
	return Provide(Params{
		Cfg: config.Config{
			Gateway: config.GatewayConfig{
				Endpoint:   endpoint,
				UserID:     "SmartStartDev",
				Key:        "test-key",
				Currency:   "NZD",
				Timeout:    5 * time.Second,
				MaxRetries: retries,
				RetryDelay: 10 * time.Millisecond,
			},
		},
		Logger: zap.NewNop(),
	})
}

func TestGenerateTransactionBuildsRequest(t *testing.T) {
	var received generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, xml.Unmarshal(body, &received))
		io.WriteString(w, `<Request valid="1"><URI>https://pay.example/txn/abc123</URI></Request>`)
	}))
	defer srv.Close()

	expires := time.Date(2026, 3, 9, 14, 30, 0, 0, time.UTC)
	url, err := newTestClient(t, srv.URL, 0).GenerateTransaction(context.Background(), GenerateTxn{
		AmountCents:       3800,
		MerchantReference: "DBCDFGHJKL",
		EmailAddress:      "parent@example.com",
		URLSuccess:        "https://svc.example/payments/success",
		URLFail:           "https://svc.example/payments/fail",
		ExpiresAt:         expires,
	})
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/txn/abc123", url)

	assert.Equal(t, "SmartStartDev", received.UserID)
	assert.Equal(t, "Purchase", received.TxnType)
	assert.Equal(t, "38.00", received.AmountInput)
	assert.Equal(t, "NZD", received.CurrencyInput)
	assert.Equal(t, "DBCDFGHJKL", received.MerchantReference)
	assert.Equal(t, "TO=2603091430", received.Opt)
}

func TestGenerateTransactionTruncatesMerchantReference(t *testing.T) {
	var received generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, xml.Unmarshal(body, &received))
		io.WriteString(w, `<Request valid="1"><URI>https://pay.example/t</URI></Request>`)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, 0).GenerateTransaction(context.Background(), GenerateTxn{
		AmountCents:       100,
		MerchantReference: "P-REFCODE-THAT-IS-FAR-TOO-LONG",
		ExpiresAt:         time.Now(),
	})
	require.NoError(t, err)
	assert.Len(t, received.MerchantReference, 16)
	assert.Equal(t, "P-REFCODE-THAT-I", received.MerchantReference)
}

func TestGenerateTransactionInvalidResponseCarriesDiagnostic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<Request valid="0"><URI></URI><ResponseText>Invalid Key</ResponseText></Request>`)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, 2).GenerateTransaction(context.Background(), GenerateTxn{
		AmountCents: 100,
		ExpiresAt:   time.Now(),
	})
	require.Error(t, err)

	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
	assert.Contains(t, gwErr.Message, "Invalid Key")
}

func TestGenerateTransactionMissingURIIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<Request valid="1"><URI></URI></Request>`)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, 0).GenerateTransaction(context.Background(), GenerateTxn{
		AmountCents: 100,
		ExpiresAt:   time.Now(),
	})
	require.Error(t, err)
	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
}

func TestQueryResultMapsSettlementDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req processRequest
		require.NoError(t, xml.Unmarshal(body, &req))
		assert.Equal(t, "tok-998877", req.Response)
		io.WriteString(w, `<Response valid="1">
			<Success>1</Success>
			<TxnId>TXN-445</TxnId>
			<AuthCode>073855</AuthCode>
			<CardName>Visa</CardName>
			<CardNumber>411111........11</CardNumber>
			<CardHolderName>A NGATA</CardHolderName>
			<AmountSettlement>38.00</AmountSettlement>
			<DateSettlement>20260309</DateSettlement>
			<ResponseText>APPROVED</ResponseText>
		</Response>`)
	}))
	defer srv.Close()

	result, err := newTestClient(t, srv.URL, 0).QueryResult(context.Background(), "tok-998877")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "TXN-445", result.TxnReference)
	assert.Equal(t, "Visa", result.CardName)
	assert.Equal(t, "38.00", result.AmountSettled)
	assert.Equal(t, "APPROVED", result.ResponseText)
}

func TestQueryResultDeclinedStillValid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<Response valid="1"><Success>0</Success><TxnId>TXN-9</TxnId><ResponseText>DECLINED</ResponseText></Response>`)
	}))
	defer srv.Close()

	result, err := newTestClient(t, srv.URL, 0).QueryResult(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "DECLINED", result.ResponseText)
}

func TestServerErrorRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		io.WriteString(w, `<Request valid="1"><URI>https://pay.example/ok</URI></Request>`)
	}))
	defer srv.Close()

	url, err := newTestClient(t, srv.URL, 2).GenerateTransaction(context.Background(), GenerateTxn{
		AmountCents: 100,
		ExpiresAt:   time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/ok", url)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}
