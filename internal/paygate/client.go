package paygate

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	applicationdomain "github.com/isabella232/smartstart-sub000/internal/application/domain"
	"github.com/isabella232/smartstart-sub000/internal/config"
)

const expiryFormat = "0601021504"

// Error carries the gateway's own diagnostic text so it can be written
// to the audit trail verbatim.
type Error struct {
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("payment_gateway_error: %s", e.Message)
}

// GenerateTxn is everything the caller decides about a hosted-payment
// transaction. Credentials, currency and expiry window come from config.
type GenerateTxn struct {
	AmountCents       int64
	MerchantReference string
	EmailAddress      string
	DeliveryName      string
	DeliveryAddress   string
	URLSuccess        string
	URLFail           string
	ExpiresAt         time.Time
}

// Client speaks the gateway's XML request/response protocol.
type Client interface {
	// GenerateTransaction registers a hosted transaction and returns
	// the URL the user's browser is redirected to.
	GenerateTransaction(ctx context.Context, txn GenerateTxn) (string, error)
	// QueryResult exchanges the opaque webhook result token for the
	// full settlement detail.
	QueryResult(ctx context.Context, resultToken string) (*applicationdomain.PaymentResult, error)
}

type generateRequest struct {
	XMLName           xml.Name `xml:"GenerateRequest"`
	UserID            string   `xml:"UserId"`
	Key               string   `xml:"Key"`
	TxnType           string   `xml:"TxnType"`
	AmountInput       string   `xml:"AmountInput"`
	CurrencyInput     string   `xml:"CurrencyInput"`
	MerchantReference string   `xml:"MerchantReference"`
	EmailAddress      string   `xml:"EmailAddress,omitempty"`
	TxnData1          string   `xml:"TxnData1,omitempty"`
	TxnData2          string   `xml:"TxnData2,omitempty"`
	URLSuccess        string   `xml:"UrlSuccess"`
	URLFail           string   `xml:"UrlFail"`
	Opt               string   `xml:"Opt,omitempty"`
}

type generateResponse struct {
	XMLName      xml.Name `xml:"Request"`
	Valid        string   `xml:"valid,attr"`
	URI          string   `xml:"URI"`
	ResponseText string   `xml:"ResponseText"`
}

type processRequest struct {
	XMLName  xml.Name `xml:"ProcessResponse"`
	UserID   string   `xml:"UserId"`
	Key      string   `xml:"Key"`
	Response string   `xml:"Response"`
}

type processResponse struct {
	XMLName          xml.Name `xml:"Response"`
	Valid            string   `xml:"valid,attr"`
	Success          string   `xml:"Success"`
	TxnID            string   `xml:"TxnId"`
	AuthCode         string   `xml:"AuthCode"`
	CardName         string   `xml:"CardName"`
	CardNumber       string   `xml:"CardNumber"`
	CardHolderName   string   `xml:"CardHolderName"`
	AmountSettlement string   `xml:"AmountSettlement"`
	DateSettlement   string   `xml:"DateSettlement"`
	ResponseText     string   `xml:"ResponseText"`
}

type Params struct {
	fx.In

	Cfg    config.Config
	Logger *zap.Logger
}

type client struct {
	endpoint   string
	userID     string
	key        string
	currency   string
	maxRetries int
	retryDelay time.Duration
	httpClient *http.Client
	logger     *zap.Logger
}

func Provide(p Params) Client {
	return &client{
		endpoint:   p.Cfg.Gateway.Endpoint,
		userID:     p.Cfg.Gateway.UserID,
		key:        p.Cfg.Gateway.Key,
		currency:   p.Cfg.Gateway.Currency,
		maxRetries: p.Cfg.Gateway.MaxRetries,
		retryDelay: p.Cfg.Gateway.RetryDelay,
		httpClient: &http.Client{Timeout: p.Cfg.Gateway.Timeout},
		logger:     p.Logger.Named("paygate"),
	}
}

func (c *client) GenerateTransaction(ctx context.Context, txn GenerateTxn) (string, error) {
	ref := txn.MerchantReference
	if len(ref) > 16 {
		ref = ref[:16]
	}
	req := generateRequest{
		UserID:            c.userID,
		Key:               c.key,
		TxnType:           "Purchase",
		AmountInput:       formatAmount(txn.AmountCents),
		CurrencyInput:     c.currency,
		MerchantReference: ref,
		EmailAddress:      txn.EmailAddress,
		TxnData1:          txn.DeliveryName,
		TxnData2:          txn.DeliveryAddress,
		URLSuccess:        txn.URLSuccess,
		URLFail:           txn.URLFail,
		Opt:               "TO=" + txn.ExpiresAt.UTC().Format(expiryFormat),
	}

	var resp generateResponse
	if err := c.exchange(ctx, &req, &resp); err != nil {
		return "", err
	}
	if resp.Valid != "1" || resp.URI == "" {
		msg := resp.ResponseText
		if msg == "" {
			msg = "gateway returned no transaction URI"
		}
		return "", &Error{Message: msg}
	}
	return resp.URI, nil
}

func (c *client) QueryResult(ctx context.Context, resultToken string) (*applicationdomain.PaymentResult, error) {
	req := processRequest{
		UserID:   c.userID,
		Key:      c.key,
		Response: resultToken,
	}

	var resp processResponse
	if err := c.exchange(ctx, &req, &resp); err != nil {
		return nil, err
	}
	if resp.Valid != "1" {
		msg := resp.ResponseText
		if msg == "" {
			msg = "gateway rejected result token"
		}
		return nil, &Error{Message: msg}
	}
	return &applicationdomain.PaymentResult{
		TxnReference:   resp.TxnID,
		AuthCode:       resp.AuthCode,
		CardName:       resp.CardName,
		CardNumber:     resp.CardNumber,
		CardHolderName: resp.CardHolderName,
		AmountSettled:  resp.AmountSettlement,
		DateSettled:    resp.DateSettlement,
		Success:        resp.Success == "1",
		ResponseText:   resp.ResponseText,
	}, nil
}

func (c *client) exchange(ctx context.Context, reqBody, respBody interface{}) error {
	payload, err := xml.Marshal(reqBody)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("retrying gateway call", zap.Int("attempt", attempt), zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}

		retryable, err := c.doExchange(ctx, payload, respBody)
		if err == nil {
			return nil
		}
		if !retryable {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func (c *client) doExchange(ctx context.Context, payload []byte, respBody interface{}) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return true, &Error{Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusUnauthorized {
		return true, &Error{Message: fmt.Sprintf("gateway returned status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return false, &Error{Message: fmt.Sprintf("gateway returned status %d", resp.StatusCode)}
	}
	if err := xml.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return false, &Error{Message: err.Error()}
	}
	return false, nil
}

func formatAmount(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}
