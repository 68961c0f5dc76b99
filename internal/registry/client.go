package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	applicationdomain "github.com/isabella232/smartstart-sub000/internal/application/domain"
	"github.com/isabella232/smartstart-sub000/internal/config"
)

// Statuses the registry reports back.
const (
	StatusValid    = "valid"
	StatusComplete = "complete"
	StatusInvalid  = "invalid"
)

type FieldError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Outcome is the registry's answer to a validate or submit call. A 400
// response is a legitimate Outcome (status "invalid" plus the error
// list), not a transport error.
type Outcome struct {
	Status    string       `json:"status"`
	Duplicate bool         `json:"duplicate,omitempty"`
	Errors    []FieldError `json:"errors,omitempty"`
}

// Error is a transport or server-side registry failure. StatusCode is 0
// when the registry was unreachable.
type Error struct {
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("registry_error status=%d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("registry_error status=%d", e.StatusCode)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Client calls the external eServer birth-registration API.
type Client interface {
	// Validate runs the registry's validation pass without finalizing.
	Validate(ctx context.Context, sub *applicationdomain.Submission) (*Outcome, error)
	// Submit finalizes the registration.
	Submit(ctx context.Context, sub *applicationdomain.Submission) (*Outcome, error)
}

type Params struct {
	fx.In

	Cfg    config.Config
	Logger *zap.Logger
}

type client struct {
	baseURL    string
	maxRetries int
	retryDelay time.Duration
	httpClient *http.Client
	logger     *zap.Logger
}

func Provide(p Params) Client {
	return &client{
		baseURL:    p.Cfg.EServer.BaseURL,
		maxRetries: p.Cfg.EServer.MaxRetries,
		retryDelay: p.Cfg.EServer.RetryDelay,
		httpClient: &http.Client{Timeout: p.Cfg.EServer.Timeout},
		logger:     p.Logger.Named("registry"),
	}
}

func (c *client) Validate(ctx context.Context, sub *applicationdomain.Submission) (*Outcome, error) {
	return c.post(ctx, sub, applicationdomain.ActivityValidateOnly)
}

func (c *client) Submit(ctx context.Context, sub *applicationdomain.Submission) (*Outcome, error) {
	return c.post(ctx, sub, applicationdomain.ActivityFullSubmission)
}

// post sends a copy of the submission with the given activity forced and
// the intake-only fields stripped. The caller's struct is never mutated.
func (c *client) post(ctx context.Context, sub *applicationdomain.Submission, activity string) (*Outcome, error) {
	body := *sub
	body.Activity = activity
	body.ConfirmationURLSuccess = ""
	body.ConfirmationURLFailure = ""
	body.ConfirmationEmail = ""

	payload, err := json.Marshal(&body)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("retrying registry call",
				zap.Int("attempt", attempt),
				zap.String("activity", activity),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}

		outcome, retryable, err := c.doPost(ctx, payload)
		if err == nil {
			return outcome, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *client) doPost(ctx context.Context, payload []byte) (*Outcome, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/births", bytes.NewReader(payload))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, &Error{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode < http.StatusMultipleChoices:
		var outcome Outcome
		if err := json.NewDecoder(resp.Body).Decode(&outcome); err != nil {
			return nil, false, &Error{StatusCode: resp.StatusCode, Err: err}
		}
		return &outcome, false, nil
	case resp.StatusCode == http.StatusBadRequest:
		// 400 carries the registry's validation verdict. Never retried.
		var outcome Outcome
		if err := json.NewDecoder(resp.Body).Decode(&outcome); err != nil {
			return nil, false, &Error{StatusCode: resp.StatusCode, Err: err}
		}
		if outcome.Status == "" {
			outcome.Status = StatusInvalid
		}
		return &outcome, false, nil
	default:
		return nil, true, &Error{StatusCode: resp.StatusCode}
	}
}
