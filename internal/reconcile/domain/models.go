package domain

import (
	"context"
	"errors"
)

// Webhook outcome tags, fixed by the gateway callback contract.
const (
	OutcomeSuccess = "success"
	OutcomeFail    = "fail"
)

var (
	ErrInvalidRequest = errors.New("invalid_request")
	// ErrGone means the application never existed or was already
	// resolved and deleted; the caller has no redirect to fall back on.
	ErrGone = errors.New("application_gone")
)

// Resolution is the tagged result of a webhook callback. Once the
// application row was found, the reconciler always resolves to a
// redirect; errors after that point are audited, never surfaced.
type Resolution struct {
	RedirectURL      string
	AlreadyProcessed bool
	Finalized        bool
}

type RetryResult struct {
	PaymentURL       string
	RedirectURL      string
	AlreadyProcessed bool
}

type Service interface {
	Reconcile(ctx context.Context, referenceCode, outcome, resultToken string) (*Resolution, error)
	RetryPayment(ctx context.Context, referenceCode string) (*RetryResult, error)
}
