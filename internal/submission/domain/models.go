package domain

import (
	"context"
	"errors"
	"fmt"

	applicationdomain "github.com/isabella232/smartstart-sub000/internal/application/domain"
	"github.com/isabella232/smartstart-sub000/internal/registry"
)

var (
	ErrInvalidSubmission = errors.New("invalid_submission")
	ErrDuplicate         = errors.New("duplicate_submission")
)

// RegistryRejection wraps the registry's validation verdict so the HTTP
// layer can forward the field error list with a 400.
type RegistryRejection struct {
	Status    string
	Duplicate bool
	Errors    []registry.FieldError
}

func (e *RegistryRejection) Error() string {
	return fmt.Sprintf("registry_rejected status=%s duplicate=%t", e.Status, e.Duplicate)
}

const StatusComplete = "complete"

type SubmitRequest struct {
	Submission applicationdomain.Submission
	Source     string
}

// SubmitResult is the synchronous answer to an intake request. PaymentURL
// is set only when a certificate order deferred the real submission.
type SubmitResult struct {
	Status        string `json:"status"`
	ReferenceCode string `json:"applicationReferenceNumber"`
	PaymentURL    string `json:"paymentURL,omitempty"`
}

type Service interface {
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error)
	// PaymentURL regenerates the hosted-payment redirect for an
	// existing deferred application. Used by the payment retry flow.
	PaymentURL(ctx context.Context, app *applicationdomain.Application) (string, error)
}
