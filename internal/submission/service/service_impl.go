package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	applicationdomain "github.com/isabella232/smartstart-sub000/internal/application/domain"
	auditdomain "github.com/isabella232/smartstart-sub000/internal/audit/domain"
	"github.com/isabella232/smartstart-sub000/internal/clock"
	"github.com/isabella232/smartstart-sub000/internal/config"
	"github.com/isabella232/smartstart-sub000/internal/observability/logger"
	"github.com/isabella232/smartstart-sub000/internal/paygate"
	"github.com/isabella232/smartstart-sub000/internal/providers/email"
	"github.com/isabella232/smartstart-sub000/internal/registry"
	"github.com/isabella232/smartstart-sub000/internal/submission/domain"
	"github.com/isabella232/smartstart-sub000/pkg/refcode"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Cfg          config.Config
	Logger       *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Pricing      *config.PricingConfigHolder
	Applications applicationdomain.Repository
	Audits       auditdomain.Repository
	Registry     registry.Client
	Gateway      paygate.Client
	Email        email.Provider
}

type service struct {
	db           *gorm.DB
	cfg          config.Config
	logger       *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	pricing      *config.PricingConfigHolder
	applications applicationdomain.Repository
	audits       auditdomain.Repository
	registry     registry.Client
	gateway      paygate.Client
	email        email.Provider
}

func Provide(p Params) domain.Service {
	return &service{
		db:           p.DB,
		cfg:          p.Cfg,
		logger:       p.Logger.Named("submission"),
		genID:        p.GenID,
		clock:        p.Clock,
		pricing:      p.Pricing,
		applications: p.Applications,
		audits:       p.Audits,
		registry:     p.Registry,
		gateway:      p.Gateway,
		email:        p.Email,
	}
}

func (s *service) Submit(ctx context.Context, req domain.SubmitRequest) (*domain.SubmitResult, error) {
	sub := req.Submission
	if err := validateSubmission(&sub); err != nil {
		return nil, err
	}
	order := sub.CertificateOrder
	if order != nil && (sub.ConfirmationURLSuccess == "" || sub.ConfirmationURLFailure == "") {
		return nil, domain.ErrInvalidSubmission
	}

	now := s.clock.Now()

	// The ledger row is created first; its id mints the reference code
	// everything downstream is keyed by.
	auditID := s.genID.Generate()
	referenceCode := refcode.Encode(auditID.Int64())

	auditRecord := &auditdomain.Record{
		ID:            auditID,
		ReferenceCode: referenceCode,
		SubmittedAt:   now,
		Surname:       sub.Child.Surname,
		Source:        req.Source,
		Tag:           auditdomain.TagSubmission,
	}
	if order != nil {
		auditRecord.CertOrdered = true
		auditRecord.CertProductCode = order.ProductCode
		auditRecord.CertQuantity = order.Quantity
		auditRecord.CourierDelivery = order.CourierDelivery
	}
	if err := s.audits.Insert(ctx, s.db, auditRecord); err != nil {
		return nil, err
	}

	if _, err := s.applications.FindUnprocessedDuplicate(ctx, s.db, sub.Child.FirstNames, sub.Child.Surname, sub.Child.BirthDate); err == nil {
		return nil, domain.ErrDuplicate
	} else if !errors.Is(err, applicationdomain.ErrApplicationNotFound) {
		return nil, err
	}

	// A certificate order defers the real submission until payment
	// reconciles, so the registry only validates here.
	var outcome *registry.Outcome
	var err error
	if order != nil {
		outcome, err = s.registry.Validate(ctx, &sub)
	} else {
		outcome, err = s.registry.Submit(ctx, &sub)
	}
	if err != nil {
		return nil, err
	}

	if outcome.Status == registry.StatusInvalid || outcome.Duplicate {
		s.updateAuditOutcome(ctx, auditID, auditdomain.RegistryOutcomeUpdate{
			RegistryStatus:    outcome.Status,
			RegistryDuplicate: outcome.Duplicate,
		})
		return nil, &domain.RegistryRejection{
			Status:    outcome.Status,
			Duplicate: outcome.Duplicate,
			Errors:    outcome.Errors,
		}
	}

	result := &domain.SubmitResult{
		Status:        domain.StatusComplete,
		ReferenceCode: referenceCode,
	}

	if order == nil {
		s.updateAuditOutcome(ctx, auditID, auditdomain.RegistryOutcomeUpdate{
			RegistryStatus:    outcome.Status,
			RegistryDuplicate: outcome.Duplicate,
		})
		s.sendConfirmation(ctx, &sub, referenceCode)
		return result, nil
	}

	app := &applicationdomain.Application{
		ReferenceCode:     referenceCode,
		SubmittedAt:       now,
		ConfirmURLSuccess: sub.ConfirmationURLSuccess,
		ConfirmURLFail:    sub.ConfirmationURLFailure,
	}
	if err := app.SetSubmission(&sub); err != nil {
		return nil, err
	}

	paymentURL, amount, err := s.generatePayment(ctx, app)
	if err != nil {
		return nil, err
	}

	if err := s.applications.Insert(ctx, s.db, app); err != nil {
		return nil, err
	}

	s.updateAuditOutcome(ctx, auditID, auditdomain.RegistryOutcomeUpdate{
		RegistryStatus:    outcome.Status,
		RegistryDuplicate: outcome.Duplicate,
		TxnAttempted:      true,
		AmountExpected:    amount,
	})
	s.sendConfirmation(ctx, &sub, referenceCode)

	result.PaymentURL = paymentURL
	return result, nil
}

func (s *service) PaymentURL(ctx context.Context, app *applicationdomain.Application) (string, error) {
	url, _, err := s.generatePayment(ctx, app)
	return url, err
}

func (s *service) generatePayment(ctx context.Context, app *applicationdomain.Application) (string, int64, error) {
	sub, err := app.Submission()
	if err != nil {
		return "", 0, err
	}
	order := sub.CertificateOrder
	if order == nil {
		return "", 0, domain.ErrInvalidSubmission
	}

	// Double check; the registry's validation should already have
	// rejected an unknown product code.
	amount, err := s.pricing.Get().Price(order.ProductCode, order.Quantity, order.CourierDelivery)
	if err != nil {
		return "", 0, err
	}

	base := strings.TrimRight(s.cfg.Gateway.CallbackBaseURL, "/")
	txn := paygate.GenerateTxn{
		AmountCents:       amount,
		MerchantReference: s.cfg.Gateway.MerchantPrefix + app.ReferenceCode,
		EmailAddress:      order.Email,
		DeliveryName:      order.DeliveryName,
		DeliveryAddress:   formatDeliveryAddress(order.DeliveryAddress),
		URLSuccess:        fmt.Sprintf("%s/birth-registrations/%s/payments/success", base, app.ReferenceCode),
		URLFail:           fmt.Sprintf("%s/birth-registrations/%s/payments/fail", base, app.ReferenceCode),
		ExpiresAt:         s.clock.Now().Add(s.cfg.Gateway.Expiry),
	}

	url, err := s.gateway.GenerateTransaction(ctx, txn)
	if err != nil {
		return "", 0, err
	}
	return url, amount, nil
}

// updateAuditOutcome is best effort; a ledger update failure must not
// fail a submission the registry already accepted.
func (s *service) updateAuditOutcome(ctx context.Context, id snowflake.ID, update auditdomain.RegistryOutcomeUpdate) {
	if err := s.audits.UpdateRegistryOutcome(ctx, s.db, id, update); err != nil {
		logger.FromContext(ctx).Warn("audit outcome update failed",
			zap.String("audit_id", id.String()),
			zap.Error(err),
		)
	}
}

func (s *service) sendConfirmation(ctx context.Context, sub *applicationdomain.Submission, referenceCode string) {
	if sub.ConfirmationEmail == "" {
		return
	}
	subject := "Birth registration received"
	body := fmt.Sprintf(
		"<p>Your birth registration has been received.</p><p>Application reference number: <strong>%s</strong></p>",
		referenceCode,
	)
	if err := s.email.Send(ctx, []string{sub.ConfirmationEmail}, subject, body); err != nil {
		logger.FromContext(ctx).Warn("confirmation email failed",
			zap.String("reference_code", referenceCode),
			zap.Error(err),
		)
	}
}

func validateSubmission(sub *applicationdomain.Submission) error {
	if sub == nil {
		return domain.ErrInvalidSubmission
	}
	if strings.TrimSpace(sub.Child.FirstNames) == "" ||
		strings.TrimSpace(sub.Child.Surname) == "" ||
		strings.TrimSpace(sub.Child.BirthDate) == "" {
		return domain.ErrInvalidSubmission
	}
	if order := sub.CertificateOrder; order != nil {
		if strings.TrimSpace(order.ProductCode) == "" || order.Quantity <= 0 {
			return domain.ErrInvalidSubmission
		}
	}
	return nil
}

func formatDeliveryAddress(addr *applicationdomain.DeliveryAddress) string {
	if addr == nil {
		return ""
	}
	parts := make([]string, 0, 5)
	for _, part := range []string{addr.Line1, addr.Line2, addr.Suburb, addr.City, addr.Postcode} {
		if strings.TrimSpace(part) != "" {
			parts = append(parts, strings.TrimSpace(part))
		}
	}
	return strings.Join(parts, ", ")
}
