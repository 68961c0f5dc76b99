package service

import (
	"context"
	"errors"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	applicationdomain "github.com/isabella232/smartstart-sub000/internal/application/domain"
	auditdomain "github.com/isabella232/smartstart-sub000/internal/audit/domain"
	"github.com/isabella232/smartstart-sub000/internal/config"
	"github.com/isabella232/smartstart-sub000/internal/observability/logger"
	"github.com/isabella232/smartstart-sub000/internal/paygate"
	"github.com/isabella232/smartstart-sub000/internal/reconcile/domain"
	"github.com/isabella232/smartstart-sub000/internal/registry"
	submissiondomain "github.com/isabella232/smartstart-sub000/internal/submission/domain"
	"github.com/isabella232/smartstart-sub000/pkg/db"
	"github.com/isabella232/smartstart-sub000/pkg/refcode"
)

// errAlreadyClaimed rolls the claim transaction back when the record was
// found but another actor owns its outcome.
var errAlreadyClaimed = errors.New("already_claimed")

type Params struct {
	fx.In

	DB           *gorm.DB
	Cfg          config.Config
	Logger       *zap.Logger
	Applications applicationdomain.Repository
	Audits       auditdomain.Repository
	Registry     registry.Client
	Gateway      paygate.Client
	Submissions  submissiondomain.Service
}

type service struct {
	db           *gorm.DB
	cfg          config.Config
	logger       *zap.Logger
	applications applicationdomain.Repository
	audits       auditdomain.Repository
	registry     registry.Client
	gateway      paygate.Client
	submissions  submissiondomain.Service
}

func Provide(p Params) domain.Service {
	return &service{
		db:           p.DB,
		cfg:          p.Cfg,
		logger:       p.Logger.Named("reconcile"),
		applications: p.Applications,
		audits:       p.Audits,
		registry:     p.Registry,
		gateway:      p.Gateway,
		submissions:  p.Submissions,
	}
}

func (s *service) Reconcile(ctx context.Context, referenceCode, outcome, resultToken string) (*domain.Resolution, error) {
	if outcome != domain.OutcomeSuccess && outcome != domain.OutcomeFail {
		return nil, domain.ErrInvalidRequest
	}
	if resultToken == "" {
		return nil, domain.ErrInvalidRequest
	}
	if _, err := refcode.Decode(referenceCode); err != nil {
		return nil, domain.ErrInvalidRequest
	}

	app, err := s.claim(ctx, referenceCode)
	if err != nil {
		if errors.Is(err, errAlreadyClaimed) {
			return &domain.Resolution{
				RedirectURL:      redirectFor(app, outcome),
				AlreadyProcessed: true,
			}, nil
		}
		if errors.Is(err, applicationdomain.ErrApplicationNotFound) {
			return nil, domain.ErrGone
		}
		return nil, err
	}

	// The row is claimed; from here every failure is audited and turned
	// into a redirect. The user's browser is already mid-redirect and
	// cannot act on a JSON error.
	result, err := s.gateway.QueryResult(ctx, resultToken)
	if err != nil {
		return s.resolveFailure(ctx, app, outcome, nil, "gateway query failed: "+err.Error()), nil
	}

	if err := s.attachPaymentResult(ctx, app, result); err != nil {
		return s.resolveFailure(ctx, app, outcome, result, "payload update failed: "+err.Error()), nil
	}

	if outcome == domain.OutcomeFail {
		return s.resolveFailure(ctx, app, outcome, result, result.ResponseText), nil
	}

	sub, err := app.Submission()
	if err != nil {
		return s.resolveFailure(ctx, app, outcome, result, "payload decode failed: "+err.Error()), nil
	}

	registryOutcome, err := s.registry.Submit(ctx, sub)
	if err != nil {
		return s.resolveFailure(ctx, app, outcome, result, "registry submit failed: "+err.Error()), nil
	}
	if registryOutcome.Status != registry.StatusComplete {
		s.auditAttempt(ctx, app, result, registryOutcome, true)
		s.releaseClaim(ctx, app)
		return &domain.Resolution{RedirectURL: redirectFor(app, outcome)}, nil
	}

	s.auditAttempt(ctx, app, result, registryOutcome, true)
	return &domain.Resolution{
		RedirectURL: redirectFor(app, outcome),
		Finalized:   true,
	}, nil
}

func (s *service) RetryPayment(ctx context.Context, referenceCode string) (*domain.RetryResult, error) {
	if _, err := refcode.Decode(referenceCode); err != nil {
		return nil, domain.ErrInvalidRequest
	}

	var app *applicationdomain.Application
	err := db.RunSerializable(ctx, s.db, s.cfg.TxTimeout, func(tx *gorm.DB) error {
		found, err := s.applications.FindByReferenceCode(ctx, tx, referenceCode)
		if err != nil {
			return err
		}
		app = found
		if app.RegistryRejected {
			return domain.ErrGone
		}
		app.SubmittedAt = app.SubmittedAt.Add(s.cfg.Sweep.RetryWindow)
		app.Processed = false
		return s.applications.Save(ctx, tx, app)
	})
	if err != nil {
		if db.IsSerializationConflict(err) {
			// A conflict can fire before the row was even loaded;
			// re-read it so the loser still gets a redirect.
			if app == nil {
				app, err = s.applications.FindByReferenceCode(ctx, s.db, referenceCode)
				if err != nil {
					return nil, domain.ErrGone
				}
			}
			return &domain.RetryResult{
				RedirectURL:      app.ConfirmURLSuccess,
				AlreadyProcessed: true,
			}, nil
		}
		if errors.Is(err, applicationdomain.ErrApplicationNotFound) {
			return nil, domain.ErrGone
		}
		return nil, err
	}

	paymentURL, err := s.submissions.PaymentURL(ctx, app)
	if err != nil {
		return nil, err
	}

	sub, subErr := app.Submission()
	record := &auditdomain.Record{
		ReferenceCode: app.ReferenceCode,
		SubmittedAt:   app.SubmittedAt,
		Tag:           auditdomain.TagRetry,
		TxnAttempted:  true,
	}
	if subErr == nil {
		record.Surname = sub.Child.Surname
		if order := sub.CertificateOrder; order != nil {
			record.CertOrdered = true
			record.CertProductCode = order.ProductCode
			record.CertQuantity = order.Quantity
			record.CourierDelivery = order.CourierDelivery
		}
	}
	if err := s.audits.Insert(ctx, s.db, record); err != nil {
		logger.FromContext(ctx).Warn("retry audit insert failed",
			zap.String("reference_code", app.ReferenceCode),
			zap.Error(err),
		)
	}

	return &domain.RetryResult{PaymentURL: paymentURL}, nil
}

// claim flips processed to true inside a serializable transaction. It
// returns errAlreadyClaimed, with the loaded row, when another actor got
// there first; a commit-time serialization conflict counts the same.
func (s *service) claim(ctx context.Context, referenceCode string) (*applicationdomain.Application, error) {
	var app *applicationdomain.Application
	err := db.RunSerializable(ctx, s.db, s.cfg.TxTimeout, func(tx *gorm.DB) error {
		found, err := s.applications.FindByReferenceCode(ctx, tx, referenceCode)
		if err != nil {
			return err
		}
		app = found
		if app.Processed {
			return errAlreadyClaimed
		}
		app.Processed = true
		return s.applications.Save(ctx, tx, app)
	})
	if err != nil {
		if db.IsSerializationConflict(err) {
			if app == nil {
				app, err = s.applications.FindByReferenceCode(ctx, s.db, referenceCode)
				if err != nil {
					return nil, err
				}
			}
			return app, errAlreadyClaimed
		}
		return app, err
	}
	return app, nil
}

// releaseClaim hands the record back to the sweep after a failure that
// is worth retrying later.
func (s *service) releaseClaim(ctx context.Context, app *applicationdomain.Application) {
	app.Processed = false
	if err := s.applications.Save(ctx, s.db, app); err != nil {
		logger.FromContext(ctx).Error("failed to release claim",
			zap.String("reference_code", app.ReferenceCode),
			zap.Error(err),
		)
	}
}

func (s *service) attachPaymentResult(ctx context.Context, app *applicationdomain.Application, result *applicationdomain.PaymentResult) error {
	sub, err := app.Submission()
	if err != nil {
		return err
	}
	sub.PaymentResult = result
	if err := app.SetSubmission(sub); err != nil {
		return err
	}
	return s.applications.Save(ctx, s.db, app)
}

// resolveFailure audits what is known, releases the claim so the sweep
// retries later, and resolves to the redirect mirroring the outcome tag.
func (s *service) resolveFailure(ctx context.Context, app *applicationdomain.Application, outcome string, result *applicationdomain.PaymentResult, detail string) *domain.Resolution {
	logger.FromContext(ctx).Warn("payment reconciliation failed",
		zap.String("reference_code", app.ReferenceCode),
		zap.String("outcome", outcome),
		zap.String("detail", detail),
	)

	record := s.newAuditRecord(app, result)
	record.TxnMessage = detail
	if err := s.audits.Insert(ctx, s.db, record); err != nil {
		logger.FromContext(ctx).Error("failure audit insert failed",
			zap.String("reference_code", app.ReferenceCode),
			zap.Error(err),
		)
	}

	s.releaseClaim(ctx, app)
	return &domain.Resolution{RedirectURL: redirectFor(app, outcome)}
}

func (s *service) auditAttempt(ctx context.Context, app *applicationdomain.Application, result *applicationdomain.PaymentResult, registryOutcome *registry.Outcome, reconciled bool) {
	record := s.newAuditRecord(app, result)
	record.TxnReconciled = reconciled
	if result != nil {
		record.TxnSuccess = result.Success
		record.TxnMessage = result.ResponseText
	}
	if registryOutcome != nil {
		record.RegistryStatus = registryOutcome.Status
		record.RegistryDuplicate = registryOutcome.Duplicate
	}
	if err := s.audits.Insert(ctx, s.db, record); err != nil {
		logger.FromContext(ctx).Error("reconcile audit insert failed",
			zap.String("reference_code", app.ReferenceCode),
			zap.Error(err),
		)
	}
}

func (s *service) newAuditRecord(app *applicationdomain.Application, result *applicationdomain.PaymentResult) *auditdomain.Record {
	record := &auditdomain.Record{
		ReferenceCode: app.ReferenceCode,
		SubmittedAt:   app.SubmittedAt,
		Tag:           auditdomain.TagSubmission,
		TxnAttempted:  true,
	}
	if sub, err := app.Submission(); err == nil {
		record.Surname = sub.Child.Surname
		if order := sub.CertificateOrder; order != nil {
			record.CertOrdered = true
			record.CertProductCode = order.ProductCode
			record.CertQuantity = order.Quantity
			record.CourierDelivery = order.CourierDelivery
		}
	}
	if result != nil {
		record.TxnSuccess = result.Success
		record.TxnMessage = result.ResponseText
	}
	return record
}

func redirectFor(app *applicationdomain.Application, outcome string) string {
	if app == nil {
		return ""
	}
	if outcome == domain.OutcomeSuccess {
		return app.ConfirmURLSuccess
	}
	return app.ConfirmURLFail
}
