package sweeper

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	applicationdomain "github.com/isabella232/smartstart-sub000/internal/application/domain"
	auditdomain "github.com/isabella232/smartstart-sub000/internal/audit/domain"
	"github.com/isabella232/smartstart-sub000/internal/clock"
	"github.com/isabella232/smartstart-sub000/internal/config"
	leaderdomain "github.com/isabella232/smartstart-sub000/internal/leader/domain"
	"github.com/isabella232/smartstart-sub000/internal/ratelimit"
	"github.com/isabella232/smartstart-sub000/internal/registry"
	"github.com/isabella232/smartstart-sub000/pkg/db"
)

// errAlreadyClaimed rolls the claim transaction back when another actor
// owns the record's outcome.
var errAlreadyClaimed = errors.New("already_claimed")

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Cfg          config.Config
	Clock        clock.Clock
	Applications applicationdomain.Repository
	Audits       auditdomain.Repository
	Registry     registry.Client
	Leader       leaderdomain.Service
	Limiter      *ratelimit.SweepLimiter `optional:"true"`
}

// Sweeper resolves applications whose payment flow was abandoned. Only
// the fleet's leader instance does any work; everyone else ticks idly.
type Sweeper struct {
	db           *gorm.DB
	log          *zap.Logger
	cfg          config.SweepConfig
	txTimeout    time.Duration
	clock        clock.Clock
	applications applicationdomain.Repository
	audits       auditdomain.Repository
	registry     registry.Client
	leader       leaderdomain.Service
	limiter      *ratelimit.SweepLimiter
}

func New(p Params) *Sweeper {
	return &Sweeper{
		db:           p.DB,
		log:          p.Log.Named("sweeper"),
		cfg:          p.Cfg.Sweep,
		txTimeout:    p.Cfg.TxTimeout,
		clock:        p.Clock,
		applications: p.Applications,
		audits:       p.Audits,
		registry:     p.Registry,
		leader:       p.Leader,
		limiter:      p.Limiter,
	}
}

func (s *Sweeper) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("sweep run failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs one sweep tick. Per-record failures are logged and
// never abort the rest of the batch.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	leading, err := s.leader.IsLeader(ctx)
	if err != nil {
		return err
	}
	if !leading {
		s.log.Debug("skipping sweep, not the leader")
		return nil
	}

	lockToken, acquired, err := s.limiter.TryLockRun(ctx)
	if err != nil {
		return err
	}
	if !acquired {
		s.log.Debug("skipping sweep, previous run still holds the lock")
		return nil
	}
	defer func() {
		if err := s.limiter.ReleaseRun(ctx, lockToken); err != nil {
			s.log.Warn("failed to release sweep lock", zap.Error(err))
		}
	}()

	start := s.clock.Now()
	cutoff := start.Add(-s.cfg.Threshold)

	apps, err := s.applications.ListSweepable(ctx, s.db, cutoff)
	if err != nil {
		return err
	}
	if len(apps) == 0 {
		return nil
	}

	var deleted, finalized, rejected, skipped, failed int64

	maxConcurrent := s.cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	sem := make(chan struct{}, maxConcurrent)
	var wg sync.WaitGroup

	for i := range apps {
		app := apps[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			outcome, err := s.sweep(ctx, &app)
			if err != nil {
				atomic.AddInt64(&failed, 1)
				s.log.Warn("sweep of application failed",
					zap.String("reference_code", app.ReferenceCode),
					zap.Error(err),
				)
				return
			}
			switch outcome {
			case sweptDeleted:
				atomic.AddInt64(&deleted, 1)
			case sweptFinalized:
				atomic.AddInt64(&finalized, 1)
			case sweptRejected:
				atomic.AddInt64(&rejected, 1)
			case sweptSkipped:
				atomic.AddInt64(&skipped, 1)
			}
		}()
	}
	wg.Wait()

	s.log.Info("sweep complete",
		zap.Int("eligible", len(apps)),
		zap.Int64("deleted", deleted),
		zap.Int64("finalized", finalized),
		zap.Int64("rejected", rejected),
		zap.Int64("skipped", skipped),
		zap.Int64("failed", failed),
		zap.Duration("duration", s.clock.Now().Sub(start)),
	)
	return nil
}

type sweepOutcome int

const (
	sweptDeleted sweepOutcome = iota
	sweptFinalized
	sweptRejected
	sweptSkipped
)

func (s *Sweeper) sweep(ctx context.Context, app *applicationdomain.Application) (sweepOutcome, error) {
	// A processed row's outcome is already owned elsewhere; it is
	// stale bookkeeping.
	if app.Processed {
		if err := s.applications.Delete(ctx, s.db, app.ID); err != nil {
			return 0, err
		}
		return sweptDeleted, nil
	}

	sub, err := app.Submission()
	if err != nil {
		return 0, err
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	claimed, err := s.claim(ctx, app)
	if err != nil {
		return 0, err
	}
	if !claimed {
		// A webhook owns the outcome now; the next sweep deletes
		// the row once it settles.
		return sweptSkipped, nil
	}

	outcome, err := s.registry.Submit(ctx, sub)
	if err != nil || outcome.Status != registry.StatusComplete {
		// The sweep is the retry budget; a rejection here is final.
		detail := "registry did not complete the submission"
		if err != nil {
			detail = err.Error()
		} else if outcome.Status != "" {
			detail = "registry status: " + outcome.Status
		}
		return sweptRejected, s.markRejected(ctx, app, sub, detail)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.applications.Delete(ctx, tx, app.ID); err != nil {
			return err
		}
		return s.audits.Insert(ctx, tx, s.newAuditRecord(app, sub, outcome, true))
	})
	if err != nil {
		return 0, err
	}
	return sweptFinalized, nil
}

// claim flips processed to true inside a serializable transaction, the
// same gate the reconciler takes, so a webhook landing mid-sweep finds
// the row owned. Losing the race means another actor resolves the
// outcome and the sweep moves on.
func (s *Sweeper) claim(ctx context.Context, app *applicationdomain.Application) (bool, error) {
	err := db.RunSerializable(ctx, s.db, s.txTimeout, func(tx *gorm.DB) error {
		found, err := s.applications.FindByReferenceCode(ctx, tx, app.ReferenceCode)
		if err != nil {
			return err
		}
		if found.Processed {
			return errAlreadyClaimed
		}
		found.Processed = true
		if err := s.applications.Save(ctx, tx, found); err != nil {
			return err
		}
		*app = *found
		return nil
	})
	if err != nil {
		if errors.Is(err, errAlreadyClaimed) || db.IsSerializationConflict(err) {
			return false, nil
		}
		if errors.Is(err, applicationdomain.ErrApplicationNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Sweeper) markRejected(ctx context.Context, app *applicationdomain.Application, sub *applicationdomain.Submission, detail string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		app.RegistryRejected = true
		if err := s.applications.Save(ctx, tx, app); err != nil {
			return err
		}
		record := s.newAuditRecord(app, sub, nil, false)
		record.TxnMessage = detail
		return s.audits.Insert(ctx, tx, record)
	})
}

func (s *Sweeper) newAuditRecord(app *applicationdomain.Application, sub *applicationdomain.Submission, outcome *registry.Outcome, success bool) *auditdomain.Record {
	record := &auditdomain.Record{
		ReferenceCode: app.ReferenceCode,
		SubmittedAt:   app.SubmittedAt,
		Surname:       sub.Child.Surname,
		Tag:           auditdomain.TagTimeout,
		TxnAttempted:  true,
		TxnSuccess:    success,
	}
	if order := sub.CertificateOrder; order != nil {
		record.CertOrdered = true
		record.CertProductCode = order.ProductCode
		record.CertQuantity = order.Quantity
		record.CourierDelivery = order.CourierDelivery
	}
	if outcome != nil {
		record.RegistryStatus = outcome.Status
		record.RegistryDuplicate = outcome.Duplicate
	}
	return record
}
