package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/isabella232/smartstart-sub000/internal/application"
	"github.com/isabella232/smartstart-sub000/internal/audit"
	"github.com/isabella232/smartstart-sub000/internal/config"
	"github.com/isabella232/smartstart-sub000/internal/leader"
	"github.com/isabella232/smartstart-sub000/internal/observability"
	obsmiddleware "github.com/isabella232/smartstart-sub000/internal/observability/logger"
	"github.com/isabella232/smartstart-sub000/internal/paygate"
	"github.com/isabella232/smartstart-sub000/internal/providers"
	"github.com/isabella232/smartstart-sub000/internal/ratelimit"
	"github.com/isabella232/smartstart-sub000/internal/reconcile"
	reconciledomain "github.com/isabella232/smartstart-sub000/internal/reconcile/domain"
	"github.com/isabella232/smartstart-sub000/internal/registry"
	"github.com/isabella232/smartstart-sub000/internal/submission"
	submissiondomain "github.com/isabella232/smartstart-sub000/internal/submission/domain"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	application.Module,
	audit.Module,
	leader.Module,
	providers.Module,
	ratelimit.Module,
	registry.Module,
	paygate.Module,
	submission.Module,
	reconcile.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine        *gin.Engine
	cfg           config.Config
	db            *gorm.DB
	submissionSvc submissiondomain.Service
	reconcileSvc  reconciledomain.Service
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	DB            *gorm.DB
	SubmissionSvc submissiondomain.Service
	ReconcileSvc  reconciledomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		db:            p.DB,
		submissionSvc: p.SubmissionSvc,
		reconcileSvc:  p.ReconcileSvc,
	}

	svc.registerRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerRoutes() {
	registrations := s.engine.Group("/birth-registrations")

	registrations.POST("", s.CreateBirthRegistration)
	registrations.GET("/:referenceCode/payments/:outcome", s.PaymentWebhook)
	registrations.GET("/:referenceCode/retry-payment", s.RetryPayment)
}
