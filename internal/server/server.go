package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/railzwaylabs/revshare/internal/config"
	"github.com/railzwaylabs/revshare/internal/metrics"
	payoutdomain "github.com/railzwaylabs/revshare/internal/payout/domain"
	settlementdomain "github.com/railzwaylabs/revshare/internal/settlement/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("server",
	fx.Provide(NewServer),
	fx.Invoke(RunHTTP),
)

type Params struct {
	fx.In

	Cfg           config.Config
	Log           *zap.Logger
	DB            *gorm.DB
	Redis         *redis.Client    `optional:"true"`
	Metrics       *metrics.Metrics `optional:"true"`
	SettlementSvc settlementdomain.Service
	PayoutSvc     payoutdomain.Service
	WebhookSvc    payoutdomain.WebhookService
}

type Server struct {
	cfg     config.Config
	log     *zap.Logger
	db      *gorm.DB
	redis   *redis.Client
	metrics *metrics.Metrics
	engine  *gin.Engine

	settlementSvc settlementdomain.Service
	payoutSvc     payoutdomain.Service
	webhookSvc    payoutdomain.WebhookService
}

func NewServer(p Params) *Server {
	if !p.Cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:           p.Cfg,
		log:           p.Log.Named("server"),
		db:            p.DB,
		redis:         p.Redis,
		metrics:       p.Metrics,
		settlementSvc: p.SettlementSvc,
		payoutSvc:     p.PayoutSvc,
		webhookSvc:    p.WebhookSvc,
	}

	engine := gin.New()
	engine.Use(s.Recovery(), s.RequestID(), s.AccessLog())
	s.RegisterRoutes(engine)
	s.engine = engine
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", s.Health)
	r.GET("/health", s.Health)
	r.GET("/readyz", s.Ready)
	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	v1 := r.Group("/v1")

	settlements := v1.Group("/settlements")
	settlements.POST("/close-day", s.InternalSignatureRequired(), s.CloseDay)
	settlements.GET("/runs", s.ListRuns)
	settlements.GET("/runs/:id", s.GetRun)

	payouts := v1.Group("/payouts")
	payouts.GET("", s.ListPayouts)
	payouts.GET("/:id", s.GetPayout)
	payouts.POST("/:id/retry", s.RetryPayout)

	providers := v1.Group("/providers")
	providers.POST("/:name/webhook", s.ProviderWebhook)
	providers.GET("/:name/status", s.ProviderStatus)
}

// RunHTTP binds the listener on start so address errors fail the app
// instead of surfacing later from a goroutine.
func RunHTTP(lc fx.Lifecycle, s *Server) {
	srv := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			s.log.Info("http server listening", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					s.log.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			s.log.Info("shutting down http server")
			return srv.Shutdown(ctx)
		},
	})
}
