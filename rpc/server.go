package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"inferpay/core/events"
	"inferpay/native/escrow"
	"inferpay/native/pricing"
	"inferpay/native/settlement"
	"inferpay/native/swap"
	"inferpay/services/auditlog"
)

const maxRequestBody = 1 << 20

// Node is the subset of core.Node served over HTTP.
type Node interface {
	FundDeposit(payer common.Address, id escrow.RequestID, owner common.Address, token string, amount *big.Int) (*escrow.Deposit, error)
	GetDeposit(id escrow.RequestID) (*escrow.Deposit, error)
	SettleRequest(caller common.Address, id escrow.RequestID, inputUnits, outputUnits uint64) (settlement.Outcome, error)
	QuoteSettlement(id escrow.RequestID, inputUnits, outputUnits uint64) (settlement.Outcome, error)
	HandlePoolActivity(caller common.Address, act pricing.Activity) (pricing.Update, error)
	Pricing() (pricing.Params, error)
	PoolSnapshots() ([]swap.PoolState, error)
	Height() (uint64, error)
}

// AuditLog answers history queries. A nil AuditLog disables GET /v1/audit.
type AuditLog interface {
	Query(ctx context.Context, f auditlog.Filter) ([]auditlog.Record, error)
}

// ServerConfig holds the transport settings of the RPC server.
type ServerConfig struct {
	JWTSecret          string
	JWTIssuer          string
	RateLimitPerSecond float64
	RateLimitBurst     int
	ReadHeaderTimeout  time.Duration
	WriteTimeout       time.Duration
}

// Server exposes the node over JSON/HTTP.
type Server struct {
	node    Node
	audit   AuditLog
	stream  *events.Broadcaster
	auth    *Authenticator
	limiter *RateLimiter
	logger  *slog.Logger
	cfg     ServerConfig
}

// NewServer wires a server. audit and stream may be nil.
func NewServer(node Node, audit AuditLog, stream *events.Broadcaster, cfg ServerConfig, logger *slog.Logger) (*Server, error) {
	if node == nil {
		return nil, fmt.Errorf("rpc: node required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("rpc: jwt secret required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 15 * time.Second
	}
	return &Server{
		node:    node,
		audit:   audit,
		stream:  stream,
		auth:    NewAuthenticator(AuthConfig{HMACSecret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}),
		limiter: NewRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst),
		logger:  logger.With(slog.String("component", "rpc")),
		cfg:     cfg,
	}, nil
}

// Handler returns the instrumented router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/deposits", func(r chi.Router) {
			r.Use(s.limiter.Middleware("deposits"))
			r.With(instrument("deposits", "fund"), s.auth.Middleware(ScopeFunder)).Post("/", s.handleFundDeposit)
			r.With(instrument("deposits", "get")).Get("/{id}", s.handleGetDeposit)
		})
		r.Route("/settlements", func(r chi.Router) {
			r.Use(s.limiter.Middleware("settlement"), s.auth.Middleware(ScopeRelay))
			r.With(instrument("settlement", "settle")).Post("/", s.handleSettle)
			r.With(instrument("settlement", "quote")).Post("/quote", s.handleQuoteSettlement)
		})
		r.Route("/pools", func(r chi.Router) {
			r.Use(s.limiter.Middleware("pools"))
			r.With(instrument("pricing", "activity"), s.auth.Middleware(ScopeNotifier)).Post("/activity", s.handlePoolActivity)
			r.With(instrument("pools", "list")).Get("/", s.handlePools)
			r.With(instrument("pools", "validate")).Post("/validate", s.handleValidatePool)
		})
		r.With(s.limiter.Middleware("pricing"), instrument("pricing", "get")).Get("/pricing", s.handlePricing)
		r.Route("/quotes", func(r chi.Router) {
			r.Use(s.limiter.Middleware("quotes"))
			r.With(instrument("quotes", "exact_input")).Post("/exact-input", s.handleQuoteExactInput)
			r.With(instrument("quotes", "batch")).Post("/batch", s.handleQuoteBatch)
		})
		r.Route("/audit", func(r chi.Router) {
			r.Use(s.limiter.Middleware("audit"))
			r.With(instrument("audit", "query")).Get("/", s.handleAuditQuery)
			r.Get("/stream", s.handleAuditStream)
		})
	})
	return otelhttp.NewHandler(r, "inferpay.rpc")
}

// Serve listens on addr until ctx is cancelled, then drains in-flight requests.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("rpc listening", slog.String("address", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("rpc: shutdown: %w", err)
		}
		return nil
	}
}
