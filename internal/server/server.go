package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"smartmint/internal/auth"
	"smartmint/internal/chain"
	"smartmint/internal/config"
	"smartmint/internal/explorer"
	"smartmint/internal/idempotency"
	"smartmint/internal/metrics"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// NFTReader serves cached display data. *nftdata.Reader satisfies it.
type NFTReader interface {
	ReadBalance(ctx context.Context, contract, owner common.Address) uint64
	ReadBaseURI(ctx context.Context, contract common.Address) (string, bool)
}

// ContractInspector backs the contract debug route. *chain.NFT satisfies it.
type ContractInspector interface {
	Inspect(ctx context.Context, address common.Address) chain.ContractInfo
}

// ContractResolver picks the working collection. *resolver.Resolver
// satisfies it.
type ContractResolver interface {
	ResolveContract(ctx context.Context, candidates []common.Address) (common.Address, error)
}

type Deps struct {
	Sessions  *Sessions
	Store     idempotency.Store
	Reader    NFTReader
	Inspector ContractInspector
	Resolver  ContractResolver
	Links     explorer.Links
	Metrics   *metrics.Registry
	Logger    *zap.Logger
	// RPCHealth is optional; without it the node is reported as connected.
	RPCHealth func(context.Context) error
}

type Server struct {
	cfg         *config.AppConfig
	deps        Deps
	auth        *auth.Verifier
	logger      *zap.Logger
	httpServer  *http.Server
	dbHealthFn  func(context.Context) error
	rpcHealthFn func(context.Context) error
	now         func() time.Time
}

func NewServer(cfg *config.AppConfig, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Store == nil {
		deps.Store = idempotency.NewMemoryStore()
	}

	s := &Server{
		cfg:  cfg,
		deps: deps,
		auth: &auth.Verifier{
			Secret:  cfg.Service.HMACSecret,
			MaxSkew: cfg.Service.HMACClockSkew,
		},
		logger:      logger,
		rpcHealthFn: deps.RPCHealth,
		now:         time.Now,
	}
	if checker, ok := deps.Store.(interface{ Ping(context.Context) error }); ok {
		s.dbHealthFn = checker.Ping
	}

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

// Routes returns the full API handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Handle("/metrics", s.deps.Metrics.Handler())

		r.Get("/session", s.handleGetSession)
		r.Delete("/session", s.handleResetSession)
		r.Post("/session/connect", s.handleConnect)
		r.Post("/session/account", s.handleCreateAccount)
		r.Post("/session/clear-error", s.handleClearError)

		r.Get("/mint", s.handleLatestMint)
		r.Get("/nft", s.handleNFT)
		r.Get("/contract", s.handleContract)

		r.Group(func(r chi.Router) {
			r.Use(s.auth.Middleware)
			r.Post("/mint", s.handleMint)
			r.Post("/roles/grant", s.handleGrantRole)
		})
	})
	return r
}

func (s *Server) Start() error {
	s.logger.Info("API listening", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) tab(r *http.Request) *Tab {
	return s.deps.Sessions.Get(r.Header.Get(HeaderSessionID))
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)))
		})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overallHealthy := true

	rpcInfo := struct {
		Connected bool    `json:"connected"`
		LatencyMs float64 `json:"latency_ms"`
		Error     string  `json:"error,omitempty"`
	}{Connected: true}

	if s.rpcHealthFn != nil {
		start := time.Now()
		rpcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.rpcHealthFn(rpcCtx); err != nil {
			rpcInfo.Connected = false
			rpcInfo.Error = err.Error()
			overallHealthy = false
		} else {
			rpcInfo.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		}
	}

	dbInfo := struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
	}{Connected: true}

	if s.dbHealthFn != nil {
		dbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.dbHealthFn(dbCtx); err != nil {
			dbInfo.Connected = false
			dbInfo.Error = err.Error()
			overallHealthy = false
		}
	}

	status := "healthy"
	code := http.StatusOK
	if !overallHealthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, struct {
		Status   string      `json:"status"`
		RPC      interface{} `json:"rpc"`
		Database interface{} `json:"database"`
		Sessions int         `json:"sessions"`
	}{
		Status:   status,
		RPC:      rpcInfo,
		Database: dbInfo,
		Sessions: s.deps.Sessions.Len(),
	})
}

var errInvalidAddress = errors.New("invalid address")

func parseAddress(raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, errInvalidAddress
	}
	return common.HexToAddress(raw), nil
}
