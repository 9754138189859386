package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"closer/internal/bondingcurve"
	"closer/internal/config"
	"closer/internal/metrics"
	"closer/internal/models"
	"closer/internal/service"
	"closer/internal/session"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// BookingAPI is the booking/stake surface used by the handlers.
type BookingAPI interface {
	IsPending() bool
	CheckContract(ctx context.Context, sess session.Session, nights []models.BookingNight) models.ReconcileResult
	NeededStake(ctx context.Context, sess session.Session, year uint16, total decimal.Decimal) service.StakeEstimate
	StakeTokens(ctx context.Context, sess session.Session, nights []models.BookingNight, amount decimal.Decimal) models.TxResult
	AccountStake(ctx context.Context, account common.Address) (*service.AccountStake, error)
}

// SaleAPI is the token sale surface used by the handlers.
type SaleAPI interface {
	IsPending() bool
	Sale(ctx context.Context) (*service.SaleInfo, error)
	GetTotalCost(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error)
	BuyTokens(ctx context.Context, sess session.Session, amount decimal.Decimal) models.TxResult
}

// TxLister lists tracked transactions.
type TxLister interface {
	ListTransactions(ctx context.Context, account, status string, limit int) ([]models.PendingTransaction, error)
}

// PlatformConfigs fetches platform config documents.
type PlatformConfigs interface {
	GetConfig(ctx context.Context, slug string) (json.RawMessage, error)
}

// TxRateLimiter limits mutating calls per wallet.
type TxRateLimiter interface {
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// ReadinessCheck is run by /readyz.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Services bundles everything the HTTP API serves. Nil members disable
// their endpoints.
type Services struct {
	Booking      BookingAPI
	Sale         SaleAPI
	Curve        bondingcurve.Curve
	Transactions TxLister
	Platform     PlatformConfigs
	TxLimiter    TxRateLimiter
	Readiness    []ReadinessCheck
	Features     config.FeatureFlags
	ExportDir    string
}

// HTTPServer exposes the JSON API alongside the gRPC health service.
type HTTPServer struct {
	cfg    *config.APIConfig
	svc    Services
	server *http.Server
	auth   *HTTPAuth
	logger zerolog.Logger
	now    func() time.Time
}

func NewHTTPServer(cfg *config.APIConfig, svc Services, logger *zerolog.Logger) *HTTPServer {
	srv := &HTTPServer{cfg: cfg, svc: svc, auth: NewHTTPAuth(cfg), logger: zerolog.Nop(), now: time.Now}
	if logger != nil {
		srv.logger = logger.With().Str("component", "http").Logger()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", srv.handleHealth)
	mux.HandleFunc("GET /readyz", srv.handleReady)

	mux.HandleFunc("GET /api/v1/curve/price", srv.handleCurvePrice)
	mux.HandleFunc("GET /api/v1/curve/cost", srv.handleCurveCost)
	mux.HandleFunc("GET /api/v1/status", srv.handleStatus)

	if svc.Sale != nil && svc.Features.TokenSale {
		mux.HandleFunc("GET /api/v1/sale", srv.handleSale)
		mux.HandleFunc("GET /api/v1/tokens/cost", srv.handleTokenCost)
		mux.HandleFunc("POST /api/v1/tokens/buy", srv.handleBuy)
	}

	if svc.Booking != nil {
		mux.HandleFunc("POST /api/v1/bookings/check", srv.handleBookingCheck)
		mux.HandleFunc("POST /api/v1/bookings/stake-estimate", srv.handleStakeEstimate)
		mux.HandleFunc("POST /api/v1/bookings/stake", srv.handleStake)
		mux.HandleFunc("GET /api/v1/accounts/{address}/stake", srv.handleAccountStake)
		if svc.Features.Export {
			mux.HandleFunc("GET /api/v1/accounts/{address}/stake/export", srv.handleStakeExport)
		}
	}

	if svc.Transactions != nil {
		mux.HandleFunc("GET /api/v1/transactions/pending", srv.handleTransactions)
	}
	if svc.Platform != nil {
		mux.HandleFunc("GET /api/v1/config/{slug}", srv.handlePlatformConfig)
	}

	handler := requestIDMiddleware(srv.loggingMiddleware(srv.recoveryMiddleware(srv.auth.Wrap(mux))))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		// stake and buy wait for receipts
		WriteTimeout: 5 * time.Minute,
	}

	return srv
}

// Handler returns the fully wrapped handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

type requestIDKey struct{}

const requestIDHeader = "X-Request-ID"

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// RequestID returns the id assigned to the request, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.IncHTTP(endpoint)

		s.logger.Info().
			Str("request_id", RequestID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func (s *HTTPServer) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error().
					Interface("panic", rec).
					Str("request_id", RequestID(r.Context())).
					Str("path", r.URL.Path).
					Msg("http handler panic")
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
