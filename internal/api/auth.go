package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"

	"closer/internal/config"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

const (
	apiKeyHeaderDefault   = "x-api-key"
	apiExtraHeaderDefault = "x-api-extra"
	permReadChain         = "read:chain"
	permWriteTransactions = "write:transactions"
	clientKeyUnknown      = "unknown"
)

var (
	errMissingHeaders   = errors.New("missing api key headers")
	errInvalidAPIKey    = errors.New("invalid api key")
	errInvalidExtra     = errors.New("invalid extra header")
	errPermissionDenied = errors.New("permission denied")
	errRateLimited      = errors.New("rate limit exceeded")
)

// keyAuth checks API key pairs and permissions for both transports.
type keyAuth struct {
	cfg          *config.APIConfig
	clients      map[string]config.APIClientKey
	apiKeyHeader string
	extraHeader  string
	limiter      *rateLimiter
}

func newKeyAuth(cfg *config.APIConfig) *keyAuth {
	m := make(map[string]config.APIClientKey, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		m[k.Key] = k
	}

	apiKeyHeader := strings.ToLower(strings.TrimSpace(cfg.Auth.HeaderAPIKey))
	if apiKeyHeader == "" {
		apiKeyHeader = apiKeyHeaderDefault
	}
	extraHeader := strings.ToLower(strings.TrimSpace(cfg.Auth.HeaderExtra))
	if extraHeader == "" {
		extraHeader = apiExtraHeaderDefault
	}

	return &keyAuth{
		cfg:          cfg,
		clients:      m,
		apiKeyHeader: apiKeyHeader,
		extraHeader:  extraHeader,
		limiter:      newRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
	}
}

func (a *keyAuth) authenticate(apiKey, extra, required string) error {
	if apiKey == "" || extra == "" {
		return errMissingHeaders
	}
	client, ok := a.clients[apiKey]
	if !ok {
		return errInvalidAPIKey
	}
	if subtle.ConstantTimeCompare([]byte(client.Extra), []byte(extra)) != 1 {
		return errInvalidExtra
	}
	return checkPermissions(client, required)
}

func checkPermissions(client config.APIClientKey, required string) error {
	if required == "" {
		return nil
	}
	// If permissions list is empty, treat as allow-all.
	if len(client.Permissions) == 0 {
		return nil
	}
	for _, p := range client.Permissions {
		if strings.TrimSpace(p) == required {
			return nil
		}
	}
	return errPermissionDenied
}

// AuthInterceptor guards gRPC methods other than the health service.
type AuthInterceptor struct {
	auth *keyAuth
}

func NewAuthInterceptor(cfg *config.APIConfig) *AuthInterceptor {
	return &AuthInterceptor{auth: newKeyAuth(cfg)}
}

func (a *AuthInterceptor) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		cfg := a.auth.cfg
		if !cfg.Enabled || isHealthMethod(info.FullMethod) {
			return handler(ctx, req)
		}

		if cfg.Auth.Enabled {
			if err := a.checkAuth(ctx); err != nil {
				return nil, err
			}
		}
		if !a.auth.limiter.allow(a.clientKey(ctx)) {
			return nil, status.Error(codes.ResourceExhausted, errRateLimited.Error())
		}

		return handler(ctx, req)
	}
}

func isHealthMethod(fullMethod string) bool {
	return strings.HasPrefix(fullMethod, "/grpc.health.v1.Health/")
}

func (a *AuthInterceptor) checkAuth(ctx context.Context) error {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}

	err := a.auth.authenticate(first(md.Get(a.auth.apiKeyHeader)), first(md.Get(a.auth.extraHeader)), permReadChain)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errPermissionDenied):
		return status.Error(codes.PermissionDenied, err.Error())
	default:
		return status.Error(codes.Unauthenticated, err.Error())
	}
}

func (a *AuthInterceptor) clientKey(ctx context.Context) string {
	md, _ := metadata.FromIncomingContext(ctx)
	if apiKey := first(md.Get(a.auth.apiKeyHeader)); apiKey != "" {
		return apiKey
	}

	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return clientKeyUnknown
}

func first(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return strings.TrimSpace(vals[0])
}

// HTTPAuth provides API-key auth and per-key rate limiting for HTTP endpoints.
type HTTPAuth struct {
	auth *keyAuth
}

func NewHTTPAuth(cfg *config.APIConfig) *HTTPAuth {
	return &HTTPAuth{auth: newKeyAuth(cfg)}
}

func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cfg := a.auth.cfg
		if !cfg.Enabled || isHealthPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if cfg.Auth.Enabled {
			apiKey := strings.TrimSpace(r.Header.Get(a.auth.apiKeyHeader))
			extra := strings.TrimSpace(r.Header.Get(a.auth.extraHeader))
			if err := a.auth.authenticate(apiKey, extra, requiredPermissionHTTP(r)); err != nil {
				statusCode := http.StatusUnauthorized
				if errors.Is(err, errPermissionDenied) {
					statusCode = http.StatusForbidden
				}
				writeError(w, statusCode, err.Error())
				return
			}
		}

		if !a.auth.limiter.allow(a.clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, errRateLimited.Error())
			return
		}

		next.ServeHTTP(w, r)
	})
}

func isHealthPath(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

func requiredPermissionHTTP(r *http.Request) string {
	switch r.URL.Path {
	case "/api/v1/tokens/buy", "/api/v1/bookings/stake":
		return permWriteTransactions
	}
	if strings.HasPrefix(r.URL.Path, "/api/v1/") {
		return permReadChain
	}
	return ""
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	if apiKey := strings.TrimSpace(r.Header.Get(a.auth.apiKeyHeader)); apiKey != "" {
		return apiKey
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}
