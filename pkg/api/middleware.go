package api

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"
	"golang.org/x/time/rate"

	"github.com/ayudatec/mesabot/pkg/store"
)

const headerRequestID = "X-Request-ID"

// requestIDMiddleware assigns a request id when the client did not send
// one and mirrors it on the response so every reply can be correlated.
func requestIDMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			id := c.Request().Header.Get(headerRequestID)
			if id == "" {
				id = uuid.NewString()
				c.Request().Header.Set(headerRequestID, id)
			}
			c.Response().Header().Set(headerRequestID, id)
			return next(c)
		}
	}
}

// requestID returns the id assigned by requestIDMiddleware.
func requestID(c *echo.Context) string {
	return c.Request().Header.Get(headerRequestID)
}

// timing records per-route request latency. Conversation IDs are stripped
// from the path so the histogram cardinality stays bounded.
func (s *Server) timing() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			start := time.Now()
			err := next(c)
			s.metrics.RecordHTTPRequest(c.Request().Context(),
				c.Request().Method, metricPath(c.Request().URL.Path),
				time.Since(start).Seconds())
			return err
		}
	}
}

// metricPath collapses ID-bearing paths to their route shape.
func metricPath(p string) string {
	parts := strings.Split(p, "/")
	for i, seg := range parts {
		if store.IDPattern.MatchString(seg) {
			parts[i] = ":id"
		}
	}
	if len(parts) > 3 {
		parts = append(parts[:3], "...")
	}
	return strings.Join(parts, "/")
}

// securityHeaders returns middleware that sets standard security response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			return next(c)
		}
	}
}

// cors allows the configured widget origins. An empty list allows none; a
// single "*" entry allows any origin.
func cors(allowed []string) echo.MiddlewareFunc {
	allowAll := false
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			allowAll = true
		}
		set[o] = struct{}{}
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			origin := c.Request().Header.Get("Origin")
			if origin != "" {
				_, ok := set[origin]
				if allowAll || ok {
					h := c.Response().Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Set("Vary", "Origin")
					h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
					h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
				}
			}
			if c.Request().Method == http.MethodOptions {
				return c.NoContent(http.StatusNoContent)
			}
			return next(c)
		}
	}
}

// bodyLimit caps the request body. The cap is enforced by MaxBytesReader
// so a lying Content-Length cannot bypass it.
func (s *Server) bodyLimit(max int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if c.Request().ContentLength > max {
				return s.writeErrorCode(c, http.StatusRequestEntityTooLarge,
					CodePayloadTooLarge, "request body too large")
			}
			c.Request().Body = http.MaxBytesReader(c.Response(), c.Request().Body, max)
			return next(c)
		}
	}
}

// rateGate is a keyed token-bucket set. Buckets are created on first use
// and kept for the life of the process; the widget population is small
// enough that eviction is not worth the bookkeeping.
type rateGate struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	limit   rate.Limit
	burst   int
}

func newRateGate(perMinute int) *rateGate {
	return &rateGate{
		buckets: make(map[string]*rate.Limiter),
		limit:   rate.Limit(float64(perMinute) / 60.0),
		burst:   perMinute,
	}
}

func (g *rateGate) Allow(key string) bool {
	g.mu.Lock()
	b, ok := g.buckets[key]
	if !ok {
		b = rate.NewLimiter(g.limit, g.burst)
		g.buckets[key] = b
	}
	g.mu.Unlock()
	return b.Allow()
}

// perIPLimit rejects callers that exceed the per-IP budget for a route.
func (s *Server) perIPLimit(gate *rateGate, route string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if !gate.Allow(c.RealIP()) {
				s.metrics.CountRateLimited(c.Request().Context(), route)
				return s.writeErrorCode(c, http.StatusTooManyRequests,
					CodeRateLimited, "too many requests, slow down")
			}
			return next(c)
		}
	}
}
