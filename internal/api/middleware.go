package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"dust-sweeper/internal/credits"
	"dust-sweeper/internal/domain"
	"dust-sweeper/internal/observability"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

type ctxKey int

const requestIDKey ctxKey = iota

// RequestID returns the request id stored in ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// routeTemplate returns the matched path template, or the raw path.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}

// requestMiddleware assigns a request id, then records metrics and logs
// each request.
func (s *Server) requestMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey, id))
		w.Header().Set(RequestIDHeader, id)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		elapsed := time.Since(start)
		path := routeTemplate(r)
		observability.RecordHTTPRequest(path, r.Method, strconv.Itoa(wrapped.statusCode), elapsed.Seconds())
		s.logger.Debug("request served",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("route", path),
			zap.Int("status", wrapped.statusCode),
			zap.Duration("duration", elapsed))
	})
}

// PaymentRequired is the 402 body for priced requests the caller cannot pay.
type PaymentRequired struct {
	Success      bool   `json:"success"`
	Error        string `json:"error"`
	Endpoint     string `json:"endpoint"`
	CostCents    int64  `json:"costCents"`
	BalanceCents int64  `json:"balanceCents"`
}

// meteringMiddleware charges priced routes to the caller's wallet before
// the handler runs and records usage after it. A caller without enough
// credits falls back to the daily free tier. A request that ends in a
// server error or is rejected as invalid gets its charge back.
func (s *Server) meteringMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		tpl := routeTemplate(r)
		cost, _ := s.pricing.Cost(r.Method, tpl)
		endpoint := r.Method + " " + tpl
		wallet := r.Header.Get(WalletHeader)

		if cost <= 0 {
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)
			if wallet != "" {
				s.recordUsage(r, wallet, endpoint, 0, false, wrapped.statusCode, time.Since(start))
			}
			return
		}

		// 1. Prepaid credits
		var denied *credits.MeterResult
		charged := false
		if wallet != "" {
			res, err := s.ledger.MeterRequest(r.Context(), wallet, endpoint, cost)
			if err != nil {
				if errors.Is(err, credits.ErrInvalidWallet) || errors.Is(err, domain.ErrInvalidAddress) {
					WriteError(w, http.StatusBadRequest, err.Error())
					return
				}
				s.logger.Error("metering failed", zap.String("endpoint", endpoint), zap.Error(err))
				WriteError(w, http.StatusInternalServerError, "metering failed")
				return
			}
			if res.Allowed {
				charged = true
				w.Header().Set("X-Credits-Charged", strconv.FormatInt(cost, 10))
				w.Header().Set("X-Credits-Balance", strconv.FormatInt(res.NewBalance, 10))
			} else {
				denied = res
			}
		}

		// 2. Free tier
		caller := clientKey(r)
		free := false
		if !charged {
			ok, remaining, err := s.freeTier.Use(r.Context(), caller)
			if err != nil {
				s.logger.Warn("free tier lookup failed", zap.String("caller", caller), zap.Error(err))
			}
			if ok {
				free = true
				w.Header().Set("X-Free-Requests-Remaining", strconv.Itoa(remaining))
			}
		}

		// 3. Payment required
		if !charged && !free {
			body := PaymentRequired{
				Error:     "wallet address required for priced endpoint",
				Endpoint:  endpoint,
				CostCents: cost,
			}
			if denied != nil {
				body.Error = denied.Error
				body.BalanceCents = denied.NewBalance
			}
			WriteJSON(w, http.StatusPaymentRequired, body)
			return
		}

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		if refundable(wrapped.statusCode) {
			ctx := context.WithoutCancel(r.Context())
			if free {
				s.freeTier.Release(ctx, caller)
			}
			if charged {
				reason := "server error on " + endpoint
				if wrapped.statusCode < http.StatusInternalServerError {
					reason = "rejected request on " + endpoint
				}
				if _, err := s.ledger.Refund(ctx, wallet, cost, reason); err != nil {
					s.logger.Error("refund failed", zap.String("wallet", wallet), zap.Error(err))
				} else {
					charged = false
				}
			}
		}
		if wallet != "" {
			s.recordUsage(r, wallet, endpoint, cost, charged, wrapped.statusCode, time.Since(start))
		}
	})
}

// refundable reports whether a metered request with this status did no
// billable work: a server error, or input rejected before any lookup.
func refundable(status int) bool {
	return status >= http.StatusInternalServerError ||
		status == http.StatusBadRequest ||
		status == http.StatusUnprocessableEntity
}

func (s *Server) recordUsage(r *http.Request, wallet, endpoint string, cost int64, charged bool, status int, elapsed time.Duration) {
	if s.usage == nil {
		return
	}
	normalized, err := domain.NormalizeWallet(wallet)
	if err != nil {
		return
	}
	if !charged {
		cost = 0
	}
	_ = s.usage.Record(context.WithoutCancel(r.Context()), credits.Usage{
		RequestID:      RequestID(r.Context()),
		WalletAddress:  normalized,
		Endpoint:       routeTemplate(r),
		Method:         r.Method,
		CostCents:      cost,
		Charged:        charged,
		ResponseStatus: status,
		ResponseTime:   elapsed,
	})
}
