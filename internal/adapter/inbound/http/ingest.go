package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/driftline/driftline/internal/domain/event"
	"github.com/driftline/driftline/internal/domain/ratelimit"
	"github.com/driftline/driftline/internal/domain/source"
	"github.com/driftline/driftline/internal/service"
)

// maxBodyBytes caps the ingest request body.
const maxBodyBytes = 1 << 20

// IngestHandler serves POST /ingest/{sourceKey}: authenticate, rate-limit,
// parse, validate, normalize, persist.
type IngestHandler struct {
	registry  *service.SourceRegistry
	limiter   ratelimit.Limiter
	ingestion *service.IngestionService
	metrics   *Metrics
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewIngestHandler creates the ingest handler. metrics may be nil.
func NewIngestHandler(registry *service.SourceRegistry, limiter ratelimit.Limiter, ingestion *service.IngestionService, metrics *Metrics, logger *slog.Logger) *IngestHandler {
	return &IngestHandler{
		registry:  registry,
		limiter:   limiter,
		ingestion: ingestion,
		metrics:   metrics,
		logger:    logger,
		tracer:    otel.Tracer("driftline/ingest"),
	}
}

// ServeHTTP runs the ordered ingest pipeline, failing fast at each step.
// All 401 responses share one body shape and one hash-comparison timing
// class regardless of the failure mode.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	sourceKey := r.PathValue("sourceKey")
	logger := LoggerFromContext(r.Context())

	ctx, span := h.tracer.Start(r.Context(), "ingest")
	defer span.End()

	status := h.handle(ctx, w, r, sourceKey, logger)

	if h.metrics != nil {
		h.metrics.IngestRequests.WithLabelValues(sourceKey, strconv.Itoa(status)).Inc()
		h.metrics.IngestDuration.Observe(time.Since(start).Seconds())
	}
}

func (h *IngestHandler) handle(ctx context.Context, w http.ResponseWriter, r *http.Request, sourceKey string, logger *slog.Logger) int {
	apiKey := r.Header.Get("x-api-key")
	if apiKey == "" {
		writeError(w, http.StatusUnauthorized, "Missing API key")
		return http.StatusUnauthorized
	}

	verifyCtx, verifySpan := h.tracer.Start(ctx, "verify")
	src, err := h.registry.Verify(verifyCtx, sourceKey, apiKey)
	verifySpan.End()
	if err != nil {
		if errors.Is(err, source.ErrInvalidCredential) {
			writeError(w, http.StatusUnauthorized, "Invalid API key")
			return http.StatusUnauthorized
		}
		logger.Error("credential lookup failed", "source_key", sourceKey, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return http.StatusInternalServerError
	}

	limitCtx, limitSpan := h.tracer.Start(ctx, "ratelimit")
	res, err := h.limiter.Check(limitCtx, sourceKey, src.RateLimit)
	limitSpan.End()
	if err != nil {
		logger.Error("rate limit check failed", "source_key", sourceKey, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return http.StatusInternalServerError
	}
	if !res.Allowed {
		if h.metrics != nil {
			h.metrics.RateLimited.WithLabelValues(sourceKey).Inc()
		}
		retryAfter := int(time.Until(res.ResetAt).Seconds()) + 1
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", res.ResetAt.UTC().Format(time.RFC3339))
		writeJSON(w, http.StatusTooManyRequests, errorResponse{
			Error:      "Rate limit exceeded",
			RetryAfter: retryAfter,
		})
		return http.StatusTooManyRequests
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return http.StatusBadRequest
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil || raw == nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return http.StatusBadRequest
	}

	// Correlation fingerprint for tracing at-least-once duplicates across
	// systems. Never stored on the event.
	logger.Debug("ingest payload received",
		"source_key", sourceKey, "fingerprint", fmt.Sprintf("%016x", xxhash.Sum64(body)))

	_, normSpan := h.tracer.Start(ctx, "normalize")
	err = event.ValidatePayload(raw)
	normSpan.End()
	if err != nil {
		var verr *event.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Validation failed", Details: verr.Fields})
			return http.StatusBadRequest
		}
		writeError(w, http.StatusBadRequest, "Validation failed")
		return http.StatusBadRequest
	}

	persistCtx, persistSpan := h.tracer.Start(ctx, "persist")
	ev, err := h.ingestion.Ingest(persistCtx, src, raw)
	persistSpan.End()
	if err != nil {
		var verr *event.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Normalization failed", Details: verr.Fields})
			return http.StatusBadRequest
		}
		logger.Error("event persistence failed", "source_key", sourceKey, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return http.StatusInternalServerError
	}

	if h.metrics != nil {
		h.metrics.EventsStored.Inc()
	}
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	w.Header().Set("X-RateLimit-Reset", res.ResetAt.UTC().Format(time.RFC3339))
	writeJSON(w, http.StatusAccepted, map[string]string{"eventId": ev.ID})
	return http.StatusAccepted
}
