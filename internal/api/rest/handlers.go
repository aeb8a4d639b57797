package rest

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/davidleathers/unit-kpi-backend/internal/domain/errors"
	"github.com/davidleathers/unit-kpi-backend/internal/domain/kpi"
	"github.com/davidleathers/unit-kpi-backend/internal/service/reporting"
)

// rangeRequest is the query string of GET /v1/kpis/{domain}
type rangeRequest struct {
	Start string `validate:"required,datetime=2006-01-02"`
	End   string `validate:"required,datetime=2006-01-02"`
	Unit  string `validate:"omitempty,max=64,printascii"`
}

// namedRequest is the query string of GET /v1/kpis/{domain}/named/{period}
type namedRequest struct {
	Unit string `validate:"omitempty,max=64,printascii"`
}

// invalidateRequest is the query string of DELETE /v1/cache/{domain}
type invalidateRequest struct {
	Period string `validate:"omitempty,max=64"`
}

// Handler exposes the reporting service over HTTP
type Handler struct {
	service   reporting.Service
	validator *validator.Validate
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewHandler creates the KPI handlers
func NewHandler(service reporting.Service, logger *zap.Logger) (*Handler, error) {
	if service == nil {
		return nil, fmt.Errorf("reporting service is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &Handler{
		service:   service,
		validator: validator.New(),
		logger:    logger.Named("rest"),
		tracer:    otel.Tracer("api.rest"),
	}, nil
}

func (h *Handler) handleGetKpis(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GET /v1/kpis/{domain}")
	defer span.End()

	q := r.URL.Query()
	req := rangeRequest{Start: q.Get("start"), End: q.Get("end"), Unit: q.Get("unit")}
	if err := h.validate(req); err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}

	domain := r.PathValue("domain")
	span.SetAttributes(
		attribute.String("kpi.domain", domain),
		attribute.String("kpi.start", req.Start),
		attribute.String("kpi.end", req.End),
	)

	res, err := h.service.GetUnifiedKpis(ctx, domain, req.Start, req.End, kpi.UnitScope(req.Unit))
	if err != nil {
		span.RecordError(err)
		writeError(ctx, w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleGetNamedKpis(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GET /v1/kpis/{domain}/named/{period}")
	defer span.End()

	req := namedRequest{Unit: r.URL.Query().Get("unit")}
	if err := h.validate(req); err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}

	domain, period := r.PathValue("domain"), r.PathValue("period")
	span.SetAttributes(attribute.String("kpi.domain", domain), attribute.String("kpi.period", period))

	res, err := h.service.GetNamedKpis(ctx, domain, period, kpi.UnitScope(req.Unit))
	if err != nil {
		span.RecordError(err)
		writeError(ctx, w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.CacheStats())
}

func (h *Handler) handleCacheMetrics(w http.ResponseWriter, r *http.Request) {
	domain, err := kpi.ParseDomain(r.PathValue("domain"))
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.service.CacheMetrics(domain))
}

func (h *Handler) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	domain, err := kpi.ParseDomain(r.PathValue("domain"))
	if err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}

	req := invalidateRequest{Period: r.URL.Query().Get("period")}
	if err := h.validate(req); err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}

	var periods []kpi.PeriodDescriptor
	if req.Period != "" {
		p, err := kpi.ParsePeriodKey(req.Period)
		if err != nil {
			writeError(ctx, w, h.logger, err)
			return
		}
		periods = append(periods, p)
	}

	removed := h.service.InvalidateDomain(domain, periods...)
	h.logger.Info("cache invalidated",
		zap.String("domain", string(domain)),
		zap.String("period", req.Period),
		zap.Int("removed", removed))

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"domain":  domain,
		"removed": removed,
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := h.service.CacheStats()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"cacheEntries": stats.TotalItems,
	})
}

// validate runs struct validation and converts failures into a 400
// carrying the offending fields.
func (h *Handler) validate(req interface{}) error {
	err := h.validator.Struct(req)
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{}
	if verrs, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range verrs {
			fields[strings.ToLower(fe.Field())] = fe.Tag()
		}
	}
	return errors.NewValidationError(errors.CodeInvalidRequest, "invalid query parameters").
		WithDetails(fields).
		WithCause(err)
}
