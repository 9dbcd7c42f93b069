package observability

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"
)

// Audit logs one security-relevant outcome. Callers pass ids and outcome codes only, never
// tokens, codes or passwords.
func Audit(r *http.Request, event string, attrs ...any) {
	ctx := r.Context()
	route := r.URL.Path
	if rc := chi.RouteContext(ctx); rc != nil && rc.RoutePattern() != "" {
		route = rc.RoutePattern()
	}
	base := []any{
		"event", event,
		"method", r.Method,
		"route", route,
		"request_id", chimiddleware.GetReqID(ctx),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		base = append(base, "trace_id", sc.TraceID().String())
	}
	slog.InfoContext(ctx, "audit", append(base, attrs...)...)
}
