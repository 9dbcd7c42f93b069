package response

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/sandeepkv93/identity-core/internal/service"
)

var kindStatus = map[service.ErrorKind]int{
	service.KindValidation:  http.StatusBadRequest,
	service.KindNotFound:    http.StatusNotFound,
	service.KindExpired:     http.StatusGone,
	service.KindSecurity:    http.StatusForbidden,
	service.KindConflict:    http.StatusConflict,
	service.KindUpstream:    http.StatusBadGateway,
	service.KindRateLimited: http.StatusTooManyRequests,
	service.KindRepository:  http.StatusInternalServerError,
}

// Credential failures are 401 rather than the security default.
var codeStatus = map[string]int{
	service.ErrInvalidCredentials.Code: http.StatusUnauthorized,
	service.ErrInvalidCode.Code:        http.StatusUnauthorized,
	service.ErrInvalidToken.Code:       http.StatusUnauthorized,
	service.ErrSessionNotFound.Code:    http.StatusUnauthorized,
	service.ErrSessionExpired.Code:     http.StatusUnauthorized,
}

// Status returns the HTTP status for a service error.
func Status(e *service.Error) int {
	if status, ok := codeStatus[e.Code]; ok {
		return status
	}
	if status, ok := kindStatus[e.Kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// FromError writes err as an error envelope. Repository failures are logged and reported
// without detail.
func FromError(w http.ResponseWriter, r *http.Request, err error) {
	e := service.AsError(err)
	status := Status(e)
	message := strings.ToLower(strings.ReplaceAll(e.Code, "_", " "))
	if e.Kind == service.KindRepository {
		slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		message = "internal error"
	}
	if e.Kind == service.KindRateLimited && e.RetryAfter > 0 {
		w.Header().Set("Retry-After", RetryAfterSeconds(e.RetryAfter.Seconds()))
	}
	Error(w, r, status, e.Code, message, nil)
}

// RetryAfterSeconds rounds up to whole seconds, never below one.
func RetryAfterSeconds(seconds float64) string {
	n := int(seconds)
	if float64(n) < seconds {
		n++
	}
	if n < 1 {
		n = 1
	}
	return strconv.Itoa(n)
}
