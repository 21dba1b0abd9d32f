package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/modelgate/modelgate/internal/domain"
)

// NormalizeHTTPError maps an upstream HTTP failure into the gateway's
// error taxonomy. Every adapter funnels its non-2xx responses through here
// so callers see one shape regardless of backend.
func NormalizeHTTPError(kind Kind, statusCode int, body string) *domain.Error {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return &domain.Error{
			Code:       domain.ErrCodeAuth,
			Provider:   string(kind),
			StatusCode: statusCode,
			Message:    "backend rejected credentials",
			Details:    map[string]any{"body": truncate(body, 512)},
		}
	case statusCode == http.StatusTooManyRequests:
		e := domain.NewProviderError(string(kind), statusCode, "backend rate limited", nil)
		e.Details = map[string]any{"body": truncate(body, 512)}
		return e
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusGatewayTimeout:
		return domain.NewTimeoutError(string(kind), nil)
	default:
		return domain.NewProviderError(string(kind), statusCode,
			fmt.Sprintf("backend returned status %d", statusCode),
			fmt.Errorf("upstream body: %s", truncate(body, 512)))
	}
}

// NormalizeTransportError maps client-side transport failures (timeouts,
// connection refusals, context deadlines) into the taxonomy.
func NormalizeTransportError(kind Kind, err error) *domain.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewTimeoutError(string(kind), err)
	}
	if errors.Is(err, context.Canceled) {
		return &domain.Error{
			Code:       domain.ErrCodeTimeout,
			Provider:   string(kind),
			StatusCode: 499,
			Message:    "request canceled",
		}
	}
	return domain.NewProviderError(string(kind), 0, "transport failure", err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
