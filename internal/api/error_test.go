package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/modelgate/modelgate/internal/domain"
)

func TestWriteError_SentinelMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			"provider unavailable sentinel",
			fmt.Errorf("dispatch: %w", domain.ErrProviderUnavailable),
			http.StatusServiceUnavailable,
			string(domain.ErrCodeProvider),
		},
		{
			"key not found sentinel",
			fmt.Errorf("resolve: %w", domain.ErrKeyNotFound),
			http.StatusUnauthorized,
			string(domain.ErrCodeAuth),
		},
		{
			"foreign error",
			fmt.Errorf("disk full"),
			http.StatusInternalServerError,
			string(domain.ErrCodeInternal),
		},
		{
			"structured error wins over wrapping",
			fmt.Errorf("invoke: %w", domain.NewValidationError("bad model")),
			http.StatusBadRequest,
			string(domain.ErrCodeValidation),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeError(w, tt.err)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var body struct {
				Error errorBody `json:"error"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.Error.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", body.Error.Code, tt.wantCode)
			}
		})
	}
}

func TestWriteError_ProviderStatusPassThrough(t *testing.T) {
	tests := []struct {
		upstream int
		want     int
	}{
		{429, http.StatusTooManyRequests},
		{503, http.StatusServiceUnavailable},
		{500, http.StatusBadGateway},
		{400, http.StatusBadGateway},
		{0, http.StatusBadGateway},
	}

	for _, tt := range tests {
		w := httptest.NewRecorder()
		writeError(w, domain.NewProviderError("openai", tt.upstream, "upstream", nil))
		if w.Code != tt.want {
			t.Errorf("upstream %d: status = %d, want %d", tt.upstream, w.Code, tt.want)
		}
	}
}
