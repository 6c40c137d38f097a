package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/hitlflow/api"
	"github.com/BaSui01/hitlflow/types"
)

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.False(t, resp.Timestamp.IsZero())
	return resp
}

func TestWriteSuccessStatus_Envelope(t *testing.T) {
	w := httptest.NewRecorder()
	w.Header().Set("X-Request-ID", "req-1")

	WriteSuccessStatus(w, http.StatusCreated, map[string]string{"event_id": "evt-1"})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	resp := decodeEnvelope(t, w)
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)
	assert.Equal(t, "req-1", resp.RequestID)
	assert.Equal(t, map[string]any{"event_id": "evt-1"}, resp.Data)
}

func TestWriteError_StatusAndBody(t *testing.T) {
	tests := []struct {
		name       string
		err        *types.Error
		wantStatus int
		wantDetail string
		retryable  bool
	}{
		{
			name:       "code mapping",
			err:        types.NewError(types.ErrDuplicateEvent, "event_id already registered"),
			wantStatus: http.StatusConflict,
		},
		{
			name:       "explicit status wins",
			err:        types.NewError(types.ErrInvalidRequest, "too large").WithHTTPStatus(http.StatusRequestEntityTooLarge),
			wantStatus: http.StatusRequestEntityTooLarge,
		},
		{
			name:       "cause surfaces as details",
			err:        types.NewError(types.ErrResumeFailed, "resume failed").WithCause(errors.New("connection refused")).WithRetryable(true),
			wantStatus: http.StatusBadGateway,
			wantDetail: "connection refused",
			retryable:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tt.err, zap.NewNop())

			assert.Equal(t, tt.wantStatus, w.Code)
			resp := decodeEnvelope(t, w)
			assert.False(t, resp.Success)
			assert.Nil(t, resp.Data)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(tt.err.Code), resp.Error.Code)
			assert.Equal(t, tt.err.Message, resp.Error.Message)
			assert.Equal(t, tt.wantDetail, resp.Error.Details)
			assert.Equal(t, tt.retryable, resp.Error.Retryable)
		})
	}
}

func TestMapErrorCodeToHTTPStatus(t *testing.T) {
	want := map[types.ErrorCode]int{
		types.ErrInvalidRequest:     http.StatusBadRequest,
		types.ErrInvalidDecision:    http.StatusBadRequest,
		types.ErrAuthentication:     http.StatusUnauthorized,
		types.ErrUnauthorized:       http.StatusUnauthorized,
		types.ErrForbidden:          http.StatusForbidden,
		types.ErrNotFound:           http.StatusNotFound,
		types.ErrDuplicateEvent:     http.StatusConflict,
		types.ErrRateLimited:        http.StatusTooManyRequests,
		types.ErrResumeFailed:       http.StatusBadGateway,
		types.ErrStoreUnavailable:   http.StatusServiceUnavailable,
		types.ErrChannelFull:        http.StatusServiceUnavailable,
		types.ErrServiceUnavailable: http.StatusServiceUnavailable,
		types.ErrTimeout:            http.StatusGatewayTimeout,
		types.ErrInternalError:      http.StatusInternalServerError,
		"SOMETHING_ELSE":            http.StatusInternalServerError,
	}
	for code, status := range want {
		assert.Equal(t, status, mapErrorCodeToHTTPStatus(code), code)
	}
}

func TestDecodeJSONBody(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		want       api.DecisionRequest
	}{
		{
			name: "decision",
			body: `{"approved":false,"reason":"amount too high"}`,
			want: api.DecisionRequest{Approved: false, Reason: "amount too high"},
		},
		{
			name:       "malformed",
			body:       `{"approved":true,`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown field",
			body:       `{"approved":true,"approve_all":true}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "empty body",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "oversized body",
			body:       `{"input":"` + strings.Repeat("x", 2<<20) + `"}`,
			wantStatus: http.StatusRequestEntityTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			var r *http.Request
			if tt.body == "" {
				r = httptest.NewRequest(http.MethodPost, "/api/v1/hitl/evt-1/decision", nil)
			} else {
				r = httptest.NewRequest(http.MethodPost, "/api/v1/hitl/evt-1/decision", strings.NewReader(tt.body))
			}

			var got api.DecisionRequest
			err := DecodeJSONBody(w, r, &got, zap.NewNop())

			if tt.wantStatus != 0 {
				assert.Error(t, err)
				assert.Equal(t, tt.wantStatus, w.Code)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateContentType(t *testing.T) {
	accepted := []string{"application/json", "application/json; charset=utf-8", "Application/JSON; charset=UTF-8"}
	for _, ct := range accepted {
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		r.Header.Set("Content-Type", ct)
		assert.True(t, ValidateContentType(httptest.NewRecorder(), r, nil), ct)
	}

	for _, ct := range []string{"", "text/plain", "application/x-www-form-urlencoded"} {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		r.Header.Set("Content-Type", ct)
		assert.False(t, ValidateContentType(w, r, nil), ct)
		assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
	}
}

func TestResponseWriter(t *testing.T) {
	w := httptest.NewRecorder()
	rw := NewResponseWriter(w)
	assert.Equal(t, http.StatusOK, rw.StatusCode)
	assert.False(t, rw.Written)

	// 只有第一次 WriteHeader 生效
	rw.WriteHeader(http.StatusAccepted)
	rw.WriteHeader(http.StatusBadRequest)
	assert.Equal(t, http.StatusAccepted, rw.StatusCode)
	assert.True(t, rw.Written)

	_, err := rw.Write([]byte("data: {}\n\n"))
	require.NoError(t, err)
	rw.Flush()
	assert.True(t, w.Flushed)
	assert.Same(t, w, rw.Unwrap())

	_, _, err = rw.Hijack()
	assert.Error(t, err, "recorder cannot be hijacked")
}
