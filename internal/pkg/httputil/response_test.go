package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var env struct {
		Error ErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Error
}

func TestError_CodeFromStatus(t *testing.T) {
	tests := []struct {
		status int
		code   string
	}{
		{http.StatusBadRequest, CodeBadRequest},
		{http.StatusUnauthorized, CodeUnauthorized},
		{http.StatusNotFound, CodeNotFound},
		{http.StatusNotImplemented, CodeInternal},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		Error(rec, tt.status, "nope")
		assert.Equal(t, tt.status, rec.Code)
		body := decodeError(t, rec)
		assert.Equal(t, tt.code, body.Code)
		assert.Equal(t, "nope", body.Message)
	}
}

func TestValidationError_FieldDetails(t *testing.T) {
	type request struct {
		Type string `validate:"required,oneof=SMS EMAIL"`
	}
	err := validator.New().Struct(request{Type: "FAX"})
	require.Error(t, err)

	rec := httptest.NewRecorder()
	ValidationError(rec, err)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"VALIDATION_FAILED"`)
	assert.Contains(t, rec.Body.String(), `"field":"request.Type"`)
	assert.Contains(t, rec.Body.String(), `"rule":"oneof"`)
	assert.Contains(t, rec.Body.String(), `"param":"SMS EMAIL"`)

	rec = httptest.NewRecorder()
	ValidationError(rec, errors.New("bad window"))
	assert.Contains(t, rec.Body.String(), `"details":"bad window"`)
}

func TestHandleError_CustomCode(t *testing.T) {
	errInvalid := errors.New("invalid patch")
	rec := httptest.NewRecorder()
	HandleError(context.Background(), rec, errInvalid, []ErrorMapping{
		{Error: errInvalid, Status: http.StatusBadRequest, Code: "INVALID_PATCH", Message: "patch rejected"},
	})

	body := decodeError(t, rec)
	assert.Equal(t, "INVALID_PATCH", body.Code)
	assert.Equal(t, "patch rejected", body.Message)
}

func TestHandleError_CancelledRequest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	HandleError(ctx, rec, context.Canceled, nil)
	assert.Equal(t, statusClientClosed, rec.Code)

	// A cancellation error from a live request is still a server fault.
	rec = httptest.NewRecorder()
	HandleError(context.Background(), rec, context.Canceled, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestLoggerMiddleware_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	r := chi.NewRouter()
	r.Use(RequestLoggerMiddleware(logger))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { Text(w, http.StatusOK, "OK") })
	r.Get("/items/{id}", func(w http.ResponseWriter, _ *http.Request) { Error(w, http.StatusNotFound, "missing") })
	r.Get("/boom", func(w http.ResponseWriter, _ *http.Request) { Error(w, http.StatusInternalServerError, "boom") })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Empty(t, buf.String(), "probes log at debug")

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/items/42", nil))
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "route=/items/{id}")

	buf.Reset()
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Contains(t, buf.String(), "level=ERROR")
	assert.Contains(t, buf.String(), "status=500")
}
