package response

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func request() *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	return r.WithContext(context.WithValue(r.Context(), chimw.RequestIDKey, "abcd1234"))
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, request(), map[string]bool{"success": true})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	body := decode(t, rec)
	assert.EqualValues(t, 200, body["status"])
	assert.Equal(t, "abcd1234", body["reqID"])
	assert.Equal(t, map[string]any{"code": "", "message": "", "field": ""}, body["error"])
	assert.Equal(t, map[string]any{"success": true}, body["data"])
}

func TestFailField(t *testing.T) {
	rec := httptest.NewRecorder()
	FailField(rec, request(), http.StatusBadRequest, CodeParamInvalid, "Email address is required", "email")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 400, body["status"])
	assert.Equal(t, map[string]any{"code": "40002", "message": "Email address is required", "field": "email"}, body["error"])
	assert.Equal(t, map[string]any{}, body["data"], "data is an empty object on errors")
}

func TestFail_APIKeyStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	Fail(rec, request(), StatusAPIKeyInvalid, CodeAPIKeyExpired, "API-Key has expired")

	assert.Equal(t, 491, rec.Code)
	assert.EqualValues(t, 491, decode(t, rec)["status"])
}
