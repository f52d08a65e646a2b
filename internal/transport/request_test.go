package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/taxonsync/pkg/errors"
)

func response(status int, body string) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body))}
}

func TestDecodeResponseTypesErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		class  errors.Class
		reason string
	}{
		{"conflict status", 409, `{"error":{"code":"taken","message":"key in use"}}`, errors.ClassConflict, ""},
		{"bad request with marker", 400, `{"error":{"code":"unique_key_conflict","message":"handle taken"}}`, errors.ClassConflict, ""},
		{"unprocessable with top-level code", 422, `{"code":"duplicate_key"}`, errors.ClassConflict, ""},
		{"plain bad request", 400, `{"error":{"code":"invalid_field","message":"name required"}}`, errors.ClassFatal, "invalid_field"},
		{"not found", 404, `{"message":"no such resource"}`, errors.ClassNotFound, ""},
		{"rate limited", 429, ``, errors.ClassTransient, ""},
		{"server error", 502, `<html>bad gateway</html>`, errors.ClassTransient, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := DecodeResponse(response(tt.status, tt.body), nil, "shopX", "POST /publishers")
			require.Error(t, err)
			assert.Equal(t, tt.class, errors.Classify(err))

			var apiErr *errors.APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
			if tt.reason != "" {
				assert.Equal(t, tt.reason, apiErr.Reason)
			}
		})
	}
}

func TestDecodeResponseMessages(t *testing.T) {
	err := DecodeResponse(response(400, `{"error":{"code":"invalid_field","message":"name required"}}`), nil, "shopX", "POST /x")
	var apiErr *errors.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "name required", apiErr.Message)

	err = DecodeResponse(response(500, `upstream exploded`), nil, "shopX", "GET /x")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "upstream exploded", apiErr.Message)
}

func TestDecodeResponseSuccess(t *testing.T) {
	var out struct {
		ID string `json:"id"`
	}
	require.NoError(t, DecodeResponse(response(201, `{"id":"ext-1"}`), &out, "shopX", "POST /x"))
	assert.Equal(t, "ext-1", out.ID)

	require.NoError(t, DecodeResponse(response(204, ``), &out, "shopX", "DELETE /x"))

	err := DecodeResponse(response(200, `{not json`), &out, "shopX", "GET /x")
	require.Error(t, err)
	assert.Equal(t, errors.ClassFatal, errors.Classify(err))
}

func TestClientAppliesAuthAndBody(t *testing.T) {
	var gotAuth, gotType, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"ext-9"}`))
	}))
	defer srv.Close()

	c := New("shopX", srv.URL+"/", &BearerAuth{}, WithAPIKey("secret"))
	var out struct {
		ID string `json:"id"`
	}
	err := c.Do(context.Background(), http.MethodPost, "/publishers", nil, map[string]string{"key": "P-1"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "ext-9", out.ID)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "application/json", gotType)
	assert.JSONEq(t, `{"key":"P-1"}`, gotBody)
}

func TestClientCanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := New("shopX", srv.URL, nil).Do(ctx, http.MethodGet, "/x", nil, nil, nil)
	require.Error(t, err)
	assert.Equal(t, errors.ClassCanceled, errors.Classify(err))
}
