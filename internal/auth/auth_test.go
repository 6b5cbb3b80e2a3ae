package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorize_ValidKey(t *testing.T) {
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a, err := NewHTTP(srv.URL, nil)
	require.NoError(t, err)

	require.NoError(t, a.Authorize(context.Background(), "tvly-key-123"))
	assert.Equal(t, "tvly-key-123", gotHeader)
}

func TestAuthorize_UpstreamRejectionRelayedVerbatim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"detail":"API key disabled"}`))
	}))
	defer srv.Close()

	a, err := NewHTTP(srv.URL, nil)
	require.NoError(t, err)

	err = a.Authorize(context.Background(), "tvly-bad")
	require.Error(t, err)

	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusForbidden, authErr.StatusCode)
	assert.JSONEq(t, `{"detail":"API key disabled"}`, string(authErr.Body))
}

func TestAuthorize_MissingKeyRejectedLocally(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		t.Fatal("upstream should not be called for an empty key")
	}))
	defer srv.Close()

	a, err := NewHTTP(srv.URL, nil)
	require.NoError(t, err)

	err = a.Authorize(context.Background(), "")
	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusUnauthorized, authErr.StatusCode)
	assert.Contains(t, string(authErr.Body), "Missing API key")
}

func TestAuthorize_NetworkFailureIsNotAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	srv.Close() // immediate close forces a connection error

	a, err := NewHTTP(srv.URL, nil)
	require.NoError(t, err)

	err = a.Authorize(context.Background(), "tvly-key")
	require.Error(t, err)

	var authErr *Error
	assert.False(t, errors.As(err, &authErr))
}

func TestNewHTTP_RequiresEndpoint(t *testing.T) {
	_, err := NewHTTP("", nil)
	assert.Error(t, err)
}
