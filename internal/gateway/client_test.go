package gateway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/prospectpilot-backend/internal/errors"
	"github.com/unclebandit/prospectpilot-backend/internal/gateway"
)

func TestSendConnectionRequestSuccess(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/users/invite", r.URL.Path)
		require.Equal(t, "secret-key", r.Header.Get("X-API-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]string{"provider_id": "prov-99"})
	}))
	defer srv.Close()

	client := gateway.NewClient(srv.URL, "secret-key", 5*time.Second)
	providerID, err := client.SendConnectionRequest(context.Background(), "acct-1", "https://provider.example/in/ada", "Hi Ada")
	require.NoError(t, err)
	assert.Equal(t, "prov-99", providerID)
	assert.Equal(t, "acct-1", got["account_id"])
	assert.Equal(t, "https://provider.example/in/ada", got["identifier"])
	assert.Equal(t, "Hi Ada", got["message"])
}

func TestSendFollowUpSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/messages", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := gateway.NewClient(srv.URL, "k", 5*time.Second)
	err := client.SendFollowUp(context.Background(), "acct-1", "prov-99", "Thanks for connecting")
	require.NoError(t, err)
}

func TestErrorCategorization(t *testing.T) {
	cases := []struct {
		status    int
		category  appErrors.ProviderErrorCategory
		transient bool
	}{
		{http.StatusTooManyRequests, appErrors.CategoryRateLimited, true},
		{http.StatusForbidden, appErrors.CategoryPolicyRejected, false},
		{http.StatusUnprocessableEntity, appErrors.CategoryPolicyRejected, false},
		{http.StatusBadRequest, appErrors.CategoryInvalidIdentity, false},
		{http.StatusNotFound, appErrors.CategoryInvalidIdentity, false},
		{http.StatusInternalServerError, appErrors.CategoryTransient, true},
		{http.StatusBadGateway, appErrors.CategoryTransient, true},
	}

	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			w.Write([]byte(`{"detail":"provider said no"}`))
		}))

		client := gateway.NewClient(srv.URL, "k", 5*time.Second)
		_, err := client.SendConnectionRequest(context.Background(), "acct-1", "id", "text")
		require.Error(t, err, "status %d", tc.status)

		var perr *appErrors.ProviderError
		require.ErrorAs(t, err, &perr, "status %d", tc.status)
		assert.Equal(t, tc.category, perr.Category, "status %d", tc.status)
		assert.Equal(t, tc.status, perr.StatusCode)
		// Provider payload preserved verbatim for diagnosis.
		assert.Contains(t, perr.Payload, "provider said no")
		assert.Equal(t, tc.transient, appErrors.IsTransient(err), "status %d", tc.status)

		srv.Close()
	}
}

func TestNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused

	client := gateway.NewClient(srv.URL, "k", time.Second)
	_, err := client.SendConnectionRequest(context.Background(), "acct-1", "id", "text")
	require.Error(t, err)
	assert.True(t, appErrors.IsTransient(err))
}
