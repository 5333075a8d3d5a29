package domainauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/smallbiznis/sendora/internal/config"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.DomainAuthConfig{
		BaseURL:              srv.URL,
		APIKey:               "test-key",
		MaxRequestsPerSecond: 100,
		Burst:                10,
	}, zap.NewNop(), nil)
}

func TestAuthenticateParsesRegistration(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v3/whitelabel/domains", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "mail.acme.dev", body["domain"])
		require.Equal(t, true, body["automatic_security"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": 4242,
			"valid": false,
			"dns": {
				"mail_cname": {"type": "cname", "host": "em100.mail.acme.dev", "data": "u100.wl.sink.test", "valid": false},
				"dkim1": {"type": "cname", "host": "s1._domainkey.mail.acme.dev", "data": "s1.domainkey.u100.wl.sink.test", "valid": false},
				"dkim2": {"type": "cname", "host": "s2._domainkey.mail.acme.dev", "value": "s2.domainkey.u100.wl.sink.test", "valid": false}
			}
		}`))
	})

	registration, err := client.Authenticate(context.Background(), "mail.acme.dev")
	require.NoError(t, err)
	require.Equal(t, "4242", registration.ReferenceID)
	require.False(t, registration.Valid)
	require.Len(t, registration.Records, 3)

	require.Equal(t, RecordMailCNAME, registration.Records[0].Name)
	require.Equal(t, "CNAME", registration.Records[0].Type)
	require.Equal(t, "em100.mail.acme.dev", registration.Records[0].Host)
	require.Equal(t, "u100.wl.sink.test", registration.Records[0].Value)

	require.Equal(t, RecordDKIM1, registration.Records[1].Name)
	// dkim2 arrives under "value" instead of "data".
	require.Equal(t, "s2.domainkey.u100.wl.sink.test", registration.Records[2].Value)
}

func TestAuthenticateSurfacesProviderMessage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errors": [{"message": "domain already exists"}]}`))
	})

	_, err := client.Authenticate(context.Background(), "mail.acme.dev")
	require.ErrorIs(t, err, ErrProvider)

	var providerErr *ProviderError
	require.ErrorAs(t, err, &providerErr)
	require.Equal(t, http.StatusBadRequest, providerErr.Status)
	require.Equal(t, "domain already exists", providerErr.Message)
	require.Contains(t, providerErr.Error(), "domain already exists")
}

func TestValidateReportsPerRecordResults(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v3/whitelabel/domains/4242/validate", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"valid": false,
			"validation_results": {
				"mail_cname": {"valid": false, "reason": "expected CNAME for em100.mail.acme.dev"},
				"dkim1": {"valid": true, "reason": null},
				"dkim2": {"valid": true, "reason": null}
			}
		}`))
	})

	result, err := client.Validate(context.Background(), "4242")
	require.NoError(t, err)
	require.False(t, result.Valid)
	require.False(t, result.Records[RecordMailCNAME].Valid)
	require.Equal(t, "expected CNAME for em100.mail.acme.dev", result.Records[RecordMailCNAME].Reason)
	require.True(t, result.Records[RecordDKIM1].Valid)

	_, err = client.Validate(context.Background(), "  ")
	require.ErrorIs(t, err, ErrProvider)
}

func TestDeleteRegistration(t *testing.T) {
	var deleted bool
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		require.Equal(t, "/v3/whitelabel/domains/4242", r.URL.Path)
		deleted = true
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, client.Delete(context.Background(), "4242"))
	require.True(t, deleted)
}

func TestMissingAPIKeyFailsBeforeDialing(t *testing.T) {
	called := false
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})
	client.apiKey = ""

	_, err := client.Authenticate(context.Background(), "mail.acme.dev")
	require.ErrorIs(t, err, ErrProvider)
	require.False(t, called)
}

func TestErrorBodyFallback(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream exploded"))
	})

	_, err := client.Authenticate(context.Background(), "mail.acme.dev")
	var providerErr *ProviderError
	require.ErrorAs(t, err, &providerErr)
	require.Equal(t, http.StatusBadGateway, providerErr.Status)
	require.Contains(t, providerErr.Error(), "request failed")

	require.False(t, errors.Is(err, context.Canceled))
}
