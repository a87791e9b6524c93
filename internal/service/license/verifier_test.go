package license_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlalabs/charla-gateway/internal/config"
	"github.com/charlalabs/charla-gateway/internal/domain"
	"github.com/charlalabs/charla-gateway/internal/service/license"
)

func TestCheck_NilVerifierAllowsAll(t *testing.T) {
	t.Parallel()
	v := license.New(config.Config{})
	require.Nil(t, v)
	assert.NoError(t, v.Check("cualquiera"))
}

func TestRefreshOnce_LicensedNoAllowList(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "cliente-1", r.URL.Query().Get("client_id"))
		_ = json.NewEncoder(w).Encode(map[string]any{"licensed": true})
	}))
	defer srv.Close()

	v := license.New(config.Config{LicenseURL: srv.URL, LicenseClientID: "cliente-1"})
	require.NotNil(t, v)
	// before the first refresh nothing is licensed
	require.ErrorIs(t, v.Check("u1"), domain.ErrUnlicensed)

	require.NoError(t, v.RefreshOnce(context.Background()))
	assert.NoError(t, v.Check("u1"))
	assert.NoError(t, v.Check("u2"))
}

func TestRefreshOnce_AllowListEnforced(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"licensed": true, "allowed_users": []string{"u1"}})
	}))
	defer srv.Close()

	v := license.New(config.Config{LicenseURL: srv.URL})
	require.NoError(t, v.RefreshOnce(context.Background()))
	assert.NoError(t, v.Check("u1"))
	assert.ErrorIs(t, v.Check("u2"), domain.ErrForbidden)
}

func TestRefreshOnce_RejectionIsAVerdict(t *testing.T) {
	t.Parallel()
	status := http.StatusForbidden
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	v := license.New(config.Config{LicenseURL: srv.URL})
	require.NoError(t, v.RefreshOnce(context.Background()))
	assert.ErrorIs(t, v.Check("u1"), domain.ErrClientRejected)

	status = http.StatusUnauthorized
	require.NoError(t, v.RefreshOnce(context.Background()))
	assert.ErrorIs(t, v.Check("u1"), domain.ErrClientRejected)
}

func TestRefreshOnce_RejectionClearedByLaterVerdict(t *testing.T) {
	t.Parallel()
	rejecting := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if rejecting {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"licensed": true})
	}))
	defer srv.Close()

	v := license.New(config.Config{LicenseURL: srv.URL})
	require.NoError(t, v.RefreshOnce(context.Background()))
	require.ErrorIs(t, v.Check("u1"), domain.ErrClientRejected)

	rejecting = false
	require.NoError(t, v.RefreshOnce(context.Background()))
	assert.NoError(t, v.Check("u1"))
}

func TestRefreshOnce_TransientFailureKeepsSnapshot(t *testing.T) {
	t.Parallel()
	healthy := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if !healthy {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"licensed": true})
	}))
	defer srv.Close()

	v := license.New(config.Config{LicenseURL: srv.URL})
	require.NoError(t, v.RefreshOnce(context.Background()))
	require.NoError(t, v.Check("u1"))

	healthy = false
	require.Error(t, v.RefreshOnce(context.Background()))
	assert.NoError(t, v.Check("u1"), "previous verdict survives a transient failure")
}
