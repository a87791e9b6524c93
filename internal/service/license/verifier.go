// Package license verifies the gateway's license against a remote service
// and caches the verdict, refreshed by a background poller.
package license

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/charlalabs/charla-gateway/internal/config"
	"github.com/charlalabs/charla-gateway/internal/domain"
)

// Verifier caches the remote verdict. The snapshot (licensed flag plus the
// optional user allow-list) is replaced wholesale under the lock; the
// request path only reads it.
type Verifier struct {
	cfg config.Config
	hc  *http.Client

	mu       sync.RWMutex
	licensed bool
	rejected bool                // license server explicitly refused our client id
	allowed  map[string]struct{} // nil means every user allowed
}

// New constructs a Verifier. Returns nil when the license check is not
// configured; a nil Verifier accepts every request.
func New(cfg config.Config) *Verifier {
	if !cfg.LicenseEnabled() {
		return nil
	}
	timeout := cfg.LicenseCheckTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Verifier{
		cfg: cfg,
		hc:  &http.Client{Timeout: timeout},
	}
}

type verdict struct {
	Licensed     bool     `json:"licensed"`
	AllowedUsers []string `json:"allowed_users"`
}

// RefreshOnce fetches the verdict and replaces the snapshot.
func (v *Verifier) RefreshOnce(ctx domain.Context) error {
	u, err := url.Parse(v.cfg.LicenseURL)
	if err != nil {
		return fmt.Errorf("op=license.refresh: %w", err)
	}
	q := u.Query()
	q.Set("client_id", v.cfg.LicenseClientID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("op=license.refresh: %w", err)
	}
	resp, err := v.hc.Do(req)
	if err != nil {
		return fmt.Errorf("op=license.refresh: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		// an explicit rejection of our client id is a verdict, not a
		// transient failure
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			v.setSnapshot(false, true, nil)
			return nil
		}
		return fmt.Errorf("op=license.refresh: status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("op=license.refresh: read: %w", err)
	}
	var vd verdict
	if err := json.Unmarshal(raw, &vd); err != nil {
		return fmt.Errorf("op=license.refresh: decode: %w", err)
	}

	var allowed map[string]struct{}
	if len(vd.AllowedUsers) > 0 {
		allowed = make(map[string]struct{}, len(vd.AllowedUsers))
		for _, id := range vd.AllowedUsers {
			allowed[id] = struct{}{}
		}
	}
	v.setSnapshot(vd.Licensed, false, allowed)
	return nil
}

func (v *Verifier) setSnapshot(licensed, rejected bool, allowed map[string]struct{}) {
	v.mu.Lock()
	v.licensed = licensed
	v.rejected = rejected
	v.allowed = allowed
	v.mu.Unlock()
}

// Check validates the cached verdict for one user. A nil Verifier accepts
// everything.
func (v *Verifier) Check(userID string) error {
	if v == nil {
		return nil
	}
	v.mu.RLock()
	licensed, rejected, allowed := v.licensed, v.rejected, v.allowed
	v.mu.RUnlock()
	if rejected {
		return fmt.Errorf("op=license.check: %w", domain.ErrClientRejected)
	}
	if !licensed {
		return fmt.Errorf("op=license.check: %w", domain.ErrUnlicensed)
	}
	if allowed != nil {
		if _, ok := allowed[userID]; !ok {
			return fmt.Errorf("op=license.check: user %q: %w", userID, domain.ErrForbidden)
		}
	}
	return nil
}

// Run refreshes the snapshot on a fixed interval until ctx is done. Each
// refresh retries transient failures with exponential backoff; a refresh
// that keeps failing leaves the previous snapshot in place.
func (v *Verifier) Run(ctx domain.Context) {
	if v == nil {
		return
	}
	refresh := v.cfg.LicenseRefresh
	if refresh <= 0 {
		refresh = 10 * time.Minute
	}

	tick := time.NewTicker(refresh)
	defer tick.Stop()
	for {
		expo := backoff.NewExponentialBackOff()
		expo.MaxElapsedTime = refresh / 2
		err := backoff.Retry(func() error { return v.RefreshOnce(ctx) }, backoff.WithContext(expo, ctx))
		if err != nil {
			slog.Error("license refresh failed, keeping previous verdict", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
	}
}
