package session

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/datapilot/chainkvm/internal/gateway/token"
)

const jwksFetchTimeout = 5 * time.Second

// ErrKeyNotFound is returned when the requested kid is absent even after a
// forced refresh.
var ErrKeyNotFound = errors.New("signing key not found in key set")

// JWKSFetcher caches the Gateway's published verification keys. A lookup
// for an unknown kid forces one refresh before failing, so key rotation is
// picked up without waiting for the periodic interval.
type JWKSFetcher struct {
	url      string
	interval time.Duration
	client   *http.Client

	mu          sync.RWMutex
	keys        map[string]ed25519.PublicKey
	lastRefresh time.Time
}

func NewJWKSFetcher(url string, interval time.Duration) *JWKSFetcher {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &JWKSFetcher{
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: jwksFetchTimeout},
		keys:     make(map[string]ed25519.PublicKey),
	}
}

// Refresh fetches the key set once.
func (f *JWKSFetcher) Refresh() error {
	resp, err := f.client.Get(f.url)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks endpoint returned %d", resp.StatusCode)
	}

	var set token.JWKS
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}

	keys := make(map[string]ed25519.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		pub, err := token.DecodeJWK(k)
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		return errors.New("jwks contained no usable keys")
	}

	f.mu.Lock()
	f.keys = keys
	f.lastRefresh = time.Now()
	f.mu.Unlock()
	return nil
}

// GetPublicKey returns the key for kid, refreshing once if it is unknown.
func (f *JWKSFetcher) GetPublicKey(kid string) (ed25519.PublicKey, error) {
	f.mu.RLock()
	pub, ok := f.keys[kid]
	f.mu.RUnlock()
	if ok {
		return pub, nil
	}

	if err := f.Refresh(); err != nil {
		return nil, err
	}

	f.mu.RLock()
	pub, ok = f.keys[kid]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
	}
	return pub, nil
}

// Start launches the periodic refresh loop; the returned stop function
// halts it.
func (f *JWKSFetcher) Start() (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				_ = f.Refresh()
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}
