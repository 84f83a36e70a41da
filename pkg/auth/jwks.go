package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/convobank/orchestrator/pkg/config"
	"github.com/convobank/orchestrator/pkg/version"
)

// jwksDocument is the JSON key-set document served by the identity provider.
type jwksDocument struct {
	Keys []jwkKey `json:"keys"`
}

type jwkKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// KeySet caches the identity provider's signing keys. The cache lifetime
// follows the IdP's Cache-Control max-age when present, falling back to the
// configured refresh interval. While the cached set is still within its
// lifetime the IdP is never contacted; once it lapses, the next verification
// refreshes it, and a refresh failure with a lapsed cache makes verification
// fail with ErrKeySetUnavailable.
type KeySet struct {
	url          string
	client       *http.Client
	fetchTimeout time.Duration
	fallbackTTL  time.Duration

	// refreshMu serializes refreshes so one fetch serves all waiters. mu
	// guards the cached fields and is never held across the fetch, so cached
	// verifications proceed while a refresh is in flight.
	refreshMu sync.Mutex

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
	maxAge    time.Duration
}

// NewKeySet builds a key-set cache for the configured identity provider.
func NewKeySet(cfg config.IdPConfig) *KeySet {
	return &KeySet{
		url:          cfg.JWKSURL,
		client:       &http.Client{Timeout: cfg.FetchTimeout},
		fetchTimeout: cfg.FetchTimeout,
		fallbackTTL:  cfg.RefreshInterval,
	}
}

// Key returns the RSA public key with the given kid, refreshing the cached
// set if it has lapsed. An unknown kid after a fresh fetch is a verification
// failure, not a retry trigger.
func (s *KeySet) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if key, ok := s.cached(kid); ok {
		return key, nil
	}
	// Kid not in a fresh set also lands here: one refresh in case the IdP
	// rotated keys inside the cache window.

	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	// The winner of the refresh race already installed a new set.
	if key, ok := s.cached(kid); ok {
		return key, nil
	}

	keys, maxAge, err := s.fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeySetUnavailable, err)
	}

	s.mu.Lock()
	s.keys = keys
	s.fetchedAt = time.Now()
	s.maxAge = maxAge
	s.mu.Unlock()

	key, ok := keys[kid]
	if !ok {
		return nil, fmt.Errorf("signing key %q not in identity provider key set", kid)
	}
	return key, nil
}

// cached returns the key when the cached set is fresh and holds the kid.
func (s *KeySet) cached(kid string) (*rsa.PublicKey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.fresh() {
		return nil, false
	}
	key, ok := s.keys[kid]
	return key, ok
}

func (s *KeySet) fresh() bool {
	if s.keys == nil {
		return false
	}
	ttl := s.maxAge
	if ttl <= 0 {
		ttl = s.fallbackTTL
	}
	return time.Since(s.fetchedAt) < ttl
}

// fetch retrieves and parses the key-set document with a short exponential
// backoff. Caller holds s.refreshMu only; cached state is untouched.
func (s *KeySet) fetch(ctx context.Context) (map[string]*rsa.PublicKey, time.Duration, error) {
	var doc *jwksDocument
	var maxAge time.Duration

	attempt := func() error {
		reqCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, s.url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", version.Full())

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("identity provider returned %d", resp.StatusCode)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}

		var parsed jwksDocument
		if err := json.Unmarshal(body, &parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("malformed key set: %w", err))
		}

		doc = &parsed
		maxAge = parseMaxAge(resp.Header.Get("Cache-Control"))
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(200*time.Millisecond),
			backoff.WithMaxInterval(2*time.Second),
		), 2), ctx)
	if err := backoff.Retry(attempt, policy); err != nil {
		return nil, 0, err
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		pub, err := parseRSAKey(k)
		if err != nil {
			return nil, 0, fmt.Errorf("parse key %q: %w", k.Kid, err)
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		return nil, 0, fmt.Errorf("key set contains no usable RSA keys")
	}

	return keys, maxAge, nil
}

func parseRSAKey(k jwkKey) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("exponent: %w", err)
	}

	e := 0
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	if e <= 1 {
		return nil, fmt.Errorf("invalid exponent")
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}, nil
}

// parseMaxAge extracts max-age from a Cache-Control header.
// Returns 0 (use fallback TTL) when absent or unparsable.
func parseMaxAge(header string) time.Duration {
	for _, directive := range strings.Split(header, ",") {
		directive = strings.TrimSpace(strings.ToLower(directive))
		if v, ok := strings.CutPrefix(directive, "max-age="); ok {
			if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
				return time.Duration(secs) * time.Second
			}
		}
	}
	return 0
}
