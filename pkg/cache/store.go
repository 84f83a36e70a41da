// Package cache owns the per-customer bundle cache: one JSON file per
// customer under the cache root, written atomically, with an in-process
// in-flight set that coalesces concurrent populates for the same customer.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/convobank/orchestrator/pkg/audit"
	"github.com/convobank/orchestrator/pkg/config"
	"github.com/convobank/orchestrator/pkg/models"
)

// PopulateStatus is the outcome of an EnsurePopulated call.
type PopulateStatus string

const (
	// StatusValid means a fresh bundle already exists; nothing was scheduled.
	StatusValid PopulateStatus = "valid"
	// StatusInFlight means another populate for this customer is running.
	StatusInFlight PopulateStatus = "in_flight"
	// StatusScheduled means this call started a new background populate.
	StatusScheduled PopulateStatus = "scheduled"
)

// BundleSource produces a complete bundle for one customer. Implemented by
// Populator; tests substitute fakes.
type BundleSource interface {
	Populate(ctx context.Context, principal models.Principal) (*models.CacheBundle, error)
}

// Store is the cache store. A bundle for a customer is either absent,
// being populated, or complete on disk; readers never see a partial one.
type Store struct {
	root     string
	cfg      config.CacheConfig
	source   BundleSource
	auditLog audit.Auditor
	now      func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}
	// gen counts invalidations per customer; a populate that started under
	// an older generation discards its bundle instead of landing stale data.
	gen map[string]uint64
}

// NewStore creates the cache root directory if needed and returns a store.
func NewStore(root string, cfg config.CacheConfig, source BundleSource, auditLog audit.Auditor) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create cache root %s: %w", root, err)
	}
	return &Store{
		root:     root,
		cfg:      cfg,
		source:   source,
		auditLog: auditLog,
		now:      time.Now,
		inFlight: make(map[string]struct{}),
		gen:      make(map[string]uint64),
	}, nil
}

// Get returns the customer's bundle if one is valid now. When a populate is
// in flight it waits — polling, bounded by the configured wait timeout — for
// the populate to land; a populate that finishes without producing a bundle
// ends the wait early. Absent or expired with nothing in flight returns nil.
func (s *Store) Get(ctx context.Context, customerID string) (*models.CacheBundle, error) {
	bundle, err := s.read(customerID)
	if err != nil {
		return nil, err
	}
	if bundle != nil && bundle.Valid(s.now()) {
		return bundle, nil
	}
	if !s.isInFlight(customerID) {
		return nil, nil
	}

	deadline := time.NewTimer(s.cfg.WaitTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, nil
		case <-ticker.C:
			bundle, err := s.read(customerID)
			if err != nil {
				return nil, err
			}
			if bundle != nil && bundle.Valid(s.now()) {
				return bundle, nil
			}
			if !s.isInFlight(customerID) {
				// Populate finished without a fresh bundle: it failed.
				return nil, nil
			}
		}
	}
}

// EnsurePopulated guarantees a populate is either unnecessary, already
// running, or newly scheduled — without blocking the caller. The populate
// itself runs on a background context: a client disconnect never cancels it,
// the bundle lands for future readers.
func (s *Store) EnsurePopulated(principal models.Principal) PopulateStatus {
	bundle, err := s.read(principal.CustomerID)
	if err == nil && bundle != nil && bundle.Valid(s.now()) {
		return StatusValid
	}

	s.mu.Lock()
	if _, running := s.inFlight[principal.CustomerID]; running {
		s.mu.Unlock()
		return StatusInFlight
	}
	s.inFlight[principal.CustomerID] = struct{}{}
	gen := s.gen[principal.CustomerID]
	s.mu.Unlock()

	go s.runPopulate(principal, gen)
	return StatusScheduled
}

func (s *Store) runPopulate(principal models.Principal, gen uint64) {
	defer func() {
		s.mu.Lock()
		delete(s.inFlight, principal.CustomerID)
		s.mu.Unlock()
	}()

	start := s.now()
	bundle, err := s.source.Populate(context.Background(), principal)
	if err != nil {
		slog.Error("Cache populate failed",
			"customer_id", principal.CustomerID, "error", err)
		s.auditLog.Append(audit.Record{
			CustomerID: principal.CustomerID,
			EventType:  audit.EventCachePopulateFail,
			Details:    map[string]any{"error": err.Error()},
		})
		return
	}

	s.mu.Lock()
	invalidated := s.gen[principal.CustomerID] != gen
	s.mu.Unlock()
	if invalidated {
		// A write committed while this populate ran; its bundle predates the
		// write and must not land.
		slog.Info("Discarding populate result, customer invalidated mid-flight",
			"customer_id", principal.CustomerID)
		return
	}

	if err := s.write(bundle); err != nil {
		slog.Error("Cache bundle write failed",
			"customer_id", principal.CustomerID, "error", err)
		s.auditLog.Append(audit.Record{
			CustomerID: principal.CustomerID,
			EventType:  audit.EventCachePopulateFail,
			Details:    map[string]any{"error": err.Error()},
		})
		return
	}

	s.auditLog.Append(audit.Record{
		CustomerID: principal.CustomerID,
		EventType:  audit.EventCachePopulateOK,
		Details: map[string]any{
			"duration_ms": s.now().Sub(start).Milliseconds(),
			"accounts":    len(bundle.Data.Accounts),
		},
	})
}

// Invalidate removes the customer's bundle and marks any in-flight populate
// stale so its pre-invalidation data cannot land afterwards. Removing an
// absent bundle is not an error.
func (s *Store) Invalidate(customerID string) error {
	s.mu.Lock()
	s.gen[customerID]++
	s.mu.Unlock()

	err := os.Remove(s.path(customerID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("invalidate bundle for %s: %w", customerID, err)
	}
	return nil
}

// Sweep removes bundle files last written before the sweep cutoff. Run once
// at startup so restarts do not serve long-dead bundles; freshness within
// the cutoff is still enforced per read.
func (s *Store) Sweep() (int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return 0, fmt.Errorf("sweep cache root %s: %w", s.root, err)
	}

	cutoff := s.now().Add(-s.cfg.SweepCutoff)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(s.root, entry.Name())); err == nil {
				removed++
			}
		}
	}
	if removed > 0 {
		slog.Info("Swept stale cache bundles", "removed", removed)
	}
	return removed, nil
}

// Check probes that the cache root is still writable.
func (s *Store) Check() error {
	tmp, err := os.CreateTemp(s.root, ".healthz-*")
	if err != nil {
		return fmt.Errorf("cache root not writable: %w", err)
	}
	tmp.Close()
	os.Remove(tmp.Name())
	return nil
}

func (s *Store) isInFlight(customerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inFlight[customerID]
	return ok
}

func (s *Store) path(customerID string) string {
	return filepath.Join(s.root, customerID+".json")
}

// read loads the customer's bundle from disk. Absent means nil; expiry is
// the caller's concern.
func (s *Store) read(customerID string) (*models.CacheBundle, error) {
	data, err := os.ReadFile(s.path(customerID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read bundle for %s: %w", customerID, err)
	}

	var bundle models.CacheBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		// A torn file cannot happen through write, but a corrupt one (manual
		// edits, disk trouble) reads as absent rather than poisoning requests.
		slog.Warn("Discarding unreadable cache bundle",
			"customer_id", customerID, "error", err)
		return nil, nil
	}
	return &bundle, nil
}

// write lands the bundle atomically: temp file in the same directory, then
// rename over the final path.
func (s *Store) write(bundle *models.CacheBundle) error {
	tmp, err := os.CreateTemp(s.root, bundle.CustomerID+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp bundle: %w", err)
	}
	defer os.Remove(tmp.Name())

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(bundle); err != nil {
		tmp.Close()
		return fmt.Errorf("encode bundle: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp bundle: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path(bundle.CustomerID)); err != nil {
		return fmt.Errorf("publish bundle: %w", err)
	}
	return nil
}
