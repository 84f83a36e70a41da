package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// DirectoryEntry maps one email to its banking customer identity.
type DirectoryEntry struct {
	CustomerID  string `json:"customer_id"`
	DisplayName string `json:"display_name"`
}

// Directory is the static email → customer mapping loaded from
// customers.json. Read-only from the orchestrator's perspective; Reload
// re-reads the file (e.g. on SIGHUP) but nothing in the core mutates it.
type Directory struct {
	path string

	mu      sync.RWMutex
	byEmail map[string]DirectoryEntry
}

// LoadDirectory reads and parses the customer directory file.
func LoadDirectory(path string) (*Directory, error) {
	d := &Directory{path: path}
	if err := d.Reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// Reload re-reads the directory file, replacing the mapping atomically.
func (d *Directory) Reload() error {
	data, err := os.ReadFile(d.path)
	if err != nil {
		return fmt.Errorf("read customer directory %s: %w", d.path, err)
	}

	var byEmail map[string]DirectoryEntry
	if err := json.Unmarshal(data, &byEmail); err != nil {
		return fmt.Errorf("parse customer directory %s: %w", d.path, err)
	}

	d.mu.Lock()
	d.byEmail = byEmail
	d.mu.Unlock()
	return nil
}

// Lookup returns the entry for an email, if present.
func (d *Directory) Lookup(email string) (DirectoryEntry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.byEmail[email]
	return e, ok
}

// Len returns the number of directory entries.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byEmail)
}
