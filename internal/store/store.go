// Package store provides crash-safe inventory persistence using JSON files.
//
// Each market's inventory is stored as a separate file: pos_<slug>.json.
// Writes use atomic file replacement (write to .tmp, then rename) to prevent
// corruption from partial writes or crashes mid-save. The engine calls
// SaveInventory after fills and on shutdown, and LoadInventory when a market
// enters the active set, so a restart mid-cycle does not forget a one-legged
// position.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"updown-mm/internal/inventory"
)

// Store persists per-market inventory to JSON files in a directory.
// All operations are mutex-protected to prevent concurrent file corruption.
type Store struct {
	dir string
	mu  sync.Mutex
}

// Open creates a store backed by the given directory.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Close is a no-op for file-based storage.
func (s *Store) Close() error {
	return nil
}

func (s *Store) path(slug string) string {
	return filepath.Join(s.dir, "pos_"+slug+".json")
}

// SaveInventory atomically persists one market's inventory.
// It writes to a .tmp file first, then renames over the target so the file
// is never left in a partial state.
func (s *Store) SaveInventory(slug string, inv inventory.MarketInventory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("marshal inventory: %w", err)
	}

	path := s.path(slug)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write inventory: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadInventory restores one market's inventory from disk.
// Returns nil, nil if no saved inventory exists.
func (s *Store) LoadInventory(slug string) (*inventory.MarketInventory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(slug))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read inventory: %w", err)
	}

	var inv inventory.MarketInventory
	if err := json.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("unmarshal inventory: %w", err)
	}
	return &inv, nil
}

// Delete removes a market's saved inventory, typically after expiry.
func (s *Store) Delete(slug string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(slug))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Slugs lists the markets with saved inventory.
func (s *Store) Slugs() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list store dir: %w", err)
	}

	var out []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "pos_") && strings.HasSuffix(name, ".json") {
			out = append(out, strings.TrimSuffix(strings.TrimPrefix(name, "pos_"), ".json"))
		}
	}
	return out, nil
}
