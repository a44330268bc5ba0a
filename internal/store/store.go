// Package store provides crash-safe persistence using JSON files.
//
// Three files live in the data directory: ledger.json (daily and
// all-time P&L), trades.json (the active-trade registry), and
// balances.json (the last reconciled venue balances). Writes use atomic
// file replacement (write to .tmp, then rename) to prevent corruption
// from partial writes or crashes mid-save. The engine saves on every
// trade state transition and restores all three on startup.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"crossarb/internal/ledger"
	"crossarb/pkg/types"
)

const (
	ledgerFile   = "ledger.json"
	tradesFile   = "trades.json"
	balancesFile = "balances.json"
)

// Store persists bot state to JSON files in a designated directory.
// All operations are mutex-protected to prevent concurrent file corruption.
type Store struct {
	dir string
	mu  sync.Mutex // serializes all file operations
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

// SaveLedger atomically persists the ledger snapshot.
func (s *Store) SaveLedger(state ledger.State) error {
	return s.save(ledgerFile, state)
}

// LoadLedger restores the ledger snapshot from disk. Returns nil, nil
// when no snapshot exists (first run).
func (s *Store) LoadLedger() (*ledger.State, error) {
	var state ledger.State
	ok, err := s.load(ledgerFile, &state)
	if err != nil || !ok {
		return nil, err
	}
	return &state, nil
}

// SaveTrades atomically persists the active-trade registry.
func (s *Store) SaveTrades(trades []types.ActiveTrade) error {
	if trades == nil {
		trades = []types.ActiveTrade{}
	}
	return s.save(tradesFile, trades)
}

// LoadTrades restores the active-trade registry. Trades found here on
// startup were live when the previous process died; they are surfaced
// for operator review, never resumed automatically.
func (s *Store) LoadTrades() ([]types.ActiveTrade, error) {
	var trades []types.ActiveTrade
	if _, err := s.load(tradesFile, &trades); err != nil {
		return nil, err
	}
	return trades, nil
}

// SaveBalances atomically persists the venue balance snapshot.
func (s *Store) SaveBalances(balances map[string]types.Balance) error {
	return s.save(balancesFile, balances)
}

// LoadBalances restores the venue balance snapshot, or nil when absent.
func (s *Store) LoadBalances() (map[string]types.Balance, error) {
	var balances map[string]types.Balance
	if _, err := s.load(balancesFile, &balances); err != nil {
		return nil, err
	}
	return balances, nil
}

// save writes to a .tmp file first, then renames over the target so the
// file is never left in a partial state (crash-safe).
func (s *Store) save(name string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}

	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return os.Rename(tmp, path)
}

// load reads name into v, reporting whether the file existed.
func (s *Store) load(name string, v any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", name, err)
	}
	return true, nil
}
