package memory

import (
	"context"
	"errors"
	"sync"

	interfaces "github.com/sheikh-saqib/reentrancy-ledger-lab/internal/interfaces"
	"github.com/sheikh-saqib/reentrancy-ledger-lab/internal/models"
)

// MemoryLedgerStore is an in-memory implementation of interfaces.LedgerStore.
// It is safe for concurrent use.
type MemoryLedgerStore struct {
	mu        sync.Mutex
	entries   []models.LedgerEntry
	transfers []models.Transfer
	seen      map[string]struct{} // transfer ids already journaled
}

// NewMemoryLedgerStore creates and returns a new MemoryLedgerStore instance
func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{
		entries:   make([]models.LedgerEntry, 0),
		transfers: make([]models.Transfer, 0),
		seen:      make(map[string]struct{}),
	}
}

// SaveTransfer appends the transfer and both of its entries. A transfer id
// can only be journaled once.
func (m *MemoryLedgerStore) SaveTransfer(ctx context.Context, transfer models.Transfer, debit, credit models.LedgerEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.seen[transfer.ID]; exists {
		return errors.New("transfer already journaled")
	}
	m.seen[transfer.ID] = struct{}{}

	m.transfers = append(m.transfers, transfer)
	m.entries = append(m.entries, debit, credit)
	return nil
}

// GetLedgerEntries returns a copy of all ledger entries stored in memory.
func (m *MemoryLedgerStore) GetLedgerEntries() ([]models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := make([]models.LedgerEntry, len(m.entries))
	copy(copied, m.entries)
	return copied, nil
}

func (m *MemoryLedgerStore) GetEntriesByAccount(accountId models.Identity) ([]models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []models.LedgerEntry
	for _, e := range m.entries {
		if e.AccountID == accountId {
			result = append(result, e)
		}
	}
	return result, nil
}

// GetTransfers returns the transfers in the order they were journaled.
func (m *MemoryLedgerStore) GetTransfers() ([]models.Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := make([]models.Transfer, len(m.transfers))
	copy(copied, m.transfers)
	return copied, nil
}

// Compile-time check: ensure MemoryLedgerStore implements LedgerStore interface
var _ interfaces.LedgerStore = (*MemoryLedgerStore)(nil)
