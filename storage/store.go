// Package storage persists the ledger chain. The ledger itself is storage
// agnostic; these stores only see exported, already validated blocks.
package storage

import (
	"fmt"
	"path/filepath"
	"sync"

	"identity-ledger/models"
)

const (
	DriverJSON   = "json"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// ChainStore persists blocks in chain order.
type ChainStore interface {
	// SaveBlock appends one sealed block.
	SaveBlock(block models.Block) error
	// SaveChain replaces everything stored with blocks.
	SaveChain(blocks []models.Block) error
	// LoadChain returns the stored chain, or an empty slice when nothing has
	// been saved yet.
	LoadChain() ([]models.Block, error)
	Close() error
}

type Options struct {
	Driver     string
	Dir        string
	SQLitePath string
}

func NewChainStore(opts Options) (ChainStore, error) {
	switch opts.Driver {
	case "", DriverJSON:
		return NewJSONStore(opts.Dir)
	case DriverSQLite:
		path := opts.SQLitePath
		if path == "" {
			path = filepath.Join(opts.Dir, "ledger.db")
		}
		return NewSQLiteStore(path)
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
	}
}

type MemoryStore struct {
	mu     sync.RWMutex
	blocks []models.Block
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) SaveBlock(block models.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := checkAppend(m.blocks, block); err != nil {
		return err
	}
	m.blocks = append(m.blocks, block.Clone())
	return nil
}

func (m *MemoryStore) SaveChain(blocks []models.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks = cloneBlocks(blocks)
	return nil
}

func (m *MemoryStore) LoadChain() ([]models.Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneBlocks(m.blocks), nil
}

func (m *MemoryStore) Close() error { return nil }

// checkAppend rejects blocks that do not extend stored at its tip.
func checkAppend(stored []models.Block, block models.Block) error {
	if len(stored) == 0 {
		return nil
	}
	tip := stored[len(stored)-1]
	if block.Index != tip.Index+1 || block.PreviousHash != tip.Hash {
		return fmt.Errorf("block %d does not extend stored tip %d", block.Index, tip.Index)
	}
	return nil
}

func cloneBlocks(blocks []models.Block) []models.Block {
	out := make([]models.Block, len(blocks))
	for i, b := range blocks {
		out[i] = b.Clone()
	}
	return out
}
