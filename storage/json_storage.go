package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"identity-ledger/models"
)

const chainFileName = "ledger_chain.json"

// chainFile is the on-disk layout of the JSON store.
type chainFile struct {
	Blocks []models.Block `json:"blocks"`
}

// JSONStore keeps the chain in memory and rewrites a single JSON file on every
// change.
type JSONStore struct {
	basePath string
	mu       sync.RWMutex
	chain    chainFile
}

func NewJSONStore(basePath string) (*JSONStore, error) {
	if basePath == "" {
		basePath = "data"
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	store := &JSONStore{basePath: basePath}
	chain, err := store.loadChainFromFile()
	if err != nil {
		return nil, fmt.Errorf("failed to load chain: %w", err)
	}
	store.chain = *chain
	return store, nil
}

func (s *JSONStore) path() string {
	return filepath.Join(s.basePath, chainFileName)
}

func (s *JSONStore) SaveBlock(block models.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := checkAppend(s.chain.Blocks, block); err != nil {
		return err
	}
	next := chainFile{Blocks: append(cloneBlocks(s.chain.Blocks), block.Clone())}
	if err := s.saveChainToFile(&next); err != nil {
		return err
	}
	s.chain = next
	return nil
}

func (s *JSONStore) SaveChain(blocks []models.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := chainFile{Blocks: cloneBlocks(blocks)}
	if err := s.saveChainToFile(&next); err != nil {
		return err
	}
	s.chain = next
	return nil
}

func (s *JSONStore) LoadChain() ([]models.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneBlocks(s.chain.Blocks), nil
}

func (s *JSONStore) Close() error { return nil }

func (s *JSONStore) loadChainFromFile() (*chainFile, error) {
	data, err := os.ReadFile(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return &chainFile{Blocks: make([]models.Block, 0)}, nil
		}
		return nil, err
	}

	var chain chainFile
	if err := json.Unmarshal(data, &chain); err != nil {
		return nil, fmt.Errorf("failed to unmarshal chain: %w", err)
	}
	return &chain, nil
}

func (s *JSONStore) saveChainToFile(chain *chainFile) error {
	path := s.path()

	data, err := json.MarshalIndent(chain, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal chain: %w", err)
	}

	if err := WriteFileAtomic(path, data, 0644); err != nil {
		return fmt.Errorf("failed to save chain file: %w", err)
	}
	return nil
}

// WriteFileAtomic writes data to a temporary file next to path and renames it
// into place, so readers see either the old or the new contents.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, perm); err != nil {
		return err
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return err
	}
	return nil
}
