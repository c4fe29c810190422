package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"identity-ledger/models"
)

const (
	snapshotPattern = "chain_*.json"
	snapshotLayout  = "20060102150405.000"
	DefaultKeep     = 5
)

// SnapshotStore writes point-in-time copies of the chain to timestamped files
// and prunes all but the most recent ones.
type SnapshotStore struct {
	dataDir string
	keep    int
	now     func() time.Time
	mutex   sync.RWMutex
}

type snapshotFile struct {
	path      string
	timestamp time.Time
}

type snapshotFiles []snapshotFile

func (f snapshotFiles) Len() int           { return len(f) }
func (f snapshotFiles) Less(i, j int) bool { return f[i].timestamp.Before(f[j].timestamp) }
func (f snapshotFiles) Swap(i, j int)      { f[i], f[j] = f[j], f[i] }

func NewSnapshotStore(dataDir string, keep int) (*SnapshotStore, error) {
	absPath, err := filepath.Abs(filepath.Join(dataDir, "snapshots"))
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	if keep <= 0 {
		keep = DefaultKeep
	}
	return &SnapshotStore{dataDir: absPath, keep: keep, now: time.Now}, nil
}

// Write stores blocks as a new snapshot and returns its path.
func (s *SnapshotStore) Write(blocks []models.Block) (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if len(blocks) == 0 {
		return "", fmt.Errorf("cannot snapshot empty chain")
	}

	stamp := s.now().UTC().Format(snapshotLayout)
	filename := filepath.Join(s.dataDir, fmt.Sprintf("chain_%s.json", stamp))

	file, err := os.Create(filename)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "    ")
	if err := encoder.Encode(blocks); err != nil {
		return "", fmt.Errorf("failed to encode chain: %w", err)
	}

	if err := s.cleanupOldFiles(); err != nil {
		log.Warn().Err(err).Msg("Failed to cleanup old snapshots")
	}

	log.Info().Int("blocks", len(blocks)).Str("file", filename).Msg("Chain snapshot written")
	return filename, nil
}

// Latest returns the newest snapshot, or nil when none exist.
func (s *SnapshotStore) Latest() ([]models.Block, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	files, err := s.list()
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}
	latest := files[len(files)-1].path

	file, err := os.Open(latest)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", latest, err)
	}
	defer file.Close()

	var chain []models.Block
	if err := json.NewDecoder(file).Decode(&chain); err != nil {
		return nil, fmt.Errorf("failed to decode chain from %s: %w", latest, err)
	}
	return chain, nil
}

// Count returns the number of snapshots on disk.
func (s *SnapshotStore) Count() (int, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	files, err := s.list()
	return len(files), err
}

func (s *SnapshotStore) list() (snapshotFiles, error) {
	matches, err := filepath.Glob(filepath.Join(s.dataDir, snapshotPattern))
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	var files snapshotFiles
	for _, path := range matches {
		base := filepath.Base(path)
		stamp := strings.TrimSuffix(strings.TrimPrefix(base, "chain_"), ".json")
		ts, err := time.Parse(snapshotLayout, stamp)
		if err != nil {
			log.Warn().Str("file", base).Msg("Ignoring snapshot with invalid timestamp")
			continue
		}
		files = append(files, snapshotFile{path: path, timestamp: ts})
	}
	sort.Sort(files)
	return files, nil
}

func (s *SnapshotStore) cleanupOldFiles() error {
	files, err := s.list()
	if err != nil {
		return err
	}
	for i := 0; i < len(files)-s.keep; i++ {
		if err := os.Remove(files[i].path); err != nil {
			return fmt.Errorf("failed to remove %s: %w", files[i].path, err)
		}
	}
	return nil
}
