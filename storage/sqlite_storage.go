package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"identity-ledger/models"

	_ "modernc.org/sqlite"
)

const maxBusyTimeoutMs = 5000

const schema = `
CREATE TABLE IF NOT EXISTS blocks (
	idx        INTEGER PRIMARY KEY,
	hash       TEXT NOT NULL UNIQUE,
	prev_hash  TEXT NOT NULL,
	timestamp  INTEGER NOT NULL,
	data       BLOB NOT NULL
);`

// SQLiteStore keeps one row per block, keyed by index.
type SQLiteStore struct {
	mu   sync.Mutex
	db   *sql.DB
	file string
}

func NewSQLiteStore(filePath string) (*SQLiteStore, error) {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("resolve db path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s", filepath.Clean(absPath)))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d", maxBusyTimeoutMs)); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db, file: absPath}, nil
}

func (s *SQLiteStore) SaveBlock(block models.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		tipIdx  int64
		tipHash string
	)
	err := s.db.QueryRow(`SELECT idx, hash FROM blocks ORDER BY idx DESC LIMIT 1`).Scan(&tipIdx, &tipHash)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return fmt.Errorf("read chain tip: %w", err)
	case block.Index != uint64(tipIdx)+1 || string(block.PreviousHash) != tipHash:
		return fmt.Errorf("block %d does not extend stored tip %d", block.Index, tipIdx)
	}

	return insertBlock(s.db, block)
}

func (s *SQLiteStore) SaveChain(blocks []models.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM blocks`); err != nil {
		return fmt.Errorf("clear blocks: %w", err)
	}
	for _, b := range blocks {
		if err := insertBlock(tx, b); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit chain: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadChain() ([]models.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT data FROM blocks ORDER BY idx ASC`)
	if err != nil {
		return nil, fmt.Errorf("query blocks: %w", err)
	}
	defer rows.Close()

	blocks := make([]models.Block, 0)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		var b models.Block
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, fmt.Errorf("decode block: %w", err)
		}
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func insertBlock(db execer, b models.Block) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode block %d: %w", b.Index, err)
	}
	_, err = db.Exec(
		`INSERT OR IGNORE INTO blocks (idx, hash, prev_hash, timestamp, data) VALUES (?, ?, ?, ?, ?)`,
		int64(b.Index), string(b.Hash), string(b.PreviousHash), b.Timestamp, data,
	)
	if err != nil {
		return fmt.Errorf("insert block %d: %w", b.Index, err)
	}
	return nil
}
