package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"identity-ledger/encryption"
	"identity-ledger/models"
)

func sampleChain(t *testing.T, n int) []models.Block {
	t.Helper()
	p := encryption.NewEd25519Provider()
	kp, err := p.GenerateKeyPair()
	require.NoError(t, err)

	chain := []models.Block{*models.NewGenesisBlock(1700000000000, p)}
	for i := 1; i < n; i++ {
		tx := models.Transaction{
			Sender:    "ab",
			Recipient: "bob",
			Amount:    decimal.NewFromInt(int64(i)),
			Timestamp: int64(1700000000000 + i),
		}
		sig, err := p.Sign(kp.PrivateKey, tx.CanonicalMessage())
		require.NoError(t, err)
		tx.Signature = sig
		tx.Status = models.TxConfirmed
		tx.TxHash = tx.ComputeHash(p)
		prev := chain[len(chain)-1]
		chain = append(chain, *models.NewBlock(prev.Index+1, []models.Transaction{tx}, prev.Hash, tx.Timestamp, p))
	}
	return chain
}

var storesUnderTest = map[string]func(t *testing.T, dir string) ChainStore{
	DriverJSON: func(t *testing.T, dir string) ChainStore {
		s, err := NewJSONStore(dir)
		require.NoError(t, err)
		return s
	},
	DriverSQLite: func(t *testing.T, dir string) ChainStore {
		s, err := NewSQLiteStore(filepath.Join(dir, "ledger.db"))
		require.NoError(t, err)
		return s
	},
}

func TestChainStoresPersistAcrossReopen(t *testing.T) {
	for name, open := range storesUnderTest {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			chain := sampleChain(t, 4)

			s := open(t, dir)
			for _, b := range chain {
				require.NoError(t, s.SaveBlock(b))
			}
			require.NoError(t, s.Close())

			reopened := open(t, dir)
			defer reopened.Close()
			loaded, err := reopened.LoadChain()
			require.NoError(t, err)
			require.Len(t, loaded, 4)
			for i := range chain {
				assert.Equal(t, chain[i].Hash, loaded[i].Hash)
				assert.Equal(t, chain[i].Index, loaded[i].Index)
			}
			assert.NoError(t, models.ValidateChain(loaded, encryption.NewEd25519Provider()))
		})
	}
}

func TestChainStoresRejectGaps(t *testing.T) {
	for name, open := range storesUnderTest {
		t.Run(name, func(t *testing.T) {
			s := open(t, t.TempDir())
			defer s.Close()
			chain := sampleChain(t, 3)

			require.NoError(t, s.SaveBlock(chain[0]))
			assert.Error(t, s.SaveBlock(chain[2]))
		})
	}
}

func TestChainStoresSaveChainReplaces(t *testing.T) {
	for name, open := range storesUnderTest {
		t.Run(name, func(t *testing.T) {
			s := open(t, t.TempDir())
			defer s.Close()

			require.NoError(t, s.SaveChain(sampleChain(t, 5)))
			replacement := sampleChain(t, 2)
			require.NoError(t, s.SaveChain(replacement))

			loaded, err := s.LoadChain()
			require.NoError(t, err)
			require.Len(t, loaded, 2)
			assert.Equal(t, replacement[1].Hash, loaded[1].Hash)
		})
	}
}

func TestEmptyStoreLoadsEmptyChain(t *testing.T) {
	s, err := NewChainStore(Options{Driver: DriverJSON, Dir: t.TempDir()})
	require.NoError(t, err)
	loaded, err := s.LoadChain()
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestNewChainStore(t *testing.T) {
	dir := t.TempDir()

	s, err := NewChainStore(Options{Driver: DriverMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = NewChainStore(Options{Driver: DriverSQLite, Dir: dir})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = NewChainStore(Options{Driver: "postgres"})
	assert.Error(t, err)
}

func TestSnapshotStoreKeepsNewest(t *testing.T) {
	snaps, err := NewSnapshotStore(t.TempDir(), 2)
	require.NoError(t, err)
	now := time.Date(2024, 2, 2, 10, 0, 0, 0, time.UTC)
	snaps.now = func() time.Time { return now }

	latest, err := snaps.Latest()
	require.NoError(t, err)
	assert.Nil(t, latest)

	for i := 2; i <= 4; i++ {
		_, err := snaps.Write(sampleChain(t, i))
		require.NoError(t, err)
		now = now.Add(time.Second)
	}

	count, err := snaps.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	latest, err = snaps.Latest()
	require.NoError(t, err)
	assert.Len(t, latest, 4)

	_, err = snaps.Write(nil)
	assert.Error(t, err)
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	require.NoError(t, WriteFileAtomic(path, []byte(`{"v":1}`), 0644))
	require.NoError(t, WriteFileAtomic(path, []byte(`{"v":2}`), 0644))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, string(data))
	assert.NoFileExists(t, path+".tmp")

	// a directory in the way makes the rename fail; nothing is left behind
	blocked := filepath.Join(dir, "blocked")
	require.NoError(t, os.MkdirAll(filepath.Join(blocked, "child"), 0755))
	assert.Error(t, WriteFileAtomic(blocked, []byte("x"), 0644))
	assert.NoFileExists(t, blocked+".tmp")
	assert.DirExists(t, filepath.Join(blocked, "child"))
}
