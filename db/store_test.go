package db_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/letsencrypt/pebble-pki/db"
	"github.com/letsencrypt/pebble-pki/db/dbtest"
)

type testMemoryStore struct {
	*db.MemoryStore
}

func (s *testMemoryStore) Prepare(t *testing.T) {
	s.MemoryStore = db.NewMemoryStore()
}

func TestMemoryStore(t *testing.T) {
	dbtest.Run(t, &testMemoryStore{})
}

type testBoltStore struct {
	*db.BoltStore
}

func (s *testBoltStore) Prepare(t *testing.T) {
	b, err := db.NewBoltStore(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	s.BoltStore = b
}

func TestBoltStore(t *testing.T) {
	dbtest.Run(t, &testBoltStore{})
}

func TestBoltStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	b, err := db.NewBoltStore(path, nil)
	require.NoError(t, err)
	first, err := b.NextSerial()
	require.NoError(t, err)
	require.NoError(t, b.Close())

	b, err = db.NewBoltStore(path, nil)
	require.NoError(t, err)
	defer b.Close()
	second, err := b.NextSerial()
	require.NoError(t, err)
	require.Equal(t, 1, second.Cmp(first))
}
