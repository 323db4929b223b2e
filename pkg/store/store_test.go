package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMem(t *testing.T) *DB {
	t.Helper()
	db, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestPutGetDelete(t *testing.T) {
	db := openMem(t)
	require.NoError(t, db.Put("alice", "k1", []byte("v1")))

	v, err := db.Get("alice", "k1")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(v))

	_, err = db.Get("bob", "k1")
	assert.True(t, errors.Is(err, ErrNotFound), "namespaces must be isolated")

	require.NoError(t, db.Delete("alice", "k1"))
	_, err = db.Get("alice", "k1")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(db.Delete("alice", "k1"), ErrNotFound))
}

func TestBadKeys(t *testing.T) {
	db := openMem(t)
	assert.True(t, errors.Is(db.Put("", "k", nil), ErrBadKey))
	assert.True(t, errors.Is(db.Put("a:b", "k", nil), ErrBadKey))
	assert.True(t, errors.Is(db.Put("a", "", nil), ErrBadKey))
}

func TestListNamespace(t *testing.T) {
	db := openMem(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, db.Put("ns", fmt.Sprintf("k%d", i), []byte{byte(i)}))
	}
	require.NoError(t, db.Put("nsx", "other", []byte("x")))
	require.NoError(t, db.Put("other", "k0", []byte("x")))

	items, err := db.List("ns", 0)
	require.NoError(t, err)
	require.Len(t, items, 5)
	assert.Equal(t, "k0", items[0].Key)
	assert.Equal(t, "k4", items[4].Key)

	items, err = db.List("ns", 2)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestAuditNewestFirst(t *testing.T) {
	db := openMem(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := db.AppendAudit(AuditRecord{Kind: "item_put", Key: fmt.Sprintf("k%d", i), At: base.Add(time.Duration(i) * time.Second)})
		require.NoError(t, err)
	}
	recs, err := db.ListAudit(0)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "k2", recs[0].Key)
	assert.Equal(t, "k0", recs[2].Key)

	recs, err = db.ListAudit(1)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestClosed(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	assert.True(t, db.Ready())
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())
	assert.False(t, db.Ready())
	assert.True(t, errors.Is(db.Put("a", "b", nil), ErrClosed))
	_, err = db.AppendAudit(AuditRecord{Kind: "x"})
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestOpenOnDisk(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	db, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, db.Put("ns", "k", []byte("v")))
	require.NoError(t, db.Close())

	db, err = Open(dir)
	require.NoError(t, err)
	defer db.Close()
	v, err := db.Get("ns", "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(v))
}

func TestAuditSeqSurvivesReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	db, err := Open(dir)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := db.AppendAudit(AuditRecord{Kind: "item_put", Key: fmt.Sprintf("k%d", i)})
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	db, err = Open(dir)
	require.NoError(t, err)
	defer db.Close()
	seq, err := db.AppendAudit(AuditRecord{Kind: "item_put", Key: "after"})
	require.NoError(t, err)
	assert.Equal(t, uint64(4), seq)

	recs, err := db.ListAudit(0)
	require.NoError(t, err)
	require.Len(t, recs, 4)
	seen := map[uint64]bool{}
	for _, r := range recs {
		assert.False(t, seen[r.Seq], "duplicate seq %d", r.Seq)
		seen[r.Seq] = true
	}
	assert.Equal(t, "after", recs[0].Key)
}
