// Package store is the pebble-backed persistence boundary: namespaced items
// plus an append-only audit log.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"pipeserve/pkg/logger"
)

var (
	ErrNotFound = errors.New("not found")
	ErrClosed   = errors.New("store closed")
	ErrBadKey   = errors.New("invalid key")
)

const (
	itemPrefix  = "item:"
	auditPrefix = "audit:"
	// auditUpper sorts after every audit key.
	auditUpper = "audit;"
)

type DB struct {
	mu     sync.RWMutex
	db     *pebble.DB
	closed bool
	sync   bool
	seq    atomic.Uint64
}

// Item is one stored value.
type Item struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// AuditRecord is one entry of the audit log.
type AuditRecord struct {
	Seq       uint64    `json:"seq"`
	Kind      string    `json:"kind"`
	Key       string    `json:"key,omitempty"`
	Principal string    `json:"principal,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// Open opens (or creates) a pebble database at path.
func Open(path string) (*DB, error) {
	logger.Info("opening_pebble_db", "path", path)
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	d := &DB{db: db, sync: true}
	if err := d.loadAuditSeq(); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("pebble_opened", "path", path, "audit_seq", d.seq.Load())
	return d, nil
}

// loadAuditSeq continues the audit sequence from the newest stored record.
func (d *DB) loadAuditSeq() error {
	iter, err := d.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(auditPrefix),
		UpperBound: []byte(auditUpper),
	})
	if err != nil {
		return fmt.Errorf("create iterator: %w", err)
	}
	defer iter.Close()
	for iter.Last(); iter.Valid(); iter.Prev() {
		var rec AuditRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			logger.Warn("audit_record_corrupt", "key", string(iter.Key()), "error", err)
			continue
		}
		d.seq.Store(rec.Seq)
		break
	}
	return iter.Error()
}

// OpenInMemory opens a database on an in-memory filesystem.
func OpenInMemory() (*DB, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, err
	}
	return &DB{db: db}, nil
}

func (d *DB) writeOpts() *pebble.WriteOptions {
	if d.sync {
		return pebble.Sync
	}
	return pebble.NoSync
}

// Ready reports whether the store is open.
func (d *DB) Ready() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return !d.closed
}

func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if err := d.db.Close(); err != nil {
		return err
	}
	logger.Info("pebble_closed")
	return nil
}

func itemKey(ns, key string) ([]byte, error) {
	if ns == "" || key == "" || strings.Contains(ns, ":") {
		return nil, ErrBadKey
	}
	return []byte(itemPrefix + ns + ":" + key), nil
}

// Put stores value under key in namespace ns.
func (d *DB) Put(ns, key string, value []byte) error {
	k, err := itemKey(ns, key)
	if err != nil {
		return err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	return d.db.Set(k, value, d.writeOpts())
}

// Get returns a copy of the value under key in namespace ns.
func (d *DB) Get(ns, key string) ([]byte, error) {
	k, err := itemKey(ns, key)
	if err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, ErrClosed
	}
	v, closer, err := d.db.Get(k)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Delete removes key from namespace ns. Missing keys report ErrNotFound.
func (d *DB) Delete(ns, key string) error {
	if _, err := d.Get(ns, key); err != nil {
		return err
	}
	k, _ := itemKey(ns, key)
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	return d.db.Delete(k, d.writeOpts())
}

// List returns up to limit items of namespace ns in key order. A limit of
// zero or less means no limit.
func (d *DB) List(ns string, limit int) ([]Item, error) {
	if ns == "" || strings.Contains(ns, ":") {
		return nil, ErrBadKey
	}
	prefix := itemPrefix + ns + ":"
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, ErrClosed
	}
	iter, err := d.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: []byte(itemPrefix + ns + ";"),
	})
	if err != nil {
		return nil, fmt.Errorf("create iterator: %w", err)
	}
	defer iter.Close()

	var out []Item
	for iter.First(); iter.Valid(); iter.Next() {
		v := iter.Value()
		val := make([]byte, len(v))
		copy(val, v)
		out = append(out, Item{Key: strings.TrimPrefix(string(iter.Key()), prefix), Value: val})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, iter.Error()
}

// AppendAudit writes rec under a time ordered key and returns its sequence.
func (d *DB) AppendAudit(rec AuditRecord) (uint64, error) {
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}
	rec.Seq = d.seq.Add(1)
	data, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("marshal audit record: %w", err)
	}
	key := fmt.Sprintf("%s%020d-%06d", auditPrefix, rec.At.UnixNano(), rec.Seq%1_000_000)

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return 0, ErrClosed
	}
	if err := d.db.Set([]byte(key), data, d.writeOpts()); err != nil {
		return 0, err
	}
	return rec.Seq, nil
}

// ListAudit returns up to limit audit records, newest first.
func (d *DB) ListAudit(limit int) ([]AuditRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, ErrClosed
	}
	iter, err := d.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(auditPrefix),
		UpperBound: []byte(auditUpper),
	})
	if err != nil {
		return nil, fmt.Errorf("create iterator: %w", err)
	}
	defer iter.Close()

	var out []AuditRecord
	for iter.Last(); iter.Valid(); iter.Prev() {
		var rec AuditRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			logger.Warn("audit_record_corrupt", "key", string(iter.Key()), "error", err)
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, iter.Error()
}
