package boltstate

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"penserai/acteon/pkg/state"
)

var bucketName = []byte("state")

type record struct {
	Value     string `json:"v"`
	ExpiresAt int64  `json:"exp,omitempty"` // unix nanos, 0 means no expiry
}

func (r record) live(now time.Time) bool {
	return r.ExpiresAt == 0 || now.UnixNano() < r.ExpiresAt
}

// Store is a bbolt-backed state.Store.
type Store struct {
	db  *bolt.DB
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock injects a time source, used by tests to control expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens (or creates) the database at path.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, &state.CoordinationError{Op: "open", Key: path, Err: err}
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, &state.CoordinationError{Op: "init", Key: path, Err: err}
	}

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) expiry(ttl time.Duration, now time.Time) int64 {
	if ttl <= 0 {
		return 0
	}
	return now.Add(ttl).UnixNano()
}

// readLive fetches the live record for k inside tx, deleting an expired
// one when tx is writable.
func (s *Store) readLive(tx *bolt.Tx, k []byte, now time.Time) (record, bool, error) {
	b := tx.Bucket(bucketName)
	raw := b.Get(k)
	if raw == nil {
		return record{}, false, nil
	}
	var r record
	if err := json.Unmarshal(raw, &r); err != nil {
		return record{}, false, err
	}
	if !r.live(now) {
		if tx.Writable() {
			if err := b.Delete(k); err != nil {
				return record{}, false, err
			}
		}
		return record{}, false, nil
	}
	return r, true, nil
}

func (s *Store) put(tx *bolt.Tx, k []byte, r record) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketName).Put(k, raw)
}

func wrapErr(op string, key state.Key, err error) error {
	if err == nil {
		return nil
	}
	return &state.CoordinationError{Op: op, Key: key.String(), Err: err, Transient: true}
}

// CheckAndSet creates the key only if absent.
func (s *Store) CheckAndSet(ctx context.Context, key state.Key, value string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	now := s.now()
	k := []byte(key.String())
	created := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		_, ok, err := s.readLive(tx, k, now)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		created = true
		return s.put(tx, k, record{Value: value, ExpiresAt: s.expiry(ttl, now)})
	})
	return created, wrapErr("check_and_set", key, err)
}

// Get returns the live value for key.
func (s *Store) Get(ctx context.Context, key state.Key) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	now := s.now()
	var (
		value string
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		r, ok, err := s.readLive(tx, []byte(key.String()), now)
		if err != nil {
			return err
		}
		value, found = r.Value, ok
		return nil
	})
	return value, found, wrapErr("get", key, err)
}

// Set unconditionally writes the value.
func (s *Store) Set(ctx context.Context, key state.Key, value string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := s.now()
	err := s.db.Update(func(tx *bolt.Tx) error {
		return s.put(tx, []byte(key.String()), record{Value: value, ExpiresAt: s.expiry(ttl, now)})
	})
	return wrapErr("set", key, err)
}

// Delete removes the key, reporting whether a live value existed.
func (s *Store) Delete(ctx context.Context, key state.Key) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	now := s.now()
	k := []byte(key.String())
	existed := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		_, ok, err := s.readLive(tx, k, now)
		if err != nil {
			return err
		}
		existed = ok
		return tx.Bucket(bucketName).Delete(k)
	})
	return existed, wrapErr("delete", key, err)
}

// Increment atomically adds delta to the counter at key.
func (s *Store) Increment(ctx context.Context, key state.Key, delta int64, ttl time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	now := s.now()
	k := []byte(key.String())
	var next int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		r, ok, err := s.readLive(tx, k, now)
		if err != nil {
			return err
		}
		if ok {
			current, err := strconv.ParseInt(r.Value, 10, 64)
			if err != nil {
				return err
			}
			next = current + delta
			return s.put(tx, k, record{Value: strconv.FormatInt(next, 10), ExpiresAt: r.ExpiresAt})
		}
		next = delta
		return s.put(tx, k, record{Value: strconv.FormatInt(next, 10), ExpiresAt: s.expiry(ttl, now)})
	})
	return next, wrapErr("increment", key, err)
}

// CompareAndSwap writes newValue only when the current value matches.
func (s *Store) CompareAndSwap(ctx context.Context, key state.Key, expected *string, newValue string, ttl time.Duration) (state.CASResult, error) {
	if err := ctx.Err(); err != nil {
		return state.CASResult{}, err
	}
	now := s.now()
	k := []byte(key.String())
	var res state.CASResult
	err := s.db.Update(func(tx *bolt.Tx) error {
		r, ok, err := s.readLive(tx, k, now)
		if err != nil {
			return err
		}
		switch {
		case expected == nil && ok:
			res = state.CASResult{Exists: true, Current: r.Value}
			return nil
		case expected != nil && !ok:
			res = state.CASResult{}
			return nil
		case expected != nil && r.Value != *expected:
			res = state.CASResult{Exists: true, Current: r.Value}
			return nil
		}
		res = state.CASResult{OK: true, Exists: ok}
		return s.put(tx, k, record{Value: newValue, ExpiresAt: s.expiry(ttl, now)})
	})
	return res, wrapErr("compare_and_swap", key, err)
}

// ScanKeys lists live keys in the scope whose ID starts with prefix.
func (s *Store) ScanKeys(ctx context.Context, namespace, tenant string, kind state.Kind, prefix string) ([]state.Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := s.now()
	scope := []byte(state.Prefix(namespace, tenant, kind))
	var keys []state.Key
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketName).Cursor()
		for k, v := c.Seek(scope); k != nil && bytes.HasPrefix(k, scope); k, v = c.Next() {
			var r record
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if !r.live(now) {
				continue
			}
			parsed, err := state.ParseKey(string(k))
			if err != nil {
				continue
			}
			if prefix != "" && !strings.HasPrefix(parsed.ID, prefix) {
				continue
			}
			keys = append(keys, parsed)
		}
		return nil
	})
	if err != nil {
		return nil, &state.CoordinationError{Op: "scan_keys", Key: string(scope), Err: err, Transient: true}
	}
	return keys, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
