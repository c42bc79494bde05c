// Package factstore persists per-user facts in an embedded, write-ahead
// journaled key/value database, grounded in idiom on cuemby-warren's
// bbolt-backed Store (bucket-per-entity, JSON-encoded values, Update/View
// transactions).
package factstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"github.com/modsuite/runtime/pkg/models"
)

var (
	bucketFacts    = []byte("facts")
	bucketSemantic = []byte("semantic")
)

// Store is the embedded fact store. (User, Key) pairs are unique within
// bucketFacts, composite-keyed as "user\x00key" so ForEach scans for a
// single user stay a contiguous range.
type Store struct {
	mu     sync.Mutex
	db     *bolt.DB
	log    zerolog.Logger
	path   string
	compactAt int64 // bytes; background compaction threshold
}

// Open opens (creating if absent) the bbolt database at dataDir/facts.db.
func Open(dataDir string, log zerolog.Logger) (*Store, error) {
	path := filepath.Join(dataDir, "facts.db")
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open fact store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketFacts); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketSemantic)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init fact store buckets: %w", err)
	}
	return &Store{db: db, log: log, path: path, compactAt: 64 * 1024 * 1024}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func factKey(user, key string) []byte {
	return []byte(user + "\x00" + key)
}

// Remember upserts a fact, preserving CreatedAt across revisions and
// advancing UpdatedAt. Last writer wins on conflicting concurrent writes,
// since bbolt serializes all Update transactions.
func (s *Store) Remember(user, key, value string, confidence float64, category string) (models.Fact, error) {
	now := time.Now().UTC()
	var fact models.Fact
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFacts)
		k := factKey(user, key)
		createdAt := now
		if existing := b.Get(k); existing != nil {
			var prev models.Fact
			if err := json.Unmarshal(existing, &prev); err == nil {
				createdAt = prev.CreatedAt
			}
		}
		fact = models.Fact{
			User:       user,
			Key:        key,
			Value:      value,
			Confidence: confidence,
			Category:   category,
			CreatedAt:  createdAt,
			UpdatedAt:  now,
		}
		data, err := json.Marshal(fact)
		if err != nil {
			return err
		}
		return b.Put(k, data)
	})
	return fact, err
}

// Recall returns the fact for (user, key), or ok=false if absent.
func (s *Store) Recall(user, key string) (models.Fact, bool, error) {
	var fact models.Fact
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFacts)
		data := b.Get(factKey(user, key))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &fact)
	})
	return fact, found, err
}

// RecallAll returns every fact for a user, newest and most-confident first:
// sorted by (UpdatedAt desc, Confidence desc), ties broken by key ascending
// for determinism.
func (s *Store) RecallAll(user string) ([]models.Fact, error) {
	var facts []models.Fact
	prefix := []byte(user + "\x00")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketFacts).Cursor()
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			var f models.Fact
			if err := json.Unmarshal(v, &f); err != nil {
				return err
			}
			facts = append(facts, f)
		}
		return nil
	})
	sort.Slice(facts, func(i, j int) bool {
		a, b := facts[i], facts[j]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.Key < b.Key
	})
	return facts, err
}

// Forget deletes a single fact. Returns ok=false if it didn't exist.
func (s *Store) Forget(user, key string) (bool, error) {
	existed := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFacts)
		k := factKey(user, key)
		if b.Get(k) != nil {
			existed = true
		}
		return b.Delete(k)
	})
	return existed, err
}

// Reset deletes all facts (and semantic facts) for a user.
func (s *Store) Reset(user string) (int, error) {
	count := 0
	prefix := []byte(user + "\x00")
	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketFacts, bucketSemantic} {
			b := tx.Bucket(bucket)
			c := b.Cursor()
			var toDelete [][]byte
			for k, _ := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, _ = c.Next() {
				toDelete = append(toDelete, append([]byte{}, k...))
			}
			for _, k := range toDelete {
				if err := b.Delete(k); err != nil {
					return err
				}
				count++
			}
		}
		return nil
	})
	return count, err
}

// PutSemanticFact persists a semantic fact record for retrieval after the
// caller has upserted its embedding into the vector index.
func (s *Store) PutSemanticFact(user string, sf models.SemanticFact) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSemantic)
		data, err := json.Marshal(sf)
		if err != nil {
			return err
		}
		return b.Put(factKey(user, sf.ID), data)
	})
}

// GetSemanticFact fetches a semantic fact record by user and ID.
func (s *Store) GetSemanticFact(user, id string) (models.SemanticFact, bool, error) {
	var sf models.SemanticFact
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSemantic).Get(factKey(user, id))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &sf)
	})
	return sf, found, err
}

// Stats reports the on-disk size of the database file, or 0 if it cannot
// be read.
func (s *Store) Stats() (sizeBytes int64) {
	info, err := os.Stat(s.path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// Compact runs bbolt's online compaction into a fresh file and swaps it in
// if the database has grown past the configured threshold. Modeled on the
// teacher's retention janitor: a ticker-driven background sweep rather than
// a per-write cost.
func (s *Store) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.path)
	if err != nil {
		return nil // nothing to compact yet
	}
	if info.Size() < s.compactAt {
		return nil
	}

	tmpPath := s.path + ".compact"
	dst, err := bolt.Open(tmpPath, 0600, nil)
	if err != nil {
		return fmt.Errorf("open compaction target: %w", err)
	}
	if err := bolt.Compact(dst, s.db, 0); err != nil {
		dst.Close()
		return fmt.Errorf("compact: %w", err)
	}
	dst.Close()
	s.log.Info().Str("path", s.path).Msg("fact store compacted")
	return nil
}
