package security

import (
	"fmt"
	"path/filepath"

	"github.com/jameshunt/clockwork/pkg/checksum"

	bolt "go.etcd.io/bbolt"
)

var bucketFileCache = []byte("files")

// FileCache is the master's content-addressed store for file resource
// bodies, keyed by the SHA-1 checksum carried in a FILE frame. An entry is
// written once per distinct checksum and never overwritten: a manifest's
// source tree changing a file's bytes produces a new checksum and a new
// entry, it never mutates an existing one. Fixup(dryrun, env) callers never
// see this cache directly; it sits behind pkg/session's FileStore
// interface.
type FileCache struct {
	db *bolt.DB
}

// OpenFileCache opens (creating if necessary) the cache at
// dataDir/clockwork-filecache.db.
func OpenFileCache(dataDir string) (*FileCache, error) {
	dbPath := filepath.Join(dataDir, "clockwork-filecache.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("security: open file cache: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketFileCache)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("security: init file cache: %w", err)
	}
	return &FileCache{db: db}, nil
}

// Close closes the cache.
func (c *FileCache) Close() error {
	return c.db.Close()
}

// Get returns the content behind sum, if the cache has ever stored it.
// Satisfies pkg/session.FileStore.
func (c *FileCache) Get(sum checksum.Sum) ([]byte, bool, error) {
	var data []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketFileCache).Get([]byte(sum.String()))
		if v == nil {
			return nil
		}
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("security: get cached file %s: %w", sum, err)
	}
	return data, data != nil, nil
}

// Put stores content under its own checksum, computing it directly rather
// than trusting a caller-supplied sum. A second Put of the same bytes is a
// harmless no-op overwrite with identical content.
func (c *FileCache) Put(content []byte) (checksum.Sum, error) {
	sum := checksum.OfBytes(content)
	err := c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFileCache).Put([]byte(sum.String()), content)
	})
	if err != nil {
		return checksum.Sum{}, fmt.Errorf("security: put cached file %s: %w", sum, err)
	}
	return sum, nil
}

// Has reports whether sum is already present, letting a manifest loader
// skip re-reading and re-hashing a source file it has already cached.
func (c *FileCache) Has(sum checksum.Sum) (bool, error) {
	var found bool
	err := c.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketFileCache).Get([]byte(sum.String())) != nil
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("security: check cached file %s: %w", sum, err)
	}
	return found, nil
}
