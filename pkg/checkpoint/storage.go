package checkpoint

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// Compressed blobs under this size live in bbolt; larger ones go to
	// individual files.
	inlineThreshold = 1 << 20

	gzipLevel = 6
)

var blobBucket = []byte("checkpoints")

// ErrBlobNotFound is returned when neither storage tier holds the blob.
var ErrBlobNotFound = fmt.Errorf("checkpoint blob not found")

// BlobStore persists checkpoint blobs across two tiers: a bbolt bucket
// for small blobs and per-task directories for large ones. Blobs are
// gzip-compressed on write and decompressed transparently on read; the
// placement decision uses the compressed size.
type BlobStore struct {
	root string
	db   *bolt.DB
}

// NewBlobStore opens the blob database under root, creating the
// directory and schema as needed.
func NewBlobStore(root string) (*BlobStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint root: %w", err)
	}
	db, err := bolt.Open(filepath.Join(root, "checkpoints.db"), 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open checkpoint db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(blobBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create checkpoint bucket: %w", err)
	}
	return &BlobStore{root: root, db: db}, nil
}

// Close closes the underlying database
func (b *BlobStore) Close() error {
	return b.db.Close()
}

// Store compresses raw and persists it under the task's name slot
// ("base" or "delta_<id>"). It returns the storage ref recorded in the
// task row and the compressed size.
func (b *BlobStore) Store(taskID, name string, checkpointID int, raw []byte) (ref string, compressedSize int, err error) {
	compressed, err := compress(raw)
	if err != nil {
		return "", 0, fmt.Errorf("compress checkpoint %s/%s: %w", taskID, name, err)
	}

	if len(compressed) < inlineThreshold {
		err = b.db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket(blobBucket).Put(blobKey(taskID, name), compressed)
		})
		if err != nil {
			return "", 0, fmt.Errorf("store checkpoint %s/%s: %w", taskID, name, err)
		}
		return fmt.Sprintf("db_%d", checkpointID), len(compressed), nil
	}

	dir := filepath.Join(b.root, taskID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create checkpoint dir for %s: %w", taskID, err)
	}
	fileName := name + ".gz"
	if err := os.WriteFile(filepath.Join(dir, fileName), compressed, 0o644); err != nil {
		return "", 0, fmt.Errorf("write checkpoint %s/%s: %w", taskID, name, err)
	}
	return fmt.Sprintf("fs_%s/%s", taskID, fileName), len(compressed), nil
}

// Retrieve returns the raw (decompressed) blob for the task's name
// slot, probing the database tier first, then the filesystem.
func (b *BlobStore) Retrieve(taskID, name string) ([]byte, error) {
	var compressed []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(blobBucket).Get(blobKey(taskID, name)); v != nil {
			compressed = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read checkpoint %s/%s: %w", taskID, name, err)
	}

	if compressed == nil {
		compressed, err = os.ReadFile(filepath.Join(b.root, taskID, name+".gz"))
		if os.IsNotExist(err) {
			return nil, ErrBlobNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("read checkpoint file %s/%s: %w", taskID, name, err)
		}
	}
	return decompress(compressed)
}

// Delete removes every blob of the task from both tiers
func (b *BlobStore) Delete(taskID string) error {
	prefix := blobKey(taskID, "")
	err := b.db.Update(func(tx *bolt.Tx) error {
		c := tx.Bucket(blobBucket).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			if err := c.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete checkpoints for %s: %w", taskID, err)
	}
	if err := os.RemoveAll(filepath.Join(b.root, taskID)); err != nil {
		return fmt.Errorf("delete checkpoint files for %s: %w", taskID, err)
	}
	return nil
}

// BlobInfo summarizes a task's stored blobs for the API surface
type BlobInfo struct {
	Blobs      int   `json:"blobs"`
	TotalBytes int64 `json:"total_bytes"`
	HasBase    bool  `json:"has_base"`
}

// Info reports how many blobs the task has and their compressed size
// across both tiers.
func (b *BlobStore) Info(taskID string) (BlobInfo, error) {
	var info BlobInfo
	prefix := blobKey(taskID, "")
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(blobBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			info.Blobs++
			info.TotalBytes += int64(len(v))
			if strings.HasSuffix(string(k), "/base") {
				info.HasBase = true
			}
		}
		return nil
	})
	if err != nil {
		return BlobInfo{}, fmt.Errorf("scan checkpoints for %s: %w", taskID, err)
	}

	entries, err := os.ReadDir(filepath.Join(b.root, taskID))
	if os.IsNotExist(err) {
		return info, nil
	}
	if err != nil {
		return BlobInfo{}, fmt.Errorf("scan checkpoint files for %s: %w", taskID, err)
	}
	for _, entry := range entries {
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		info.Blobs++
		info.TotalBytes += fi.Size()
		if entry.Name() == "base.gz" {
			info.HasBase = true
		}
	}
	return info, nil
}

func blobKey(taskID, name string) []byte {
	return []byte(taskID + "/" + name)
}

func compress(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, gzipLevel)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(raw); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(compressed []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("open checkpoint blob: %w", err)
	}
	defer func() { _ = r.Close() }()
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompress checkpoint blob: %w", err)
	}
	return raw, nil
}
