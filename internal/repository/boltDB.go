package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/boltdb/bolt"
	"github.com/google/uuid"

	"github.com/NamanBalaji/nativedl/internal/downloader"
)

const downloadsBucket = "downloads"

// ErrDownloadNotFound is returned by Find for IDs with no stored record.
var ErrDownloadNotFound = errors.New("download not found")

// BoltDBRepository stores downloads in a BoltDB file keyed by download ID.
type BoltDBRepository struct {
	db *bolt.DB
}

// NewBoltDBRepository opens (or creates) the database at dbPath.
func NewBoltDBRepository(dbPath string) (*BoltDBRepository, error) {
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(downloadsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create downloads bucket: %w", err)
	}

	return &BoltDBRepository{db: db}, nil
}

// Save persists a download, replacing any previous record with the same ID.
func (r *BoltDBRepository) Save(download *downloader.Download) error {
	data, err := json.Marshal(download)
	if err != nil {
		return fmt.Errorf("failed to marshal download: %w", err)
	}

	return r.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(downloadsBucket))
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", downloadsBucket)
		}
		if err := bucket.Put([]byte(download.ID.String()), data); err != nil {
			return fmt.Errorf("failed to save download: %w", err)
		}
		return nil
	})
}

// Find retrieves a download by ID.
func (r *BoltDBRepository) Find(id uuid.UUID) (*downloader.Download, error) {
	var download downloader.Download

	err := r.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(downloadsBucket))
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", downloadsBucket)
		}

		data := bucket.Get([]byte(id.String()))
		if data == nil {
			return ErrDownloadNotFound
		}
		return json.Unmarshal(data, &download)
	})
	if err != nil {
		return nil, err
	}

	return &download, nil
}

// FindAll retrieves every stored download, oldest first.
func (r *BoltDBRepository) FindAll() ([]*downloader.Download, error) {
	var downloads []*downloader.Download

	err := r.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(downloadsBucket))
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", downloadsBucket)
		}

		return bucket.ForEach(func(k, v []byte) error {
			download := &downloader.Download{}
			if err := json.Unmarshal(v, download); err != nil {
				return fmt.Errorf("failed to unmarshal download %s: %w", k, err)
			}
			downloads = append(downloads, download)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(downloads, func(i, j int) bool {
		return downloads[i].CreatedAt.Before(downloads[j].CreatedAt)
	})

	return downloads, nil
}

// Delete removes a download. Deleting a missing ID is not an error.
func (r *BoltDBRepository) Delete(id uuid.UUID) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(downloadsBucket))
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", downloadsBucket)
		}
		return bucket.Delete([]byte(id.String()))
	})
}

// Close closes the database.
func (r *BoltDBRepository) Close() error {
	return r.db.Close()
}
