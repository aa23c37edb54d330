// internal/metastore/bolt.go
package metastore

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

var transfersBucket = []byte("transfers")

// BoltStore реализация MetaStore на основе BoltDB
type BoltStore struct {
	db  *bolt.DB
	now func() time.Time
}

// NewBoltStore создает новый журнал передач на основе BoltDB
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(transfersBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, now: time.Now}, nil
}

// InitTransfer создает запись о новой передаче
func (bs *BoltStore) InitTransfer(rec TransferRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("empty transfer id")
	}

	return bs.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(transfersBucket)
		if b.Get([]byte(rec.ID)) != nil {
			return fmt.Errorf("transfer already exists: %s", rec.ID)
		}

		now := bs.now().UTC()
		rec.CreatedAt = now
		rec.UpdatedAt = now
		return put(b, &rec)
	})
}

// SetModel сохраняет дайджест и план передачи
func (bs *BoltStore) SetModel(id, modelID, digest string, chunkSize int64, totalChunks int) error {
	return bs.modify(id, func(rec *TransferRecord) {
		rec.ModelID = modelID
		rec.Digest = digest
		rec.ChunkSize = chunkSize
		rec.TotalChunks = totalChunks
		rec.Status = StatusInProgress
	})
}

// SaveProgress обновляет количество подтвержденных чанков
func (bs *BoltStore) SaveProgress(id string, acked int) error {
	return bs.modify(id, func(rec *TransferRecord) {
		if acked > rec.Acked {
			rec.Acked = acked
		}
	})
}

// MarkComplete помечает передачу как завершенную
func (bs *BoltStore) MarkComplete(id string) error {
	return bs.modify(id, func(rec *TransferRecord) {
		rec.Status = StatusCompleted
		rec.Acked = rec.TotalChunks
		rec.Error = ""
	})
}

// MarkFailed помечает передачу как неудачную
func (bs *BoltStore) MarkFailed(id string, reason string) error {
	return bs.modify(id, func(rec *TransferRecord) {
		rec.Status = StatusFailed
		rec.Error = reason
	})
}

// GetTransfer возвращает запись о передаче
func (bs *BoltStore) GetTransfer(id string) (*TransferRecord, error) {
	var rec TransferRecord

	err := bs.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(transfersBucket).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}

	return &rec, nil
}

// ListTransfers возвращает все записи, новые первыми
func (bs *BoltStore) ListTransfers() ([]TransferRecord, error) {
	records := make([]TransferRecord, 0)

	err := bs.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(transfersBucket).ForEach(func(_, v []byte) error {
			var rec TransferRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			records = append(records, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

// Close закрывает хранилище
func (bs *BoltStore) Close() error {
	return bs.db.Close()
}

// modify читает запись, применяет fn и сохраняет ее в одной транзакции
func (bs *BoltStore) modify(id string, fn func(rec *TransferRecord)) error {
	return bs.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(transfersBucket)

		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}

		var rec TransferRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}

		fn(&rec)
		rec.UpdatedAt = bs.now().UTC()
		return put(b, &rec)
	})
}

func put(b *bolt.Bucket, rec *TransferRecord) error {
	encoded, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return b.Put([]byte(rec.ID), encoded)
}
