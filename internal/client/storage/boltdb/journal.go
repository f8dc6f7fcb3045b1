package boltdb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/collabsync/internal/client/storage"
	"github.com/iudanet/collabsync/internal/models"
)

// Проверка соответствия интерфейсу на этапе компиляции
var _ storage.StepJournal = (*Storage)(nil)

// AppendStep добавляет шаг в журнал документа.
// Ключом служит монотонная последовательность bucket, поэтому порядок
// добавления сохраняется при итерации.
func (s *Storage) AppendStep(ctx context.Context, contentID string, step *models.Step) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	data, err := json.Marshal(step)
	if err != nil {
		return fmt.Errorf("failed to marshal step: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketJournal)
		bucket, err := root.CreateBucketIfNotExists([]byte(contentID))
		if err != nil {
			return fmt.Errorf("failed to create content bucket: %w", err)
		}

		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}

		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)

		if err := bucket.Put(key, data); err != nil {
			return fmt.Errorf("failed to save step: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("transaction failed: %w", err)
	}

	return nil
}

// Steps возвращает все неподтвержденные шаги документа в порядке добавления
func (s *Storage) Steps(ctx context.Context, contentID string) ([]*models.Step, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var steps []*models.Step

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketJournal).Bucket([]byte(contentID))
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			step := &models.Step{}
			if err := json.Unmarshal(v, step); err != nil {
				return fmt.Errorf("failed to unmarshal step: %w", err)
			}
			steps = append(steps, step)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}

	return steps, nil
}

// ConfirmThrough удаляет шаги, вошедшие в снимок версии version,
// то есть с origin-версией строго меньше version
func (s *Storage) ConfirmThrough(ctx context.Context, contentID string, version uint64) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketJournal).Bucket([]byte(contentID))
		if bucket == nil {
			return nil
		}

		c := bucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			step := &models.Step{}
			if err := json.Unmarshal(v, step); err != nil {
				return fmt.Errorf("failed to unmarshal step: %w", err)
			}
			if step.OriginVersion < version {
				if err := c.Delete(); err != nil {
					return fmt.Errorf("failed to delete step: %w", err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("transaction failed: %w", err)
	}

	return nil
}

// Clear удаляет все шаги документа
func (s *Storage) Clear(ctx context.Context, contentID string) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketJournal)
		if root.Bucket([]byte(contentID)) == nil {
			return nil
		}
		return root.DeleteBucket([]byte(contentID))
	})
	if err != nil {
		return fmt.Errorf("transaction failed: %w", err)
	}

	return nil
}
