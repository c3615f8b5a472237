package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/tarwood/hearth/internal/models"
	bolt "go.etcd.io/bbolt"
)

// ErrThreadNotFound is returned when an operation references an unknown thread id.
var ErrThreadNotFound = errors.New("thread not found")

// BoltDB implements the checkpoint store using a BoltDB backend for persistent storage of
// threads and messages. Threads live in one bucket keyed by id; every thread owns a message
// bucket whose keys are zero-padded sequence numbers, so iteration order is insertion order.
type BoltDB struct {
	db *bolt.DB
}

// NewBoltDB creates a new BoltDB instance with the specified file path. The database file is
// created with 0600 permissions if it doesn't exist.
func NewBoltDB(path string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte("threads"))
		return err
	})

	return BoltDB{db: db}, err
}

// Close releases the underlying database file.
func (b BoltDB) Close() error {
	return b.db.Close()
}

func messageBucketName(threadID string) []byte {
	return []byte(fmt.Sprintf("thread-%s", threadID))
}

func messageKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%020d", seq))
}

// Chats retrieves all stored threads, newest first.
func (b BoltDB) Chats(context.Context) ([]models.Chat, error) {
	var chats []models.Chat
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte("threads"))
		if bkt == nil {
			return nil
		}

		return bkt.ForEach(func(_, v []byte) error {
			var chat models.Chat
			if err := json.Unmarshal(v, &chat); err != nil {
				return fmt.Errorf("failed to unmarshal thread: %w", err)
			}
			chats = append(chats, chat)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(chats, func(a, c models.Chat) int {
		return c.CreatedAt.Compare(a.CreatedAt)
	})
	return chats, nil
}

// AddChat stores a new thread record and creates its message bucket. The chat's own id is
// used as the key; callers mint ids before persisting.
func (b BoltDB) AddChat(_ context.Context, chat models.Chat) (string, error) {
	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte("threads"))
		if bkt == nil {
			return nil
		}

		if _, err := tx.CreateBucketIfNotExists(messageBucketName(chat.ID)); err != nil {
			return fmt.Errorf("failed to create message bucket: %w", err)
		}

		v, err := json.Marshal(chat)
		if err != nil {
			return fmt.Errorf("failed to marshal thread: %w", err)
		}

		return bkt.Put([]byte(chat.ID), v)
	})

	return chat.ID, err
}

// UpdateChat modifies an existing thread record. If the thread doesn't exist, the operation
// is silently ignored.
func (b BoltDB) UpdateChat(_ context.Context, chat models.Chat) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte("threads"))
		if bkt == nil {
			return nil
		}

		if bkt.Get([]byte(chat.ID)) == nil {
			return nil
		}

		v, err := json.Marshal(chat)
		if err != nil {
			return fmt.Errorf("failed to marshal thread: %w", err)
		}

		return bkt.Put([]byte(chat.ID), v)
	})
}

// DeleteChat removes a thread record and its message bucket. Returns ErrThreadNotFound when
// the thread doesn't exist.
func (b BoltDB) DeleteChat(_ context.Context, threadID string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte("threads"))
		if bkt == nil || bkt.Get([]byte(threadID)) == nil {
			return ErrThreadNotFound
		}

		if err := bkt.Delete([]byte(threadID)); err != nil {
			return fmt.Errorf("failed to delete thread: %w", err)
		}

		err := tx.DeleteBucket(messageBucketName(threadID))
		if err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return fmt.Errorf("failed to delete message bucket: %w", err)
		}
		return nil
	})
}

// Messages retrieves all messages of a thread in their stored order. Returns
// ErrThreadNotFound when the thread doesn't exist.
func (b BoltDB) Messages(_ context.Context, threadID string) ([]models.Message, error) {
	var messages []models.Message
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(messageBucketName(threadID))
		if bkt == nil {
			return ErrThreadNotFound
		}

		return bkt.ForEach(func(_, v []byte) error {
			var message models.Message
			if err := json.Unmarshal(v, &message); err != nil {
				return fmt.Errorf("failed to unmarshal message: %w", err)
			}
			messages = append(messages, message)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// AddMessage appends a message to the thread's message bucket under the next sequence
// number and returns the message id.
func (b BoltDB) AddMessage(_ context.Context, threadID string, message models.Message) (string, error) {
	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(messageBucketName(threadID))
		if bkt == nil {
			return ErrThreadNotFound
		}

		seq, err := bkt.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}

		v, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}

		return bkt.Put(messageKey(seq), v)
	})

	return message.ID, err
}

// UpdateMessage replaces the stored message carrying the same message id, keeping the store
// API symmetric with UpdateChat; unknown ids are silently ignored.
func (b BoltDB) UpdateMessage(_ context.Context, threadID string, message models.Message) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(messageBucketName(threadID))
		if bkt == nil {
			return ErrThreadNotFound
		}

		var key []byte
		err := bkt.ForEach(func(k, v []byte) error {
			var stored models.Message
			if err := json.Unmarshal(v, &stored); err != nil {
				return nil
			}
			if stored.ID == message.ID {
				key = append([]byte(nil), k...)
			}
			return nil
		})
		if err != nil || key == nil {
			return err
		}

		v, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}

		return bkt.Put(key, v)
	})
}
