// Package history persists stamped chat messages in BadgerDB and serves the
// lookback window used by the REST history endpoint.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"

	"github.com/Tyrowin/chatnet/internal/chat"
)

// DefaultLimit is the lookback window used when a caller does not ask for one.
const DefaultLimit = 50

var ErrForbidden = errors.New("only the sender can delete a message")

const (
	messagePrefix = "msg:"
	indexPrefix   = "id:"
)

// Options configures Open.
type Options struct {
	// Path of the Badger directory. Empty keeps the store in memory.
	Path   string
	Logger *slog.Logger
}

// Store is a chronologically keyed message log.
type Store struct {
	db  *badger.DB
	log *slog.Logger
}

func Open(opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	badgerOpts := badger.DefaultOptions(opts.Path)
	if opts.Path == "" {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	}
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		badgerOpts = badgerOpts.WithLoggingLevel(badger.DEBUG)
	} else {
		badgerOpts = badgerOpts.WithLoggingLevel(badger.WARNING)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("opening message store: %w", err)
	}
	return &Store{db: db, log: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// messageKey is "msg:{unixnano, 19 digits}:{id}" so that keys sort by time
// and two messages stamped in the same nanosecond do not collide.
func messageKey(msg chat.Message) []byte {
	return []byte(fmt.Sprintf("%s%019d:%s", messagePrefix, msg.Timestamp.UnixNano(), msg.ID))
}

func indexKey(id string) []byte {
	return []byte(indexPrefix + id)
}

// Save persists msg. It implements chat.MessageSink.
func (s *Store) Save(msg chat.Message) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	key := messageKey(msg)
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, value); err != nil {
			return err
		}
		return txn.Set(indexKey(msg.ID), key)
	})
}

// Recent returns the newest limit messages in chronological order.
func (s *Store) Recent(limit int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	messages := make([]chat.Message, 0, limit)
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(messagePrefix)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		// 0xFF sorts after every digit, so a reverse seek lands on the newest key.
		for it.Seek(append(prefix, 0xFF)); it.ValidForPrefix(prefix); it.Next() {
			if len(messages) == limit {
				break
			}
			var msg chat.Message
			err := it.Item().Value(func(value []byte) error {
				return json.Unmarshal(value, &msg)
			})
			if err != nil {
				return err
			}
			messages = append(messages, msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return lo.Reverse(messages), nil
}

// Delete removes the message id on behalf of requesterID and returns it.
func (s *Store) Delete(id, requesterID string) (chat.Message, error) {
	var deleted chat.Message
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(indexKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return chat.ErrNotFound
		}
		if err != nil {
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}

		item, err = txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return chat.ErrNotFound
		}
		if err != nil {
			return err
		}
		err = item.Value(func(value []byte) error {
			return json.Unmarshal(value, &deleted)
		})
		if err != nil {
			return err
		}

		if deleted.SenderID != requesterID {
			return ErrForbidden
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
		return txn.Delete(indexKey(id))
	})
	if err != nil {
		return chat.Message{}, err
	}

	s.log.Debug("Message deleted", "message", id, "sender", requesterID)
	return deleted, nil
}
