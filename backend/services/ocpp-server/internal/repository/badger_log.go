package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	"ocpphub/backend/services/ocpp-server/internal/models"
)

// InMemoryPath opens the badger frame log without touching disk.
const InMemoryPath = ":memory:"

const framePrefix = "frames/"

// BadgerFrameLog keeps OCPP frames in an embedded badger store, for deployments without
// postgres. Entries expire after the retention period.
type BadgerFrameLog struct {
	db        *badger.DB
	retention time.Duration
	seq       atomic.Uint64
}

// OpenBadgerFrameLog opens or creates the store at path.
func OpenBadgerFrameLog(path string, retention time.Duration) (*BadgerFrameLog, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == InMemoryPath {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("repository: open badger: %w", err)
	}
	return &BadgerFrameLog{db: db, retention: retention}, nil
}

func frameKey(stationID string, at time.Time, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d/%010d", framePrefix, stationID, at.UnixNano(), seq))
}

// Save stores log entry.
func (l *BadgerFrameLog) Save(_ context.Context, stationID, direction, messageType string, payload []byte) error {
	now := time.Now().UTC()
	data, err := json.Marshal(models.Frame{
		StationID:   stationID,
		Direction:   direction,
		MessageType: messageType,
		Payload:     payload,
		CreatedAt:   now,
	})
	if err != nil {
		return err
	}

	return l.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(frameKey(stationID, now, l.seq.Add(1)), data)
		if l.retention > 0 {
			entry = entry.WithTTL(l.retention)
		}
		return txn.SetEntry(entry)
	})
}

// Recent returns up to limit frames of stationID, newest first.
func (l *BadgerFrameLog) Recent(_ context.Context, stationID string, limit int) ([]models.Frame, error) {
	if limit <= 0 {
		limit = 50
	}
	prefix := []byte(framePrefix + stationID + "/")
	var out []models.Frame

	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix) && len(out) < limit; it.Next() {
			var frame models.Frame
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &frame)
			})
			if err != nil {
				return err
			}
			out = append(out, frame)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("repository: read frames: %w", err)
	}
	return out, nil
}

// Close releases the store.
func (l *BadgerFrameLog) Close() error {
	return l.db.Close()
}
