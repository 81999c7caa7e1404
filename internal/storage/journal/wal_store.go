// Package journal keeps an append-only log of executed ledger receipts.
package journal

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
	"github.com/vadiminshakov/valutatrade/internal/domain"
)

const (
	journalSegmentLimit = 1000
	journalMaxSegments  = 1 << 20
	receiptKeyPrefix    = "receipt_"
)

// Record receipt with its WAL index.
type Record struct {
	Index   uint64
	Receipt domain.Receipt
}

// WALStore persists receipts in a WAL.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewWALStore opens the journal under dir.
func NewWALStore(dir string) (*WALStore, error) {
	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "journal_",
		SegmentThreshold: journalSegmentLimit,
		MaxSegments:      journalMaxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init trade journal WAL")
	}

	return &WALStore{wal: wal}, nil
}

// Append writes the receipt to the journal.
func (s *WALStore) Append(receipt domain.Receipt) error {
	if s == nil || s.wal == nil {
		return errors.New("trade journal is not initialized")
	}
	if receipt.ID == "" {
		return errors.New("receipt id is required")
	}

	payload, err := json.Marshal(receipt)
	if err != nil {
		return errors.Wrap(err, "marshal receipt")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Write(s.wal.CurrentIndex()+1, receiptKeyPrefix+receipt.UserID, payload)
}

// ReceiptsAfter returns receipts written after the provided index. Empty userID means all users.
func (s *WALStore) ReceiptsAfter(index uint64, userID string) ([]Record, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("trade journal is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	current := s.wal.CurrentIndex()
	if current <= index {
		return nil, nil
	}

	var records []Record
	for idx := index + 1; idx <= current; idx++ {
		key, payload, err := s.wal.Get(idx)
		if err != nil {
			return nil, errors.Wrapf(err, "read receipt %d", idx)
		}
		if userID == "" {
			if !strings.HasPrefix(key, receiptKeyPrefix) {
				continue
			}
		} else if key != receiptKeyPrefix+userID {
			continue
		}
		var receipt domain.Receipt
		if err := json.Unmarshal(payload, &receipt); err != nil {
			return nil, errors.Wrap(err, "decode receipt")
		}
		records = append(records, Record{Index: idx, Receipt: receipt})
	}

	return records, nil
}

// CurrentIndex returns the latest WAL index stored.
func (s *WALStore) CurrentIndex() uint64 {
	if s == nil || s.wal == nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.wal.CurrentIndex()
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("trade journal is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
