package ratecache

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
	"github.com/vadiminshakov/valutatrade/internal/domain"
)

const (
	historySegmentLimit = 1000
	// history is append-only, segments are kept far beyond any realistic refresh count
	historyMaxSegments = 1 << 20
	historyKeyPrefix   = "rates_refresh_"
)

// HistoryLog append-only log of committed refresh cycles.
type HistoryLog struct {
	wal *gowal.Wal
	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewHistoryLog opens (or creates) the history WAL in dir.
func NewHistoryLog(dir string) (*HistoryLog, error) {
	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "history_",
		SegmentThreshold: historySegmentLimit,
		MaxSegments:      historyMaxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init rates history WAL")
	}

	h := &HistoryLog{wal: wal, ids: make(map[string]struct{})}
	records, err := h.EntriesAfter(0)
	if err != nil {
		_ = wal.Close()
		return nil, err
	}
	for _, r := range records {
		h.ids[r.Entry.ID] = struct{}{}
	}

	return h, nil
}

// Append writes entry to the log. An entry whose ID was already written is skipped
// and reported with false.
func (h *HistoryLog) Append(entry domain.HistoryEntry) (bool, error) {
	if h == nil || h.wal == nil {
		return false, errors.New("rates history is not initialized")
	}
	if entry.ID == "" {
		return false, errors.New("history entry id is required")
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return false, errors.Wrap(err, "marshal history entry")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.ids[entry.ID]; ok {
		return false, nil
	}
	if err := h.wal.Write(h.wal.CurrentIndex()+1, historyKeyPrefix+entry.ID, payload); err != nil {
		return false, errors.Wrap(err, "write history entry")
	}
	h.ids[entry.ID] = struct{}{}

	return true, nil
}

// EntriesAfter returns entries written after the provided log index, oldest first.
func (h *HistoryLog) EntriesAfter(index uint64) ([]domain.HistoryRecord, error) {
	if h == nil || h.wal == nil {
		return nil, errors.New("rates history is not initialized")
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	current := h.wal.CurrentIndex()
	if current <= index {
		return nil, nil
	}

	records := make([]domain.HistoryRecord, 0, current-index)
	for idx := index + 1; idx <= current; idx++ {
		key, payload, err := h.wal.Get(idx)
		if err != nil {
			return nil, errors.Wrapf(err, "read history entry %d", idx)
		}
		if !strings.HasPrefix(key, historyKeyPrefix) {
			continue
		}
		var entry domain.HistoryEntry
		if err := json.Unmarshal(payload, &entry); err != nil {
			return nil, errors.Wrap(err, "decode history entry")
		}
		records = append(records, domain.HistoryRecord{Index: idx, Entry: entry})
	}

	return records, nil
}

// CurrentIndex returns the latest log index.
func (h *HistoryLog) CurrentIndex() uint64 {
	if h == nil || h.wal == nil {
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.wal.CurrentIndex()
}

// Close closes the underlying WAL.
func (h *HistoryLog) Close() error {
	if h == nil || h.wal == nil {
		return errors.New("rates history is not initialized")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	return h.wal.Close()
}
