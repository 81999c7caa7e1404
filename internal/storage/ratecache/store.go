// Package ratecache persists the current rate table and the history of refresh cycles.
package ratecache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/valutatrade/internal/domain"
	"github.com/vadiminshakov/valutatrade/internal/storage/atomicfile"
	"go.uber.org/zap"
)

const (
	snapshotFileName = "rates.json"
	historyDirName   = "history"
)

// Snapshot on-disk representation of a rate table.
type Snapshot struct {
	Base        string                 `json:"base"`
	LastRefresh time.Time              `json:"last_refresh"`
	Quotes      map[string]StoredQuote `json:"quotes"`
}

// StoredQuote serializable quote, price kept as a decimal string.
type StoredQuote struct {
	Price     string        `json:"price"`
	Source    domain.Source `json:"source"`
	FetchedAt time.Time     `json:"fetched_at"`
}

// NewSnapshot converts a rate table into its stored representation.
func NewSnapshot(table *domain.RateTable) Snapshot {
	snap := Snapshot{
		Base:        table.Base(),
		LastRefresh: table.RefreshedAt().UTC(),
		Quotes:      make(map[string]StoredQuote, table.Len()),
	}
	for _, q := range table.Quotes() {
		snap.Quotes[q.Currency] = StoredQuote{
			Price:     q.Price.String(),
			Source:    q.Source,
			FetchedAt: q.FetchedAt.UTC(),
		}
	}
	return snap
}

// ToTable reconstructs the rate table.
func (s Snapshot) ToTable() (*domain.RateTable, error) {
	base := strings.ToUpper(s.Base)
	quotes := make([]domain.RateQuote, 0, len(s.Quotes))
	for currency, sq := range s.Quotes {
		price, err := decimal.NewFromString(sq.Price)
		if err != nil {
			return nil, errors.Wrapf(err, "decode %s price", currency)
		}
		quotes = append(quotes, domain.RateQuote{
			Currency:  strings.ToUpper(currency),
			Price:     price,
			Base:      base,
			Source:    sq.Source,
			FetchedAt: sq.FetchedAt,
		})
	}
	return domain.NewRateTable(base, quotes...), nil
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the clock used to stamp history entries.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store holds the current rate table in memory and on disk.
// Readers get a consistent table through Current; commits are serialized.
type Store struct {
	base          string
	snapshotPath  string
	history       *HistoryLog
	current       atomic.Pointer[domain.RateTable]
	mu            sync.Mutex
	now           func() time.Time
	newID         func() string
	rename        func(oldpath, newpath string) error
	appendHistory func(domain.HistoryEntry) (bool, error)
	logger        *zap.Logger
}

// Open creates dir if needed, opens the history log and loads the persisted snapshot.
// A missing snapshot yields an empty table in base.
func Open(dir, base string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create rates data dir")
	}

	history, err := NewHistoryLog(filepath.Join(dir, historyDirName))
	if err != nil {
		return nil, err
	}

	s := &Store{
		base:         strings.ToUpper(base),
		snapshotPath: filepath.Join(dir, snapshotFileName),
		history:      history,
		now:          time.Now,
		newID:        uuid.NewString,
		rename:       os.Rename,
		logger:       zap.NewNop(),
	}
	s.appendHistory = history.Append
	for _, opt := range opts {
		opt(s)
	}

	table, err := s.Load()
	if err != nil {
		_ = history.Close()
		return nil, err
	}
	if table.Base() != s.base {
		s.logger.Warn("persisted rates use another base currency, starting with an empty cache",
			zap.String("persisted_base", table.Base()),
			zap.String("base", s.base))
		table = domain.EmptyRateTable(s.base)
	}
	s.current.Store(table)

	return s, nil
}

// Load reads the persisted snapshot from disk.
func (s *Store) Load() (*domain.RateTable, error) {
	payload, err := os.ReadFile(s.snapshotPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.EmptyRateTable(s.base), nil
		}
		return nil, errors.Wrap(err, "read rates snapshot")
	}
	if len(payload) == 0 {
		return domain.EmptyRateTable(s.base), nil
	}

	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, errors.Wrap(err, "decode rates snapshot")
	}

	return snap.ToTable()
}

// Current returns the last committed table. Never nil.
func (s *Store) Current() *domain.RateTable {
	return s.current.Load()
}

// Base canonical base currency of the store.
func (s *Store) Base() string {
	return s.base
}

// Commit replaces the snapshot and appends a history entry built from summary.
// A failed history append puts the previous snapshot back, so either both
// land or neither does. Errors match domain.ErrPersistence.
func (s *Store) Commit(table *domain.RateTable, summary domain.RefreshSummary) (domain.HistoryEntry, error) {
	if table == nil {
		return domain.HistoryEntry{}, errors.New("nil rate table")
	}
	if table.Base() != s.base {
		return domain.HistoryEntry{}, errors.Errorf("rate table base %s does not match store base %s", table.Base(), s.base)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.MarshalIndent(NewSnapshot(table), "", "  ")
	if err != nil {
		return domain.HistoryEntry{}, domain.NewPersistenceError("encode rates snapshot", err)
	}

	previous, err := s.readSnapshot()
	if err != nil {
		return domain.HistoryEntry{}, domain.NewPersistenceError("read rates snapshot", err)
	}

	if err := s.replaceSnapshot(payload); err != nil {
		return domain.HistoryEntry{}, domain.NewPersistenceError("replace rates snapshot", err)
	}

	entry := domain.NewHistoryEntry(s.newID(), s.now(), summary)
	if _, err := s.appendHistory(entry); err != nil {
		if rerr := s.restoreSnapshot(previous); rerr != nil {
			s.logger.Error("failed to restore rates snapshot",
				zap.String("entry_id", entry.ID),
				zap.Error(rerr))
		}
		return domain.HistoryEntry{}, domain.NewPersistenceError("append rates history", err)
	}

	s.current.Store(table)
	s.logger.Info("rates committed",
		zap.Int("rates", table.Len()),
		zap.Int("written", summary.TotalRatesWritten),
		zap.Time("last_refresh", table.RefreshedAt()))

	return entry, nil
}

// History returns all committed refresh entries, oldest first.
func (s *Store) History() ([]domain.HistoryEntry, error) {
	records, err := s.history.EntriesAfter(0)
	if err != nil {
		return nil, err
	}
	out := make([]domain.HistoryEntry, 0, len(records))
	for _, r := range records {
		out = append(out, r.Entry)
	}
	return out, nil
}

// HistoryAfter returns entries written after the provided log index.
func (s *Store) HistoryAfter(index uint64) ([]domain.HistoryRecord, error) {
	return s.history.EntriesAfter(index)
}

// Close releases the history log.
func (s *Store) Close() error {
	return s.history.Close()
}

// readSnapshot returns the raw snapshot on disk, nil when there is none.
func (s *Store) readSnapshot() ([]byte, error) {
	payload, err := os.ReadFile(s.snapshotPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return payload, err
}

func (s *Store) replaceSnapshot(payload []byte) error {
	tmp, err := atomicfile.Stage(s.snapshotPath, payload)
	if err != nil {
		return err
	}
	if err := s.rename(tmp, s.snapshotPath); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// restoreSnapshot puts previous back in place, removing the snapshot when there was none.
func (s *Store) restoreSnapshot(previous []byte) error {
	if previous == nil {
		if err := os.Remove(s.snapshotPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}
	return s.replaceSnapshot(previous)
}
