package ratecache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/valutatrade/internal/domain"
)

var testNow = time.Date(2025, 10, 10, 12, 0, 0, 0, time.UTC)

func testTable(btc string) *domain.RateTable {
	return domain.NewRateTable("USD",
		domain.RateQuote{Currency: "BTC", Price: decimal.RequireFromString(btc), Base: "USD", Source: domain.SourceCoinGecko, FetchedAt: testNow},
		domain.RateQuote{Currency: "EUR", Price: decimal.RequireFromString("1.25"), Base: "USD", Source: domain.SourceExchangeRate, FetchedAt: testNow.Add(-time.Minute)},
	)
}

func testSummary() domain.RefreshSummary {
	return domain.RefreshSummary{
		SourceSummary:     map[domain.Source]int{domain.SourceCoinGecko: 1, domain.SourceExchangeRate: 1},
		TotalRatesWritten: 2,
	}
}

func openStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(dir, "usd", WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_EmptyDir(t *testing.T) {
	s := openStore(t, t.TempDir())

	assert.Equal(t, "USD", s.Base())
	assert.True(t, s.Current().IsEmpty())

	history, err := s.History()
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestCommit_PersistsSnapshotAndHistory(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)

	entry, err := s.Commit(testTable("50000"), testSummary())
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, testNow, entry.Timestamp)
	assert.Equal(t, 2, entry.TotalRatesWritten)

	assert.True(t, s.Current().Equal(testTable("50000")))

	loaded, err := s.Load()
	require.NoError(t, err)
	assert.True(t, loaded.Equal(testTable("50000")))
	assert.Equal(t, testNow, loaded.RefreshedAt())

	history, err := s.History()
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, entry.ID, history[0].ID)
	assert.Equal(t, 1, history[0].SourceSummary[domain.SourceCoinGecko])
}

func TestCommit_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir, "USD")
	require.NoError(t, err)
	_, err = s.Commit(testTable("50000"), testSummary())
	require.NoError(t, err)
	_, err = s.Commit(testTable("51000"), testSummary())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened := openStore(t, dir)
	q, ok := reopened.Current().Quote("BTC")
	require.True(t, ok)
	assert.True(t, q.Price.Equal(decimal.NewFromInt(51000)))

	history, err := reopened.History()
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestCommit_SameTableIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)

	_, err := s.Commit(testTable("50000"), testSummary())
	require.NoError(t, err)
	first, err := os.ReadFile(filepath.Join(dir, snapshotFileName))
	require.NoError(t, err)

	_, err = s.Commit(testTable("50000"), testSummary())
	require.NoError(t, err)
	second, err := os.ReadFile(filepath.Join(dir, snapshotFileName))
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
}

func TestCommit_FailureKeepsPreviousSnapshot(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)

	_, err := s.Commit(testTable("50000"), testSummary())
	require.NoError(t, err)

	s.rename = func(string, string) error { return errors.New("disk full") }
	_, err = s.Commit(testTable("60000"), testSummary())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrPersistence))

	assert.True(t, s.Current().Equal(testTable("50000")))
	loaded, err := s.Load()
	require.NoError(t, err)
	assert.True(t, loaded.Equal(testTable("50000")))

	history, err := s.History()
	require.NoError(t, err)
	assert.Len(t, history, 1)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-")
	}
}

func TestCommit_HistoryFailureRestoresSnapshot(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)

	_, err := s.Commit(testTable("50000"), testSummary())
	require.NoError(t, err)

	s.appendHistory = func(domain.HistoryEntry) (bool, error) { return false, errors.New("disk full") }
	_, err = s.Commit(testTable("60000"), testSummary())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrPersistence))

	assert.True(t, s.Current().Equal(testTable("50000")))
	loaded, err := s.Load()
	require.NoError(t, err)
	assert.True(t, loaded.Equal(testTable("50000")))

	history, err := s.History()
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestCommit_FirstHistoryFailureLeavesNoSnapshot(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)

	s.appendHistory = func(domain.HistoryEntry) (bool, error) { return false, errors.New("disk full") }
	_, err := s.Commit(testTable("50000"), testSummary())
	require.Error(t, err)

	_, err = os.Stat(filepath.Join(dir, snapshotFileName))
	assert.True(t, os.IsNotExist(err))
	assert.True(t, s.Current().IsEmpty())
}

func TestCommit_RejectsOtherBase(t *testing.T) {
	s := openStore(t, t.TempDir())

	_, err := s.Commit(domain.EmptyRateTable("EUR"), testSummary())
	require.Error(t, err)
	assert.True(t, s.Current().IsEmpty())
}

func TestLoad_CorruptSnapshot(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, snapshotFileName), []byte("{not json"), 0o644))

	_, err := Open(dir, "USD")
	require.Error(t, err)
}

func TestOpen_OtherBaseStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, "USD")
	require.NoError(t, err)
	_, err = s.Commit(testTable("50000"), testSummary())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(dir, "EUR")
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, "EUR", reopened.Current().Base())
	assert.True(t, reopened.Current().IsEmpty())
}

func TestHistoryLog_SkipsDuplicateID(t *testing.T) {
	h, err := NewHistoryLog(t.TempDir())
	require.NoError(t, err)
	defer h.Close()

	entry := domain.NewHistoryEntry("cycle-1", testNow, testSummary())
	written, err := h.Append(entry)
	require.NoError(t, err)
	assert.True(t, written)

	written, err = h.Append(entry)
	require.NoError(t, err)
	assert.False(t, written)

	records, err := h.EntriesAfter(0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "cycle-1", records[0].Entry.ID)
}
