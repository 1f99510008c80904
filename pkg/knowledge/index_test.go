package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T, docs map[string]string) *Index {
	t.Helper()

	corpus := t.TempDir()
	for name, content := range docs {
		require.NoError(t, os.WriteFile(filepath.Join(corpus, name), []byte(content), 0644))
	}

	idx, err := NewIndex(Config{
		CorpusDir: corpus,
		DBPath:    filepath.Join(t.TempDir(), "knowledge.db"),
		Logger:    zerolog.Nop(),
		Timeout:   2 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestIndex_KeywordSearch(t *testing.T) {
	idx := newTestIndex(t, map[string]string{
		"refunds.md": "Refunds are issued to the original payment method within 5 business days. Duplicate charges are refunded in full once verified against the transaction ledger.",
		"returns.md": "Items may be returned within 30 days of delivery. An RMA number must be issued before the customer ships the item back.",
		"notes.json": "not indexed",
	})

	passages, err := idx.Search(context.Background(), "duplicate charge refund", 2)
	require.NoError(t, err)
	require.NotEmpty(t, passages)
	assert.Equal(t, "refunds.md", passages[0].Source)
	assert.Contains(t, passages[0].Content, "Duplicate charges")
}

func TestIndex_EmptyQuery(t *testing.T) {
	idx := newTestIndex(t, map[string]string{"a.md": "some policy text"})

	passages, err := idx.Search(context.Background(), "", 3)
	require.NoError(t, err)
	assert.Empty(t, passages)

	passages, err = idx.Search(context.Background(), "policy", 0)
	require.NoError(t, err)
	assert.Empty(t, passages)
}

func TestIndex_NoMatches(t *testing.T) {
	idx := newTestIndex(t, map[string]string{"a.md": "warranty coverage lasts twelve months"})

	passages, err := idx.Search(context.Background(), "zebra quantum", 3)
	require.NoError(t, err)
	assert.Empty(t, passages)
}

func TestIndex_PunctuationOnlyQuery(t *testing.T) {
	idx := newTestIndex(t, map[string]string{"a.md": "warranty coverage lasts twelve months"})

	passages, err := idx.Search(context.Background(), "??? !!!", 3)
	require.NoError(t, err)
	assert.Empty(t, passages)
}

func TestIndex_ResyncPicksUpChanges(t *testing.T) {
	idx := newTestIndex(t, map[string]string{"a.md": "original text about invoices"})

	passages, err := idx.Search(context.Background(), "chargeback dispute", 3)
	require.NoError(t, err)
	assert.Empty(t, passages)

	require.NoError(t, os.WriteFile(
		filepath.Join(idx.corpusDir, "b.md"),
		[]byte("Chargeback disputes must be escalated to the billing team within 48 hours."), 0644))
	idx.MarkDirty()

	passages, err = idx.Search(context.Background(), "chargeback dispute", 3)
	require.NoError(t, err)
	require.NotEmpty(t, passages)
	assert.Equal(t, "b.md", passages[0].Source)
}

func TestIndex_PruneDeletedDocuments(t *testing.T) {
	idx := newTestIndex(t, map[string]string{
		"keep.md":   "warranty coverage policy",
		"remove.md": "legacy escalation matrix",
	})

	passages, err := idx.Search(context.Background(), "escalation matrix", 3)
	require.NoError(t, err)
	require.NotEmpty(t, passages)

	require.NoError(t, os.Remove(filepath.Join(idx.corpusDir, "remove.md")))
	idx.MarkDirty()

	passages, err = idx.Search(context.Background(), "escalation matrix", 3)
	require.NoError(t, err)
	assert.Empty(t, passages)
}

func TestSplitPassages(t *testing.T) {
	content := "Short intro.\n\nA second paragraph that is long enough to stand on its own because it describes the full return-merchandise authorization workflow in enough detail to be retrieved independently of its neighbors.\n\nTail."
	passages := splitPassages(content)

	require.NotEmpty(t, passages)
	for _, p := range passages {
		assert.NotEmpty(t, p)
	}
}

func TestFTSQuery(t *testing.T) {
	assert.Equal(t, `"refund" OR "order" OR "1029"`, ftsQuery("refund order #1029!"))
	assert.Equal(t, "", ftsQuery("!?.,"))
}

type countingSearchMetrics struct {
	searches int
	timeouts int
}

func (m *countingSearchMetrics) RetrievalSearched() { m.searches++ }
func (m *countingSearchMetrics) RetrievalTimedOut() { m.timeouts++ }

func TestIndex_SearchCountsActivity(t *testing.T) {
	corpus := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(corpus, "refunds.md"),
		[]byte("Refunds are issued to the original payment method."), 0644))

	counters := &countingSearchMetrics{}
	idx, err := NewIndex(Config{
		CorpusDir: corpus,
		DBPath:    filepath.Join(t.TempDir(), "knowledge.db"),
		Logger:    zerolog.Nop(),
		Timeout:   2 * time.Second,
		Metrics:   counters,
	})
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	_, err = idx.Search(context.Background(), "refund method", 2)
	require.NoError(t, err)
	_, err = idx.Search(context.Background(), "warranty", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, counters.searches)
	assert.Equal(t, 0, counters.timeouts)

	// Empty queries short-circuit before the index is consulted.
	_, err = idx.Search(context.Background(), "", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, counters.searches)
}

func TestIndex_SearchCountsTimeouts(t *testing.T) {
	corpus := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(corpus, "refunds.md"),
		[]byte("Refunds are issued to the original payment method."), 0644))

	counters := &countingSearchMetrics{}
	idx, err := NewIndex(Config{
		CorpusDir: corpus,
		DBPath:    filepath.Join(t.TempDir(), "knowledge.db"),
		Logger:    zerolog.Nop(),
		Timeout:   time.Nanosecond,
		Metrics:   counters,
	})
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	passages, err := idx.Search(context.Background(), "refund method", 2)
	require.NoError(t, err)
	assert.Empty(t, passages)
	assert.Equal(t, 1, counters.timeouts)
}
