package index

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sonet/internal/domain"
)

func testIndex(t *testing.T) *Index {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BatchInterval = time.Hour // commits driven by Flush in tests
	ix := New(cfg, nil, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		ix.Stop(ctx)
	})
	ix.Start()
	return ix
}

func addDoc(t *testing.T, ix *Index, id domain.MessageID, content string, at time.Time) {
	t.Helper()
	require.NoError(t, ix.Index(context.Background(), domain.IndexDoc{
		MessageID: id,
		ChatID:    "c1",
		UserID:    "alice",
		Content:   content,
		Type:      domain.MessageText,
		Timestamp: at,
	}))
}

func TestIndex_SearchRanksAndFilters(t *testing.T) {
	ix := testIndex(t)
	ctx := context.Background()
	now := time.Now()

	addDoc(t, ix, "m1", "hello world", now.Add(-2*time.Hour))
	addDoc(t, ix, "m2", "goodbye", now.Add(-time.Hour))
	addDoc(t, ix, "m3", "hello there", now)
	ix.Flush(ctx)

	results, err := ix.Search(ctx, domain.SearchQuery{Query: "hello"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.NotZero(t, r.Score)
	}
	// Equal match quality: recency decides, newest first.
	assert.Equal(t, domain.MessageID("m3"), results[0].MessageID)
	assert.Equal(t, domain.MessageID("m1"), results[1].MessageID)
}

func TestIndex_RemoveIsImmediatelyVisible(t *testing.T) {
	ix := testIndex(t)
	ctx := context.Background()
	now := time.Now()

	addDoc(t, ix, "m1", "hello world", now)
	addDoc(t, ix, "m3", "hello there", now)
	ix.Flush(ctx)

	require.NoError(t, ix.Remove(ctx, "m3"))
	results, err := ix.Search(ctx, domain.SearchQuery{Query: "hello"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, domain.MessageID("m1"), results[0].MessageID)
}

func TestIndex_IndexTwiceYieldsSamePostings(t *testing.T) {
	ix := testIndex(t)
	ctx := context.Background()
	now := time.Now()

	addDoc(t, ix, "m1", "hello hello world", now)
	addDoc(t, ix, "m1", "hello hello world", now)
	ix.Flush(ctx)

	results, err := ix.Search(ctx, domain.SearchQuery{Query: "hello"})
	require.NoError(t, err)
	require.Len(t, results, 1, "re-indexing must not duplicate postings")

	ix.mu.RLock()
	df := ix.docFreq["hello"]
	ix.mu.RUnlock()
	assert.Equal(t, 1, df)
}

func TestIndex_UpdateReplacesContent(t *testing.T) {
	ix := testIndex(t)
	ctx := context.Background()

	addDoc(t, ix, "m1", "original words", time.Now())
	ix.Flush(ctx)

	require.NoError(t, ix.Update(ctx, "m1", "replacement phrasing"))

	res, err := ix.Search(ctx, domain.SearchQuery{Query: "replacement"})
	require.NoError(t, err)
	require.Len(t, res, 1)

	res, err = ix.Search(ctx, domain.SearchQuery{Query: "original"})
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestIndex_FiltersNarrowResults(t *testing.T) {
	ix := testIndex(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, ix.Index(ctx, domain.IndexDoc{
		MessageID: "m1", ChatID: "c1", UserID: "alice",
		Content: "release notes #launch", Type: domain.MessageText, Timestamp: now,
	}))
	require.NoError(t, ix.Index(ctx, domain.IndexDoc{
		MessageID: "m2", ChatID: "c2", UserID: "bob",
		Content: "release the build", Type: domain.MessageText, Timestamp: now,
	}))
	ix.Flush(ctx)

	res, err := ix.Search(ctx, domain.SearchQuery{
		Query:   "release",
		Filters: domain.SearchFilters{Scope: domain.ScopeChat, ChatID: "c2"},
	})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, domain.MessageID("m2"), res[0].MessageID)

	res, err = ix.Search(ctx, domain.SearchQuery{
		Query:   "release",
		Filters: domain.SearchFilters{Hashtags: []string{"launch"}},
	})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, domain.MessageID("m1"), res[0].MessageID)

	res, err = ix.Search(ctx, domain.SearchQuery{
		Query:   "release",
		Filters: domain.SearchFilters{ExcludeUsers: []domain.UserID{"alice"}},
	})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, domain.MessageID("m2"), res[0].MessageID)
}

func TestIndex_QueueOverflowShedsOldestAdds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BatchInterval = time.Hour
	cfg.MaxPendingUpdates = 4
	cfg.MaxBatchSize = 1024 // never kick on size during this test
	ix := New(cfg, nil, nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, ix.Index(ctx, domain.IndexDoc{
			MessageID: domain.MessageID(fmt.Sprintf("m%d", i)),
			ChatID:    "c1",
			Content:   "x",
			Timestamp: time.Now(),
		}))
	}
	assert.Equal(t, uint64(6), ix.Dropped())
	ix.pendingMu.Lock()
	assert.LessOrEqual(t, len(ix.pending), 4)
	ix.pendingMu.Unlock()
}

func TestIndex_Suggest(t *testing.T) {
	ix := testIndex(t)
	ctx := context.Background()
	now := time.Now()

	addDoc(t, ix, "m1", "deploy deployment deadline", now)
	addDoc(t, ix, "m2", "deploy finished", now)
	ix.Flush(ctx)

	got := ix.Suggest(ctx, "de", 10)
	require.NotEmpty(t, got)
	assert.Equal(t, "deploy", got[0], "most frequent term first")
}
