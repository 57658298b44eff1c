package index

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond"
	"go.uber.org/zap"

	"sonet/internal/domain"
)

// Config bounds the index's memory and batching behavior.
type Config struct {
	BatchInterval     time.Duration
	MaxBatchSize      int
	MaxPendingUpdates int
	CacheTTL          time.Duration
	CacheMaxEntries   int
	MaxResults        int
	MinRelevanceScore float64
	RecencyHalfLife   time.Duration
	StopWords         []string
	EnableStemming    bool
	EnableSemantic    bool
	Weights           Weights
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		BatchInterval:     200 * time.Millisecond,
		MaxBatchSize:      256,
		MaxPendingUpdates: 4096,
		CacheTTL:          30 * time.Second,
		CacheMaxEntries:   512,
		MaxResults:        50,
		MinRelevanceScore: 0.05,
		RecencyHalfLife:   72 * time.Hour,
		EnableStemming:    true,
		EnableSemantic:    true,
		Weights:           DefaultWeights(),
	}
}

// entry is one indexed message.
type entry struct {
	doc    domain.IndexDoc
	terms  map[string][]int
	vector []float32
}

type updateKind int

const (
	updateAdd updateKind = iota
	updateDelete
)

type update struct {
	kind updateKind
	doc  domain.IndexDoc
	id   domain.MessageID
}

// Index is the concrete domain.Indexer.
type Index struct {
	cfg Config
	log *zap.Logger
	an  *analyzer
	emb domain.Embedder

	mu       sync.RWMutex
	postings map[string]map[domain.MessageID][]int
	docs     map[domain.MessageID]*entry
	docFreq  map[string]int
	gen      atomic.Uint64

	pendingMu sync.Mutex
	pending   []update
	dropped   atomic.Uint64

	queryCache   *ttlCache
	suggestCache *ttlCache

	pool *pond.WorkerPool
	kick chan struct{}
	stop chan struct{}
	done chan struct{}
	now  func() time.Time
}

// New builds an index; call Start to launch the batch committer.
func New(cfg Config, logger *zap.Logger, emb domain.Embedder) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	if emb == nil {
		emb = NewHashingEmbedder(128)
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 256
	}
	if cfg.MaxPendingUpdates <= 0 {
		cfg.MaxPendingUpdates = 4096
	}
	if cfg.BatchInterval <= 0 {
		cfg.BatchInterval = 200 * time.Millisecond
	}
	return &Index{
		cfg:          cfg,
		log:          logger.Named("index"),
		an:           newAnalyzer(cfg.StopWords, cfg.EnableStemming),
		emb:          emb,
		postings:     make(map[string]map[domain.MessageID][]int),
		docs:         make(map[domain.MessageID]*entry),
		docFreq:      make(map[string]int),
		queryCache:   newTTLCache(cfg.CacheTTL, cfg.CacheMaxEntries),
		suggestCache: newTTLCache(cfg.CacheTTL, cfg.CacheMaxEntries),
		pool:         pond.New(2, 64),
		kick:         make(chan struct{}, 1),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		now:          time.Now,
	}
}

// Start launches the background batch committer.
func (ix *Index) Start() {
	go ix.commitLoop()
}

// Stop drains pending updates and shuts the worker pool down.
func (ix *Index) Stop(ctx context.Context) {
	close(ix.stop)
	select {
	case <-ix.done:
	case <-ctx.Done():
	}
	ix.pool.StopAndWait()
	ix.queryCache.purge()
	ix.suggestCache.purge()
}

// Dropped reports how many queued updates were shed under backpressure.
func (ix *Index) Dropped() uint64 { return ix.dropped.Load() }

// Index enqueues doc for the next batch commit. On queue overflow the
// oldest non-delete update is shed and counted.
func (ix *Index) Index(ctx context.Context, doc domain.IndexDoc) error {
	if doc.MessageID == "" {
		return fmt.Errorf("%w: missing message id", domain.ErrInvalidArgument)
	}
	ix.pendingMu.Lock()
	if len(ix.pending) >= ix.cfg.MaxPendingUpdates {
		shed := false
		for i, u := range ix.pending {
			if u.kind != updateDelete {
				ix.pending = append(ix.pending[:i], ix.pending[i+1:]...)
				shed = true
				break
			}
		}
		if !shed {
			ix.pendingMu.Unlock()
			return fmt.Errorf("index queue full: %w", domain.ErrResourceExhausted)
		}
		ix.dropped.Add(1)
	}
	ix.pending = append(ix.pending, update{kind: updateAdd, doc: doc})
	full := len(ix.pending) >= ix.cfg.MaxBatchSize
	ix.pendingMu.Unlock()

	if full {
		select {
		case ix.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

// Update re-indexes a message's content in place: delete plus add under one
// exclusive lock.
func (ix *Index) Update(ctx context.Context, id domain.MessageID, content string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ent, ok := ix.docs[id]
	if !ok {
		return fmt.Errorf("message %s: %w", id, domain.ErrNotFound)
	}
	doc := ent.doc
	doc.Content = content
	ix.removeLocked(id)
	ix.addLocked(doc)
	ix.gen.Add(1)
	return nil
}

// Remove deletes the message from all postings and caches, synchronously,
// and purges any queued add for the same id.
func (ix *Index) Remove(ctx context.Context, id domain.MessageID) error {
	ix.pendingMu.Lock()
	kept := ix.pending[:0]
	for _, u := range ix.pending {
		if u.kind == updateAdd && u.doc.MessageID == id {
			continue
		}
		kept = append(kept, u)
	}
	ix.pending = kept
	ix.pendingMu.Unlock()

	ix.mu.Lock()
	ix.removeLocked(id)
	ix.gen.Add(1)
	ix.mu.Unlock()
	return nil
}

// Flush commits everything queued right now; mainly for shutdown and tests.
func (ix *Index) Flush(ctx context.Context) {
	for {
		if n := ix.commitBatch(); n == 0 {
			return
		}
	}
}

// --- batching ---

func (ix *Index) commitLoop() {
	defer close(ix.done)
	ticker := time.NewTicker(ix.cfg.BatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ix.submitCommit()
		case <-ix.kick:
			ix.submitCommit()
		case <-ix.stop:
			// Drain bounded queues before exiting.
			ix.Flush(context.Background())
			return
		}
	}
}

func (ix *Index) submitCommit() {
	ix.pool.Submit(func() { ix.commitBatch() })
}

// commitBatch applies up to MaxBatchSize pending updates, returning how
// many it applied.
func (ix *Index) commitBatch() int {
	ix.pendingMu.Lock()
	n := len(ix.pending)
	if n == 0 {
		ix.pendingMu.Unlock()
		return 0
	}
	if n > ix.cfg.MaxBatchSize {
		n = ix.cfg.MaxBatchSize
	}
	batch := make([]update, n)
	copy(batch, ix.pending[:n])
	ix.pending = append(ix.pending[:0], ix.pending[n:]...)
	ix.pendingMu.Unlock()

	ix.mu.Lock()
	for _, u := range batch {
		switch u.kind {
		case updateAdd:
			ix.removeLocked(u.doc.MessageID) // re-index is delete+add
			ix.addLocked(u.doc)
		case updateDelete:
			ix.removeLocked(u.id)
		}
	}
	ix.gen.Add(1)
	ix.mu.Unlock()

	ix.log.Debug("batch committed", zap.Int("size", n))
	return n
}

func (ix *Index) addLocked(doc domain.IndexDoc) {
	terms := ix.an.terms(doc.Content)
	ent := &entry{doc: doc, terms: terms}
	if ix.cfg.EnableSemantic {
		ent.vector = ix.emb.Embed(doc.Content)
	}
	ix.docs[doc.MessageID] = ent
	for term, positions := range terms {
		m := ix.postings[term]
		if m == nil {
			m = make(map[domain.MessageID][]int)
			ix.postings[term] = m
		}
		if _, seen := m[doc.MessageID]; !seen {
			ix.docFreq[term]++
		}
		m[doc.MessageID] = positions
	}
}

func (ix *Index) removeLocked(id domain.MessageID) {
	ent, ok := ix.docs[id]
	if !ok {
		return
	}
	for term := range ent.terms {
		if m := ix.postings[term]; m != nil {
			if _, seen := m[id]; seen {
				delete(m, id)
				ix.docFreq[term]--
				if len(m) == 0 {
					delete(ix.postings, term)
					delete(ix.docFreq, term)
				}
			}
		}
	}
	delete(ix.docs, id)
}

// --- queries ---

// Search tokenizes the query, unions matching postings, filters, ranks and
// truncates. Results are cached per (query, filters) until the next index
// mutation or TTL expiry.
func (ix *Index) Search(ctx context.Context, q domain.SearchQuery) ([]domain.SearchResult, error) {
	now := ix.now()
	key := cacheKey(q)
	gen := ix.gen.Load()
	if hit, ok := ix.queryCache.get(key, gen, now); ok {
		return hit.([]domain.SearchResult), nil
	}

	terms := ix.an.queryTerms(q.Query)
	if len(terms) == 0 {
		return nil, fmt.Errorf("%w: empty query", domain.ErrInvalidArgument)
	}
	var queryVec []float32
	if ix.cfg.EnableSemantic {
		queryVec = ix.emb.Embed(q.Query)
	}

	ix.mu.RLock()
	candidates := make(map[domain.MessageID]int) // doc -> matched term count
	for _, term := range terms {
		for id := range ix.postings[term] {
			candidates[id]++
		}
	}

	results := make([]domain.SearchResult, 0, len(candidates))
	for id, matched := range candidates {
		ent := ix.docs[id]
		if ent == nil || !matchFilters(&ent.doc, q.Filters) {
			continue
		}
		score := ix.score(ent, terms, matched, queryVec, q, now)
		if score < ix.cfg.MinRelevanceScore {
			continue
		}
		results = append(results, domain.SearchResult{
			MessageID: id,
			ChatID:    ent.doc.ChatID,
			UserID:    ent.doc.UserID,
			Snippet:   snippet(ent.doc.Content, terms),
			Score:     score,
			Timestamp: ent.doc.Timestamp,
		})
	}
	ix.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Timestamp.After(results[j].Timestamp)
	})
	max := q.MaxResults
	if max <= 0 || max > ix.cfg.MaxResults {
		max = ix.cfg.MaxResults
	}
	if len(results) > max {
		results = results[:max]
	}

	ix.queryCache.put(key, gen, results, now)
	return results, nil
}

// Suggest returns indexed terms with the given prefix, most frequent first.
func (ix *Index) Suggest(ctx context.Context, prefix string, limit int) []string {
	if limit <= 0 {
		limit = 10
	}
	prefix = strings.ToLower(prefix)
	now := ix.now()
	key := fnvKey("suggest\x00" + prefix)
	gen := ix.gen.Load()
	if hit, ok := ix.suggestCache.get(key, gen, now); ok {
		out := hit.([]string)
		if len(out) > limit {
			out = out[:limit]
		}
		return out
	}

	type freq struct {
		term string
		df   int
	}
	var matches []freq
	ix.mu.RLock()
	for term, df := range ix.docFreq {
		if strings.HasPrefix(term, prefix) {
			matches = append(matches, freq{term, df})
		}
	}
	ix.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].df != matches[j].df {
			return matches[i].df > matches[j].df
		}
		return matches[i].term < matches[j].term
	})
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.term)
	}
	ix.suggestCache.put(key, gen, out, now)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// cacheKey hashes the query plus filters.
func cacheKey(q domain.SearchQuery) uint64 {
	b, _ := json.Marshal(q)
	return fnvKey(string(b))
}

func fnvKey(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}

var _ domain.Indexer = (*Index)(nil)
