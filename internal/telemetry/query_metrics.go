// Package telemetry collects search query metrics for the HTTP API.
// Metrics are kept in memory for the lifetime of the process.
package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/reposync/internal/search"
)

// =============================================================================
// Latency Buckets
// =============================================================================

// LatencyBucket represents a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// QueryEvent is one search request against a repository index.
type QueryEvent struct {
	Repository  string
	Query       string
	ResultCount int
	Latency     time.Duration
}

// =============================================================================
// Circular Buffer
// =============================================================================

// CircularBuffer is a fixed-capacity FIFO buffer. It is not safe for concurrent use.
type CircularBuffer[T any] struct {
	items    []T
	head     int // next write position
	size     int
	capacity int
}

// NewCircularBuffer creates a buffer holding at most capacity items (100 when capacity <= 0).
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add appends an item, evicting the oldest one when full.
func (b *CircularBuffer[T]) Add(item T) {
	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Items returns the buffered items oldest first. It never returns nil.
func (b *CircularBuffer[T]) Items() []T {
	result := make([]T, b.size)
	if b.size < b.capacity {
		copy(result, b.items[:b.size])
		return result
	}
	copy(result, b.items[b.head:])
	copy(result[b.capacity-b.head:], b.items[:b.head])
	return result
}

// Size returns the number of buffered items.
func (b *CircularBuffer[T]) Size() int {
	return b.size
}

// ExtractTerms returns the index tokens of a query that are at least three characters long.
func ExtractTerms(query string) []string {
	var terms []string
	for _, token := range search.Tokenize(query) {
		if len(token) >= 3 {
			terms = append(terms, token)
		}
	}
	return terms
}

// TermCount represents a term and its frequency count.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// ZeroResultQuery is a query that matched nothing.
type ZeroResultQuery struct {
	Repository string `json:"repository"`
	Query      string `json:"query"`
}

// Snapshot is an immutable copy of the collected metrics.
type Snapshot struct {
	TotalQueries        int64                   `json:"total_queries"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	RepositoryCounts    map[string]int64        `json:"repository_counts"`
	TopTerms            []TermCount             `json:"top_terms"`
	ZeroResultQueries   []ZeroResultQuery       `json:"zero_result_queries"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	ExactRepeatCount    int64                   `json:"exact_repeat_count"`
	ExactRepeatRate     float64                 `json:"exact_repeat_rate"`
	UniqueQueryCount    int64                   `json:"unique_query_count"`
	Since               time.Time               `json:"since"`
}

// ZeroResultPercentage returns the percentage of zero-result queries.
func (s *Snapshot) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries) * 100
}

// Config bounds the memory used by QueryMetrics.
type Config struct {
	TopTermsCapacity      int // distinct terms tracked (default: 100)
	ZeroResultsCapacity   int // zero-result queries kept (default: 100)
	RecentQueriesCapacity int // queries remembered for repeat detection (default: 500)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TopTermsCapacity:      100,
		ZeroResultsCapacity:   100,
		RecentQueriesCapacity: 500,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TopTermsCapacity <= 0 {
		c.TopTermsCapacity = d.TopTermsCapacity
	}
	if c.ZeroResultsCapacity <= 0 {
		c.ZeroResultsCapacity = d.ZeroResultsCapacity
	}
	if c.RecentQueriesCapacity <= 0 {
		c.RecentQueriesCapacity = d.RecentQueriesCapacity
	}
	return c
}

// QueryMetrics aggregates search queries. Safe for concurrent use.
type QueryMetrics struct {
	mu sync.Mutex

	repositories    map[string]int64
	topTerms        *lru.Cache[string, int64]
	zeroResults     *CircularBuffer[ZeroResultQuery]
	latencies       map[LatencyBucket]int64
	totalQueries    int64
	zeroResultCount int64
	startTime       time.Time

	recentQueries    *lru.Cache[string, struct{}] // hashes of recent queries
	exactRepeatCount int64
}

// NewQueryMetrics creates an empty collector.
func NewQueryMetrics(cfg Config) *QueryMetrics {
	cfg = cfg.withDefaults()

	// lru.New only fails for a non-positive size
	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	recentQueries, _ := lru.New[string, struct{}](cfg.RecentQueriesCapacity)

	return &QueryMetrics{
		repositories:  make(map[string]int64),
		topTerms:      topTerms,
		zeroResults:   NewCircularBuffer[ZeroResultQuery](cfg.ZeroResultsCapacity),
		latencies:     make(map[LatencyBucket]int64),
		startTime:     time.Now(),
		recentQueries: recentQueries,
	}
}

// Record captures one search query.
func (m *QueryMetrics) Record(event QueryEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalQueries++
	m.repositories[event.Repository]++
	m.latencies[LatencyToBucket(event.Latency)]++

	for _, term := range ExtractTerms(event.Query) {
		count, _ := m.topTerms.Get(term)
		m.topTerms.Add(term, count+1)
	}

	if event.ResultCount == 0 {
		m.zeroResults.Add(ZeroResultQuery{Repository: event.Repository, Query: event.Query})
		m.zeroResultCount++
	}

	// repeats are per repository: the same text against another index is a new query
	key := hashQuery(event.Repository, event.Query)
	if _, seen := m.recentQueries.Get(key); seen {
		m.exactRepeatCount++
	}
	m.recentQueries.Add(key, struct{}{})
}

func hashQuery(repository, query string) string {
	normalized := repository + "\x00" + strings.ToLower(strings.TrimSpace(query))
	hash := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(hash[:16])
}

// Snapshot returns the current metrics.
func (m *QueryMetrics) Snapshot() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	repositories := make(map[string]int64, len(m.repositories))
	for k, v := range m.repositories {
		repositories[k] = v
	}

	latencies := make(map[LatencyBucket]int64, len(m.latencies))
	for k, v := range m.latencies {
		latencies[k] = v
	}

	topTerms := make([]TermCount, 0, m.topTerms.Len())
	for _, key := range m.topTerms.Keys() {
		if count, ok := m.topTerms.Peek(key); ok {
			topTerms = append(topTerms, TermCount{Term: key, Count: count})
		}
	}
	sort.Slice(topTerms, func(i, j int) bool {
		if topTerms[i].Count != topTerms[j].Count {
			return topTerms[i].Count > topTerms[j].Count
		}
		return topTerms[i].Term < topTerms[j].Term
	})

	var repeatRate float64
	if m.totalQueries > 0 {
		repeatRate = float64(m.exactRepeatCount) / float64(m.totalQueries)
	}

	return &Snapshot{
		TotalQueries:        m.totalQueries,
		ZeroResultCount:     m.zeroResultCount,
		RepositoryCounts:    repositories,
		TopTerms:            topTerms,
		ZeroResultQueries:   m.zeroResults.Items(),
		LatencyDistribution: latencies,
		ExactRepeatCount:    m.exactRepeatCount,
		ExactRepeatRate:     repeatRate,
		UniqueQueryCount:    int64(m.recentQueries.Len()),
		Since:               m.startTime,
	}
}
