package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/aptpay/defi-engine/internal/model"
)

// Redis keys and channels.
const (
	RecentKey      = "defi:journal:recent"
	QuotesKey      = "defi:quotes"
	QuotesChannel  = "defi:quotes"
	JournalChannel = "defi:journal"
)

// CachedJournal wraps a primary Journal (PostgreSQL or memory) with a
// capped Redis list of the most recent entries. Writes go to the primary
// first; unfiltered reads that fit in the cap are served from Redis.
type CachedJournal struct {
	primary Journal
	rdb     *redis.Client
	size    int64
}

// NewCachedJournal keeps the newest size entries in Redis.
func NewCachedJournal(primary Journal, rdb *redis.Client, size int) *CachedJournal {
	if size <= 0 {
		size = 100
	}
	return &CachedJournal{
		primary: primary,
		rdb:     rdb,
		size:    int64(size),
	}
}

// --- Write-through (write to primary, push to cache) ---

func (s *CachedJournal) Append(ctx context.Context, e model.JournalEntry) error {
	if err := s.primary.Append(ctx, e); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil
	}
	pipe := s.rdb.TxPipeline()
	pipe.LPush(ctx, RecentKey, data)
	pipe.LTrim(ctx, RecentKey, 0, s.size-1)
	if _, err := pipe.Exec(ctx); err != nil {
		// The primary has the entry; drop the cache so it cannot serve a
		// list with a gap.
		s.rdb.Del(ctx, RecentKey)
		slog.Warn("journal cache push failed", "entry_id", e.ID, "err", err)
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedJournal) List(ctx context.Context, f Filter) ([]model.JournalEntry, error) {
	if f.Kind == "" && f.Symbol == "" && f.Limit > 0 && int64(f.Limit) <= s.size {
		if entries, ok := s.recent(ctx, int64(f.Limit)); ok {
			return entries, nil
		}
	}
	return s.primary.List(ctx, f)
}

// recent reads up to n cached entries. ok is false on a miss or when the
// cache holds fewer entries than requested and the primary may have more.
func (s *CachedJournal) recent(ctx context.Context, n int64) ([]model.JournalEntry, bool) {
	raw, err := s.rdb.LRange(ctx, RecentKey, 0, n-1).Result()
	if err != nil || int64(len(raw)) < n {
		return nil, false
	}
	entries := make([]model.JournalEntry, 0, len(raw))
	for _, item := range raw {
		var e model.JournalEntry
		if json.Unmarshal([]byte(item), &e) != nil {
			return nil, false
		}
		entries = append(entries, e)
	}
	return entries, true
}

// Publisher fans quotes and journal entries out over Redis pub/sub and
// keeps the latest quote per symbol in a hash.
type Publisher struct {
	rdb *redis.Client
}

// NewPublisher creates a Redis publisher.
func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb}
}

// PublishQuotes stores each quote under QuotesKey and publishes the batch
// on QuotesChannel.
func (p *Publisher) PublishQuotes(ctx context.Context, quotes []model.Quote) error {
	batch, err := json.Marshal(quotes)
	if err != nil {
		return err
	}
	pipe := p.rdb.Pipeline()
	for _, q := range quotes {
		data, err := json.Marshal(q)
		if err != nil {
			return err
		}
		pipe.HSet(ctx, QuotesKey, q.Symbol, data)
	}
	pipe.Publish(ctx, QuotesChannel, batch)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish quotes: %w", err)
	}
	return nil
}

// PublishEntry publishes e on JournalChannel.
func (p *Publisher) PublishEntry(ctx context.Context, e model.JournalEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := p.rdb.Publish(ctx, JournalChannel, data).Err(); err != nil {
		return fmt.Errorf("publish journal entry %s: %w", e.ID, err)
	}
	return nil
}
