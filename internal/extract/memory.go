package extract

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"log/slog"

	"github.com/redis/go-redis/v9"
)

type memKey struct {
	Domain string
	Field  Field
}

// SelectorStat tracks one selector's learned track record for a
// (domain, field) pair.
type SelectorStat struct {
	Selector string
	Success  int
	Failure  int
}

// Confidence is the learned success share, zero until the first try.
func (s SelectorStat) Confidence() float64 {
	total := s.Success + s.Failure
	if total == 0 {
		return 0
	}
	return float64(s.Success) / float64(total)
}

// SelectorMemory is the adaptive half of selector resolution: every
// attempt feeds back into per-domain per-field rankings, optionally
// persisted to redis so learning survives restarts.
type SelectorMemory struct {
	mu    sync.Mutex
	stats map[memKey]map[string]*SelectorStat
	rdb   *redis.Client
}

// NewSelectorMemory builds the memory. redisURL may be empty, leaving
// the memory purely in-process; a malformed URL is logged and treated
// the same way.
func NewSelectorMemory(redisURL string) *SelectorMemory {
	m := &SelectorMemory{stats: make(map[memKey]map[string]*SelectorStat)}
	if redisURL != "" {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			slog.Warn("selector memory redis unavailable", "error", err)
		} else {
			m.rdb = redis.NewClient(opt)
		}
	}
	return m
}

func redisKey(k memKey) string {
	return fmt.Sprintf("pricewatch:selectors:%s:%s", k.Domain, k.Field)
}

// RecordSuccess increments a selector's success count and persists the
// new tally.
func (m *SelectorMemory) RecordSuccess(ctx context.Context, domain string, field Field, selector string) {
	m.record(ctx, domain, field, selector, true)
}

// RecordFailure increments a selector's failure count, demoting it in
// future rankings.
func (m *SelectorMemory) RecordFailure(ctx context.Context, domain string, field Field, selector string) {
	m.record(ctx, domain, field, selector, false)
}

func (m *SelectorMemory) record(ctx context.Context, domain string, field Field, selector string, success bool) {
	if selector == "" {
		return
	}
	k := memKey{Domain: domain, Field: field}

	m.mu.Lock()
	bysel, ok := m.stats[k]
	if !ok {
		bysel = make(map[string]*SelectorStat)
		m.stats[k] = bysel
	}
	st, ok := bysel[selector]
	if !ok {
		st = &SelectorStat{Selector: selector}
		bysel[selector] = st
	}
	if success {
		st.Success++
	} else {
		st.Failure++
	}
	succ, fail := st.Success, st.Failure
	m.mu.Unlock()

	if m.rdb != nil {
		val := strconv.Itoa(succ) + ":" + strconv.Itoa(fail)
		if err := m.rdb.HSet(ctx, redisKey(k), selector, val).Err(); err != nil {
			slog.Debug("selector memory persist failed", "domain", domain, "field", field, "error", err)
		}
	}
}

// Top returns up to k selectors for (domain, field) ranked by learned
// confidence, breaking ties by total successes. Selectors that have
// only ever failed are excluded.
func (m *SelectorMemory) Top(ctx context.Context, domain string, field Field, k int) []string {
	if k <= 0 {
		return nil
	}
	key := memKey{Domain: domain, Field: field}

	m.mu.Lock()
	_, ok := m.stats[key]
	m.mu.Unlock()

	if !ok && m.rdb != nil {
		m.hydrate(ctx, key)
	}

	m.mu.Lock()
	bysel := m.stats[key]
	ranked := make([]SelectorStat, 0, len(bysel))
	for _, st := range bysel {
		if st.Success > 0 {
			ranked = append(ranked, *st)
		}
	}
	m.mu.Unlock()

	if len(ranked) == 0 {
		return nil
	}

	sort.Slice(ranked, func(i, j int) bool {
		ci, cj := ranked[i].Confidence(), ranked[j].Confidence()
		if ci != cj {
			return ci > cj
		}
		return ranked[i].Success > ranked[j].Success
	})

	if len(ranked) > k {
		ranked = ranked[:k]
	}
	out := make([]string, len(ranked))
	for i, st := range ranked {
		out[i] = st.Selector
	}
	return out
}

// hydrate pulls a (domain, field) hash from redis into the in-process
// map. Called once per key on first read miss.
func (m *SelectorMemory) hydrate(ctx context.Context, k memKey) {
	vals, err := m.rdb.HGetAll(ctx, redisKey(k)).Result()
	if err != nil {
		slog.Debug("selector memory hydrate failed", "domain", k.Domain, "field", k.Field, "error", err)
		return
	}

	bysel := make(map[string]*SelectorStat, len(vals))
	for sel, raw := range vals {
		parts := strings.SplitN(raw, ":", 2)
		if len(parts) != 2 {
			continue
		}
		succ, err1 := strconv.Atoi(parts[0])
		fail, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil {
			continue
		}
		bysel[sel] = &SelectorStat{Selector: sel, Success: succ, Failure: fail}
	}

	m.mu.Lock()
	if _, exists := m.stats[k]; !exists {
		m.stats[k] = bysel
	}
	m.mu.Unlock()
}

// Close releases the redis connection when one was configured.
func (m *SelectorMemory) Close() error {
	if m.rdb != nil {
		return m.rdb.Close()
	}
	return nil
}
