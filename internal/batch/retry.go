package batch

import (
	"errors"

	"pricewatch/internal/extract"
	"pricewatch/internal/fetch"
	"pricewatch/internal/store"
)

// Category buckets a failed URL for independent retry accounting.
type Category string

const (
	CategoryNetwork Category = "network_error"
	CategoryParse   Category = "parse_error"
	CategoryDB      Category = "db_error"
	CategoryBatch   Category = "batch_error"
)

// Classify maps an error onto its retry category using the typed
// taxonomy each layer exposes, never the error text.
func Classify(err error) Category {
	var persistErr *store.PersistError
	if errors.As(err, &persistErr) {
		return CategoryDB
	}

	var netErr *fetch.NetworkError
	var navErr *fetch.NavigationError
	if errors.As(err, &netErr) || errors.As(err, &navErr) {
		return CategoryNetwork
	}

	var extractErr *extract.ExtractionError
	var parseErr *extract.ParsingError
	var validErr *extract.ValidationError
	if errors.As(err, &extractErr) || errors.As(err, &parseErr) || errors.As(err, &validErr) {
		return CategoryParse
	}

	return CategoryParse
}

// retryQueue tracks failed URLs per category with per-category retry
// counters bounded by maxRetries.
type retryQueue struct {
	urls    map[Category][]string
	retries map[Category]int
}

func newRetryQueue() *retryQueue {
	return &retryQueue{
		urls:    make(map[Category][]string),
		retries: make(map[Category]int),
	}
}

func (q *retryQueue) add(cat Category, url string) {
	q.urls[cat] = append(q.urls[cat], url)
}

func (q *retryQueue) addAll(cat Category, urls []string) {
	q.urls[cat] = append(q.urls[cat], urls...)
}

// take removes and returns a category's pending URLs.
func (q *retryQueue) take(cat Category) []string {
	urls := q.urls[cat]
	delete(q.urls, cat)
	return urls
}

func (q *retryQueue) pending() int {
	total := 0
	for _, urls := range q.urls {
		total += len(urls)
	}
	return total
}

func (q *retryQueue) categories() []Category {
	out := make([]Category, 0, len(q.urls))
	for _, cat := range []Category{CategoryNetwork, CategoryParse, CategoryDB, CategoryBatch} {
		if len(q.urls[cat]) > 0 {
			out = append(out, cat)
		}
	}
	return out
}
