package history

import (
	"strings"
)

// SortOrder defines how results should be ordered when listing records.
type SortOrder int

const (
	// SortByExecutedDesc orders records by ExecutedAt descending (most recent first).
	SortByExecutedDesc SortOrder = iota
	// SortByExecutedAsc orders records by ExecutedAt ascending (oldest first).
	SortByExecutedAsc
)

// ListOptions controls how records are selected when querying the store.
type ListOptions struct {
	Limit       int
	Offset      int
	Strategies  []string
	SuccessOnly *bool
	ExecutedGTE int64
	ExecutedLTE int64
	Order       SortOrder
}

// applyDefaults sanitizes the options and fills in default values.
func (opts *ListOptions) applyDefaults() {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.Limit > 100 {
		opts.Limit = 100
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	if opts.Strategies != nil {
		opts.Strategies = normalizeStrategies(opts.Strategies)
	}
	if opts.Order != SortByExecutedAsc {
		opts.Order = SortByExecutedDesc
	}
}

// ListOption mutates ListOptions.
type ListOption func(*ListOptions)

// WithLimit limits the number of records returned.
func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) {
		opts.Limit = limit
	}
}

// WithOffset skips the first n matching records before returning results.
func WithOffset(offset int) ListOption {
	return func(opts *ListOptions) {
		opts.Offset = offset
	}
}

// WithStrategies filters records by the originating strategy names.
func WithStrategies(strategies ...string) ListOption {
	return func(opts *ListOptions) {
		opts.Strategies = append(opts.Strategies[:0], strategies...)
	}
}

// WithSuccess filters records by execution outcome.
func WithSuccess(success bool) ListOption {
	return func(opts *ListOptions) {
		opts.SuccessOnly = new(bool)
		*opts.SuccessOnly = success
	}
}

// WithExecutedSince filters records executed at or after the provided unix time.
func WithExecutedSince(ts int64) ListOption {
	return func(opts *ListOptions) {
		if ts < 0 {
			ts = 0
		}
		opts.ExecutedGTE = ts
	}
}

// WithExecutedUntil filters records executed at or before the provided unix time.
func WithExecutedUntil(ts int64) ListOption {
	return func(opts *ListOptions) {
		if ts < 0 {
			ts = 0
		}
		opts.ExecutedLTE = ts
	}
}

// WithSortOrder changes the returned order of records.
func WithSortOrder(order SortOrder) ListOption {
	return func(opts *ListOptions) {
		opts.Order = order
	}
}

// buildListOptions applies option functions on top of defaults.
func buildListOptions(opts []ListOption) ListOptions {
	options := ListOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.applyDefaults()
	return options
}

func normalizeStrategies(input []string) []string {
	if len(input) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(input))
	result := make([]string, 0, len(input))
	for _, strategy := range input {
		strategy = strings.TrimSpace(strategy)
		if strategy == "" {
			continue
		}
		if _, ok := seen[strategy]; ok {
			continue
		}
		seen[strategy] = struct{}{}
		result = append(result, strategy)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
