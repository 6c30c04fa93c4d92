package query

import (
	"context"
	"time"
)

// Key identifies a query. Two keys with the same Hash address the same cache entry.
type Key interface {
	Hash() string
}

type QueryFunc func(ctx context.Context) (any, error)

type Status string

const (
	// StatusIdle means there is no data and nothing is being fetched, e.g. while disabled.
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

type FetchStatus string

const (
	FetchStatusIdle     FetchStatus = "idle"
	FetchStatusFetching FetchStatus = "fetching"
)

// State is the cached state of one query. Nil Data is treated as "no data".
type State struct {
	Data              any
	DataUpdatedAt     time.Time
	Error             error
	ErrorUpdatedAt    time.Time
	FetchFailureCount int
	FetchStatus       FetchStatus
	IsInvalidated     bool
	Status            Status
}

func (s *State) hasData() bool {
	return s.Data != nil
}

// isStale reports whether data older than staleTime, invalidated, hydrated or missing.
func (s *State) isStale(staleTime time.Duration) bool {
	if !s.hasData() || s.IsInvalidated || s.DataUpdatedAt.IsZero() {
		return true
	}
	return time.Since(s.DataUpdatedAt) >= staleTime
}

// Result is what an Observer reports for its current query.
type Result struct {
	Data              any
	DataUpdatedAt     time.Time
	Error             error
	ErrorUpdatedAt    time.Time
	FetchFailureCount int
	FetchStatus       FetchStatus
	Status            Status
	IsStale           bool
	// IsPreviousData is set when Data belongs to the previous key, see Options.KeepPreviousData.
	IsPreviousData bool
}

func (r Result) IsFetching() bool { return r.FetchStatus == FetchStatusFetching }
func (r Result) IsLoading() bool  { return r.Status == StatusLoading }
func (r Result) IsSuccess() bool  { return r.Status == StatusSuccess }
func (r Result) IsError() bool    { return r.Status == StatusError }
func (r Result) IsIdle() bool     { return r.Status == StatusIdle }

type Options struct {
	Key Key
	Fn  QueryFunc

	// Enabled false makes an observer inert: it never fetches on its own.
	Enabled bool
	// StaleTime is how long fetched data counts as fresh. Zero uses the client default.
	StaleTime time.Duration
	// CacheTime is how long a query without observers is kept. Zero uses the client default.
	CacheTime time.Duration

	// IsDataEqual, when set, decides whether fetched data replaces the cached data at all.
	IsDataEqual func(prev, next any) bool
	// StructuralSharing merges fetched data into cached data. Nil uses DefaultStructuralSharing.
	StructuralSharing func(prev, next any) any
	KeepPreviousData  bool

	// Dehydrate and Hydrate convert data to and from its persisted form. Data is only persisted
	// when both are set and the client has a persister.
	Dehydrate func(data any) ([]byte, error)
	Hydrate   func(raw []byte) (any, error)

	OnSuccess func(data any)
	OnError   func(err error)
	OnSettled func(data any, err error)
}

func (o *Options) persistable() bool {
	return o.Dehydrate != nil && o.Hydrate != nil
}
