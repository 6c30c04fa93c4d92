package query

import (
	"context"
	"sync"
	"time"
)

// Observer follows one query at a time and reports its Result to subscribers. Changing the key
// through SetOptions moves the observer to another query.
type Observer struct {
	client *Client

	mu         sync.Mutex
	opts       *Options
	query      *Query
	prevData   any
	listeners  map[int]func(Result)
	nextId     int
	staleTimer *time.Timer
	closed     bool
}

// Watch creates an observer for opts. An enabled observer fetches right away when its query has
// no fresh data.
func (c *Client) Watch(opts Options) *Observer {
	o := &Observer{
		client:    c,
		opts:      c.withDefaults(opts),
		listeners: make(map[int]func(Result)),
	}
	o.query = c.build(o.opts)
	o.query.addObserver(o, o.opts)

	if o.shouldFetch() {
		o.fetchInBackground()
	}
	o.scheduleStaleRefetch()
	return o
}

// Result computes the current result of the observed query.
func (o *Observer) Result() Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.resultLocked()
}

func (o *Observer) resultLocked() Result {
	st := o.query.snapshot()
	r := Result{
		Data:              st.Data,
		DataUpdatedAt:     st.DataUpdatedAt,
		Error:             st.Error,
		ErrorUpdatedAt:    st.ErrorUpdatedAt,
		FetchFailureCount: st.FetchFailureCount,
		FetchStatus:       st.FetchStatus,
		Status:            st.Status,
		IsStale:           st.isStale(o.opts.StaleTime),
	}
	if !st.hasData() && o.opts.KeepPreviousData && o.prevData != nil {
		r.Data = o.prevData
		r.IsPreviousData = true
		r.Status = StatusSuccess
	}
	return r
}

// Subscribe registers fn to be called with every new result. Calls happen outside any lock, on
// the goroutine that changed the query.
func (o *Observer) Subscribe(fn func(Result)) (unsubscribe func()) {
	o.mu.Lock()
	id := o.nextId
	o.nextId++
	o.listeners[id] = fn
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.listeners, id)
			o.mu.Unlock()
		})
	}
}

// SetOptions replaces the options. A new key moves the observer to that key's query; with
// KeepPreviousData the old query's data is reported until the new one has its own.
func (o *Observer) SetOptions(opts Options) {
	o.UpdateOptions(opts)()
}

// UpdateOptions is SetOptions without notifying subscribers. The returned emit reports the
// current result to them and may be called once the caller released its own locks.
func (o *Observer) UpdateOptions(opts Options) (emit func()) {
	next := o.client.withDefaults(opts)

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return func() {}
	}
	prevOpts := o.opts
	prevQuery := o.query
	o.opts = next
	keyChanged := next.Key.Hash() != prevQuery.hash
	if keyChanged {
		if data := prevQuery.snapshot().Data; data != nil {
			o.prevData = data
		}
		o.query = o.client.build(next)
	}
	query := o.query
	o.mu.Unlock()

	if keyChanged {
		query.addObserver(o, next)
		prevQuery.removeObserver(o)
	} else {
		query.updateObserver(o, next)
	}

	becameEnabled := next.Enabled && !prevOpts.Enabled
	if (keyChanged || becameEnabled) && o.shouldFetch() {
		o.fetchInBackground()
	}
	o.scheduleStaleRefetch()
	return o.emit
}

// Refetch fetches the observed query even when the observer is disabled and waits for the result.
func (o *Observer) Refetch(ctx context.Context) (Result, error) {
	o.mu.Lock()
	query, opts := o.query, o.opts
	o.mu.Unlock()

	query.addWaiter()
	_, err := query.fetch(ctx, opts)
	query.removeWaiter()
	return o.Result(), err
}

// Close detaches the observer. A fetch that only this observer was waiting for is cancelled.
func (o *Observer) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	query := o.query
	o.listeners = map[int]func(Result){}
	if o.staleTimer != nil {
		o.staleTimer.Stop()
		o.staleTimer = nil
	}
	o.mu.Unlock()

	query.removeObserver(o)
}

func (o *Observer) shouldFetch() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || !o.opts.Enabled {
		return false
	}
	st := o.query.snapshot()
	return st.FetchStatus != FetchStatusFetching && st.isStale(o.opts.StaleTime)
}

func (o *Observer) fetchInBackground() {
	o.mu.Lock()
	query, opts := o.query, o.opts
	o.mu.Unlock()
	go query.fetch(o.client.appCtx, opts)
}

// scheduleStaleRefetch refetches once the data goes stale, when a positive StaleTime is set.
func (o *Observer) scheduleStaleRefetch() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.staleTimer != nil {
		o.staleTimer.Stop()
		o.staleTimer = nil
	}
	if o.closed || !o.opts.Enabled || o.opts.StaleTime <= 0 {
		return
	}
	st := o.query.snapshot()
	if !st.hasData() || st.DataUpdatedAt.IsZero() {
		return
	}
	wait := time.Until(st.DataUpdatedAt.Add(o.opts.StaleTime))
	if wait < 0 {
		wait = 0
	}
	o.staleTimer = time.AfterFunc(wait, func() {
		if o.shouldFetch() {
			o.fetchInBackground()
		}
	})
}

func (o *Observer) onQueryUpdate(q *Query, evt event) {
	o.mu.Lock()
	if o.closed || o.query != q {
		o.mu.Unlock()
		return
	}
	opts := o.opts
	if evt.kind == eventSuccess || evt.kind == eventSetData {
		o.prevData = nil
	}
	o.mu.Unlock()

	if opts.Enabled {
		switch evt.kind {
		case eventSuccess:
			if opts.OnSuccess != nil {
				opts.OnSuccess(evt.data)
			}
			if opts.OnSettled != nil {
				opts.OnSettled(evt.data, nil)
			}
		case eventError:
			if opts.OnError != nil {
				opts.OnError(evt.err)
			}
			if opts.OnSettled != nil {
				opts.OnSettled(nil, evt.err)
			}
		}
	}
	if evt.kind == eventSuccess || evt.kind == eventSetData {
		o.scheduleStaleRefetch()
	}
	o.emit()
}

func (o *Observer) emit() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	result := o.resultLocked()
	listeners := make([]func(Result), 0, len(o.listeners))
	for _, fn := range o.listeners {
		listeners = append(listeners, fn)
	}
	o.mu.Unlock()

	for _, fn := range listeners {
		fn(result)
	}
}
