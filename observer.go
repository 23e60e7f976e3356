package querykit

import "context"

// Result is a typed QueryResult. Data is the zero value until the entry has
// data of type T.
type Result[T any] struct {
	QueryResult
	Data T
}

func resultOf[T any](r QueryResult) Result[T] {
	d, _ := typed[T](r.Data)
	return Result[T]{QueryResult: r, Data: d}
}

// Observer is a typed view of a QueryObserver.
type Observer[T any] struct {
	obs     QueryObserver
	updates <-chan Result[T]
}

func newObserver[T any](obs QueryObserver) *Observer[T] {
	return &Observer[T]{obs: obs, updates: relay(obs.Updates(), resultOf[T])}
}

func (o *Observer[T]) Result() Result[T] { return resultOf[T](o.obs.Result()) }

// Updates delivers the latest result after every change and closes with
// the observer.
func (o *Observer[T]) Updates() <-chan Result[T] { return o.updates }

func (o *Observer[T]) Refetch(ctx context.Context) (Result[T], error) {
	r, err := o.obs.Refetch(ctx)
	return resultOf[T](r), err
}

func (o *Observer[T]) Close() { o.obs.Close() }

// PagesResult is a typed InfiniteResult.
type PagesResult[T any] struct {
	InfiniteResult
	Data Pages[T]
}

func pagesResultOf[T any](r InfiniteResult) PagesResult[T] {
	p, _ := pagesOf[T](r.Pages)
	return PagesResult[T]{InfiniteResult: r, Data: p}
}

// PagesObserver is a typed view of an InfiniteObserver.
type PagesObserver[T any] struct {
	obs     InfiniteObserver
	updates <-chan PagesResult[T]
}

func newPagesObserver[T any](obs InfiniteObserver) *PagesObserver[T] {
	return &PagesObserver[T]{obs: obs, updates: relay(obs.Updates(), pagesResultOf[T])}
}

func (o *PagesObserver[T]) Result() PagesResult[T] { return pagesResultOf[T](o.obs.Result()) }

func (o *PagesObserver[T]) Updates() <-chan PagesResult[T] { return o.updates }

func (o *PagesObserver[T]) FetchNextPage(ctx context.Context) (PagesResult[T], error) {
	r, err := o.obs.FetchNextPage(ctx)
	return pagesResultOf[T](r), err
}

func (o *PagesObserver[T]) FetchPreviousPage(ctx context.Context) (PagesResult[T], error) {
	r, err := o.obs.FetchPreviousPage(ctx)
	return pagesResultOf[T](r), err
}

func (o *PagesObserver[T]) Refetch(ctx context.Context) (PagesResult[T], error) {
	r, err := o.obs.Refetch(ctx)
	return pagesResultOf[T](r), err
}

func (o *PagesObserver[T]) Close() { o.obs.Close() }

// relay converts every value from src and keeps only the latest unread one.
// The returned channel closes after src does.
func relay[R, S any](src <-chan R, conv func(R) S) <-chan S {
	out := make(chan S, 1)
	go func() {
		defer close(out)
		for r := range src {
			publish(out, conv(r))
		}
	}()
	return out
}

// publish replaces any unread value in ch with v. ch must have a single
// sender.
func publish[S any](ch chan S, v S) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
