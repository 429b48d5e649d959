package realtime

import (
	"context"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog"

	"github.com/nhle/portal/internal/live"
)

// Feed adapts a Source to live.Feed[T], decoding wire records into T.
type Feed[T live.Record] struct {
	src Source
	log zerolog.Logger
}

// NewFeed returns a typed feed over src.
func NewFeed[T live.Record](src Source, log zerolog.Logger) *Feed[T] {
	return &Feed[T]{src: src, log: log}
}

// Subscribe calls onInsert with every record inserted for f.
func (f *Feed[T]) Subscribe(ctx context.Context, filter live.Filter, onInsert func(T)) (live.Subscription, error) {
	return f.src.Subscribe(ctx, filter, func(ev Event) {
		rec, ok := f.decode(ev)
		if !ok {
			return
		}
		onInsert(rec)
	})
}

func (f *Feed[T]) decode(ev Event) (T, bool) {
	var zero T

	switch r := ev.Record.(type) {
	case T:
		return r, true
	case *T:
		if r == nil {
			return zero, false
		}
		return *r, true
	case cbor.RawMessage:
		var rec T
		if err := Unmarshal(r, &rec); err != nil {
			f.log.Warn().Err(err).Str("table", ev.Table).Msg("undecodable change-feed record")
			return zero, false
		}
		return rec, true
	default:
		f.log.Warn().Str("table", ev.Table).Msgf("unexpected change-feed record %T", ev.Record)
		return zero, false
	}
}
