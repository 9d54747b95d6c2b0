package result

import (
	"context"
	"io"
)

// Stream yields the items of one named result array, one at a time.
// Next returns io.EOF once the stream is exhausted. Close releases the
// underlying resource and may be called at any point, more than once.
type Stream interface {
	Next(ctx context.Context) (any, error)
	Close() error
}

// SliceStream is a Stream over an in-memory slice.
type SliceStream struct {
	items []any
	pos   int
}

// NewSliceStream returns a Stream yielding items in order.
func NewSliceStream(items ...any) *SliceStream {
	return &SliceStream{items: items}
}

// Next returns the next item, or io.EOF.
func (s *SliceStream) Next(ctx context.Context) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.items) {
		return nil, io.EOF
	}
	item := s.items[s.pos]
	s.pos++
	return item, nil
}

// Close drops the remaining items.
func (s *SliceStream) Close() error {
	s.pos = len(s.items)
	return nil
}

// StreamFunc adapts a generator function to a Stream.
type StreamFunc func(ctx context.Context) (any, error)

// Next calls f.
func (f StreamFunc) Next(ctx context.Context) (any, error) {
	return f(ctx)
}

// Close is a no-op.
func (f StreamFunc) Close() error {
	return nil
}
