package result

import (
	"context"
	"errors"
	"io"
	"sync"
)

// ErrConcatSealed is returned when a source is added to a sealed ConcatStream.
var ErrConcatSealed = errors.New("result:concat - concat stream is sealed")

// ConcatStream joins an open-ended sequence of source streams into one.
// Sources can be added while the stream is being consumed; Next blocks
// until a source is available or the stream has been sealed.
type ConcatStream struct {
	mu      sync.Mutex
	pending []Stream
	sealed  bool
	closed  bool
	// changed is closed and replaced whenever pending or sealed changes.
	changed chan struct{}

	current Stream
}

// NewConcatStream creates an empty, unsealed ConcatStream.
func NewConcatStream() *ConcatStream {
	return &ConcatStream{changed: make(chan struct{})}
}

// Add queues s after the sources already added.
func (c *ConcatStream) Add(s Stream) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sealed || c.closed {
		return ErrConcatSealed
	}
	c.pending = append(c.pending, s)
	c.notifyLocked()
	return nil
}

// Seal signals that no more sources will be added. Next returns io.EOF
// once every queued source is drained.
func (c *ConcatStream) Seal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sealed {
		return
	}
	c.sealed = true
	c.notifyLocked()
}

func (c *ConcatStream) notifyLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}

// Next returns the next item of the current source, moving on to the
// following source when the current one is exhausted.
func (c *ConcatStream) Next(ctx context.Context) (any, error) {
	for {
		if c.current != nil {
			item, err := c.current.Next(ctx)
			if err == io.EOF {
				c.current.Close()
				c.current = nil
				continue
			}
			return item, err
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, io.EOF
		}
		if len(c.pending) > 0 {
			c.current = c.pending[0]
			c.pending = c.pending[1:]
			c.mu.Unlock()
			continue
		}
		if c.sealed {
			c.mu.Unlock()
			return nil, io.EOF
		}
		changed := c.changed
		c.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close seals the stream and closes every source, consumed or not.
// It must not run concurrently with Next.
func (c *ConcatStream) Close() error {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.closed = true
	if !c.sealed {
		c.sealed = true
		c.notifyLocked()
	}
	c.mu.Unlock()

	var errs []error
	if c.current != nil {
		errs = append(errs, c.current.Close())
		c.current = nil
	}
	for _, s := range pending {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
