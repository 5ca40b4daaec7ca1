package rpc

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Client issues calls over one connection and correlates replies by
// sequence number.
type Client struct {
	conn    net.Conn
	reader  *bufio.Reader
	seq     *atomic.Uint64
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[uint64]chan *Frame

	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.RWMutex
	err       error

	logger *zap.Logger
}

// Dial connects to addr and starts the client's receive loop.
func Dial(ctx context.Context, addr string, logger *zap.Logger) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewClient(conn, logger), nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		seq:     atomic.NewUint64(0),
		pending: make(map[uint64]chan *Frame),
		done:    make(chan struct{}),
		logger:  logger.With(zap.String("remote", conn.RemoteAddr().String())),
	}
	go c.receiveLoop()
	return c
}

// Call sends method with args and decodes the reply body into reply (which
// may be nil). If ctx ends first the call is abandoned: the request stays
// in flight on the backend and its late reply is dropped.
func (c *Client) Call(ctx context.Context, method string, args, reply any) error {
	var body cbor.RawMessage
	if args != nil {
		b, err := cbor.Marshal(args)
		if err != nil {
			return fmt.Errorf("encode %s arguments: %w", method, err)
		}
		body = b
	}

	seq := c.seq.Inc()
	ch := make(chan *Frame, 1)

	c.pendingMu.Lock()
	select {
	case <-c.done:
		c.pendingMu.Unlock()
		return c.closedErr()
	default:
	}
	c.pending[seq] = ch
	c.pendingMu.Unlock()

	c.writeMu.Lock()
	err := WriteFrame(c.conn, &Frame{Seq: seq, Kind: KindCall, Method: method, Body: body})
	c.writeMu.Unlock()
	if err != nil {
		c.forget(seq)
		return fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case f := <-ch:
		if f.Error != nil {
			return f.Error
		}
		if reply != nil && len(f.Body) > 0 {
			if err := cbor.Unmarshal(f.Body, reply); err != nil {
				return fmt.Errorf("decode %s reply: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		c.forget(seq)
		c.logger.Debug("call abandoned", zap.String("method", method), zap.Uint64("seq", seq))
		return ctx.Err()
	case <-c.done:
		return c.closedErr()
	}
}

// Close closes the connection. Pending calls fail with ErrClosed.
func (c *Client) Close() error {
	c.shutdown(ErrClosed)
	return c.conn.Close()
}

// Done is closed once the connection is closed or broken.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the reason the connection stopped, or nil while it is live.
func (c *Client) Err() error {
	c.errMu.RLock()
	defer c.errMu.RUnlock()
	return c.err
}

func (c *Client) receiveLoop() {
	for {
		f, err := ReadFrame(c.reader)
		if err != nil {
			c.shutdown(fmt.Errorf("%w: %v", ErrClosed, err))
			return
		}
		if f.Kind != KindReply {
			c.logger.Warn("ignoring non-reply frame", zap.String("method", f.Method))
			continue
		}

		c.pendingMu.Lock()
		ch, ok := c.pending[f.Seq]
		delete(c.pending, f.Seq)
		c.pendingMu.Unlock()

		if !ok {
			c.logger.Debug("dropping late reply", zap.Uint64("seq", f.Seq))
			continue
		}
		ch <- f
	}
}

func (c *Client) forget(seq uint64) {
	c.pendingMu.Lock()
	delete(c.pending, seq)
	c.pendingMu.Unlock()
}

func (c *Client) shutdown(reason error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.err = reason
		c.errMu.Unlock()

		c.pendingMu.Lock()
		close(c.done)
		c.pending = make(map[uint64]chan *Frame)
		c.pendingMu.Unlock()
	})
}

func (c *Client) closedErr() error {
	if err := c.Err(); err != nil {
		return err
	}
	return ErrClosed
}
