package rpc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vburojevic/dbgbridge/internal/domain"
)

type echoRequest struct {
	Text string `cbor:"1,keyasint"`
	N    int    `cbor:"2,keyasint"`
}

type echoReply struct {
	Text string `cbor:"1,keyasint"`
}

func startServer(t *testing.T, register func(s *Server)) (*Server, string) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := NewServer(nil)
	register(s)
	go func() { _ = s.Serve(l) }()
	t.Cleanup(func() { _ = s.Close() })
	return s, l.Addr().String()
}

func dial(t *testing.T, addr string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, addr, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := &Frame{Seq: 7, Kind: KindCall, Method: "ContextService.getContextInfo", Body: []byte{0xa0}}
	require.NoError(t, WriteFrame(&buf, in))

	out, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, in.Seq, out.Seq)
	assert.Equal(t, in.Kind, out.Kind)
	assert.Equal(t, in.Method, out.Method)
	assert.Equal(t, []byte(in.Body), []byte(out.Body))
	assert.Nil(t, out.Error)
}

func TestReadFrameRejectsOversizedFrame(t *testing.T) {
	buf := bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff})
	_, err := ReadFrame(buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds limit")
}

func TestCall(t *testing.T) {
	_, addr := startServer(t, func(s *Server) {
		s.Handle("Echo.say", Typed(func(_ context.Context, req echoRequest) (echoReply, error) {
			return echoReply{Text: fmt.Sprintf("%s x%d", req.Text, req.N)}, nil
		}))
		s.Handle("Echo.fail", Typed(func(_ context.Context, _ struct{}) (struct{}, error) {
			return struct{}{}, errors.New("no such context")
		}))
	})
	c := dial(t, addr)
	ctx := context.Background()

	t.Run("reply decoded", func(t *testing.T) {
		var reply echoReply
		require.NoError(t, c.Call(ctx, "Echo.say", echoRequest{Text: "hi", N: 2}, &reply))
		assert.Equal(t, "hi x2", reply.Text)
	})

	t.Run("application error is a backend rejection", func(t *testing.T) {
		err := c.Call(ctx, "Echo.fail", struct{}{}, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrBackendRejected)
		assert.Equal(t, "no such context", err.Error())

		var remote *RemoteError
		require.ErrorAs(t, err, &remote)
		assert.Equal(t, CodeApplication, remote.Code)
	})

	t.Run("unknown method", func(t *testing.T) {
		err := c.Call(ctx, "Echo.missing", nil, nil)
		var remote *RemoteError
		require.ErrorAs(t, err, &remote)
		assert.Equal(t, CodeUnknownMethod, remote.Code)
	})
}

func TestConcurrentCallsCorrelate(t *testing.T) {
	_, addr := startServer(t, func(s *Server) {
		s.Handle("Echo.say", Typed(func(_ context.Context, req echoRequest) (echoReply, error) {
			// Later requests answer first.
			time.Sleep(time.Duration(20-req.N) * time.Millisecond)
			return echoReply{Text: fmt.Sprint(req.N)}, nil
		}))
	})
	c := dial(t, addr)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var reply echoReply
			err := c.Call(context.Background(), "Echo.say", echoRequest{N: i}, &reply)
			assert.NoError(t, err)
			assert.Equal(t, fmt.Sprint(i), reply.Text)
		}(i)
	}
	wg.Wait()
}

func TestAbandonedCallDropsLateReply(t *testing.T) {
	release := make(chan struct{})
	_, addr := startServer(t, func(s *Server) {
		s.Handle("Echo.slow", Typed(func(_ context.Context, _ struct{}) (echoReply, error) {
			<-release
			return echoReply{Text: "late"}, nil
		}))
		s.Handle("Echo.say", Typed(func(_ context.Context, req echoRequest) (echoReply, error) {
			return echoReply{Text: req.Text}, nil
		}))
	})
	c := dial(t, addr)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.Call(ctx, "Echo.slow", struct{}{}, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)

	var reply echoReply
	require.NoError(t, c.Call(context.Background(), "Echo.say", echoRequest{Text: "after"}, &reply))
	assert.Equal(t, "after", reply.Text)
}

func TestBlockingHandlerDoesNotStallConnection(t *testing.T) {
	release := make(chan struct{})
	_, addr := startServer(t, func(s *Server) {
		s.Handle("Echo.block", Typed(func(ctx context.Context, _ struct{}) (struct{}, error) {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return struct{}{}, nil
		}))
		s.Handle("Echo.say", Typed(func(_ context.Context, req echoRequest) (echoReply, error) {
			return echoReply{Text: req.Text}, nil
		}))
	})
	c := dial(t, addr)

	blocked := make(chan error, 1)
	go func() { blocked <- c.Call(context.Background(), "Echo.block", struct{}{}, nil) }()

	var reply echoReply
	require.NoError(t, c.Call(context.Background(), "Echo.say", echoRequest{Text: "through"}, &reply))
	assert.Equal(t, "through", reply.Text)

	close(release)
	assert.NoError(t, <-blocked)
}

func TestServerCloseFailsPendingCalls(t *testing.T) {
	s, addr := startServer(t, func(s *Server) {
		s.Handle("Echo.block", Typed(func(ctx context.Context, _ struct{}) (struct{}, error) {
			<-ctx.Done()
			return struct{}{}, ctx.Err()
		}))
	})
	c := dial(t, addr)

	result := make(chan error, 1)
	go func() { result <- c.Call(context.Background(), "Echo.block", struct{}{}, nil) }()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Close())

	select {
	case err := <-result:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("call did not fail after server close")
	}

	<-c.Done()
	err := c.Call(context.Background(), "Echo.block", nil, nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCallAfterClose(t *testing.T) {
	_, addr := startServer(t, func(s *Server) {})
	c := dial(t, addr)
	require.NoError(t, c.Close())

	err := c.Call(context.Background(), "Echo.say", nil, nil)
	assert.ErrorIs(t, err, ErrClosed)
}
