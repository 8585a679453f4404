package relay

import (
	"errors"
	"io"
	"net"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Options tunes a Relay.
type Options struct {
	// HalfClose propagates an orderly EOF as a write shutdown on the other
	// endpoint instead of closing both endpoints, so the opposite direction
	// can keep draining.
	HalfClose bool

	// IdleTimeout ends the relay when neither direction has moved a byte for
	// this long. Zero disables it.
	IdleTimeout time.Duration

	// Pool supplies copy buffers. Nil allocates a default pool.
	Pool *BufferPool
}

// Stats reports what a Relay moved. The counts are diagnostic only.
type Stats struct {
	// Sent is the number of bytes copied from the client to the remote.
	Sent int64
	// Received is the number of bytes copied from the remote to the client.
	Received int64
	// Err is the first I/O error from either direction, if any. Errors caused
	// by the relay closing an endpoint itself are not reported.
	Err error
}

// Relay copies client→remote and remote→client concurrently and returns once
// both directions have stopped. Each direction stops on EOF, a read error or
// a write error, and immediately shuts down the endpoints it was using so
// the opposite direction is not left blocked. Both endpoints are fully
// closed when Relay returns.
func Relay(client, remote *Endpoint, opts Options) Stats {
	if opts.Pool == nil {
		opts.Pool = NewBufferPool(0)
	}
	r := &relayer{opts: opts}
	r.touch()

	var st Stats
	var g errgroup.Group
	g.Go(func() error {
		n, err := r.pump(remote, client)
		st.Sent = n
		r.finish(client, remote, err)
		return quiet(err)
	})
	g.Go(func() error {
		n, err := r.pump(client, remote)
		st.Received = n
		r.finish(remote, client, err)
		return quiet(err)
	})
	st.Err = g.Wait()

	_ = client.Close()
	_ = remote.Close()
	return st
}

type relayer struct {
	opts Options

	// lastActivity is the UnixNano time of the last successful read in
	// either direction.
	lastActivity atomic.Int64
}

func (r *relayer) touch() {
	r.lastActivity.Store(time.Now().UnixNano())
}

// pump copies src to dst until src reaches EOF (returning a nil error) or an
// error occurs. Every byte read is written before the next read.
func (r *relayer) pump(dst, src *Endpoint) (int64, error) {
	bp := r.opts.Pool.Get()
	defer r.opts.Pool.Put(bp)
	buf := *bp

	var written int64
	for {
		if r.opts.IdleTimeout > 0 {
			_ = src.SetReadDeadline(time.Now().Add(r.opts.IdleTimeout))
		}

		nr, rerr := src.Read(buf)
		if nr > 0 {
			r.touch()
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return written, nil
			}
			if r.activeElsewhere(rerr) {
				continue
			}
			return written, rerr
		}
	}
}

// activeElsewhere reports whether err is this direction's idle deadline
// firing while the other direction has been moving data.
func (r *relayer) activeElsewhere(err error) bool {
	if r.opts.IdleTimeout <= 0 || !errors.Is(err, os.ErrDeadlineExceeded) {
		return false
	}
	last := time.Unix(0, r.lastActivity.Load())
	return time.Since(last) < r.opts.IdleTimeout
}

func (r *relayer) finish(src, dst *Endpoint, err error) {
	if r.opts.HalfClose && err == nil {
		_ = dst.CloseWrite()
		_ = src.CloseRead()
		return
	}
	_ = src.Close()
	_ = dst.Close()
}

func quiet(err error) error {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return nil
	}
	return err
}
