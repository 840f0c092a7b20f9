package gw

import (
	"context"
	"net"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/rtype/rtype-server/internal/errs"
	"github.com/rtype/rtype-server/internal/metrics"
)

// readChunk is the per-Read buffer size; frames are reassembled across
// reads by Session.Feed/DecodeAll, so this need not align with any frame
// boundary.
const readChunk = 4096

// Listener runs the stream accept loop: one goroutine per peer, reading
// and decoding frames, dispatching through a *GatewayCore, and writing
// back whatever the dispatch enqueued. A dispatch that fails with an
// errs.Protocol error evicts the peer.
type Listener struct {
	ln   net.Listener
	core *GatewayCore
	log  *zap.SugaredLogger

	nextHandle uint64
}

func NewListener(ln net.Listener, core *GatewayCore, log *zap.SugaredLogger) *Listener {
	tuneSocket(ln)
	return &Listener{ln: ln, core: core, log: log}
}

// Serve accepts connections until ctx is canceled or the listener is
// closed. It blocks; call it from its own goroutine.
func (l *Listener) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		l.ln.Close()
	}()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go l.handle(ctx, conn)
	}
}

func (l *Listener) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	handle := PeerHandle(atomic.AddUint64(&l.nextHandle, 1))
	session := l.core.Sessions.Open(handle)
	metrics.GWSessions.Inc()
	defer func() {
		l.core.Evict(ctx, handle, "connection closed")
		metrics.GWSessions.Dec()
	}()

	buf := make([]byte, readChunk)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if feedErr := session.Feed(buf[:n]); feedErr != nil {
				l.log.Infow("evicting peer", "peer", handle, "reason", feedErr)
				return
			}

			frames, decErr := session.DecodeAll()
			for _, f := range frames {
				if dispatchErr := l.core.HandleFrame(handle, f); dispatchErr != nil {
					if errs.Is(dispatchErr, errs.Protocol) {
						l.log.Infow("evicting peer", "peer", handle, "reason", dispatchErr)
						return
					}
					l.log.Debugw("dispatch error", "peer", handle, "err", dispatchErr)
				}
			}
			if decErr != nil {
				if session.OverQuota() {
					metrics.GWParseErrorEvictions.Inc()
					l.log.Infow("evicting peer", "peer", handle, "reason", "parse error quota")
					return
				}
			}

			if writeErr := l.flush(conn, session); writeErr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (l *Listener) flush(conn net.Conn, s *Session) error {
	for _, frame := range s.DrainOutbound() {
		if _, err := conn.Write(frame); err != nil {
			return err
		}
	}
	return nil
}
