package gs

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
)

// udpTransport adapts *net.UDPConn to the Transport interface Core depends
// on, keeping Core free of any direct socket dependency.
type udpTransport struct {
	conn *net.UDPConn
}

func (t udpTransport) WriteTo(addr *net.UDPAddr, data []byte) error {
	_, err := t.conn.WriteToUDP(data, addr)
	return err
}

// tickInterval is how often Core.Tick runs: the retransmit sweep, the
// auth-challenge reaper, the fragment reaper and the PING emitter.
// PingInterval separately bounds how often PING itself fires.
const tickInterval = 100 * time.Millisecond

// maxDatagramSize is sized one byte over MaxPacketSize so an oversize
// read (a peer ignoring the MTU) is detectable rather than silently
// truncated into a corrupt frame.
const maxDatagramSize = MaxPacketSize + 1

// Serve runs the GS datagram side: a read loop decoding and dispatching
// inbound packets through core, plus a ticker goroutine driving the
// periodic sweeps. It blocks until ctx is canceled or the socket errors.
func Serve(ctx context.Context, conn *net.UDPConn, core *Core, log *zap.SugaredLogger) error {
	go func() {
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				core.Tick(now)
			}
		}
	}()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		core.HandleDatagram(addr, payload, time.Now())
	}
}

// NewTransport wraps conn as a Transport for NewCore.
func NewTransport(conn *net.UDPConn) Transport {
	return udpTransport{conn: conn}
}
