// Command rtype-server runs the Gateway and the Game Server halves of the
// system in one process.
package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rtype/rtype-server/internal/config"
	"github.com/rtype/rtype-server/internal/console"
	"github.com/rtype/rtype-server/internal/errs"
	"github.com/rtype/rtype-server/internal/eventloop"
	"github.com/rtype/rtype-server/internal/gs"
	"github.com/rtype/rtype-server/internal/gw"
	"github.com/rtype/rtype-server/internal/logging"
	"github.com/rtype/rtype-server/internal/metrics"
	"github.com/rtype/rtype-server/internal/wire"
)

// exitStartupFailure is the process exit code for a failed boot sequence
// (an absent/invalid shared secret, an unbindable socket, ...).
const exitStartupFailure = 84

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "rtype-server:", err)
		os.Exit(exitStartupFailure)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	zl, err := logging.New(os.Getenv("RTYPE_DEBUG") != "")
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	defer zl.Sync()
	log := zl.Sugar()

	secret, err := gs.LoadSharedSecret()
	if err != nil {
		return fmt.Errorf("shared secret: %w", err)
	}

	metrics.MustRegister(prometheus.DefaultRegisterer)

	gwListener, err := net.Listen("tcp", cfg.GWBind)
	if err != nil {
		return fmt.Errorf("gateway bind %s: %w", cfg.GWBind, err)
	}

	gsAddr, err := net.ResolveUDPAddr("udp", cfg.GSBind)
	if err != nil {
		return fmt.Errorf("game server bind %s: %w", cfg.GSBind, err)
	}
	gsConn, err := net.ListenUDP("udp", gsAddr)
	if err != nil {
		return fmt.Errorf("game server bind %s: %w", cfg.GSBind, err)
	}

	gwCore := gw.NewGatewayCore(log.Named("gw"), 0)
	gsCore := gs.NewCore(gs.NewTransport(gsConn), noopGame{}, secret, log.Named("gs"))

	status := console.New(log.Named("console"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	installSignalHandler(cancel, log)

	metricsSrv := &http.Server{Addr: ":9090", Handler: promhttp.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warnw("metrics server stopped", "err", err)
		}
	}()

	// The embedded Game Server is, from the Gateway's point of view, just
	// another GS peer: it registers over the same TCP stream protocol a
	// standalone GS process would use, rather than reaching into gwCore's
	// registry directly. The Gateway's accept loop starts first so it can
	// answer the registration; registration then completes before the rest
	// of the event loop (the Game Server side, the status ticker, the
	// control channel) starts. The connection is held open for the
	// process's lifetime — closing it would make the Gateway evict the
	// registration.
	gwDone := make(chan error, 1)
	go func() {
		gwDone <- gw.NewListener(gwListener, gwCore, log.Named("gw")).Serve(ctx)
	}()

	gwLoopback := fmt.Sprintf("127.0.0.1:%d", gwListener.Addr().(*net.TCPAddr).Port)
	rawRegConn, err := registerWithGateway(gwLoopback, cfg.GSExternal, log.Named("gw-registration"))
	if err != nil {
		return fmt.Errorf("game server registration: %w", err)
	}
	defer rawRegConn.Close()
	// The status ticker (OCCUPANCY) and the control channel (JOIN replies)
	// both write to this connection from separate goroutines; net.Conn
	// gives no atomicity guarantee across concurrent Write calls, so
	// writes are serialized here.
	regConn := &syncConn{Conn: rawRegConn}

	loop := eventloop.New(log.Named("eventloop"))
	loop.Register("gw", func(ctx context.Context) error {
		return <-gwDone
	})
	loop.Register("gs", func(ctx context.Context) error {
		return gs.Serve(ctx, gsConn, gsCore, log.Named("gs"))
	})
	loop.Register("status", func(ctx context.Context) error {
		runStatusTicker(ctx, status, gwCore, gsCore, regConn)
		return nil
	})
	loop.Register("gw-control", func(ctx context.Context) error {
		return serveGSControlChannel(ctx, regConn, cfg.GSExternal, log.Named("gw-control"))
	})

	log.Infow("rtype-server starting",
		"gw_bind", cfg.GWBind, "gs_bind", cfg.GSBind, "gs_external", cfg.GSExternal)

	runErr := loop.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	if runErr != nil {
		return errs.Wrap(errs.Transport, runErr)
	}
	return nil
}

// runStatusTicker logs a periodic status report until ctx is canceled, and
// keeps the Gateway's view of this process's own occupancy current by
// re-sending OCCUPANCY over the same stream connection registerWithGateway
// opened. This is the read-only admin surface for an operator watching logs.
func runStatusTicker(ctx context.Context, status *console.Status, gwCore *gw.GatewayCore, gsCore *gs.Core, regConn net.Conn) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sessions := gsCore.Sessions.Count()
			status.Log(console.Report{
				GWSessions:          gwCore.Sessions.Count(),
				GWRegisteredServers: gwCore.Registry.Count(),
				GSAuthenticated:     sessions,
				GSFragmentBuffers:   gsCore.Reassembler.Count(),
			})

			occupancy := uint8(sessions)
			if sessions > 0xff {
				occupancy = 0xff
			}
			_, _ = regConn.Write(gw.Encode(0, gw.CmdOccupancy, []byte{occupancy})) // best-effort; next tick retries
		}
	}
}

// registerWithGateway dials the Gateway's stream listener as a Game Server
// peer and sends the CmdGS registration frame carrying externalAddr (the
// address other peers should be told to reach this Game Server on),
// blocking until GS_OK/GS_KO arrives. The returned connection must be kept
// open for as long as this process wants to stay registered: closing it
// makes the Gateway evict the registration (see GatewayCore.Evict).
func registerWithGateway(gwAddr, externalAddr string, log *zap.SugaredLogger) (net.Conn, error) {
	ip, port, err := parseHostPort(externalAddr)
	if err != nil {
		return nil, fmt.Errorf("gs-external: %w", err)
	}

	conn, err := net.Dial("tcp", gwAddr)
	if err != nil {
		return nil, fmt.Errorf("dial gateway %s: %w", gwAddr, err)
	}

	body := wire.WriteIP(nil, ip)
	body = wire.WriteUint16(body, port)
	if _, err := conn.Write(gw.Encode(0, gw.CmdGS, body)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send GS registration: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		conn.Close()
		return nil, err
	}
	reply := make([]byte, 5)
	if _, err := io.ReadFull(conn, reply); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read registration reply: %w", err)
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		conn.Close()
		return nil, err
	}

	f, _, err := gw.Decode(reply, gw.PeerGameServer)
	if err != nil || f == nil {
		conn.Close()
		return nil, fmt.Errorf("registration reply: malformed frame: %v", err)
	}
	switch f.Command {
	case gw.CmdGSOK:
		log.Infow("registered with gateway", "external", externalAddr)
		return conn, nil
	case gw.CmdGSKO:
		conn.Close()
		return nil, fmt.Errorf("gateway rejected GS registration for %s", externalAddr)
	default:
		conn.Close()
		return nil, fmt.Errorf("registration reply: unexpected command %d", f.Command)
	}
}

// parseHostPort splits a "host:port" endpoint into its wire representation:
// a net.IP (not necessarily 16 bytes yet — wire.WriteIP normalizes that)
// and a uint16 port.
func parseHostPort(addr string) (net.IP, uint16, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, 0, fmt.Errorf("%q: %w", addr, err)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, 0, fmt.Errorf("%q: not a valid IP", addr)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, 0, fmt.Errorf("%q: bad port: %w", addr, err)
	}
	return ip, uint16(port), nil
}

// serveGSControlChannel answers Gateway-forwarded CREATE frames on the
// registration connection with a GS-shaped JOIN reply routing the new
// game to externalAddr — the Game Server side of the CREATE flow whose
// Gateway side lives in GatewayCore.handleCreate/handleJoinFromGS. It
// blocks until ctx is canceled or the connection errors.
func serveGSControlChannel(ctx context.Context, conn net.Conn, externalAddr string, log *zap.SugaredLogger) error {
	ip, port, err := parseHostPort(externalAddr)
	if err != nil {
		return fmt.Errorf("gs-external: %w", err)
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	var nextGameID uint32
	var buf []byte
	chunk := make([]byte, 4096)
	for {
		n, readErr := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			for {
				f, consumed, decErr := gw.Decode(buf, gw.PeerGameServer)
				if decErr != nil {
					log.Warnw("control channel framing error", "err", decErr)
					buf = buf[1:]
					continue
				}
				if f == nil {
					break
				}
				buf = buf[consumed:]

				if f.Command != gw.CmdCreate {
					continue
				}
				nextGameID++
				gameID := nextGameID
				body := wire.WriteUint32(nil, gameID)
				body = wire.WriteIP(body, ip)
				body = wire.WriteUint16(body, port)
				if _, werr := conn.Write(gw.Encode(0, gw.CmdJoin, body)); werr != nil {
					return werr
				}
				log.Infow("created game", "game_id", gameID)
			}
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return nil
			}
			return readErr
		}
	}
}

// syncConn serializes Write calls across goroutines sharing one
// connection: net.Conn permits concurrent use but doesn't guarantee one
// goroutine's frame won't interleave with another's mid-write.
type syncConn struct {
	net.Conn
	mu sync.Mutex
}

func (c *syncConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.Write(b)
}

// noopGame is the simulation stub: the game simulation itself is an
// external collaborator out of scope for this service.
type noopGame struct{}

func (noopGame) HandleInput(gameID, clientID uint32, events []gs.InputEvent) {}
func (noopGame) HandleChat(gameID, clientID uint32, text string)             {}
func (noopGame) RequestResync(gameID, clientID uint32)                      {}

func installSignalHandler(cancel context.CancelFunc, log *zap.SugaredLogger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Infow("caught signal, shutting down", "signal", sig)
		cancel()
	}()
}
