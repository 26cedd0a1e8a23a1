// Command echosrv is a minimal loopback server exercising the Acceptor and
// Session end to end: it answers benchmark Requests with Responses and Echo
// requests with EchoResults, and it answers any other frame verbatim.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ringio/sessionkit/acceptor"
	"github.com/ringio/sessionkit/bench/wireproto"
	"github.com/ringio/sessionkit/internal/logging"
	"github.com/ringio/sessionkit/iosock"
	"github.com/ringio/sessionkit/neterr"
	"github.com/ringio/sessionkit/reactor"
	"github.com/ringio/sessionkit/session"
	"github.com/ringio/sessionkit/wire"
)

// Cmd holds the parsed CLI flags.
type Cmd struct {
	Host    string
	Port    uint16
	Verbose bool
}

var cmd Cmd

var rootCmd = &cobra.Command{
	Use:   "echosrv",
	Short: "Run a loopback session server for benchmark and echo scenarios",
	Run: func(_ *cobra.Command, _ []string) {
		if err := run(cmd); err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.Flags().StringVar(&cmd.Host, "host", "127.0.0.1", "listen address")
	rootCmd.Flags().Uint16Var(&cmd.Port, "port", 9000, "listen port")
	rootCmd.Flags().BoolVar(&cmd.Verbose, "verbose", false, "enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd Cmd) error {
	log, err := logging.New(cmd.Verbose)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	rct := reactor.New(reactor.WithLogger(log))
	if err := rct.Start(8); err != nil {
		return fmt.Errorf("failed to start reactor: %w", err)
	}
	defer rct.Stop()

	factory := func(sock *iosock.Socket) *session.Session {
		return session.New(sock, rct, session.Callbacks{
			OnPacket: handlePacket,
			OnError: func(_ *session.Session, kind neterr.Kind, detail error) {
				log.Warnw("session error", "kind", kind.String(), "detail", detail)
			},
		}, nil)
	}

	addr := fmt.Sprintf("%s:%d", cmd.Host, cmd.Port)
	a, err := acceptor.Listen(addr, rct, factory, nil, func(s *session.Session) {
		log.Infow("accepted", "session", s.ID(), "remote", s.Socket().RemoteAddr())
	}, log)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if err := a.Start(); err != nil {
		return fmt.Errorf("failed to start acceptor: %w", err)
	}
	defer a.Stop()

	log.Infow("listening", "addr", a.Addr().String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return waitInterrupted(ctx)
	})
	return wg.Wait()
}

// handlePacket answers RequestID with ResponseID and EchoID with
// EchoResultID; anything else is returned verbatim, which keeps the server
// usable for the framing scenarios in addition to the benchmark ones.
func handlePacket(s *session.Session, pkt wire.Packet) {
	defer pkt.Release()

	switch pkt.ID {
	case wireproto.RequestID:
		req := &wireproto.Request{}
		if err := req.Unmarshal(pkt.Payload); err != nil {
			return
		}
		now := time.Now().UnixNano()
		resp := &wireproto.Response{
			Seq:               req.Seq,
			ClientTSNanos:     req.ClientTSNanos,
			ServerRecvTSNanos: now,
			ServerSendTSNanos: now,
		}
		_ = s.SendPacket(wireproto.ResponseID, wireproto.Marshal(resp))

	case wireproto.EchoID:
		echo := &wireproto.Echo{}
		if err := echo.Unmarshal(pkt.Payload); err != nil {
			return
		}
		result := &wireproto.EchoResult{Text: echo.Text, ResultCode: 0}
		_ = s.SendPacket(wireproto.EchoResultID, wireproto.Marshal(result))

	default:
		payload := append([]byte(nil), pkt.Payload...)
		_ = s.SendPacket(pkt.ID, payload)
	}
}

func waitInterrupted(ctx context.Context) error {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(ch)
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil
		}
		return ctx.Err()
	}
}
