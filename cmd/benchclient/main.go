// Command benchclient drives the sequential request/response benchmark
// against a session-runtime echo server over either the standard
// completion path or the RIO fast path.
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

	"go.uber.org/zap"

	"github.com/ringio/sessionkit/bench/driver"
	"github.com/ringio/sessionkit/bench/stats"
	"github.com/ringio/sessionkit/connector"
	"github.com/ringio/sessionkit/internal/logging"
	"github.com/ringio/sessionkit/iosock"
	"github.com/ringio/sessionkit/neterr"
	"github.com/ringio/sessionkit/reactor"
	"github.com/ringio/sessionkit/reactor/rio"
	"github.com/ringio/sessionkit/ringbuf/riopool"
	"github.com/ringio/sessionkit/session"
)

// Cmd holds the parsed CLI flags.
type Cmd struct {
	Host       string
	Port       uint16
	Mode       string
	Iterations uint64
	Warmup     uint64
	Payload    int
	Output     string
	Verbose    bool
}

var cmd Cmd

var rootCmd = &cobra.Command{
	Use:   "benchclient",
	Short: "Drive a sequential request/response benchmark against a session-runtime server",
	Run: func(_ *cobra.Command, _ []string) {
		if err := run(cmd); err != nil {
			if errors.Is(err, errInterrupted) {
				return
			}
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.Flags().StringVar(&cmd.Host, "host", "127.0.0.1", "server address")
	rootCmd.Flags().Uint16Var(&cmd.Port, "port", 9000, "server port")
	rootCmd.Flags().StringVar(&cmd.Mode, "mode", "iocp", "transport mode: iocp|rio")
	rootCmd.Flags().Uint64Var(&cmd.Iterations, "iterations", 10000, "measured iteration count")
	rootCmd.Flags().Uint64Var(&cmd.Warmup, "warmup", 100, "warmup iteration count")
	rootCmd.Flags().IntVar(&cmd.Payload, "payload", 64, "request payload size in bytes")
	rootCmd.Flags().StringVar(&cmd.Output, "output", "", "CSV report output directory (auto-timestamped filename); empty disables the report")
	rootCmd.Flags().BoolVar(&cmd.Verbose, "verbose", false, "enable debug logging and print the human-readable summary")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

var errInterrupted = errors.New("benchclient: interrupted")

func run(cmd Cmd) error {
	if cmd.Mode != "iocp" && cmd.Mode != "rio" {
		return fmt.Errorf("invalid --mode %q: must be iocp or rio", cmd.Mode)
	}

	log, err := logging.New(cmd.Verbose)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	var rct *reactor.Reactor
	var rioPool *riopool.RioBufferPool
	if cmd.Mode == "rio" {
		rct = rio.Shared()
		defaults := session.DefaultOptions()
		// One connection per benchclient run, so the region only ever
		// needs to cover a single session's recv+send buffers.
		rioPool = rio.Pool(defaults.RecvBufferSize + defaults.SendBufferSize)
	} else {
		rct = reactor.New(reactor.WithLogger(log))
		if err := rct.Start(8); err != nil {
			return fmt.Errorf("failed to start reactor: %w", err)
		}
		defer rct.Stop()
	}

	drv := driver.New(driver.Options{
		TestName:    fmt.Sprintf("benchclient-%s", cmd.Mode),
		Iterations:  int(cmd.Iterations),
		Warmup:      int(cmd.Warmup),
		PayloadSize: cmd.Payload,
		Timeout:     5 * time.Second,
	}, log)

	factory := func(sock *iosock.Socket) *session.Session {
		opts := session.DefaultOptions()
		if rioPool != nil {
			if buf, err := rioPool.AllocateSlice(opts.RecvBufferSize); err != nil {
				log.Warnw("rio pool exhausted, falling back to a private recv buffer", "err", err)
			} else {
				opts.RecvBuf = buf
			}
			if buf, err := rioPool.AllocateSlice(opts.SendBufferSize); err != nil {
				log.Warnw("rio pool exhausted, falling back to a private send buffer", "err", err)
			} else {
				opts.SendBuf = buf
			}
		}
		return session.New(sock, rct, session.Callbacks{
			OnPacket: drv.OnPacket,
			OnError: func(_ *session.Session, kind neterr.Kind, detail error) {
				log.Warnw("session error", "kind", kind.String(), "detail", detail)
			},
		}, opts)
	}

	addr := fmt.Sprintf("%s:%d", cmd.Host, cmd.Port)
	connectedCh := make(chan *session.Session, 1)
	errCh := make(chan error, 1)
	connector.Dial(addr, rct, factory,
		func(s *session.Session) { connectedCh <- s },
		func(e error) { errCh <- e },
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wg, ctx := errgroup.WithContext(ctx)

	var summary stats.Summary
	wg.Go(func() error {
		defer cancel()
		select {
		case s := <-connectedCh:
			drv.Attach(s)
			log.Infow("connected", "addr", addr, "mode", cmd.Mode)
			result, err := drv.Run()
			if err != nil {
				return fmt.Errorf("benchmark run failed: %w", err)
			}
			summary = result
			return nil
		case e := <-errCh:
			return fmt.Errorf("connect failed: %w", e)
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	wg.Go(func() error {
		return waitInterrupted(ctx, log)
	})

	if err := wg.Wait(); err != nil {
		return err
	}

	if cmd.Verbose {
		fmt.Print(summary.String())
	}
	if cmd.Output != "" {
		if err := writeCSVReport(cmd.Output, summary); err != nil {
			return fmt.Errorf("failed to write CSV report: %w", err)
		}
	}
	return nil
}

func writeCSVReport(dir string, summary stats.Summary) error {
	path := fmt.Sprintf("%s/benchclient-%s-%d.csv", dir, summary.TestName, time.Now().UnixNano())
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := fmt.Fprintln(f, stats.CSVHeader); err != nil {
		return err
	}
	_, err = fmt.Fprintln(f, summary.CSVRow())
	return err
}

func waitInterrupted(ctx context.Context, log *zap.SugaredLogger) error {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(ch)
	select {
	case sig := <-ch:
		log.Infof("caught signal: %v", sig)
		return errInterrupted
	case <-ctx.Done():
		// The benchmark goroutine finished (success or failure) and canceled
		// ctx itself; that is not an interruption worth reporting.
		return nil
	}
}
