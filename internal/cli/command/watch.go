package command

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/dylibso/wasmstore_sdk_go/internal/httpx"
	"github.com/dylibso/wasmstore_sdk_go/pkg/wasmstore"
)

// WatchCommand streams change events.
func WatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Stream change events, one per line, until interrupted",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "reconnect",
				Value: true,
				Usage: "Reconnect with backoff when the connection drops",
			},
			&cli.DurationFlag{
				Name:  "retry-min",
				Value: 500 * time.Millisecond,
				Usage: "First reconnect delay",
			},
			&cli.DurationFlag{
				Name:  "retry-max",
				Value: 30 * time.Second,
				Usage: "Longest reconnect delay",
			},
			&cli.IntFlag{
				Name:  "count",
				Usage: "Exit after COUNT events (0 streams forever)",
			},
		},
		Action: watchRun,
	}
}

func watchRun(c *cli.Context) error {
	e, err := getEnv(c)
	if err != nil {
		return err
	}
	ctx, stop := signalContext(c)
	defer stop()

	limit := c.Int("count")
	received := 0
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	handler := func(ev wasmstore.Event) {
		if limit > 0 && received >= limit {
			return
		}
		if err := e.out.Line(ev.Value); err != nil {
			e.logger.Error("write event", "error", err)
		}
		received++
		if limit > 0 && received >= limit {
			cancel()
		}
	}

	backoff := httpx.NewBackoff(c.Duration("retry-min"), c.Duration("retry-max"), 0.2)
	attempt := 0
	for {
		conn, err := e.client.Watch(ctx, handler)
		if err == nil {
			e.logger.Info("watching", "url", e.client.WatchURL())
			attempt = 0
			select {
			case <-ctx.Done():
				_ = conn.Close()
				<-conn.Done()
				return nil
			case <-conn.Done():
				err = conn.Err()
				e.logger.Warn("watch disconnected", "error", err)
			}
		} else {
			if ctx.Err() != nil {
				return nil
			}
			var httpErr *wasmstore.HTTPError
			if errors.As(err, &httpErr) && !httpErr.Retryable() {
				return cli.Exit(fmt.Sprintf("watch: %v", err), 1)
			}
			e.logger.Warn("watch connect failed", "error", err, "attempt", attempt)
		}

		if ctx.Err() != nil {
			return nil
		}
		if !c.Bool("reconnect") {
			return err
		}
		if err := backoff.Wait(ctx, attempt); err != nil {
			return nil
		}
		attempt++
	}
}

// signalContext is the command context cancelled on SIGINT or SIGTERM.
func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}
