// Command publish is a load generator. It sends count requests (default 700)
// concurrently to the configured destination, waits for every reply and
// prints the achieved rate.
//
//	publish [count]
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/miladsoleymani/replymux/broker"
	"github.com/miladsoleymani/replymux/client"
	"github.com/miladsoleymani/replymux/config"
	"github.com/miladsoleymani/replymux/internal/logger"

	_ "github.com/miladsoleymani/replymux/plugins/kafka"
	_ "github.com/miladsoleymani/replymux/plugins/nats"
	_ "github.com/miladsoleymani/replymux/plugins/rabbitmq"
	_ "github.com/miladsoleymani/replymux/plugins/sqs"
)

const defaultCount = 700

type request struct {
	Test          string    `json:"test"`
	Timestamp     time.Time `json:"timestamp"`
	MessageNumber int       `json:"messageNumber"`
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func parseCount(args []string) (int, error) {
	if len(args) == 0 {
		return defaultCount, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("count must be a positive number, got %q", args[0])
	}
	return n, nil
}

func run(args []string) int {
	count, err := parseCount(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}

	cfg, err := config.New()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	l := logger.Setup(logger.Options{Level: cfg.LogLevel, Console: cfg.ConsoleLogs()})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := broker.Create(cfg.Broker, cfg.BrokerConfig())
	if err != nil {
		l.Error("create broker", "error", err)
		return 1
	}
	defer func() {
		if err := b.Close(); err != nil {
			l.Warn("close broker", "error", err)
		}
	}()

	opts := []client.Option{client.WithTimeout(client.DefaultTimeout), client.WithLogger(l)}
	if cfg.ReplyDestination != "" {
		opts = append(opts, client.WithReplyTo(cfg.ReplyDestination))
	}
	caller := client.New(b, cfg.Source(), opts...)

	listenCtx, stopListening := context.WithCancel(ctx)
	defer stopListening()
	if cfg.ReplyDestination != "" {
		go func() {
			if err := caller.Listen(listenCtx); err != nil {
				l.Error("reply listener stopped", "error", err)
			}
		}()
	}

	fmt.Printf("Publishing %d messages to: %s\n", count, cfg.Source())

	var received atomic.Int64
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for i := 1; i <= count; i++ {
		g.Go(func() error {
			reply, err := caller.Call(gctx, request{
				Test:          fmt.Sprintf("Hello from publisher! Message %d/%d", i, count),
				Timestamp:     time.Now().UTC(),
				MessageNumber: i,
			})
			if err != nil {
				return fmt.Errorf("message %d: %w", i, err)
			}
			received.Add(1)
			l.Debug("response received", "message", i, "status", reply.Status, "elapsed", reply.Elapsed)
			return nil
		})
	}
	err = g.Wait()
	duration := time.Since(start)

	fmt.Printf("\nCompleted %d RPC calls\n", count)
	fmt.Printf("Duration: %dms\n", duration.Milliseconds())
	fmt.Printf("Rate: %.2f messages/second\n", float64(count)/duration.Seconds())
	fmt.Printf("Received %d responses\n", received.Load())

	if err != nil {
		l.Error("load run failed", "error", err)
		return 1
	}
	return 0
}
