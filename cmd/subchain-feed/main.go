// Command subchain-feed serves a recorded block stream to replicas. It can also write the
// snapshot a replica starts from.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dd0wney/cluso-subchain/pkg/health"
	"github.com/dd0wney/cluso-subchain/pkg/logging"
	"github.com/dd0wney/cluso-subchain/pkg/metrics"
	"github.com/dd0wney/cluso-subchain/pkg/replay"
	"github.com/dd0wney/cluso-subchain/pkg/server"
	"github.com/dd0wney/cluso-subchain/pkg/stream"
)

func main() {
	recordsPath := flag.String("records", "", "JSON-lines record file")
	transport := flag.String("transport", "websocket", "Transport: websocket, nng or zmq")
	addr := flag.String("addr", ":8081", "Listen address (host:port for websocket, URL for nng/zmq)")
	httpAddr := flag.String("http", "", "Health and metrics address for nng/zmq feeds")
	interval := flag.Duration("interval", 0, "Delay between records (0 publishes everything at once)")
	heartbeat := flag.Duration("heartbeat", 5*time.Second, "Heartbeat interval while idle")
	writeSnapshot := flag.String("write-snapshot", "", "Write a snapshot to this path and exit")
	modulePath := flag.String("module", "", "Transition module (required with -write-snapshot)")
	snapshotAt := flag.Uint64("at", 0, "Snapshot position (records up to it are replayed)")
	params := flag.String("params", "", "Module params as key=value,key=value")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	logger := logging.NewJSONLogger(os.Stdout, logging.ParseLevel(*logLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	records, err := loadRecords(*recordsPath)
	if err != nil {
		fatal(err)
	}

	if *writeSnapshot != "" {
		if err := writeSnapshotFile(ctx, *writeSnapshot, *modulePath, records, *snapshotAt, parseParams(*params)); err != nil {
			fatal(err)
		}
		fmt.Printf("snapshot at position %d written to %s\n", *snapshotAt, *writeSnapshot)
		return
	}

	registry := metrics.NewRegistry()
	feed := stream.NewFeed(stream.FeedOptions{
		HeartbeatInterval: *heartbeat,
		Logger:            logger,
		Metrics:           registry,
	})
	defer feed.Close()

	go publish(ctx, feed, records, *interval, logger)

	checker := health.NewChecker()
	checker.Register("feed", health.FeedCheck(func() (uint64, int) { return feed.Head(), feed.Sessions() }), true)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", checker.Handler())
	mux.Handle("GET /metrics", registry.Handler())

	logger.Info("feed starting",
		logging.String("server_id", feed.ID()),
		logging.String("transport", *transport),
		logging.Addr(*addr),
		logging.Int("records", len(records)))

	if *transport == "websocket" {
		mux.Handle("GET /blocks", stream.WebsocketHandler(feed))
		err = server.NewGracefulServer(*addr, mux, logger).Run(ctx)
	} else {
		if *httpAddr != "" {
			go func() {
				if err := server.NewGracefulServer(*httpAddr, mux, logger).Run(ctx); err != nil {
					logger.Error("http server failed", logging.Error(err))
				}
			}()
		}
		err = stream.ServeSocket(ctx, *transport, feed, *addr, logger)
	}
	if err != nil {
		fatal(err)
	}
}

func loadRecords(path string) ([]replay.Record, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readRecords(f)
}

// publish appends records to feed, pacing them by interval
func publish(ctx context.Context, feed *stream.Feed, records []replay.Record, interval time.Duration, logger logging.Logger) {
	if interval <= 0 {
		if err := feed.Append(records...); err != nil && !errors.Is(err, stream.ErrClosed) {
			logger.Error("publish failed", logging.Error(err))
		}
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for _, rec := range records {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := feed.Append(rec); err != nil {
			logger.Error("publish failed", logging.Position(rec.Position), logging.Error(err))
			return
		}
		logger.Debug("record published", logging.Position(rec.Position))
	}
}

func writeSnapshotFile(ctx context.Context, path, modulePath string, records []replay.Record, at uint64, params map[string]string) error {
	if modulePath == "" {
		return errors.New("-write-snapshot requires -module")
	}
	src, err := os.ReadFile(modulePath)
	if err != nil {
		return err
	}
	blob, err := buildSnapshot(ctx, src, records, at, params)
	if err != nil {
		return err
	}
	return os.WriteFile(path, blob, 0o644)
}

// parseParams parses key=value,key=value
func parseParams(s string) map[string]string {
	params := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if ok && key != "" {
			params[key] = value
		}
	}
	return params
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "subchain-feed: %v\n", err)
	os.Exit(1)
}
