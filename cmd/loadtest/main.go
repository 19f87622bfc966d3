// Command loadtest ramps up a configurable number of WebSocket clients
// against a running bigjsond instance, has each subscribe to a path, and
// reports connection and patch-delivery throughput at an interval, the way
// a capacity test against a production WS service would.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

type config struct {
	wsURL             string
	healthURL         string
	targetConnections int
	rampRate          int // connections per second
	sustainDurationSec int
	reportIntervalSec int
	subscribePath     string
	connectionTimeout time.Duration
}

type state struct {
	activeConnections int64
	totalCreated      int64
	failedConnections int64

	patchesReceived int64

	startTime     time.Time
	rampStartTime time.Time
	phase         string // "ramping", "sustaining", "completed"
	mu            sync.RWMutex
}

type client struct {
	id     int
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc

	writeMu   sync.Mutex
	closeOnce sync.Once
}

var (
	cfg *config
	st  *state
)

func main() {
	cfg = parseFlags()
	st = &state{startTime: time.Now(), rampStartTime: time.Now(), phase: "ramping"}

	log.Printf("load test: target=%d ramp=%d/s duration=%ds url=%s", cfg.targetConnections, cfg.rampRate, cfg.sustainDurationSec, cfg.wsURL)

	if err := checkHealth(); err != nil {
		log.Fatalf("initial health check failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Printf("received shutdown signal")
		cancel()
	}()

	go periodicReports(ctx)

	if err := rampUp(ctx); err != nil {
		log.Fatalf("ramp-up failed: %v", err)
	}

	if st.phase == "sustaining" {
		log.Printf("sustaining load for %ds", cfg.sustainDurationSec)
		select {
		case <-time.After(time.Duration(cfg.sustainDurationSec) * time.Second):
			st.phase = "completed"
		case <-ctx.Done():
		}
	}

	printReport()
}

func parseFlags() *config {
	c := &config{}
	flag.StringVar(&c.wsURL, "url", getEnv("BIGJSON_LOADTEST_URL", "ws://localhost:3000/ws"), "bigjsond WebSocket URL")
	flag.StringVar(&c.healthURL, "health", getEnv("BIGJSON_LOADTEST_HEALTH_URL", "http://localhost:3000/health"), "bigjsond health URL")
	flag.IntVar(&c.targetConnections, "connections", getEnvInt("BIGJSON_LOADTEST_CONNECTIONS", 500), "target number of connections")
	flag.IntVar(&c.rampRate, "ramp-rate", getEnvInt("BIGJSON_LOADTEST_RAMP_RATE", 50), "connections per second during ramp-up")
	flag.IntVar(&c.sustainDurationSec, "duration", getEnvInt("BIGJSON_LOADTEST_DURATION", 60), "sustain duration in seconds")
	flag.IntVar(&c.reportIntervalSec, "report-interval", 5, "report interval in seconds")
	flag.StringVar(&c.subscribePath, "path", "", "JSON pointer path every client subscribes to")
	timeoutMs := flag.Int("connection-timeout", 5000, "connection timeout in milliseconds")
	flag.Parse()
	c.connectionTimeout = time.Duration(*timeoutMs) * time.Millisecond
	return c
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func rampUp(ctx context.Context) error {
	batchSize := cfg.rampRate / 10 // 10 batches per second
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	connID := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if atomic.LoadInt64(&st.totalCreated) >= int64(cfg.targetConnections) {
				st.phase = "sustaining"
				log.Printf("ramp-up complete: %d connections established", atomic.LoadInt64(&st.activeConnections))
				return nil
			}
			var wg sync.WaitGroup
			for i := 0; i < batchSize && atomic.LoadInt64(&st.totalCreated) < int64(cfg.targetConnections); i++ {
				wg.Add(1)
				id := connID
				connID++
				atomic.AddInt64(&st.totalCreated, 1)
				go func(id int) {
					defer wg.Done()
					if err := newClient(ctx, id).connect(); err != nil {
						atomic.AddInt64(&st.failedConnections, 1)
					}
				}(id)
			}
			wg.Wait()
		}
	}
}

func newClient(ctx context.Context, id int) *client {
	cctx, cancel := context.WithCancel(ctx)
	return &client{id: id, ctx: cctx, cancel: cancel}
}

func (c *client) connect() error {
	u, err := url.Parse(cfg.wsURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.connectionTimeout,
		Subprotocols:     []string{"bigjson"},
	}
	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	c.conn = conn
	atomic.AddInt64(&st.activeConnections, 1)

	subMsg := map[string]any{"type": "subscribe", "id": fmt.Sprintf("loadtest-%d", c.id), "path": cfg.subscribePath}
	if err := conn.WriteJSON(subMsg); err != nil {
		c.close()
		return fmt.Errorf("subscribe failed: %w", err)
	}

	go c.readPump()
	go c.pingPump()
	return nil
}

func (c *client) readPump() {
	defer c.close()
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}
		var msg map[string]any
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg["type"] == "patch" {
			atomic.AddInt64(&st.patchesReceived, 1)
		}
	}
}

func (c *client) pingPump() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				c.close()
				return
			}
		}
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		atomic.AddInt64(&st.activeConnections, -1)
		if c.conn != nil {
			c.conn.Close()
		}
		c.cancel()
	})
}

func checkHealth() error {
	resp, err := http.Get(cfg.healthURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

func periodicReports(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(cfg.reportIntervalSec) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			printReport()
		}
	}
}

func printReport() {
	elapsed := int(time.Since(st.startTime).Seconds())
	active := atomic.LoadInt64(&st.activeConnections)
	created := atomic.LoadInt64(&st.totalCreated)
	failed := atomic.LoadInt64(&st.failedConnections)
	patches := atomic.LoadInt64(&st.patchesReceived)

	successRate := 100.0
	if created > 0 {
		successRate = float64(created-failed) / float64(created) * 100
	}
	patchRate := float64(patches) / float64(maxInt(elapsed, 1))

	log.Printf(strings.Repeat("-", 60))
	log.Printf("elapsed=%ds phase=%s", elapsed, st.phase)
	log.Printf("connections: active=%d/%d created=%d failed=%d success=%.1f%%", active, cfg.targetConnections, created, failed, successRate)
	log.Printf("patches: received=%d rate=%.1f/s", patches, patchRate)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
