package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/findmy-bridge/internal/infrastructure/config"
	"github.com/nerrad567/findmy-bridge/internal/infrastructure/influxdb"
)

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "findmy-dev-token",
		Org:           "findmy",
		Bucket:        "bridge",
		BatchSize:     1,
		FlushInterval: 1,
	}
}

// fakeInflux answers /ping and records line protocol sent to /api/v2/write.
type fakeInflux struct {
	mu    sync.Mutex
	lines []string
	fail  bool
}

func (f *fakeInflux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/ping":
		w.WriteHeader(http.StatusNoContent)
	case "/api/v2/write":
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.fail {
			http.Error(w, `{"code":"invalid","message":"bucket not found"}`, http.StatusNotFound)
			return
		}
		f.lines = append(f.lines, string(body))
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeInflux) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func connect(t *testing.T, fake *fakeInflux) *influxdb.Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client, err := influxdb.Connect(context.Background(), testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // Test cleanup
	return client
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:8086")
	cfg.Enabled = false

	if _, err := influxdb.Connect(context.Background(), cfg); !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := influxdb.Connect(ctx, testConfig("http://127.0.0.1:59999"))
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestWriteAndFlush(t *testing.T) {
	fake := &fakeInflux{}
	client := connect(t, fake)

	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}

	client.WritePassMetric(influxdb.PassMetric{Files: 2, Parsed: 5, Published: 1, Duration: 12 * time.Millisecond})
	client.WriteFileMetric(influxdb.FileMetric{File: "Items.data", Parsed: 3, Published: 1})
	client.Flush()

	if got := client.Stats().Points; got != 2 {
		t.Errorf("Stats().Points = %d, want 2", got)
	}

	deadline := time.Now().Add(3 * time.Second)
	for len(fake.written()) < 2 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if n := len(fake.written()); n < 2 {
		t.Errorf("server received %d writes, want 2", n)
	}
}

func TestWriteErrorsReachCallback(t *testing.T) {
	fake := &fakeInflux{fail: true}
	client := connect(t, fake)

	errs := make(chan error, 4)
	client.SetOnError(func(err error) { errs <- err })

	client.WritePassMetric(influxdb.PassMetric{Files: 1})
	client.Flush()

	select {
	case <-errs:
	case <-time.After(3 * time.Second):
		t.Fatal("write error not reported")
	}
	if client.Stats().WriteErrors == 0 {
		t.Error("Stats().WriteErrors = 0 after failed write")
	}
}

func TestClose(t *testing.T) {
	client := connect(t, &fakeInflux{})

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	if err := client.Ping(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("Ping() after Close error = %v, want ErrNotConnected", err)
	}

	// Writes after close are dropped.
	client.WritePassMetric(influxdb.PassMetric{Files: 1})
	client.Flush()
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

// TestLiveServer runs against a real InfluxDB when RUN_INTEGRATION is set.
func TestLiveServer(t *testing.T) {
	if os.Getenv("RUN_INTEGRATION") == "" {
		t.Skip("set RUN_INTEGRATION to run against a local InfluxDB")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := influxdb.Connect(ctx, testConfig("http://127.0.0.1:8086"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close() //nolint:errcheck // Test cleanup

	client.WritePassMetric(influxdb.PassMetric{Files: 1, Parsed: 1})
	client.Flush()
}
