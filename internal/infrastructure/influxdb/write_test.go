package influxdb

import (
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/findmy-bridge/internal/infrastructure/config"
)

func lineProtocol(p *write.Point) string {
	return write.PointToLineProtocol(p, time.Millisecond)
}

func TestNewPassPoint(t *testing.T) {
	ts := time.UnixMilli(1700000000000)
	line := lineProtocol(PassMetric{
		Forced:        true,
		Files:         2,
		FileErrors:    1,
		Parsed:        6,
		Skipped:       1,
		Published:     3,
		PublishErrors: 2,
		Tracked:       4,
		Duration:      1500 * time.Millisecond,
	}.point(ts))

	for _, want := range []string{
		"findmy_sync_pass,forced=true ",
		"files=2i",
		"file_errors=1i",
		"parsed=6i",
		"skipped=1i",
		"published=3i",
		"publish_errors=2i",
		"tracked=4i",
		"duration_ms=1500i",
		" 1700000000000",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
}

func TestNewFilePoint(t *testing.T) {
	line := lineProtocol(FileMetric{File: "Items.data", Parsed: 2, Failed: true}.point(time.UnixMilli(0)))

	for _, want := range []string{"findmy_sync_file,file=Items.data ", "parsed=2i", "failed=true"} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
	if strings.Contains(line, "latitude") {
		t.Error("file metric must not carry positions")
	}
}

func TestWriteOptions(t *testing.T) {
	tests := []struct {
		name      string
		batch     int
		flush     int
		wantBatch uint
		wantFlush uint
	}{
		{"configured", 500, 2, 500, 2000},
		{"defaults", 0, -1, defaultBatchSize, defaultFlushInterval * 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := writeOptions(config.InfluxDBConfig{BatchSize: tt.batch, FlushInterval: tt.flush})
			if got := opts.BatchSize(); got != tt.wantBatch {
				t.Errorf("BatchSize() = %d, want %d", got, tt.wantBatch)
			}
			if got := opts.FlushInterval(); got != tt.wantFlush {
				t.Errorf("FlushInterval() = %d, want %d", got, tt.wantFlush)
			}
		})
	}
}

func TestZeroClientDropsWrites(t *testing.T) {
	var c Client
	c.WritePassMetric(PassMetric{Files: 1})
	c.WriteFileMetric(FileMetric{File: "Items.data"})
	c.Flush()

	if s := c.Stats(); s.Points != 0 {
		t.Errorf("Stats().Points = %d, want 0", s.Points)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
