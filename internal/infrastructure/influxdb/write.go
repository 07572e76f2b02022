package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

const (
	measurementSyncPass = "findmy_sync_pass"
	measurementSyncFile = "findmy_sync_file"
)

// PassMetric summarises one sync pass. Positions are never recorded.
type PassMetric struct {
	Forced        bool
	Files         int
	FileErrors    int
	Parsed        int
	Skipped       int
	Published     int
	PublishErrors int
	Tracked       int
	Duration      time.Duration
}

// FileMetric summarises one snapshot file within a pass.
type FileMetric struct {
	File      string // base name, e.g. "Items.data"
	Parsed    int
	Skipped   int
	Published int
	Failed    bool
}

// WritePassMetric queues a findmy_sync_pass point.
func (c *Client) WritePassMetric(m PassMetric) {
	c.write(m.point(time.Now()))
}

// WriteFileMetric queues a findmy_sync_file point.
func (c *Client) WriteFileMetric(m FileMetric) {
	c.write(m.point(time.Now()))
}

func (c *Client) write(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.points.Add(1)
	c.writer.WritePoint(p)
}

func (m PassMetric) point(ts time.Time) *write.Point {
	return write.NewPoint(measurementSyncPass,
		map[string]string{"forced": strconv.FormatBool(m.Forced)},
		map[string]any{
			"files":          m.Files,
			"file_errors":    m.FileErrors,
			"parsed":         m.Parsed,
			"skipped":        m.Skipped,
			"published":      m.Published,
			"publish_errors": m.PublishErrors,
			"tracked":        m.Tracked,
			"duration_ms":    m.Duration.Milliseconds(),
		},
		ts)
}

func (m FileMetric) point(ts time.Time) *write.Point {
	return write.NewPoint(measurementSyncFile,
		map[string]string{"file": m.File},
		map[string]any{
			"parsed":    m.Parsed,
			"skipped":   m.Skipped,
			"published": m.Published,
			"failed":    m.Failed,
		},
		ts)
}
