package metrics

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/matthiufungho/linksys-velop/internal/model"
)

func sample(ts time.Time, download float64) model.SpeedtestResult {
	return model.SpeedtestResult{
		Timestamp:    ts,
		ExitCode:     "Success",
		LatencyMs:    11,
		DownloadMbps: download,
		UploadMbps:   18,
		ServerID:     "1234",
	}
}

func TestWriteReadCSV_RoundTrip(t *testing.T) {
	t.Parallel()

	ts := time.Date(2021, 9, 14, 20, 0, 0, 0, time.UTC)
	items := []model.SpeedtestResult{sample(ts, 200), sample(ts.Add(time.Hour), 185.5)}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, items); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "timestamp,exit_code,") {
		t.Fatalf("header missing: %q", buf.String())
	}

	got, err := readCSV(&buf)
	if err != nil {
		t.Fatalf("readCSV: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("items=%d", len(got))
	}
	if got[1].DownloadMbps != 185.5 || !got[0].Timestamp.Equal(ts) {
		t.Fatalf("got=%+v", got)
	}
}

func TestAppendCSV_HeaderOnlyOnce(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "speedtest.csv")
	ts := time.Date(2021, 9, 14, 20, 0, 0, 0, time.UTC)

	if err := AppendCSV(path, []model.SpeedtestResult{sample(ts, 200)}); err != nil {
		t.Fatalf("AppendCSV: %v", err)
	}
	if err := AppendCSV(path, []model.SpeedtestResult{sample(ts.Add(time.Hour), 190)}); err != nil {
		t.Fatalf("AppendCSV: %v", err)
	}

	items, err := ReadCSV(path)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items=%d", len(items))
	}
}

func TestSummarize_Window(t *testing.T) {
	t.Parallel()

	base := time.Date(2021, 9, 14, 20, 0, 0, 0, time.UTC)
	items := []model.SpeedtestResult{
		sample(base.Add(-time.Hour), 50), // outside the window
		sample(base, 100),
		sample(base.Add(time.Minute), 200),
	}

	summary := Summarize(items, base)
	if summary.Count != 2 {
		t.Fatalf("count=%d", summary.Count)
	}
	if summary.AvgDownloadMbps != 150 {
		t.Fatalf("avg=%v", summary.AvgDownloadMbps)
	}
	if summary.MinDownloadMbps != 100 || summary.MaxDownloadMbps != 200 {
		t.Fatalf("min=%v max=%v", summary.MinDownloadMbps, summary.MaxDownloadMbps)
	}
	if !summary.From.Equal(base) || !summary.To.Equal(base.Add(time.Minute)) {
		t.Fatalf("from=%v to=%v", summary.From, summary.To)
	}
}

func TestSummarize_Empty(t *testing.T) {
	t.Parallel()

	summary := Summarize(nil, time.Now())
	if summary.Count != 0 {
		t.Fatalf("count=%d", summary.Count)
	}
}
