package metrics

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/matthiufungho/linksys-velop/internal/model"
)

var header = []string{
	"timestamp",
	"exit_code",
	"latency_ms",
	"download_mbps",
	"upload_mbps",
	"server_id",
}

// WriteCSV writes speedtest results to CSV with a fixed column order.
func WriteCSV(w io.Writer, items []model.SpeedtestResult) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write(header); err != nil {
		return err
	}

	for _, r := range items {
		record := []string{
			r.Timestamp.UTC().Format(time.RFC3339Nano),
			r.ExitCode,
			strconv.FormatFloat(r.LatencyMs, 'f', 3, 64),
			strconv.FormatFloat(r.DownloadMbps, 'f', 3, 64),
			strconv.FormatFloat(r.UploadMbps, 'f', 3, 64),
			r.ServerID,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

// AppendCSV appends results to a CSV file, writing the header only when
// the file is new or empty. Not safe for concurrent use; callers serialize.
func AppendCSV(path string, items []model.SpeedtestResult) error {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if info.Size() == 0 {
		if err := writer.Write(header); err != nil {
			return err
		}
	}

	for _, r := range items {
		record := []string{
			r.Timestamp.UTC().Format(time.RFC3339Nano),
			r.ExitCode,
			strconv.FormatFloat(r.LatencyMs, 'f', 3, 64),
			strconv.FormatFloat(r.DownloadMbps, 'f', 3, 64),
			strconv.FormatFloat(r.UploadMbps, 'f', 3, 64),
			r.ServerID,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

// ReadCSV loads speedtest results from a CSV file.
func ReadCSV(path string) ([]model.SpeedtestResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return readCSV(file)
}

func readCSV(r io.Reader) ([]model.SpeedtestResult, error) {
	reader := csv.NewReader(r)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	start := 0
	if len(records[0]) > 0 && records[0][0] == "timestamp" {
		start = 1
	}

	items := make([]model.SpeedtestResult, 0, len(records)-start)
	for i := start; i < len(records); i++ {
		rec := records[i]
		if len(rec) < 6 {
			return nil, fmt.Errorf("invalid record at line %d", i+1)
		}
		ts, err := time.Parse(time.RFC3339Nano, rec[0])
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp at line %d: %w", i+1, err)
		}
		latency, _ := strconv.ParseFloat(rec[2], 64)
		download, _ := strconv.ParseFloat(rec[3], 64)
		upload, _ := strconv.ParseFloat(rec[4], 64)
		items = append(items, model.SpeedtestResult{
			Timestamp:    ts,
			ExitCode:     rec[1],
			LatencyMs:    latency,
			DownloadMbps: download,
			UploadMbps:   upload,
			ServerID:     rec[5],
		})
	}

	return items, nil
}
