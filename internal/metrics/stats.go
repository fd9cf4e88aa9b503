package metrics

import (
	"math"
	"sort"
	"time"

	"github.com/matthiufungho/linksys-velop/internal/model"
)

// Summary is a basic statistics snapshot over speedtest history.
type Summary struct {
	Count           int
	From            time.Time
	To              time.Time
	AvgDownloadMbps float64
	P95DownloadMbps float64
	MinDownloadMbps float64
	MaxDownloadMbps float64
	AvgUploadMbps   float64
	AvgLatencyMs    float64
}

// Summarize computes summary statistics for results in a time window.
func Summarize(items []model.SpeedtestResult, since time.Time) Summary {
	filtered := make([]model.SpeedtestResult, 0, len(items))
	for _, r := range items {
		if r.Timestamp.After(since) || r.Timestamp.Equal(since) {
			filtered = append(filtered, r)
		}
	}

	if len(filtered) == 0 {
		return Summary{Count: 0}
	}

	values := make([]float64, 0, len(filtered))
	var sumDownload, sumUpload, sumLatency float64
	minDownload := math.MaxFloat64
	maxDownload := 0.0
	from := filtered[0].Timestamp
	to := filtered[0].Timestamp

	for _, r := range filtered {
		values = append(values, r.DownloadMbps)
		sumDownload += r.DownloadMbps
		sumUpload += r.UploadMbps
		sumLatency += r.LatencyMs
		if r.DownloadMbps < minDownload {
			minDownload = r.DownloadMbps
		}
		if r.DownloadMbps > maxDownload {
			maxDownload = r.DownloadMbps
		}
		if r.Timestamp.Before(from) {
			from = r.Timestamp
		}
		if r.Timestamp.After(to) {
			to = r.Timestamp
		}
	}

	sort.Float64s(values)
	p95 := percentile(values, 0.95)
	count := float64(len(filtered))

	return Summary{
		Count:           len(filtered),
		From:            from,
		To:              to,
		AvgDownloadMbps: sumDownload / count,
		P95DownloadMbps: p95,
		MinDownloadMbps: minDownload,
		MaxDownloadMbps: maxDownload,
		AvgUploadMbps:   sumUpload / count,
		AvgLatencyMs:    sumLatency / count,
	}
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return values[0]
	}
	if p >= 1 {
		return values[len(values)-1]
	}
	idx := int(math.Ceil(p*float64(len(values)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(values) {
		idx = len(values) - 1
	}
	return values[idx]
}
