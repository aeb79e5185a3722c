// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はパイプラインと音声掃除のメトリクスを収集する。
// pipeline.Recorderとcleanup.SweepRecorderを満たす。
type Collector struct {
	runs           *prometheus.CounterVec
	stageFailures  *prometheus.CounterVec
	stageLatency   *prometheus.HistogramVec
	sweepDeleted   prometheus.Counter
	sweepFailures  prometheus.Counter
	sweepLastRunAt prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsjockey_pipeline_runs_total",
			Help: "結果別のパイプライン実行数",
		}, []string{"outcome"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsjockey_pipeline_stage_failures_total",
			Help: "段階別のパイプライン失敗数",
		}, []string{"stage"}),
		stageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "newsjockey_pipeline_stage_latency_seconds",
			Help: "段階別の処理時間（秒）",
			// 外部APIの呼び出しは数十秒かかることがある
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"stage"}),
		sweepDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newsjockey_audio_sweep_deleted_total",
			Help: "掃除で削除された音声ファイルの合計数",
		}),
		sweepFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newsjockey_audio_sweep_failures_total",
			Help: "失敗した音声掃除の実行数",
		}),
		sweepLastRunAt: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "newsjockey_audio_sweep_last_run_timestamp_seconds",
			Help: "最後に音声掃除を実行した時刻（UNIX秒）",
		}),
	}

	reg.MustRegister(
		c.runs,
		c.stageFailures,
		c.stageLatency,
		c.sweepDeleted,
		c.sweepFailures,
		c.sweepLastRunAt,
	)

	return c
}

// RecordRun はパイプライン実行の結果を記録する。
func (c *Collector) RecordRun(outcome string) {
	c.runs.WithLabelValues(outcome).Inc()
}

// RecordStageFailure は失敗した段階を記録する。
func (c *Collector) RecordStageFailure(stage string) {
	c.stageFailures.WithLabelValues(stage).Inc()
}

// ObserveStage は段階の処理時間を記録する。
func (c *Collector) ObserveStage(stage string, d time.Duration) {
	c.stageLatency.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordAudioSweep は音声掃除の結果を記録する。
func (c *Collector) RecordAudioSweep(deleted int, failed bool) {
	c.sweepDeleted.Add(float64(deleted))
	if failed {
		c.sweepFailures.Inc()
	}
	c.sweepLastRunAt.SetToCurrentTime()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
