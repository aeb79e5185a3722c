package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric は名前とラベルが一致するメトリクスを返す。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, labels) {
				return m
			}
		}
	}
	return nil
}

func labelsMatch(m *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, lp := range m.GetLabel() {
		if v, ok := labels[lp.GetName()]; ok && v == lp.GetValue() {
			matched++
		}
	}
	return matched == len(labels)
}

func TestNewCollector_ReturnsNonNil(t *testing.T) {
	if c := NewCollector(prometheus.NewRegistry()); c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

func TestRecordRun_CountsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRun("success")
	c.RecordRun("success")
	c.RecordRun("no_new_item")

	m := findMetric(t, reg, "newsjockey_pipeline_runs_total", map[string]string{"outcome": "success"})
	if m == nil {
		t.Fatal("runs_total{outcome=success} not found")
	}
	if got := m.GetCounter().GetValue(); got != 2 {
		t.Errorf("runs_total{success} = %v, want 2", got)
	}

	m = findMetric(t, reg, "newsjockey_pipeline_runs_total", map[string]string{"outcome": "no_new_item"})
	if m == nil || m.GetCounter().GetValue() != 1 {
		t.Errorf("runs_total{no_new_item} = %v, want 1", m)
	}
}

func TestRecordStageFailure_CountsByStage(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordStageFailure("translate")

	m := findMetric(t, reg, "newsjockey_pipeline_stage_failures_total", map[string]string{"stage": "translate"})
	if m == nil || m.GetCounter().GetValue() != 1 {
		t.Errorf("stage_failures_total{translate} = %v, want 1", m)
	}
}

func TestObserveStage_RecordsHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ObserveStage("summarize", 1500*time.Millisecond)
	c.ObserveStage("summarize", 500*time.Millisecond)

	m := findMetric(t, reg, "newsjockey_pipeline_stage_latency_seconds", map[string]string{"stage": "summarize"})
	if m == nil {
		t.Fatal("stage_latency_seconds{summarize} not found")
	}
	h := m.GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Errorf("sample count = %d, want 2", h.GetSampleCount())
	}
	if h.GetSampleSum() != 2.0 {
		t.Errorf("sample sum = %v, want 2.0", h.GetSampleSum())
	}
}

func TestRecordAudioSweep(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAudioSweep(3, false)
	c.RecordAudioSweep(0, true)

	if m := findMetric(t, reg, "newsjockey_audio_sweep_deleted_total", nil); m == nil || m.GetCounter().GetValue() != 3 {
		t.Errorf("audio_sweep_deleted_total = %v, want 3", m)
	}
	if m := findMetric(t, reg, "newsjockey_audio_sweep_failures_total", nil); m == nil || m.GetCounter().GetValue() != 1 {
		t.Errorf("audio_sweep_failures_total = %v, want 1", m)
	}
	if m := findMetric(t, reg, "newsjockey_audio_sweep_last_run_timestamp_seconds", nil); m == nil || m.GetGauge().GetValue() == 0 {
		t.Errorf("audio_sweep_last_run_timestamp_seconds not set")
	}
}

func TestHandler_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordRun("success")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `newsjockey_pipeline_runs_total{outcome="success"} 1`) {
		t.Errorf("response should contain runs_total, got:\n%s", body)
	}
}
