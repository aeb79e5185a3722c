package cleanup

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/newsjockey/internal/audio"
)

var testNow = time.Date(2025, 10, 14, 12, 0, 0, 0, time.UTC)

// mockStore はAudioStoreのテスト用モック。
type mockStore struct {
	objects   []audio.StoredObject
	listErr   error
	deleteErr map[string]error
	deleted   []string
}

func (m *mockStore) List(_ context.Context) ([]audio.StoredObject, error) {
	return m.objects, m.listErr
}

func (m *mockStore) Delete(_ context.Context, name string) error {
	if err := m.deleteErr[name]; err != nil {
		return err
	}
	m.deleted = append(m.deleted, name)
	return nil
}

// mockRefs はReferenceFinderのテスト用モック。
type mockRefs struct {
	referenced map[string]bool
	err        error
	calls      [][]string
}

func (m *mockRefs) ReferencedAudioFileNames(_ context.Context, names []string) ([]string, error) {
	m.calls = append(m.calls, slices.Clone(names))
	if m.err != nil {
		return nil, m.err
	}
	var out []string
	for _, n := range names {
		if m.referenced[n] {
			out = append(out, n)
		}
	}
	return out, nil
}

// mockRecorder はSweepRecorderのテスト用モック。
type mockRecorder struct {
	deleted int
	failed  bool
	calls   int
}

func (m *mockRecorder) RecordAudioSweep(deleted int, failed bool) {
	m.calls++
	m.deleted = deleted
	m.failed = failed
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func newTestJob(buf *bytes.Buffer, store *mockStore, refs *mockRefs, rec *mockRecorder) *AudioSweepJob {
	var recorder SweepRecorder
	if rec != nil {
		recorder = rec
	}
	job := NewAudioSweepJob(store, refs, recorder, newTestLogger(buf))
	job.now = func() time.Time { return testNow }
	return job
}

func obj(name string, age time.Duration) audio.StoredObject {
	return audio.StoredObject{Name: name, ModTime: testNow.Add(-age)}
}

func TestNewAudioSweepJob_Defaults(t *testing.T) {
	var buf bytes.Buffer
	job := NewAudioSweepJob(&mockStore{}, &mockRefs{}, nil, newTestLogger(&buf))

	if job == nil {
		t.Fatal("NewAudioSweepJob は nil を返してはならない")
	}
	if job.GracePeriod != time.Hour {
		t.Errorf("GracePeriod = %v, want 1h", job.GracePeriod)
	}
}

func TestAudioSweepJob_Run_DeletesOnlyOldUnreferenced(t *testing.T) {
	var buf bytes.Buffer
	store := &mockStore{objects: []audio.StoredObject{
		obj("old-orphan.mp3", 2*time.Hour),
		obj("old-referenced.mp3", 3*time.Hour),
		obj("fresh-orphan.mp3", 10*time.Minute),
	}}
	refs := &mockRefs{referenced: map[string]bool{"old-referenced.mp3": true}}
	rec := &mockRecorder{}

	deleted, err := newTestJob(&buf, store, refs, rec).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	if deleted != 1 {
		t.Errorf("削除件数 = %d, want 1", deleted)
	}
	if !slices.Equal(store.deleted, []string{"old-orphan.mp3"}) {
		t.Errorf("削除されたファイル = %v", store.deleted)
	}

	// 猶予期間内のファイルは参照確認の対象にもならない
	if len(refs.calls) != 1 || slices.Contains(refs.calls[0], "fresh-orphan.mp3") {
		t.Errorf("参照確認の引数 = %v", refs.calls)
	}

	if rec.calls != 1 || rec.deleted != 1 || rec.failed {
		t.Errorf("記録内容 = %+v", rec)
	}
}

func TestAudioSweepJob_Run_CustomGracePeriod(t *testing.T) {
	var buf bytes.Buffer
	store := &mockStore{objects: []audio.StoredObject{obj("a.mp3", 10*time.Minute)}}

	job := newTestJob(&buf, store, &mockRefs{}, nil)
	job.GracePeriod = 5 * time.Minute

	deleted, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}
	if deleted != 1 {
		t.Errorf("削除件数 = %d, want 1", deleted)
	}
}

func TestAudioSweepJob_Run_Batches(t *testing.T) {
	var buf bytes.Buffer
	store := &mockStore{}
	for i := range batchSize + 3 {
		store.objects = append(store.objects, obj(fmt.Sprintf("%d.mp3", i), 2*time.Hour))
	}
	refs := &mockRefs{}

	deleted, err := newTestJob(&buf, store, refs, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}
	if deleted != batchSize+3 {
		t.Errorf("削除件数 = %d, want %d", deleted, batchSize+3)
	}
	if len(refs.calls) != 2 || len(refs.calls[0]) != batchSize || len(refs.calls[1]) != 3 {
		t.Errorf("バッチ分割が期待と異なる: %d 回", len(refs.calls))
	}
}

func TestAudioSweepJob_Run_ReferenceLookupFailure(t *testing.T) {
	var buf bytes.Buffer
	store := &mockStore{objects: []audio.StoredObject{obj("a.mp3", 2*time.Hour)}}
	refs := &mockRefs{err: sql.ErrConnDone}
	rec := &mockRecorder{}

	_, err := newTestJob(&buf, store, refs, rec).Run(context.Background())
	if !errors.Is(err, sql.ErrConnDone) {
		t.Fatalf("DBエラーを包んで返すべき: %v", err)
	}

	// 参照確認に失敗した場合は何も削除しない
	if len(store.deleted) != 0 {
		t.Errorf("参照確認に失敗した場合は削除してはならない: %v", store.deleted)
	}
	if !rec.failed {
		t.Error("失敗が記録されるべき")
	}
	if !strings.Contains(buf.String(), "ERROR") {
		t.Errorf("ERRORレベルのログが記録されていない: %s", buf.String())
	}
}

func TestAudioSweepJob_Run_ListFailure(t *testing.T) {
	var buf bytes.Buffer
	store := &mockStore{listErr: errors.New("permission denied")}

	if _, err := newTestJob(&buf, store, &mockRefs{}, nil).Run(context.Background()); err == nil {
		t.Fatal("列挙失敗時はエラーを返すべき")
	}
}

func TestAudioSweepJob_Run_ContinuesOnDeleteFailure(t *testing.T) {
	var buf bytes.Buffer
	store := &mockStore{
		objects: []audio.StoredObject{
			obj("stuck.mp3", 2*time.Hour),
			obj("ok.mp3", 2*time.Hour),
		},
		deleteErr: map[string]error{"stuck.mp3": errors.New("busy")},
	}

	deleted, err := newTestJob(&buf, store, &mockRefs{}, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("個々の削除失敗でジョブを失敗させてはならない: %v", err)
	}
	if deleted != 1 || !slices.Equal(store.deleted, []string{"ok.mp3"}) {
		t.Errorf("削除結果 = %d %v", deleted, store.deleted)
	}
	if !strings.Contains(buf.String(), "stuck.mp3") {
		t.Errorf("削除失敗がログに記録されるべき: %s", buf.String())
	}
}

func TestAudioSweepJob_Run_Idempotent(t *testing.T) {
	var buf bytes.Buffer
	store := &mockStore{}
	job := newTestJob(&buf, store, &mockRefs{}, nil)

	for i := range 2 {
		if _, err := job.Run(context.Background()); err != nil {
			t.Fatalf("%d回目の Run() がエラーを返した: %v", i+1, err)
		}
	}
}

func TestAudioSweepJob_Run_LogsDeletedCount(t *testing.T) {
	var buf bytes.Buffer
	store := &mockStore{objects: []audio.StoredObject{
		obj("a.mp3", 2*time.Hour),
		obj("b.mp3", 2*time.Hour),
	}}

	_, _ = newTestJob(&buf, store, &mockRefs{}, nil).Run(context.Background())

	found := false
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if count, ok := entry["deleted_count"]; ok && count == float64(2) {
			if _, ok := entry["duration_ms"]; ok {
				found = true
			}
		}
	}
	if !found {
		t.Errorf("ログに deleted_count=2 と duration_ms が記録されていない。ログ出力: %s", buf.String())
	}
}

func TestAudioSweepJob_Run_RespectsContext(t *testing.T) {
	var buf bytes.Buffer
	store := &mockStore{objects: []audio.StoredObject{obj("a.mp3", 2*time.Hour)}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestJob(&buf, store, &mockRefs{}, nil).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("キャンセル時は context.Canceled を返すべき: %v", err)
	}
	if len(store.deleted) != 0 {
		t.Errorf("キャンセル後に削除してはならない: %v", store.deleted)
	}
}
