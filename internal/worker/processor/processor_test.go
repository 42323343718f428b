package processor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	testingclock "k8s.io/utils/clock/testing"

	"comfyrelay/internal/models"
	"comfyrelay/internal/pkg/logger"
	"comfyrelay/internal/pkg/poll/polltest"
	"comfyrelay/internal/worker/artifacts"
	"comfyrelay/internal/worker/comfy"
	"comfyrelay/internal/worker/delivery"
	"comfyrelay/internal/worker/supervisor"
)

// fakeComfy emulates /prompt and /history/{id}. history returns the body
// for the n-th history call (1-based).
type fakeComfy struct {
	mu           sync.Mutex
	promptStatus int
	promptBody   string
	history      func(n int) string
	historyCalls int
	prompts      []map[string]any
}

func (f *fakeComfy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/prompt":
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.prompts = append(f.prompts, body)
		if f.promptStatus != 0 && f.promptStatus != http.StatusOK {
			w.WriteHeader(f.promptStatus)
			_, _ = w.Write([]byte(f.promptBody))
			return
		}
		_, _ = w.Write([]byte(`{"prompt_id":"p-1","number":0}`))
	case strings.HasPrefix(r.URL.Path, "/history/"):
		f.historyCalls++
		body := `{}`
		if f.history != nil {
			body = f.history(f.historyCalls)
		}
		_, _ = w.Write([]byte(body))
	default:
		w.WriteHeader(http.StatusOK)
	}
}

func (f *fakeComfy) calls() (prompts, history int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts), f.historyCalls
}

type fakePinger struct{ up atomic.Bool }

func (p *fakePinger) Ping(context.Context) error {
	if p.up.Load() {
		return nil
	}
	return errors.New("connection refused")
}

type fakeProcess struct{ terminated atomic.Int32 }

func (p *fakeProcess) Pid() int { return 7 }

func (p *fakeProcess) Terminate() error {
	p.terminated.Add(1)
	return nil
}

type fakeLauncher struct {
	pinger   *fakePinger
	proc     fakeProcess
	launched atomic.Int32
}

func (l *fakeLauncher) Launch(context.Context) (supervisor.Process, error) {
	l.launched.Add(1)
	l.pinger.up.Store(true)
	return &l.proc, nil
}

// spyDeliverer records calls and can panic to exercise recovery.
type spyDeliverer struct {
	inner delivery.Deliverer
	calls atomic.Int32
	panic bool
}

func (s *spyDeliverer) Name() string { return s.inner.Name() }

func (s *spyDeliverer) Deliver(ctx context.Context, found map[artifacts.Kind]artifacts.Record) ([]models.Artifact, error) {
	s.calls.Add(1)
	if s.panic {
		panic("deliverer exploded")
	}
	return s.inner.Deliver(ctx, found)
}

type harness struct {
	proc     *Processor
	comfy    *fakeComfy
	launcher *fakeLauncher
	deliver  *spyDeliverer
	outDir   string
	clk      *testingclock.FakeClock
}

type harnessOptions struct {
	running       bool
	failOnTimeout bool
	deliverer     delivery.Deliverer
}

func newHarness(t *testing.T, fc *fakeComfy, opts harnessOptions) *harness {
	t.Helper()

	srv := httptest.NewServer(fc)
	t.Cleanup(srv.Close)

	clk := polltest.NewClock(t, time.Second)
	outDir := t.TempDir()

	pinger := &fakePinger{}
	pinger.up.Store(opts.running)
	launcher := &fakeLauncher{pinger: pinger}

	inner := opts.deliverer
	if inner == nil {
		inner = delivery.Inline{}
	}
	spy := &spyDeliverer{inner: inner}

	log := logger.Discard()
	sup := supervisor.New(pinger, launcher, supervisor.Options{Clock: clk}, log)

	p := New(Deps{
		Comfy:      comfy.NewHTTPClient(srv.URL, time.Second),
		Supervisor: sup,
		Locator:    artifacts.NewLocator(outDir, 300*time.Second, clk),
		Deliverer:  spy,
		Poll: PollConfig{
			Interval:      2 * time.Second,
			Timeout:       300 * time.Second,
			SettleDelay:   2 * time.Second,
			FailOnTimeout: opts.failOnTimeout,
		},
		Clock: clk,
		Log:   log,
	})

	return &harness{proc: p, comfy: fc, launcher: launcher, deliver: spy, outDir: outDir, clk: clk}
}

func (h *harness) writeArtifact(t *testing.T, name string) {
	t.Helper()
	p := filepath.Join(h.outDir, name)
	if err := os.WriteFile(p, []byte("data:"+name), 0o644); err != nil {
		t.Error(err)
		return
	}
	now := h.clk.Now()
	_ = os.Chtimes(p, now, now)
}

func workflowJob() *models.Job {
	return &models.Job{ID: "job-1", Input: models.JobInput{Workflow: map[string]any{
		"1": map[string]any{"class_type": "HYMotionGenerate", "inputs": map[string]any{"text": "walk"}},
		"2": map[string]any{"class_type": "HYMotionSave", "inputs": map[string]any{"filename_prefix": "motion"}},
	}}}
}

const completed = `{"p-1":{"status":{"completed":true,"status_str":"success"}}}`

func TestProcessJobMissingWorkflow(t *testing.T) {
	h := newHarness(t, &fakeComfy{}, harnessOptions{})
	h.writeArtifact(t, "previous.npz")

	for _, job := range []*models.Job{nil, {ID: "j"}, {Input: models.JobInput{Workflow: map[string]any{}}}} {
		resp := h.proc.ProcessJob(context.Background(), job)
		if resp.Error != "No workflow provided" {
			t.Errorf("expected input error, got %+v", resp)
		}
	}

	if prompts, history := h.comfy.calls(); prompts != 0 || history != 0 {
		t.Errorf("expected no server calls, got %d prompts %d history", prompts, history)
	}
	if h.launcher.launched.Load() != 0 {
		t.Error("expected no launch for invalid input")
	}
	if _, err := os.Stat(filepath.Join(h.outDir, "previous.npz")); err != nil {
		t.Errorf("expected no filesystem effects: %v", err)
	}
}

func TestProcessJobSuccessInline(t *testing.T) {
	var h *harness
	fc := &fakeComfy{history: func(n int) string {
		if n < 3 {
			return `{}`
		}
		h.writeArtifact(t, "motion_00001.npz")
		h.writeArtifact(t, "motion_00001.fbx")
		return completed
	}}
	h = newHarness(t, fc, harnessOptions{})

	resp := h.proc.ProcessJob(context.Background(), workflowJob())
	if !resp.OK() {
		t.Fatalf("expected success, got %q", resp.Error)
	}
	if len(resp.Artifacts) != 2 {
		t.Fatalf("expected 2 artifacts, got %+v", resp.Artifacts)
	}
	for _, a := range resp.Artifacts {
		if a.Filename != "motion_00001."+a.Kind || a.Value == "" {
			t.Errorf("unexpected artifact %+v", a)
		}
	}

	if got := h.launcher.launched.Load(); got != 1 {
		t.Errorf("expected one launch, got %d", got)
	}
	if got := h.launcher.proc.terminated.Load(); got != 1 {
		t.Errorf("expected exactly one terminate, got %d", got)
	}
	if _, history := h.comfy.calls(); history != 3 {
		t.Errorf("expected 3 history polls, got %d", history)
	}
}

func TestProcessJobAppliesFilenamePrefix(t *testing.T) {
	var h *harness
	fc := &fakeComfy{history: func(int) string {
		h.writeArtifact(t, "walk_00001.npz")
		h.writeArtifact(t, "other_00001.fbx")
		return completed
	}}
	h = newHarness(t, fc, harnessOptions{running: true})

	job := workflowJob()
	job.Input.FilenamePrefix = "walk"
	resp := h.proc.ProcessJob(context.Background(), job)
	if !resp.OK() {
		t.Fatalf("expected success, got %q", resp.Error)
	}
	if len(resp.Artifacts) != 1 || resp.Artifacts[0].Filename != "walk_00001.npz" {
		t.Errorf("expected only the prefixed artifact, got %+v", resp.Artifacts)
	}

	prompt := fc.prompts[0]["prompt"].(map[string]any)
	save := prompt["2"].(map[string]any)["inputs"].(map[string]any)
	if save["filename_prefix"] != "walk" {
		t.Errorf("expected prefix injected into save node, got %v", save)
	}
	if _, ok := prompt["1"].(map[string]any)["inputs"].(map[string]any)["filename_prefix"]; ok {
		t.Error("expected nodes without filename_prefix to stay untouched")
	}
}

func TestProcessJobPrefixWithoutPrefixNode(t *testing.T) {
	var h *harness
	fc := &fakeComfy{history: func(int) string {
		h.writeArtifact(t, "motion_00001_.npz")
		return completed
	}}
	h = newHarness(t, fc, harnessOptions{running: true})

	job := &models.Job{ID: "job-2", Input: models.JobInput{
		Workflow: map[string]any{
			"1": map[string]any{"class_type": "HYMotionGenerate", "inputs": map[string]any{"text": "walk"}},
		},
		FilenamePrefix: "walk",
	}}
	resp := h.proc.ProcessJob(context.Background(), job)
	if !resp.OK() {
		t.Fatalf("expected success, got %q", resp.Error)
	}
	if len(resp.Artifacts) != 1 || resp.Artifacts[0].Filename != "motion_00001_.npz" {
		t.Errorf("expected the unprefixed artifact, got %+v", resp.Artifacts)
	}
}

func TestProcessJobServerAlreadyRunning(t *testing.T) {
	var h *harness
	fc := &fakeComfy{history: func(int) string {
		h.writeArtifact(t, "a.fbx")
		return completed
	}}
	h = newHarness(t, fc, harnessOptions{running: true})

	resp := h.proc.ProcessJob(context.Background(), workflowJob())
	if !resp.OK() {
		t.Fatalf("expected success, got %q", resp.Error)
	}
	if h.launcher.launched.Load() != 0 || h.launcher.proc.terminated.Load() != 0 {
		t.Error("expected a running server to be neither launched nor stopped")
	}
}

func TestProcessJobSubmissionRejected(t *testing.T) {
	h := newHarness(t, &fakeComfy{promptStatus: 400, promptBody: `{"error":"bad node"}`}, harnessOptions{})

	resp := h.proc.ProcessJob(context.Background(), workflowJob())
	if resp.Error != `Failed to queue prompt: {"error":"bad node"}` {
		t.Errorf("unexpected response %q", resp.Error)
	}
	if got := h.launcher.proc.terminated.Load(); got != 1 {
		t.Errorf("expected exactly one terminate, got %d", got)
	}
	if h.deliver.calls.Load() != 0 {
		t.Error("expected no delivery after a rejected submission")
	}
}

func TestProcessJobExecutionError(t *testing.T) {
	var h *harness
	fc := &fakeComfy{history: func(int) string {
		h.writeArtifact(t, "partial.npz")
		return `{"p-1":{"status":{"completed":false,"status_str":"error"}}}`
	}}
	h = newHarness(t, fc, harnessOptions{})

	resp := h.proc.ProcessJob(context.Background(), workflowJob())
	if resp.Error != "Workflow execution failed" {
		t.Errorf("unexpected response %+v", resp)
	}
	if h.deliver.calls.Load() != 0 {
		t.Error("expected no artifact location after an execution error")
	}
	if _, history := h.comfy.calls(); history != 1 {
		t.Errorf("expected polling to stop at the error, got %d calls", history)
	}
	if got := h.launcher.proc.terminated.Load(); got != 1 {
		t.Errorf("expected exactly one terminate, got %d", got)
	}
}

func TestProcessJobPollTimeoutStillLocates(t *testing.T) {
	var h *harness
	fc := &fakeComfy{history: func(int) string {
		h.writeArtifact(t, "late.npz")
		return `{}`
	}}
	h = newHarness(t, fc, harnessOptions{running: true})

	resp := h.proc.ProcessJob(context.Background(), workflowJob())
	if !resp.OK() {
		t.Fatalf("expected location to run after the ceiling, got %q", resp.Error)
	}
	if len(resp.Artifacts) != 1 || resp.Artifacts[0].Filename != "late.npz" {
		t.Errorf("unexpected artifacts %+v", resp.Artifacts)
	}
	if _, history := h.comfy.calls(); history != 150 {
		t.Errorf("expected 150 polls in 300s at 2s, got %d", history)
	}
}

func TestProcessJobPollTimeoutCanFail(t *testing.T) {
	h := newHarness(t, &fakeComfy{}, harnessOptions{running: true, failOnTimeout: true})

	resp := h.proc.ProcessJob(context.Background(), workflowJob())
	if resp.Error != "Workflow did not complete within 5m0s" {
		t.Errorf("unexpected response %q", resp.Error)
	}
	if h.deliver.calls.Load() != 0 {
		t.Error("expected no delivery when the ceiling is fatal")
	}
}

func TestProcessJobClearsStaleArtifacts(t *testing.T) {
	h := newHarness(t, &fakeComfy{history: func(int) string { return completed }}, harnessOptions{})
	h.writeArtifact(t, "previous_job.npz")
	h.writeArtifact(t, "previous_job.fbx")

	resp := h.proc.ProcessJob(context.Background(), workflowJob())
	if resp.Error != "No output files generated" {
		t.Errorf("expected delivery error once stale files are gone, got %+v", resp)
	}
	for _, name := range []string{"previous_job.npz", "previous_job.fbx"} {
		if _, err := os.Stat(filepath.Join(h.outDir, name)); !os.IsNotExist(err) {
			t.Errorf("expected %s to be cleared, stat err = %v", name, err)
		}
	}
	if got := h.launcher.proc.terminated.Load(); got != 1 {
		t.Errorf("expected exactly one terminate, got %d", got)
	}
}

func TestProcessJobRecoversPanics(t *testing.T) {
	var h *harness
	fc := &fakeComfy{history: func(int) string {
		h.writeArtifact(t, "a.npz")
		return completed
	}}
	h = newHarness(t, fc, harnessOptions{})
	h.deliver.panic = true

	resp := h.proc.ProcessJob(context.Background(), workflowJob())
	if resp.Error != "deliverer exploded" {
		t.Errorf("expected panic converted to an error response, got %+v", resp)
	}
	if got := h.launcher.proc.terminated.Load(); got != 1 {
		t.Errorf("expected exactly one terminate after a panic, got %d", got)
	}
}

func TestProcessJobCancelled(t *testing.T) {
	h := newHarness(t, &fakeComfy{}, harnessOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	h.comfy.history = func(n int) string {
		if n == 2 {
			cancel()
		}
		return `{}`
	}

	resp := h.proc.ProcessJob(ctx, workflowJob())
	if resp.OK() {
		t.Fatal("expected an error response after cancellation")
	}
	if got := h.launcher.proc.terminated.Load(); got != 1 {
		t.Errorf("expected exactly one terminate, got %d", got)
	}
}

func TestProcessJobStorageDeliveryRendersNulls(t *testing.T) {
	var h *harness
	fc := &fakeComfy{history: func(int) string {
		h.writeArtifact(t, "m.npz")
		return completed
	}}
	up := &recordingUploader{}
	h = newHarness(t, fc, harnessOptions{running: true, deliverer: delivery.NewStorage(up, "hy-motion", nil)})

	resp := h.proc.ProcessJob(context.Background(), workflowJob())
	raw, err := json.Marshal(resp)
	if err != nil {
		t.Fatal(err)
	}
	var body map[string]any
	_ = json.Unmarshal(raw, &body)

	if body["status"] != "success" || body["npz"] != "hy-motion/m.npz" || body["npz_filename"] != "m.npz" {
		t.Errorf("unexpected body %v", body)
	}
	if v, ok := body["fbx"]; !ok || v != nil {
		t.Errorf("expected fbx: null, got %v", body)
	}
}

type recordingUploader struct{}

func (recordingUploader) Upload(_ context.Context, localPath, folder string) (string, bool) {
	return folder + "/" + filepath.Base(localPath), true
}
