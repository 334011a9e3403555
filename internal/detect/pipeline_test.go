// internal/detect/pipeline_test.go
package detect

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sua-org/digefx-monitor/internal/bus"
	"github.com/sua-org/digefx-monitor/internal/core"
	"github.com/sua-org/digefx-monitor/internal/inference"
)

// fakeDetector resolve o índice do frame pelo nome do arquivo e delega
// pra função do teste.
type fakeDetector struct {
	fn func(idx int) ([]inference.Detection, error)
}

func (f *fakeDetector) DetectObjects(_ context.Context, framePath string) ([]inference.Detection, error) {
	var idx int
	if _, err := fmt.Sscanf(filepath.Base(framePath), "cand_%d.jpg", &idx); err != nil {
		return nil, fmt.Errorf("frame path inesperado %q: %v", framePath, err)
	}
	return f.fn(idx)
}

type fakePool struct {
	mu          sync.Mutex
	fn          func(idx int) ([]inference.Detection, error)
	acquires    int
	outstanding int
	failAcquire bool
}

func (p *fakePool) Acquire(ctx context.Context) (Detector, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failAcquire {
		return nil, errors.New("pool esgotado")
	}
	p.acquires++
	p.outstanding++
	return &fakeDetector{fn: p.fn}, nil
}

func (p *fakePool) Release(Detector) {
	p.mu.Lock()
	p.outstanding--
	p.mu.Unlock()
}

func (p *fakePool) snapshot() (acquires, outstanding int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquires, p.outstanding
}

type fakeSaver struct {
	mu    sync.Mutex
	saved []*core.AlertEvent
	err   error
}

func (s *fakeSaver) SaveAlert(evt *core.AlertEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	s.saved = append(s.saved, evt)
	return int64(len(s.saved)), nil
}

func (s *fakeSaver) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

type alertCapture struct {
	mu     sync.Mutex
	alerts []*core.AlertEvent
}

func (c *alertCapture) list() []*core.AlertEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*core.AlertEvent, len(c.alerts))
	copy(out, c.alerts)
	return out
}

func newTestPipeline(t *testing.T, pool DetectorPool, tracker *Tracker, saver AlertSaver, cfg PipelineConfig) (*Pipeline, *bus.Bus, *alertCapture) {
	t.Helper()

	b := bus.NewWithHistory(16)
	captured := &alertCapture{}
	err := b.Subscribe(core.EventCameraAlert, "capture", func(_ context.Context, evt core.Event) error {
		alert, ok := evt.(*core.AlertEvent)
		if !ok {
			return fmt.Errorf("evento inesperado %T", evt)
		}
		captured.mu.Lock()
		captured.alerts = append(captured.alerts, alert)
		captured.mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if cfg.EvidenceDir == "" {
		cfg.EvidenceDir = t.TempDir()
	}
	p := NewPipeline(b, pool, tracker, saver, cfg)
	p.extractFrame = func(context.Context, string, float64, string) error { return nil }
	p.extractClip = func(context.Context, string, float64, float64, string) error { return nil }
	p.now = func() time.Time { return time.Unix(1700000000, 0) }
	return p, b, captured
}

func newTrigger(cam core.Camera, fps float64, totalFrames int, hitTimestamps ...float64) *core.TriggerDetectionEvent {
	path := "/videos/" + cam.Name + "/r0001.mp4"
	return core.NewTriggerDetectionEvent(path, cam, hitsAt(hitTimestamps...), totalFrames, fps, nil)
}

func waitForPipeline(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", d)
}

// TestProcessVideoFiresAlert verifies the full pass: candidate frames,
// parallel batches, rules, threshold and alert publication with evidence.
func TestProcessVideoFiresAlert(t *testing.T) {
	cam := core.Camera{ID: 3, Name: "cam-frente", IP: "10.0.0.31", Active: true,
		AlertCodes: []string{"NO_HELMET", "SMOKING"}}

	// Pessoa sem capacete em todo frame; fumando só em 5 de 21 (abaixo do threshold).
	pool := &fakePool{fn: func(idx int) ([]inference.Detection, error) {
		d := dets(ClassPerson, ClassGloves, ClassSeatBelt)
		if idx%5 == 0 {
			d = append(d, inference.Detection{Class: ClassSmoking, Confidence: 0.8})
		}
		return d, nil
	}}
	saver := &fakeSaver{}
	p, _, captured := newTestPipeline(t, pool, NewTracker(nil, time.Hour), saver, PipelineConfig{Workers: 2})

	// hit em 5.0s a 10 fps: candidatos 40..60 (21 frames)
	p.processVideo(context.Background(), newTrigger(cam, 10.0, 200, 5.0))

	alerts := captured.list()
	if len(alerts) != 1 {
		t.Fatalf("Expected 1 alert, got %d", len(alerts))
	}
	alert := alerts[0]
	if alert.AlertCode != "NO_HELMET" {
		t.Errorf("Expected NO_HELMET, got %s", alert.AlertCode)
	}
	if alert.AlertTypeID != 1 || alert.Severity != "high" {
		t.Errorf("Expected catalog fields (id=1, high), got id=%d sev=%s", alert.AlertTypeID, alert.Severity)
	}
	if alert.CameraID != 3 || alert.CameraName != "cam-frente" {
		t.Errorf("Expected camera 3/cam-frente, got %d/%s", alert.CameraID, alert.CameraName)
	}
	if alert.Confidence != 1.0 {
		t.Errorf("Expected confidence 1.0, got %.3f", alert.Confidence)
	}
	if !strings.Contains(alert.ImagePath, "camera_3_no_helmet_") || !strings.HasSuffix(alert.ImagePath, ".jpg") {
		t.Errorf("Unexpected evidence image path %q", alert.ImagePath)
	}
	if !strings.HasSuffix(alert.ClipPath, ".mp4") {
		t.Errorf("Unexpected evidence clip path %q", alert.ClipPath)
	}
	if got := alert.Metadata()["frames_analyzed"].(int); got != 21 {
		t.Errorf("Expected 21 frames analyzed, got %d", got)
	}
	if got := alert.Metadata()["frames_matched"].(int); got != 21 {
		t.Errorf("Expected 21 frames matched, got %d", got)
	}

	if saver.count() != 1 {
		t.Errorf("Expected 1 persisted alert, got %d", saver.count())
	}
	stats := p.Stats()
	if stats.VideosProcessed != 1 || stats.FramesAnalyzed != 21 || stats.AlertsFired != 1 || stats.BatchErrors != 0 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
	acquires, outstanding := pool.snapshot()
	if acquires != 2 || outstanding != 0 {
		t.Errorf("Expected 2 pool acquires all returned, got acquires=%d outstanding=%d", acquires, outstanding)
	}
}

// TestProcessVideoRespectsEnabledCodes verifies codes the camera did not
// enable never fire even at 100% ratio.
func TestProcessVideoRespectsEnabledCodes(t *testing.T) {
	cam := core.Camera{ID: 5, Name: "cam-cabine", Active: true, AlertCodes: []string{"NO_HELMET"}}
	pool := &fakePool{fn: func(int) ([]inference.Detection, error) {
		return dets(ClassPerson), nil // dispararia as três derivadas
	}}
	p, _, captured := newTestPipeline(t, pool, NewTracker(nil, time.Hour), nil, PipelineConfig{Workers: 2})

	p.processVideo(context.Background(), newTrigger(cam, 10.0, 200, 5.0))

	alerts := captured.list()
	if len(alerts) != 1 {
		t.Fatalf("Expected only the enabled code to fire, got %d alerts", len(alerts))
	}
	if alerts[0].AlertCode != "NO_HELMET" {
		t.Errorf("Expected NO_HELMET, got %s", alerts[0].AlertCode)
	}
}

// TestProcessVideoThresholdBoundary verifies the ratio comparison is
// inclusive: exactly at the threshold fires, below does not.
func TestProcessVideoThresholdBoundary(t *testing.T) {
	cam := core.Camera{ID: 7, Name: "cam-lateral", Active: true, AlertCodes: []string{"SMOKING"}}
	cfg := PipelineConfig{Workers: 2, WindowSeconds: 2, DetectionThreshold: 0.4}

	// 1 fps, hit em 10s, janela ±2s: candidatos 8..12 (5 frames)
	run := func(smokingFrames map[int]bool) []*core.AlertEvent {
		pool := &fakePool{fn: func(idx int) ([]inference.Detection, error) {
			if smokingFrames[idx] {
				return dets(ClassSmoking), nil
			}
			return nil, nil
		}}
		p, _, captured := newTestPipeline(t, pool, NewTracker(nil, time.Hour), nil, cfg)
		p.processVideo(context.Background(), newTrigger(cam, 1.0, 100, 10.0))
		return captured.list()
	}

	atThreshold := run(map[int]bool{8: true, 9: true}) // 2/5 = 0.4
	if len(atThreshold) != 1 {
		t.Fatalf("Expected alert at exactly the threshold, got %d", len(atThreshold))
	}
	if atThreshold[0].Confidence != 0.4 {
		t.Errorf("Expected confidence 0.4, got %.3f", atThreshold[0].Confidence)
	}

	below := run(map[int]bool{8: true}) // 1/5 = 0.2
	if len(below) != 0 {
		t.Fatalf("Expected no alert below the threshold, got %d", len(below))
	}
}

// TestProcessVideoCooldown verifies refires are suppressed inside the
// cooldown window and allowed once it elapses.
func TestProcessVideoCooldown(t *testing.T) {
	cam := core.Camera{ID: 2, Name: "cam-patio", Active: true, AlertCodes: []string{"NO_HELMET"}}
	pool := &fakePool{fn: func(int) ([]inference.Detection, error) {
		return dets(ClassPerson), nil
	}}
	p, _, captured := newTestPipeline(t, pool, NewTracker(nil, 3600*time.Second), nil, PipelineConfig{Workers: 2})

	clock := int64(100)
	p.now = func() time.Time { return time.Unix(clock, 0) }
	evt := newTrigger(cam, 10.0, 200, 5.0)

	p.processVideo(context.Background(), evt)
	if len(captured.list()) != 1 {
		t.Fatalf("Expected first pass to fire, got %d alerts", len(captured.list()))
	}

	clock = 150
	p.processVideo(context.Background(), evt)
	if len(captured.list()) != 1 {
		t.Fatalf("Expected refire at t=150 suppressed, got %d alerts", len(captured.list()))
	}
	if got := p.Stats().AlertsSuppressed; got != 1 {
		t.Errorf("Expected 1 suppressed alert, got %d", got)
	}

	clock = 3700
	p.processVideo(context.Background(), evt)
	if len(captured.list()) != 2 {
		t.Fatalf("Expected refire at t=3700 after cooldown, got %d alerts", len(captured.list()))
	}
}

// TestProcessVideoPartialBatch verifies a worker failing mid-batch keeps
// its partial counts, returns its handle, and the other batches finish.
func TestProcessVideoPartialBatch(t *testing.T) {
	cam := core.Camera{ID: 4, Name: "cam-fundo", Active: true, AlertCodes: []string{"NO_HELMET"}}

	// hit em 5.0s a 10 fps com janela 0.9s: candidatos 41..59 (19 frames),
	// dois lotes: 41..50 e 51..59. O frame 43 derruba o primeiro lote
	// depois de 2 frames processados.
	pool := &fakePool{fn: func(idx int) ([]inference.Detection, error) {
		if idx == 43 {
			return nil, errors.New("modelo travou")
		}
		return dets(ClassPerson), nil
	}}
	p, _, captured := newTestPipeline(t, pool, NewTracker(nil, time.Hour), nil,
		PipelineConfig{Workers: 2, WindowSeconds: 0.9})

	p.processVideo(context.Background(), newTrigger(cam, 10.0, 1000, 5.0))

	alerts := captured.list()
	if len(alerts) != 1 {
		t.Fatalf("Expected alert from partial counts, got %d", len(alerts))
	}
	if got := alerts[0].Metadata()["frames_analyzed"].(int); got != 11 {
		t.Errorf("Expected 11 frames analyzed (2 partial + 9), got %d", got)
	}
	if alerts[0].Confidence != 1.0 {
		t.Errorf("Expected confidence 1.0 over processed frames, got %.3f", alerts[0].Confidence)
	}

	stats := p.Stats()
	if stats.BatchErrors != 1 {
		t.Errorf("Expected 1 batch error, got %d", stats.BatchErrors)
	}
	if stats.FramesAnalyzed != 11 {
		t.Errorf("Expected 11 frames analyzed in stats, got %d", stats.FramesAnalyzed)
	}
	acquires, outstanding := pool.snapshot()
	if acquires != 2 || outstanding != 0 {
		t.Errorf("Expected both handles returned after failure, got acquires=%d outstanding=%d", acquires, outstanding)
	}
}

// TestProcessVideoPoolExhausted verifies acquire failures are isolated
// per batch and nothing fires.
func TestProcessVideoPoolExhausted(t *testing.T) {
	cam := core.Camera{ID: 6, Name: "cam-doca", Active: true, AlertCodes: []string{"NO_HELMET"}}
	pool := &fakePool{failAcquire: true}
	p, _, captured := newTestPipeline(t, pool, NewTracker(nil, time.Hour), nil, PipelineConfig{Workers: 2})

	p.processVideo(context.Background(), newTrigger(cam, 10.0, 200, 5.0))

	if len(captured.list()) != 0 {
		t.Errorf("Expected no alerts when the pool is down, got %d", len(captured.list()))
	}
	stats := p.Stats()
	if stats.BatchErrors != 2 || stats.FramesAnalyzed != 0 {
		t.Errorf("Unexpected stats with pool down: %+v", stats)
	}
}

// TestProcessVideoSaverErrorStillPublishes verifies persistence failure
// does not block the alert nor the cooldown mark.
func TestProcessVideoSaverErrorStillPublishes(t *testing.T) {
	cam := core.Camera{ID: 8, Name: "cam-rampa", Active: true, AlertCodes: []string{"NO_HELMET"}}
	pool := &fakePool{fn: func(int) ([]inference.Detection, error) {
		return dets(ClassPerson), nil
	}}
	saver := &fakeSaver{err: errors.New("disco cheio")}
	p, _, captured := newTestPipeline(t, pool, NewTracker(nil, time.Hour), saver, PipelineConfig{Workers: 2})

	evt := newTrigger(cam, 10.0, 200, 5.0)
	p.processVideo(context.Background(), evt)

	if len(captured.list()) != 1 {
		t.Fatalf("Expected alert published despite saver error, got %d", len(captured.list()))
	}

	// cooldown marcado mesmo sem persistir
	p.processVideo(context.Background(), evt)
	if len(captured.list()) != 1 {
		t.Errorf("Expected second pass suppressed by cooldown, got %d alerts", len(captured.list()))
	}
}

// TestEnqueueBackpressure verifies the bounded queue rejects bursts
// instead of growing without limit.
func TestEnqueueBackpressure(t *testing.T) {
	cam := core.Camera{ID: 1, Name: "cam-frente", Active: true, AlertCodes: []string{"NO_HELMET"}}
	pool := &fakePool{fn: func(int) ([]inference.Detection, error) { return nil, nil }}
	p, _, _ := newTestPipeline(t, pool, NewTracker(nil, time.Hour), nil,
		PipelineConfig{Workers: 2, QueueLen: 1})

	evt := newTrigger(cam, 10.0, 200, 5.0)
	if err := p.enqueue(evt); err != nil {
		t.Fatalf("First enqueue failed: %v", err)
	}
	if err := p.enqueue(evt); err == nil {
		t.Fatalf("Expected second enqueue rejected with a full queue")
	}

	stats := p.Stats()
	if stats.VideosQueued != 1 || stats.VideosRejected != 1 {
		t.Errorf("Expected 1 queued and 1 rejected, got %+v", stats)
	}
}

// TestRegisterAndRun verifies the bus-to-queue-to-analysis path: a
// published TRIGGER_DETECTION comes back as an alert on the bus.
func TestRegisterAndRun(t *testing.T) {
	cam := core.Camera{ID: 9, Name: "cam-garagem", Active: true, AlertCodes: []string{"NO_SEAT_BELT"}}
	pool := &fakePool{fn: func(int) ([]inference.Detection, error) {
		return dets(ClassPerson, ClassHelmet, ClassGloves), nil // sem cinto
	}}
	p, b, captured := newTestPipeline(t, pool, NewTracker(nil, time.Hour), nil, PipelineConfig{Workers: 2})

	if err := p.Register(); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	b.Publish(ctx, newTrigger(cam, 10.0, 200, 5.0))

	waitForPipeline(t, 2*time.Second, func() bool { return p.Stats().VideosProcessed == 1 })

	alerts := captured.list()
	if len(alerts) != 1 {
		t.Fatalf("Expected 1 alert after Run drained the queue, got %d", len(alerts))
	}
	if alerts[0].AlertCode != "NO_SEAT_BELT" {
		t.Errorf("Expected NO_SEAT_BELT, got %s", alerts[0].AlertCode)
	}
}
