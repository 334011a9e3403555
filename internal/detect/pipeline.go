// internal/detect/pipeline.go
package detect

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sua-org/digefx-monitor/internal/bus"
	"github.com/sua-org/digefx-monitor/internal/core"
	"github.com/sua-org/digefx-monitor/internal/inference"
	"github.com/sua-org/digefx-monitor/internal/video"
)

// Detector roda o modelo pesado de objetos num frame já extraído.
type Detector interface {
	DetectObjects(ctx context.Context, framePath string) ([]inference.Detection, error)
}

// DetectorPool empresta handles de Detector aos workers. Todo Acquire com
// sucesso DEVE ser pareado com Release, inclusive quando o lote falha no
// meio.
type DetectorPool interface {
	Acquire(ctx context.Context) (Detector, error)
	Release(d Detector)
}

// PoolAdapter expõe o pool de clientes de inferência no contrato do
// pipeline.
type PoolAdapter struct {
	Pool *inference.Pool
}

func (p PoolAdapter) Acquire(ctx context.Context) (Detector, error) {
	c, err := p.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (p PoolAdapter) Release(d Detector) {
	if c, ok := d.(*inference.Client); ok {
		p.Pool.Release(c)
	}
}

// AlertSaver persiste o alerta antes da publicação no bus. É a mesma
// tabela que alimenta o cooldown, então a escrita é síncrona.
type AlertSaver interface {
	SaveAlert(evt *core.AlertEvent) (int64, error)
}

// PipelineConfig parametriza a análise pesada.
type PipelineConfig struct {
	Workers            int     // lotes analisados em paralelo
	WindowSeconds      float64 // raio em torno de cada hit de pose
	DetectionThreshold float64 // razão mínima frames-com-classe/frames-analisados
	QueueLen           int     // fila de vídeos aguardando análise
	EvidenceDir        string  // frames e clipes de evidência
	ClipSeconds        float64 // duração do clipe de evidência
}

func (c *PipelineConfig) defaults() {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.WindowSeconds <= 0 {
		c.WindowSeconds = 1.0
	}
	if c.DetectionThreshold <= 0 {
		c.DetectionThreshold = 0.3
	}
	if c.QueueLen <= 0 {
		c.QueueLen = 4
	}
	if c.EvidenceDir == "" {
		c.EvidenceDir = filepath.Join(os.TempDir(), "digefx-alerts")
	}
	if c.ClipSeconds <= 0 {
		c.ClipSeconds = 10
	}
}

// PipelineStats são contadores acumulados do pipeline.
type PipelineStats struct {
	VideosQueued     uint64 `json:"videos_queued"`
	VideosProcessed  uint64 `json:"videos_processed"`
	VideosRejected   uint64 `json:"videos_rejected"`
	FramesAnalyzed   uint64 `json:"frames_analyzed"`
	AlertsFired      uint64 `json:"alerts_fired"`
	AlertsSuppressed uint64 `json:"alerts_suppressed"`
	BatchErrors      uint64 `json:"batch_errors"`
}

// Pipeline consome eventos TRIGGER_DETECTION, roda o modelo pesado nos
// frames candidatos em lotes paralelos e publica CAMERA_ALERT_DETECTED
// para cada adversidade acima do threshold e fora de cooldown.
//
// A fila de entrada é limitada: rajada de vídeos além da capacidade é
// rejeitada com log em vez de acumular memória sem limite.
type Pipeline struct {
	bus     *bus.Bus
	pool    DetectorPool
	tracker *Tracker
	saver   AlertSaver
	cfg     PipelineConfig

	jobs chan *core.TriggerDetectionEvent

	videosQueued     atomic.Uint64
	videosProcessed  atomic.Uint64
	videosRejected   atomic.Uint64
	framesAnalyzed   atomic.Uint64
	alertsFired      atomic.Uint64
	alertsSuppressed atomic.Uint64
	batchErrors      atomic.Uint64

	// pontos de injeção para teste sem ffmpeg
	extractFrame func(ctx context.Context, videoPath string, ts float64, outPath string) error
	extractClip  func(ctx context.Context, videoPath string, start, duration float64, outPath string) error
	now          func() time.Time
}

// NewPipeline monta o pipeline. saver pode ser nil (nada é persistido).
func NewPipeline(b *bus.Bus, pool DetectorPool, tracker *Tracker, saver AlertSaver, cfg PipelineConfig) *Pipeline {
	cfg.defaults()
	return &Pipeline{
		bus:          b,
		pool:         pool,
		tracker:      tracker,
		saver:        saver,
		cfg:          cfg,
		jobs:         make(chan *core.TriggerDetectionEvent, cfg.QueueLen),
		extractFrame: video.ExtractFrameAt,
		extractClip:  video.ExtractClip,
		now:          time.Now,
	}
}

// NewPipelineFromEnv lê DETECTION_WORKERS, DETECTION_THRESHOLD e
// EVIDENCE_DIR por cima dos defaults.
func NewPipelineFromEnv(b *bus.Bus, pool DetectorPool, tracker *Tracker, saver AlertSaver) (*Pipeline, error) {
	cfg := PipelineConfig{
		Workers:            getenvInt("DETECTION_WORKERS", 2),
		DetectionThreshold: getenvFloat("DETECTION_THRESHOLD", 0.3),
		EvidenceDir:        getenv("EVIDENCE_DIR", ""),
	}
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("DETECTION_WORKERS inválido (%d)", cfg.Workers)
	}
	if cfg.DetectionThreshold <= 0 || cfg.DetectionThreshold > 1 {
		return nil, fmt.Errorf("DETECTION_THRESHOLD inválido (%.2f)", cfg.DetectionThreshold)
	}
	return NewPipeline(b, pool, tracker, saver, cfg), nil
}

// Register inscreve o pipeline no bus. O handler só enfileira: a análise
// acontece no goroutine de Run.
func (p *Pipeline) Register() error {
	return p.bus.Subscribe(core.EventTriggerDetection, "detect-pipeline", func(ctx context.Context, evt core.Event) error {
		trigger, ok := evt.(*core.TriggerDetectionEvent)
		if !ok {
			return fmt.Errorf("detect: evento inesperado %T", evt)
		}
		return p.enqueue(trigger)
	})
}

func (p *Pipeline) enqueue(evt *core.TriggerDetectionEvent) error {
	select {
	case p.jobs <- evt:
		p.videosQueued.Add(1)
		return nil
	default:
		p.videosRejected.Add(1)
		log.Printf("[detect] fila de análise cheia (%d), descartando %s", p.cfg.QueueLen, evt.VideoPath)
		return fmt.Errorf("detect: fila de análise cheia, vídeo %s descartado", evt.VideoPath)
	}
}

// Run drena a fila até o contexto encerrar. Vídeos já enfileirados quando
// o contexto cai são abandonados.
func (p *Pipeline) Run(ctx context.Context) {
	log.Printf("[detect] pipeline iniciado (workers=%d, threshold=%.2f, fila=%d)",
		p.cfg.Workers, p.cfg.DetectionThreshold, p.cfg.QueueLen)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[detect] pipeline encerrado")
			return
		case evt := <-p.jobs:
			p.processVideo(ctx, evt)
		}
	}
}

// Stats devolve um snapshot dos contadores.
func (p *Pipeline) Stats() PipelineStats {
	return PipelineStats{
		VideosQueued:     p.videosQueued.Load(),
		VideosProcessed:  p.videosProcessed.Load(),
		VideosRejected:   p.videosRejected.Load(),
		FramesAnalyzed:   p.framesAnalyzed.Load(),
		AlertsFired:      p.alertsFired.Load(),
		AlertsSuppressed: p.alertsSuppressed.Load(),
		BatchErrors:      p.batchErrors.Load(),
	}
}

type batchResult struct {
	counts    map[string]int
	processed int
	err       error
}

// processVideo roda a análise pesada de um vídeo escalado.
func (p *Pipeline) processVideo(ctx context.Context, evt *core.TriggerDetectionEvent) {
	defer p.videosProcessed.Add(1)

	indices := CandidateIndices(evt.PoseHits, evt.FPS, evt.TotalFrames, p.cfg.WindowSeconds)
	if len(indices) == 0 {
		log.Printf("[detect] %s: nenhum frame candidato, ignorando", evt.VideoPath)
		return
	}
	batches := SplitBatches(indices, p.cfg.Workers)

	frameDir, err := os.MkdirTemp("", "digefx-detect-*")
	if err != nil {
		log.Printf("[detect] erro ao criar diretório de trabalho: %v", err)
		return
	}
	defer os.RemoveAll(frameDir)

	log.Printf("[detect] %s: %d frames candidatos em %d lote(s)", evt.VideoPath, len(indices), len(batches))

	results := make([]batchResult, len(batches))
	g := new(errgroup.Group)
	g.SetLimit(p.cfg.Workers)
	for bi, batch := range batches {
		bi, batch := bi, batch
		g.Go(func() error {
			results[bi] = p.runBatch(ctx, evt, batch, frameDir)
			return nil
		})
	}
	g.Wait()

	aggregate := make(map[string]int)
	totalProcessed := 0
	batchErrs := 0
	for bi, res := range results {
		totalProcessed += res.processed
		for code, n := range res.counts {
			aggregate[code] += n
		}
		if res.err != nil {
			batchErrs++
			p.batchErrors.Add(1)
			log.Printf("[detect] lote %d de %s falhou após %d frame(s): %v", bi, evt.VideoPath, res.processed, res.err)
		}
	}
	p.framesAnalyzed.Add(uint64(totalProcessed))

	if totalProcessed == 0 {
		log.Printf("[detect] %s: nenhum frame analisado (%d lotes com erro)", evt.VideoPath, batchErrs)
		return
	}

	for _, code := range evt.AlertCodes {
		count := aggregate[code]
		ratio := float64(count) / float64(totalProcessed)
		if ratio < p.cfg.DetectionThreshold {
			continue
		}

		at, ok := core.AlertTypeByCode(code)
		if !ok {
			log.Printf("[detect] código de alerta desconhecido %q na câmera %s, ignorando", code, evt.Camera.Name)
			continue
		}

		now := p.now()
		if !p.tracker.ShouldFire(evt.Camera.ID, at.Code, now) {
			p.alertsSuppressed.Add(1)
			log.Printf("[detect] %s na câmera %s em cooldown, suprimido", at.Code, evt.Camera.Name)
			continue
		}

		alert := core.NewAlertEvent(evt.Camera, at, ratio, map[string]interface{}{
			"source_video":    evt.VideoPath,
			"frames_analyzed": totalProcessed,
			"frames_matched":  count,
			"pose_hits":       len(evt.PoseHits),
			"batch_errors":    batchErrs,
		})
		p.attachEvidence(ctx, evt, alert, now)

		if p.saver != nil {
			if _, err := p.saver.SaveAlert(alert); err != nil {
				log.Printf("[detect] erro ao salvar alerta %s: %v", at.Code, err)
			}
		}
		p.tracker.MarkFired(evt.Camera.ID, at.Code, now)
		p.alertsFired.Add(1)
		log.Printf("[detect] alerta %s na câmera %s (confiança %.2f, %d/%d frames)",
			at.Code, evt.Camera.Name, ratio, count, totalProcessed)

		p.bus.Publish(ctx, alert)
	}
}

// runBatch analisa um lote de índices com um handle emprestado do pool.
// Falha no meio do lote interrompe o lote, mas preserva as contagens
// parciais; o handle volta pro pool em qualquer caminho.
func (p *Pipeline) runBatch(ctx context.Context, evt *core.TriggerDetectionEvent, batch []int, frameDir string) batchResult {
	res := batchResult{counts: make(map[string]int)}

	det, err := p.pool.Acquire(ctx)
	if err != nil {
		res.err = fmt.Errorf("erro ao obter handle do pool: %w", err)
		return res
	}
	defer p.pool.Release(det)

	for _, idx := range batch {
		framePath := filepath.Join(frameDir, fmt.Sprintf("cand_%06d.jpg", idx))
		ts := float64(idx) / evt.FPS

		if err := p.extractFrame(ctx, evt.VideoPath, ts, framePath); err != nil {
			res.err = fmt.Errorf("erro ao extrair frame %d: %w", idx, err)
			return res
		}
		dets, err := det.DetectObjects(ctx, framePath)
		os.Remove(framePath)
		if err != nil {
			res.err = fmt.Errorf("erro ao analisar frame %d: %w", idx, err)
			return res
		}

		for _, code := range EvaluateFrame(dets) {
			res.counts[code]++
		}
		res.processed++
	}
	return res
}

// attachEvidence extrai um frame e um clipe em torno do hit de pose mais
// confiante. Falha aqui não bloqueia o alerta.
func (p *Pipeline) attachEvidence(ctx context.Context, evt *core.TriggerDetectionEvent, alert *core.AlertEvent, now time.Time) {
	if err := os.MkdirAll(p.cfg.EvidenceDir, 0o755); err != nil {
		log.Printf("[detect] erro ao criar diretório de evidência: %v", err)
		return
	}

	bestTS := 0.0
	bestConf := -1.0
	for _, hit := range evt.PoseHits {
		if hit.Confidence > bestConf {
			bestConf = hit.Confidence
			bestTS = hit.Timestamp
		}
	}

	stem := fmt.Sprintf("camera_%d_%s_%d", evt.Camera.ID, strings.ToLower(alert.AlertCode), now.Unix())

	imagePath := filepath.Join(p.cfg.EvidenceDir, stem+".jpg")
	if err := p.extractFrame(ctx, evt.VideoPath, bestTS, imagePath); err != nil {
		log.Printf("[detect] erro ao extrair frame de evidência: %v", err)
	} else {
		alert.ImagePath = imagePath
	}

	start := bestTS - p.cfg.ClipSeconds/2
	if start < 0 {
		start = 0
	}
	clipPath := filepath.Join(p.cfg.EvidenceDir, stem+".mp4")
	if err := p.extractClip(ctx, evt.VideoPath, start, p.cfg.ClipSeconds, clipPath); err != nil {
		log.Printf("[detect] erro ao extrair clipe de evidência: %v", err)
	} else {
		alert.ClipPath = clipPath
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return def
	}
	return n
}

func getenvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var f float64
	if _, err := fmt.Sscanf(v, "%f", &f); err != nil {
		return def
	}
	return f
}
