// internal/video/prefilter.go
package video

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sua-org/digefx-monitor/internal/bus"
	"github.com/sua-org/digefx-monitor/internal/core"
)

// CameraResolver resolve o nome do diretório da câmera contra o cadastro.
// Devolve nil quando a câmera não existe ou está inativa.
type CameraResolver interface {
	ActiveCameraByName(name string) (*core.Camera, error)
}

// Poser é o pedaço do client de inferência que o pré-filtro usa.
type Poser interface {
	DetectPose(ctx context.Context, framePath string, timestamp float64) (*core.PoseHit, error)
}

// PreFilterConfig — zero values caem nos defaults.
type PreFilterConfig struct {
	WorkDir          string        // onde ficam os frames temporários
	SampleFPS        float64       // taxa de amostragem do caminho barato (default 1.0)
	EscalationRatio  float64       // fração de frames com pessoa pra escalar (default 0.1)
	StabilityPoll    time.Duration // intervalo de checagem do tamanho do arquivo (default 1s)
	StabilityQuiet   time.Duration // espera extra depois do tamanho estabilizar (default 2s)
	StabilityMaxWait time.Duration // desistência (default 30s)
}

func (c *PreFilterConfig) defaults() {
	if c.WorkDir == "" {
		c.WorkDir = filepath.Join(os.TempDir(), "digefx-frames")
	}
	if c.SampleFPS <= 0 {
		c.SampleFPS = 1.0
	}
	if c.EscalationRatio <= 0 {
		c.EscalationRatio = 0.1
	}
	if c.StabilityPoll <= 0 {
		c.StabilityPoll = time.Second
	}
	if c.StabilityQuiet <= 0 {
		c.StabilityQuiet = 2 * time.Second
	}
	if c.StabilityMaxWait <= 0 {
		c.StabilityMaxWait = 30 * time.Second
	}
}

// PreFilter é o estágio barato do funil de vídeo: espera o arquivo terminar
// de ser escrito, amostra frames, passa o modelo de pose e só escala pro
// pipeline pesado quando tem gente suficiente no vídeo.
type PreFilter struct {
	bus     *bus.Bus
	cameras CameraResolver
	poser   Poser
	cfg     PreFilterConfig

	mu   sync.Mutex
	seen map[string]time.Time

	// pontos de injeção dos binários externos
	probeFn   func(ctx context.Context, path string) (*Info, error)
	extractFn func(ctx context.Context, videoPath, outDir string, sampleFPS float64) ([]Frame, error)
}

// NewPreFilter monta o pré-filtro.
func NewPreFilter(b *bus.Bus, cameras CameraResolver, poser Poser, cfg PreFilterConfig) *PreFilter {
	cfg.defaults()
	return &PreFilter{
		bus:       b,
		cameras:   cameras,
		poser:     poser,
		cfg:       cfg,
		seen:      make(map[string]time.Time),
		probeFn:   Probe,
		extractFn: ExtractFrames,
	}
}

// NewPreFilterFromEnv monta o pré-filtro a partir do ambiente.
//
//	VIDEO_WORK_DIR    dir dos frames temporários (default <tmp>/digefx-frames)
//	SAMPLE_FPS        taxa de amostragem (default 1.0)
//	ESCALATION_RATIO  fração de frames com pessoa pra escalar (default 0.1)
func NewPreFilterFromEnv(b *bus.Bus, cameras CameraResolver, poser Poser) *PreFilter {
	cfg := PreFilterConfig{
		WorkDir:         os.Getenv("VIDEO_WORK_DIR"),
		SampleFPS:       getenvFloat("SAMPLE_FPS", 0),
		EscalationRatio: getenvFloat("ESCALATION_RATIO", 0),
	}
	return NewPreFilter(b, cameras, poser, cfg)
}

// Register inscreve o pré-filtro nos eventos de arquivo novo.
func (pf *PreFilter) Register() error {
	return pf.bus.Subscribe(core.EventNewVideoFile, "video-prefilter", func(ctx context.Context, evt core.Event) error {
		nv, ok := evt.(*core.NewVideoFileEvent)
		if !ok {
			return fmt.Errorf("video: evento inesperado %T", evt)
		}
		return pf.HandleVideo(ctx, nv.Path)
	})
}

// HandleVideo processa um arquivo de vídeo do início ao fim do caminho
// barato. Erros de frame individuais não derrubam a varredura.
func (pf *PreFilter) HandleVideo(ctx context.Context, path string) error {
	if !pf.markSeen(path) {
		log.Printf("[video] %s já processado, ignorando", filepath.Base(path))
		return nil
	}

	if err := pf.waitStable(ctx, path); err != nil {
		return fmt.Errorf("video: arquivo %s não estabilizou: %w", path, err)
	}

	cam, ok := pf.resolveCamera(path)
	if !ok {
		return nil
	}

	info, err := pf.probeFn(ctx, path)
	if err != nil {
		return err
	}

	frameDir := filepath.Join(pf.cfg.WorkDir, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	defer os.RemoveAll(frameDir)

	frames, err := pf.extractFn(ctx, path, frameDir, pf.cfg.SampleFPS)
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		log.Printf("[video] %s sem frames amostráveis, ignorando", filepath.Base(path))
		return nil
	}

	var hits []core.PoseHit
	frameErrs := 0
	for _, f := range frames {
		hit, err := pf.poser.DetectPose(ctx, f.Path, f.Timestamp)
		if err != nil {
			frameErrs++
			continue
		}
		if hit != nil {
			hits = append(hits, *hit)
		}
	}

	ratio := float64(len(hits)) / float64(len(frames))
	log.Printf("[video] %s: %d/%d frames com pessoa (%.0f%%, %d erros de frame)",
		filepath.Base(path), len(hits), len(frames), ratio*100, frameErrs)

	if ratio < pf.cfg.EscalationRatio {
		log.Printf("[video] %s abaixo do limiar de escalada (%.0f%% < %.0f%%), descartando",
			filepath.Base(path), ratio*100, pf.cfg.EscalationRatio*100)
		return nil
	}

	evt := core.NewTriggerDetectionEvent(path, cam, hits, info.FrameCount, info.FPS, map[string]interface{}{
		"video_info":     info,
		"sampled_frames": len(frames),
		"pose_ratio":     ratio,
	})
	log.Printf("[video] escalando %s pra detecção pesada (câmera=%s, hits=%d)",
		filepath.Base(path), cam.Name, len(hits))
	pf.bus.Publish(ctx, evt)
	return nil
}

// markSeen registra o caminho e devolve false quando ele já passou por aqui.
func (pf *PreFilter) markSeen(path string) bool {
	pf.mu.Lock()
	defer pf.mu.Unlock()

	if _, dup := pf.seen[path]; dup {
		return false
	}
	if len(pf.seen) > 512 {
		cutoff := time.Now().Add(-time.Hour)
		for p, at := range pf.seen {
			if at.Before(cutoff) {
				delete(pf.seen, p)
			}
		}
	}
	pf.seen[path] = time.Now()
	return true
}

// waitStable espera o arquivo parar de crescer: tamanho repetido entre duas
// checagens e mais uma janela de silêncio por garantia.
func (pf *PreFilter) waitStable(ctx context.Context, path string) error {
	deadline := time.Now().Add(pf.cfg.StabilityMaxWait)
	var lastSize int64 = -1

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pf.cfg.StabilityPoll):
		}

		fi, err := os.Stat(path)
		if err != nil {
			lastSize = -1
			continue
		}
		size := fi.Size()
		if size > 0 && size == lastSize {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pf.cfg.StabilityQuiet):
			}
			return nil
		}
		lastSize = size
	}
	return fmt.Errorf("tamanho não estabilizou em %s", pf.cfg.StabilityMaxWait)
}

// resolveCamera extrai o nome da câmera do diretório pai e busca no
// cadastro. Câmera desconhecida ou inativa derruba o vídeo aqui mesmo —
// gravação órfã não pode custar modelo pesado.
func (pf *PreFilter) resolveCamera(path string) (core.Camera, bool) {
	name := CameraNameFromPath(path)
	if pf.cameras == nil {
		log.Printf("[video] sem cadastro de câmeras, descartando %s", filepath.Base(path))
		return core.Camera{}, false
	}

	cam, err := pf.cameras.ActiveCameraByName(name)
	if err != nil {
		log.Printf("[video] erro ao resolver câmera %s: %v", name, err)
		return core.Camera{}, false
	}
	if cam == nil || !cam.Active {
		log.Printf("[video] câmera %s desconhecida ou inativa, vídeo %s ignorado", name, filepath.Base(path))
		return core.Camera{}, false
	}
	return *cam, true
}

// CameraNameFromPath extrai o nome da câmera de um arquivo gravado.
// Cada câmera grava no próprio subdiretório: <watch>/<camera>/<arquivo>.mp4.
func CameraNameFromPath(path string) string {
	return filepath.Base(filepath.Dir(path))
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		var x float64
		fmt.Sscanf(v, "%g", &x)
		if x > 0 {
			return x
		}
	}
	return def
}
