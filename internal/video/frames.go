// internal/video/frames.go
package video

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"
)

// Frame é um JPEG extraído de um vídeo, com o instante de origem.
type Frame struct {
	Index     int     `json:"index"`
	Timestamp float64 `json:"timestamp"` // segundos desde o início do vídeo
	Path      string  `json:"path"`
}

// ExtractFrames amostra o vídeo inteiro a sampleFPS quadros por segundo e
// grava os JPEGs em outDir. É o caminho barato: o pré-filtro passa o modelo
// de pose nesses frames antes de decidir se o vídeo merece o modelo pesado.
func ExtractFrames(ctx context.Context, videoPath, outDir string, sampleFPS float64) ([]Frame, error) {
	if sampleFPS <= 0 {
		sampleFPS = 1.0
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("video: criar dir de frames: %w", err)
	}

	pattern := filepath.Join(outDir, "frame_%05d.jpg")
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner",
		"-loglevel", "error",
		"-i", videoPath,
		"-vf", fmt.Sprintf("fps=%g", sampleFPS),
		"-q:v", "2",
		pattern,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("video: extrair frames de %s: %w (%s)", videoPath, err, string(out))
	}

	entries, err := filepath.Glob(filepath.Join(outDir, "frame_*.jpg"))
	if err != nil {
		return nil, fmt.Errorf("video: listar frames: %w", err)
	}
	sort.Strings(entries)

	frames := make([]Frame, 0, len(entries))
	for i, path := range entries {
		frames = append(frames, Frame{
			Index:     i,
			Timestamp: float64(i) / sampleFPS,
			Path:      path,
		})
	}
	return frames, nil
}

// ExtractFrameAt tira um único frame no instante pedido. Usado pelo pipeline
// pesado (frames candidatos) e pra gerar a imagem de evidência do alerta.
func ExtractFrameAt(ctx context.Context, videoPath string, ts float64, outPath string) error {
	if ts < 0 {
		ts = 0
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("video: criar dir de saída: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	cmd := exec.CommandContext(cctx, "ffmpeg",
		"-hide_banner",
		"-loglevel", "error",
		"-ss", fmt.Sprintf("%.3f", ts),
		"-i", videoPath,
		"-frames:v", "1",
		"-q:v", "2",
		"-y",
		outPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("video: extrair frame em %.3fs de %s: %w (%s)", ts, videoPath, err, string(out))
	}
	return nil
}

// ExtractClip corta um trecho do vídeo sem recodificar, pra anexar como
// evidência do alerta.
func ExtractClip(ctx context.Context, videoPath string, start, duration float64, outPath string) error {
	if start < 0 {
		start = 0
	}
	if duration <= 0 {
		duration = 10
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("video: criar dir de saída: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(cctx, "ffmpeg",
		"-hide_banner",
		"-loglevel", "error",
		"-ss", fmt.Sprintf("%.3f", start),
		"-i", videoPath,
		"-t", fmt.Sprintf("%.3f", duration),
		"-c", "copy",
		"-y",
		outPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("video: extrair clipe de %s: %w (%s)", videoPath, err, string(out))
	}
	return nil
}
