// internal/video/probe.go
package video

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Info resume o que o ffprobe sabe sobre um arquivo de vídeo.
type Info struct {
	Path       string  `json:"path"`
	Duration   float64 `json:"duration_seconds"`
	FPS        float64 `json:"fps"`
	FrameCount int     `json:"frame_count"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
}

// CheckFFmpeg confere se ffmpeg e ffprobe estão no PATH. Sem eles o
// pré-filtro não tem como abrir vídeo nenhum.
func CheckFFmpeg() error {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("video: ffmpeg não encontrado no PATH: %w", err)
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return fmt.Errorf("video: ffprobe não encontrado no PATH: %w", err)
	}
	return nil
}

// Probe extrai fps, dimensão e contagem de frames de um arquivo.
func Probe(ctx context.Context, path string) (*Info, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("video: ffprobe em %s: %w", path, err)
	}

	var raw struct {
		Streams []struct {
			CodecType  string `json:"codec_type"`
			Width      int    `json:"width"`
			Height     int    `json:"height"`
			RFrameRate string `json:"r_frame_rate"`
			NbFrames   string `json:"nb_frames"`
		} `json:"streams"`
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(output, &raw); err != nil {
		return nil, fmt.Errorf("video: parse do ffprobe: %w", err)
	}

	info := &Info{Path: path}
	if d, err := strconv.ParseFloat(raw.Format.Duration, 64); err == nil {
		info.Duration = d
	}

	for _, stream := range raw.Streams {
		if stream.CodecType != "video" || stream.Width == 0 || stream.Height == 0 {
			continue
		}
		info.Width = stream.Width
		info.Height = stream.Height
		info.FPS = parseFrameRate(stream.RFrameRate)
		if n, err := strconv.Atoi(stream.NbFrames); err == nil {
			info.FrameCount = n
		}
		break
	}

	if info.FPS == 0 {
		return nil, fmt.Errorf("video: %s sem stream de vídeo utilizável", path)
	}
	if info.FrameCount == 0 && info.Duration > 0 {
		info.FrameCount = int(info.Duration * info.FPS)
	}
	return info, nil
}

// parseFrameRate converte o "30000/1001" do ffprobe em fps.
func parseFrameRate(r string) float64 {
	parts := strings.Split(r, "/")
	if len(parts) != 2 {
		return 0
	}
	num, err1 := strconv.Atoi(parts[0])
	den, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
