// internal/sinks/storage.go
package sinks

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/sua-org/digefx-monitor/internal/core"
	"github.com/sua-org/digefx-monitor/internal/storage"
)

// StorageSink replica a evidência dos alertas (snapshot e clipe) pro storage
// de objetos, de onde a central baixa sem precisar de acesso à caixa.
type StorageSink struct {
	store  storage.MediaStore
	prefix string
}

func init() {
	RegisterSink("minio", func() (Sink, error) { return NewStorageSinkFromEnv() })
}

func NewStorageSinkFromEnv() (*StorageSink, error) {
	st, err := storage.NewMinioStoreFromEnv()
	if err != nil {
		return nil, err
	}
	return &StorageSink{store: st, prefix: getenv("MINIO_KEY_PREFIX", "alerts")}, nil
}

func (s *StorageSink) Name() string { return "minio" }

// Handle sobe o que existir de evidência. Caminho vazio ou arquivo sumido
// não é erro (alerta pode sair sem evidência); falha de upload é.
func (s *StorageSink) Handle(ctx context.Context, evt *core.AlertEvent) error {
	failed := 0
	for _, path := range []string{evt.ImagePath, evt.ClipPath} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			log.Printf("[sinks] minio: evidência %s inacessível, pulando: %v", path, err)
			continue
		}
		url, err := s.store.SaveFile(ctx, s.keyFor(evt, path), path, contentTypeFor(path))
		if err != nil {
			log.Printf("[sinks] minio: erro ao subir %s: %v", path, err)
			failed++
			continue
		}
		log.Printf("[sinks] minio: evidência do alerta %s disponível em %s", evt.EventID(), url)
	}
	if failed > 0 {
		return fmt.Errorf("minio: %d upload(s) de evidência falharam para o alerta %s", failed, evt.EventID())
	}
	return nil
}

func (s *StorageSink) Close() {}

// keyFor particiona por dia e câmera pra listagem ficar navegável:
// alerts/2025/11/03/camera_2/camera_2_no_helmet_1762122000.jpg
func (s *StorageSink) keyFor(evt *core.AlertEvent, path string) string {
	day := evt.OccurredAt().UTC().Format("2006/01/02")
	return fmt.Sprintf("%s/%s/camera_%d/%s", s.prefix, day, evt.CameraID, filepath.Base(path))
}

func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".mp4":
		return "video/mp4"
	}
	return "application/octet-stream"
}
