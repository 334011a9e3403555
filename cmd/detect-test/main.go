// cmd/detect-test/main.go
package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/sua-org/digefx-monitor/internal/bus"
	"github.com/sua-org/digefx-monitor/internal/core"
	"github.com/sua-org/digefx-monitor/internal/detect"
	"github.com/sua-org/digefx-monitor/internal/inference"
	"github.com/sua-org/digefx-monitor/internal/store"
	"github.com/sua-org/digefx-monitor/internal/video"
)

// Ferramenta de bancada: roda o funil inteiro de análise num único arquivo
// de vídeo, sem watcher e sem serial, e imprime os alertas que sairiam.
//
//	go run ./cmd/detect-test <caminho_do_video.mp4>
//
// O vídeo precisa estar dentro do diretório da câmera (ex.: .../cam-frente/
// r0001.mp4) pra resolução de câmera funcionar como em produção.
func main() {
	if err := godotenv.Load(); err == nil {
		log.Printf("[detect-test] .env carregado com sucesso")
	}

	if len(os.Args) < 2 {
		log.Fatalf("uso: go run ./cmd/detect-test <caminho_do_video>")
	}
	videoPath := os.Args[1]

	st, err := store.NewStoreFromEnv()
	if err != nil {
		log.Fatalf("erro ao abrir o banco: %v", err)
	}
	defer st.Close()

	pool, err := inference.NewPoolFromEnv()
	if err != nil {
		log.Fatalf("erro ao montar o pool de inferência: %v", err)
	}

	eb := bus.New()
	pf := video.NewPreFilterFromEnv(eb, st, pool)

	tracker, err := detect.NewTrackerFromEnv(st)
	if err != nil {
		log.Fatalf("erro ao montar o tracker de cooldown: %v", err)
	}
	pipe, err := detect.NewPipelineFromEnv(eb, detect.PoolAdapter{Pool: pool}, tracker, st)
	if err != nil {
		log.Fatalf("erro ao montar o pipeline: %v", err)
	}
	if err := pf.Register(); err != nil {
		log.Fatalf("erro ao registrar o pré-filtro: %v", err)
	}
	if err := pipe.Register(); err != nil {
		log.Fatalf("erro ao registrar o pipeline: %v", err)
	}

	// Imprime cada alerta que o pipeline publicar
	err = eb.Subscribe(core.EventCameraAlert, "detect-test", func(_ context.Context, evt core.Event) error {
		ae, ok := evt.(*core.AlertEvent)
		if !ok {
			return nil
		}
		log.Printf("[ALERT] %s na câmera %s (confiança %.2f, severidade %s)",
			ae.AlertCode, ae.CameraName, ae.Confidence, ae.Severity)
		return nil
	})
	if err != nil {
		log.Fatalf("erro ao assinar alertas: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	go pipe.Run(ctx)
	pool.Warmup(ctx)

	log.Printf("[detect-test] analisando %s", videoPath)
	if err := pf.HandleVideo(ctx, videoPath); err != nil {
		log.Fatalf("pré-filtro falhou: %v", err)
	}

	// Espera o pipeline esvaziar a fila
	for {
		stats := pipe.Stats()
		if stats.VideosProcessed+stats.VideosRejected >= stats.VideosQueued {
			break
		}
		select {
		case <-ctx.Done():
			log.Fatalf("análise não terminou dentro do timeout")
		case <-time.After(200 * time.Millisecond):
		}
	}

	statsJSON, _ := json.MarshalIndent(pipe.Stats(), "", "  ")
	log.Printf("[detect-test] estatísticas do pipeline:\n%s", statsJSON)

	alerts, err := st.RecentAlerts(10)
	if err != nil {
		log.Fatalf("erro ao listar alertas: %v", err)
	}
	if len(alerts) == 0 {
		log.Printf("[detect-test] nenhum alerta registrado")
		return
	}
	log.Printf("[detect-test] últimos alertas no banco:")
	for _, a := range alerts {
		log.Printf("- #%d %s câmera=%s confiança=%.2f em %s",
			a.ID, a.AlertCode, a.CameraName, a.Confidence, a.TriggeredAt.Format(time.RFC3339))
	}
}
