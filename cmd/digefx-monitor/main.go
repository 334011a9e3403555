// cmd/digefx-monitor/main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sua-org/digefx-monitor/internal/bus"
	"github.com/sua-org/digefx-monitor/internal/core"
	"github.com/sua-org/digefx-monitor/internal/detect"
	"github.com/sua-org/digefx-monitor/internal/inference"
	"github.com/sua-org/digefx-monitor/internal/serial"
	"github.com/sua-org/digefx-monitor/internal/sinks"
	"github.com/sua-org/digefx-monitor/internal/status"
	"github.com/sua-org/digefx-monitor/internal/store"
	"github.com/sua-org/digefx-monitor/internal/video"
	"github.com/sua-org/digefx-monitor/internal/watch"
)

func main() {
	// Carrega .env na raiz (se não existir, só loga aviso)
	if err := godotenv.Load(); err != nil {
		log.Printf("[main] aviso: não foi possível carregar .env: %v", err)
	} else {
		log.Printf("[main] .env carregado com sucesso")
	}

	st, err := store.NewStoreFromEnv()
	if err != nil {
		log.Fatalf("erro ao abrir o banco: %v", err)
	}
	defer st.Close()

	seedCamerasFromEnv(st)

	eb := bus.New()

	// Serial: o link com o ESP32 é o coração da caixa, sem ele não sobe
	mgr, err := serial.NewManagerFromEnv()
	if err != nil {
		log.Fatalf("erro ao configurar a serial: %v", err)
	}
	if err := mgr.Start(); err != nil {
		log.Fatalf("erro ao abrir a serial: %v", err)
	}

	// Pool de inferência compartilhado entre o pré-filtro e o pipeline
	pool, err := inference.NewPoolFromEnv()
	if err != nil {
		log.Fatalf("erro ao montar o pool de inferência: %v", err)
	}

	pf := video.NewPreFilterFromEnv(eb, st, pool)
	if err := pf.Register(); err != nil {
		log.Fatalf("erro ao registrar o pré-filtro: %v", err)
	}

	tracker, err := detect.NewTrackerFromEnv(st)
	if err != nil {
		log.Fatalf("erro ao montar o tracker de cooldown: %v", err)
	}
	pipe, err := detect.NewPipelineFromEnv(eb, detect.PoolAdapter{Pool: pool}, tracker, st)
	if err != nil {
		log.Fatalf("erro ao montar o pipeline de detecção: %v", err)
	}
	if err := pipe.Register(); err != nil {
		log.Fatalf("erro ao registrar o pipeline: %v", err)
	}

	handler := status.NewHandlerFromEnv(mgr, eb, st)
	// APP no painel reflete a saúde do servidor de modelo: sem inferência a
	// caixa vira só gravador
	if probe, err := inference.NewFromEnv(); err == nil {
		handler.SetAppCheck(func(ctx context.Context) bool {
			return probe.Healthy(ctx) == nil
		})
	}

	sinkSet, err := sinks.AttachFromEnv(eb)
	if err != nil {
		log.Fatalf("erro ao montar os sinks de alerta: %v", err)
	}
	if active := sinkSet.Active(); len(active) > 0 {
		log.Printf("[main] sinks ativos: %s", strings.Join(active, ", "))
	}

	watcher, err := watch.NewFromEnv(eb)
	if err != nil {
		log.Fatalf("erro ao montar o watcher de vídeos: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go pool.Warmup(ctx)
	go pipe.Run(ctx)
	go watcher.Run(ctx)
	handler.Start(ctx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Println("[main] sinal recebido, encerrando...")
	cancel()

	// Ordem de parada importa: o handler despede do painel com a serial ainda
	// viva, depois caem os sinks e por último o link
	handler.Stop()
	sinkSet.Close()
	watcher.Close()
	if err := mgr.Stop(5 * time.Second); err != nil {
		log.Printf("[main] serial não parou limpo: %v", err)
	}
}

// seedCamerasFromEnv cadastra câmeras declaradas em CAMERAS, no formato
// "nome:ip[:porta]" separado por vírgula. É o bootstrap de uma caixa nova;
// depois o cadastro vive no banco.
func seedCamerasFromEnv(st *store.Store) {
	raw := os.Getenv("CAMERAS")
	if raw == "" {
		return
	}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) < 2 {
			log.Printf("[main] entrada de câmera inválida em CAMERAS: %q", entry)
			continue
		}
		cam := core.Camera{Name: parts[0], IP: parts[1], Active: true}
		if len(parts) >= 3 {
			if port, err := strconv.Atoi(parts[2]); err == nil {
				cam.Port = port
			}
		}
		id, err := st.UpsertCamera(cam)
		if err != nil {
			log.Printf("[main] erro ao cadastrar câmera %s: %v", cam.Name, err)
			continue
		}
		log.Printf("[main] câmera %s (%s) cadastrada com id=%d", cam.Name, cam.IP, id)
	}
}
