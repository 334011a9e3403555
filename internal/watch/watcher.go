// internal/watch/watcher.go
package watch

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sua-org/digefx-monitor/internal/bus"
	"github.com/sua-org/digefx-monitor/internal/core"
)

// Config — zero values caem nos defaults.
type Config struct {
	Root        string
	Exts        []string      // extensões aceitas (default .mp4)
	SweepWindow time.Duration // idade máxima de arquivo pego na varredura inicial (default 15min)
}

func (c *Config) defaults() {
	if len(c.Exts) == 0 {
		c.Exts = []string{".mp4"}
	}
	if c.SweepWindow <= 0 {
		c.SweepWindow = 15 * time.Minute
	}
}

// Watcher observa o diretório de gravações — um subdiretório por câmera — e
// publica NEW_VIDEO_FILE quando o gravador cria um arquivo. Esperar o arquivo
// terminar de ser escrito é papel do pré-filtro; aqui só anunciamos o caminho.
type Watcher struct {
	b    *bus.Bus
	cfg  Config
	exts map[string]bool
	fw   *fsnotify.Watcher
}

// New monta o watcher e registra a raiz e os subdiretórios de câmera já
// existentes. Diretório de câmera criado depois entra sozinho.
func New(b *bus.Bus, cfg Config) (*Watcher, error) {
	cfg.defaults()
	if cfg.Root == "" {
		return nil, fmt.Errorf("watch: diretório raiz vazio")
	}
	cfg.Root = filepath.Clean(cfg.Root)

	fi, err := os.Stat(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("watch: diretório %s inacessível: %w", cfg.Root, err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("watch: %s não é diretório", cfg.Root)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: erro ao criar watcher: %w", err)
	}

	w := &Watcher{b: b, cfg: cfg, fw: fw, exts: make(map[string]bool)}
	for _, e := range cfg.Exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		w.exts[e] = true
	}

	if err := fw.Add(cfg.Root); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch: erro ao observar %s: %w", cfg.Root, err)
	}

	entries, err := os.ReadDir(cfg.Root)
	if err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch: erro ao listar %s: %w", cfg.Root, err)
	}
	added := 0
	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		sub := filepath.Join(cfg.Root, ent.Name())
		if err := fw.Add(sub); err != nil {
			log.Printf("[watch] erro ao observar %s: %v", sub, err)
			continue
		}
		added++
	}
	log.Printf("[watch] observando %s (%d diretórios de câmera)", cfg.Root, added)
	return w, nil
}

// NewFromEnv monta o watcher a partir do ambiente.
//
//	VIDEO_WATCH_DIR      raiz das gravações (obrigatório)
//	WATCH_EXTS           extensões aceitas, separadas por vírgula (default .mp4)
//	WATCH_SWEEP_MINUTES  idade máxima na varredura inicial (default 15)
func NewFromEnv(b *bus.Bus) (*Watcher, error) {
	root := os.Getenv("VIDEO_WATCH_DIR")
	if root == "" {
		return nil, fmt.Errorf("VIDEO_WATCH_DIR não definido")
	}
	cfg := Config{Root: root}
	if v := os.Getenv("WATCH_EXTS"); v != "" {
		cfg.Exts = strings.Split(v, ",")
	}
	if mins := getenvInt("WATCH_SWEEP_MINUTES", 0); mins > 0 {
		cfg.SweepWindow = time.Duration(mins) * time.Minute
	}
	return New(b, cfg)
}

// Run drena os eventos do filesystem até o contexto cair. A varredura
// inicial roda aqui, e não no New, pra acontecer já com os assinantes
// registrados no bus.
func (w *Watcher) Run(ctx context.Context) {
	log.Printf("[watch] iniciado")
	w.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[watch] encerrado")
			return
		case evt, ok := <-w.fw.Events:
			if !ok {
				log.Printf("[watch] encerrado")
				return
			}
			w.handleEvent(ctx, evt)
		case err, ok := <-w.fw.Errors:
			if !ok {
				log.Printf("[watch] encerrado")
				return
			}
			log.Printf("[watch] erro do filesystem: %v", err)
		}
	}
}

func (w *Watcher) Close() error {
	return w.fw.Close()
}

func (w *Watcher) handleEvent(ctx context.Context, evt fsnotify.Event) {
	if !evt.Has(fsnotify.Create) {
		return
	}

	fi, err := os.Stat(evt.Name)
	if err != nil {
		return
	}
	if fi.IsDir() {
		// câmera nova cadastrada no gravador
		if filepath.Dir(evt.Name) != w.cfg.Root {
			return
		}
		if err := w.fw.Add(evt.Name); err != nil {
			log.Printf("[watch] erro ao observar novo diretório %s: %v", evt.Name, err)
			return
		}
		log.Printf("[watch] novo diretório de câmera: %s", filepath.Base(evt.Name))
		return
	}

	if !w.wantFile(evt.Name) {
		return
	}
	log.Printf("[watch] vídeo novo: %s", evt.Name)
	w.b.Publish(ctx, core.NewVideoFileDetected(evt.Name, time.Now()))
}

// wantFile aceita só vídeo dentro de diretório de câmera; arquivo solto na
// raiz não tem câmera dona.
func (w *Watcher) wantFile(path string) bool {
	if !w.exts[strings.ToLower(filepath.Ext(path))] {
		return false
	}
	return filepath.Dir(path) != w.cfg.Root
}

// sweep publica o que chegou enquanto o processo estava fora do ar,
// limitado por idade pra não reanalisar o acervo inteiro a cada boot.
func (w *Watcher) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-w.cfg.SweepWindow)
	entries, err := os.ReadDir(w.cfg.Root)
	if err != nil {
		log.Printf("[watch] varredura inicial falhou: %v", err)
		return
	}

	found := 0
	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		camDir := filepath.Join(w.cfg.Root, ent.Name())
		files, err := os.ReadDir(camDir)
		if err != nil {
			log.Printf("[watch] erro ao varrer %s: %v", camDir, err)
			continue
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			path := filepath.Join(camDir, f.Name())
			if !w.exts[strings.ToLower(filepath.Ext(path))] {
				continue
			}
			info, err := f.Info()
			if err != nil || info.ModTime().Before(cutoff) {
				continue
			}
			found++
			w.b.Publish(ctx, core.NewVideoFileDetected(path, info.ModTime()))
		}
	}
	if found > 0 {
		log.Printf("[watch] varredura inicial publicou %d vídeo(s) recente(s)", found)
	}
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var x int
		fmt.Sscanf(v, "%d", &x)
		if x > 0 {
			return x
		}
	}
	return def
}
