// internal/detect/tracker.go
package detect

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// LastAlertStore responde quando um alerta (câmera, código) disparou pela
// última vez. A implementação real consulta o banco.
type LastAlertStore interface {
	LastAlertTime(cameraID int, code string) (time.Time, bool, error)
}

type trackKey struct {
	cameraID int
	code     string
}

// Tracker decide se um alerta pode disparar respeitando o cooldown por
// par (câmera, tipo). O cache em memória evita ir ao banco a cada vídeo;
// o banco continua sendo a autoridade quando o cache está frio (restart).
type Tracker struct {
	mu       sync.Mutex
	store    LastAlertStore
	cooldown time.Duration
	last     map[trackKey]time.Time
}

// NewTracker cria um tracker com o cooldown informado. store pode ser nil
// (somente memória), útil em teste.
func NewTracker(store LastAlertStore, cooldown time.Duration) *Tracker {
	if cooldown <= 0 {
		cooldown = time.Hour
	}
	return &Tracker{
		store:    store,
		cooldown: cooldown,
		last:     make(map[trackKey]time.Time),
	}
}

// NewTrackerFromEnv lê ALERT_COOLDOWN_SECONDS (default 3600).
func NewTrackerFromEnv(store LastAlertStore) (*Tracker, error) {
	cooldown := time.Hour
	if v := os.Getenv("ALERT_COOLDOWN_SECONDS"); v != "" {
		var secs int
		if _, err := fmt.Sscanf(v, "%d", &secs); err != nil || secs <= 0 {
			return nil, fmt.Errorf("ALERT_COOLDOWN_SECONDS inválido (%q)", v)
		}
		cooldown = time.Duration(secs) * time.Second
	}
	return NewTracker(store, cooldown), nil
}

// Cooldown devolve a janela configurada.
func (t *Tracker) Cooldown() time.Duration { return t.cooldown }

// ShouldFire diz se (câmera, código) está fora da janela de cooldown no
// instante now. Não marca o disparo; chame MarkFired depois de publicar.
func (t *Tracker) ShouldFire(cameraID int, code string, now time.Time) bool {
	key := trackKey{cameraID, code}

	t.mu.Lock()
	cached, ok := t.last[key]
	t.mu.Unlock()

	if ok {
		return now.Sub(cached) >= t.cooldown
	}

	// Cache frio: consulta o banco uma vez e memoriza o resultado.
	if t.store != nil {
		at, found, err := t.store.LastAlertTime(cameraID, code)
		if err != nil {
			log.Printf("[detect] erro ao consultar último alerta %s/câmera %d: %v", code, cameraID, err)
		} else if found {
			t.mu.Lock()
			t.last[key] = at
			t.mu.Unlock()
			return now.Sub(at) >= t.cooldown
		}
	}
	return true
}

// MarkFired registra o instante de disparo de (câmera, código).
func (t *Tracker) MarkFired(cameraID int, code string, at time.Time) {
	t.mu.Lock()
	t.last[trackKey{cameraID, code}] = at
	t.mu.Unlock()
}
