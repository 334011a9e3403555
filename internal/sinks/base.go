// internal/sinks/base.go
package sinks

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/sua-org/digefx-monitor/internal/bus"
	"github.com/sua-org/digefx-monitor/internal/core"
)

// Sink é um destino externo de alertas: broker, storage de objetos, VMS.
// Cada sink é um assinante opaco do bus; falha de entrega não derruba o
// pipeline, só vira log e contador de erro do handler.
type Sink interface {
	Name() string
	Handle(ctx context.Context, evt *core.AlertEvent) error
	Close()
}

type SinkFactory func() (Sink, error)

var ErrSinkNotFound = errors.New("sink não registrado")

// registry: nome -> factory
var registry = map[string]SinkFactory{}

// RegisterSink é chamado no init() de cada sink (mqtt, amqp, minio, vms).
func RegisterSink(name string, f SinkFactory) {
	registry[normalize(name)] = f
}

func BuildSink(name string) (Sink, error) {
	if f, ok := registry[normalize(name)]; ok {
		return f()
	}
	return nil, fmt.Errorf("%w: %q", ErrSinkNotFound, name)
}

// Set agrupa os sinks ativos e suas assinaturas no bus.
type Set struct {
	b     *bus.Bus
	sinks []Sink
}

// AttachFromEnv monta os sinks listados em SINKS_ENABLED (nomes separados
// por vírgula, ex.: "mqtt,amqp,minio,vms") e assina cada um no bus.
func AttachFromEnv(b *bus.Bus) (*Set, error) {
	return Attach(b, strings.Split(os.Getenv("SINKS_ENABLED"), ","))
}

// Attach monta e assina os sinks pedidos. Nome desconhecido é erro de
// configuração e aborta; sink conhecido que falha ao montar (broker fora,
// credencial ausente) é pulado com warning — a caixa continua monitorando e
// alertando pelos sinks restantes.
func Attach(b *bus.Bus, names []string) (*Set, error) {
	set := &Set{b: b}
	for _, raw := range names {
		name := normalize(raw)
		if name == "" {
			continue
		}
		s, err := BuildSink(name)
		if err != nil {
			if errors.Is(err, ErrSinkNotFound) {
				set.Close()
				return nil, err
			}
			log.Printf("[sinks] sink %s indisponível, pulando: %v", name, err)
			continue
		}
		if err := set.add(s); err != nil {
			set.Close()
			return nil, err
		}
	}
	if len(set.sinks) == 0 {
		log.Printf("[sinks] nenhum sink externo habilitado")
	}
	return set, nil
}

func (set *Set) add(s Sink) error {
	err := set.b.Subscribe(core.EventCameraAlert, subscriberName(s), func(ctx context.Context, evt core.Event) error {
		ae, ok := evt.(*core.AlertEvent)
		if !ok {
			return nil
		}
		return s.Handle(ctx, ae)
	})
	if err != nil {
		s.Close()
		return fmt.Errorf("erro ao assinar sink %s no bus: %w", s.Name(), err)
	}
	set.sinks = append(set.sinks, s)
	log.Printf("[sinks] %s registrado para %s", s.Name(), core.EventCameraAlert)
	return nil
}

// Active lista os sinks efetivamente montados, na ordem de registro.
func (set *Set) Active() []string {
	names := make([]string, 0, len(set.sinks))
	for _, s := range set.sinks {
		names = append(names, s.Name())
	}
	return names
}

// Close cancela as assinaturas e libera as conexões de cada sink.
func (set *Set) Close() {
	for _, s := range set.sinks {
		if set.b != nil {
			_ = set.b.Unsubscribe(core.EventCameraAlert, subscriberName(s))
		}
		s.Close()
	}
	set.sinks = nil
}

func subscriberName(s Sink) string {
	return "sink-" + s.Name()
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
