// internal/bus/bus.go
package bus

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/sua-org/digefx-monitor/internal/core"
)

// DefaultHistorySize é o tamanho do anel de histórico para diagnóstico.
const DefaultHistorySize = 1000

// Handler processa um evento publicado. Erro (ou panic) de um handler é
// logado e isolado: não derruba os handlers irmãos nem o Publish.
type Handler func(ctx context.Context, evt core.Event) error

var (
	ErrHandlerExists   = errors.New("bus: handler já registrado com esse nome")
	ErrHandlerNotFound = errors.New("bus: handler não encontrado")
)

type subscription struct {
	name    string
	handler Handler
}

// Stats são contadores acumulados desde a criação do bus.
type Stats struct {
	Published     uint64 `json:"published"`
	Delivered     uint64 `json:"delivered"`
	HandlerErrors uint64 `json:"handler_errors"`
	NoSubscribers uint64 `json:"no_subscribers"`
}

// Bus é o kernel publish/subscribe do processo. Publicadores nunca podem
// ser travados ou derrubados por um consumidor lento/quebrado (ex.: broker
// fora do ar), por isso o fan-out é concorrente e totalmente isolado.
type Bus struct {
	mu          sync.Mutex
	subscribers map[core.EventType][]subscription

	// anel de histórico: histHead aponta pro mais antigo quando cheio
	history    []core.Event
	histHead   int
	historyMax int

	published     atomic.Uint64
	delivered     atomic.Uint64
	handlerErrors atomic.Uint64
	noSubscribers atomic.Uint64
}

func New() *Bus { return NewWithHistory(DefaultHistorySize) }

func NewWithHistory(max int) *Bus {
	if max <= 0 {
		max = DefaultHistorySize
	}
	return &Bus{
		subscribers: make(map[core.EventType][]subscription),
		history:     make([]core.Event, 0, max),
		historyMax:  max,
	}
}

// Subscribe registra um handler nomeado para um tipo de evento. O nome
// identifica o handler nos logs e no Unsubscribe.
func (b *Bus) Subscribe(t core.EventType, name string, h Handler) error {
	if h == nil {
		return fmt.Errorf("bus: handler nulo para %s/%s", t, name)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subscribers[t] {
		if sub.name == name {
			return ErrHandlerExists
		}
	}
	b.subscribers[t] = append(b.subscribers[t], subscription{name: name, handler: h})
	log.Printf("[bus] handler %s inscrito em %s (total=%d)", name, t, len(b.subscribers[t]))
	return nil
}

// Unsubscribe remove um handler pelo nome.
func (b *Bus) Unsubscribe(t core.EventType, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[t]
	for i, sub := range subs {
		if sub.name == name {
			b.subscribers[t] = append(subs[:i:i], subs[i+1:]...)
			return nil
		}
	}
	return ErrHandlerNotFound
}

// SubscriberCount devolve quantos handlers estão registrados para o tipo.
func (b *Bus) SubscriberCount(t core.EventType) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers[t])
}

// Publish entrega o evento a todos os handlers do tipo — um goroutine por
// handler — e espera todos terminarem. O histórico é atualizado antes do
// fan-out, então o evento aparece em History mesmo sem assinantes.
// Quem assinar durante o fan-out não recebe o evento em voo (snapshot).
func (b *Bus) Publish(ctx context.Context, evt core.Event) {
	if evt == nil {
		return
	}

	b.mu.Lock()
	b.appendHistory(evt)
	subs := make([]subscription, len(b.subscribers[evt.EventType()]))
	copy(subs, b.subscribers[evt.EventType()])
	b.mu.Unlock()

	b.published.Add(1)

	if len(subs) == 0 {
		b.noSubscribers.Add(1)
		log.Printf("[bus] evento %s (%s) publicado sem assinantes", evt.EventType(), evt.EventID())
		return
	}

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub subscription) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.handlerErrors.Add(1)
					log.Printf("[bus] panic no handler %s (%s): %v", sub.name, evt.EventType(), r)
				}
			}()
			if err := sub.handler(ctx, evt); err != nil {
				b.handlerErrors.Add(1)
				log.Printf("[bus] handler %s falhou em %s: %v", sub.name, evt.EventType(), err)
				return
			}
			b.delivered.Add(1)
		}(sub)
	}
	wg.Wait()
}

// History devolve até limit eventos, do mais antigo para o mais recente,
// sempre entre os mais recentes do anel. limit <= 0 devolve tudo.
func (b *Bus) History(limit int) []core.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]core.Event, 0, limit)
	for i := n - limit; i < n; i++ {
		out = append(out, b.history[(b.histHead+i)%n])
	}
	return out
}

// Stats devolve um snapshot dos contadores.
func (b *Bus) Stats() Stats {
	return Stats{
		Published:     b.published.Load(),
		Delivered:     b.delivered.Load(),
		HandlerErrors: b.handlerErrors.Load(),
		NoSubscribers: b.noSubscribers.Load(),
	}
}

// appendHistory assume b.mu travado.
func (b *Bus) appendHistory(evt core.Event) {
	if len(b.history) < b.historyMax {
		b.history = append(b.history, evt)
		return
	}
	b.history[b.histHead] = evt
	b.histHead = (b.histHead + 1) % b.historyMax
}
