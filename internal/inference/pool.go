// internal/inference/pool.go
package inference

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/sua-org/digefx-monitor/internal/core"
)

// Pool limita quantas inferências pesadas rodam ao mesmo tempo. Cada slot é
// um Client próprio (conexões HTTP separadas); quem quer detectar pega um
// handle, usa e devolve. Num edge device o servidor de modelo engasga com
// mais de poucos frames em paralelo — o pool é o freio.
type Pool struct {
	handles chan *Client
	size    int
}

// NewPool cria um pool com size handles produzidos pela factory.
func NewPool(size int, factory func() *Client) *Pool {
	if size <= 0 {
		size = 2
	}
	p := &Pool{
		handles: make(chan *Client, size),
		size:    size,
	}
	for i := 0; i < size; i++ {
		p.handles <- factory()
	}
	return p
}

// NewPoolFromEnv monta o pool a partir do ambiente.
//
//	MODEL_POOL_SIZE  quantidade de handles (default 2)
//
// Os endpoints vêm de NewFromEnv.
func NewPoolFromEnv() (*Pool, error) {
	size := 2
	if v := os.Getenv("MODEL_POOL_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("MODEL_POOL_SIZE inválido (%q)", v)
		}
		size = n
	}

	probe, err := NewFromEnv()
	if err != nil {
		return nil, err
	}
	return NewPool(size, func() *Client { return New(probe.PoseURL, probe.DetectURL) }), nil
}

// Size devolve a capacidade do pool.
func (p *Pool) Size() int { return p.size }

// Available devolve quantos handles estão livres agora.
func (p *Pool) Available() int { return len(p.handles) }

// Acquire bloqueia até ter um handle livre ou o contexto morrer.
func (p *Pool) Acquire(ctx context.Context) (*Client, error) {
	select {
	case c := <-p.handles:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release devolve um handle pro pool.
func (p *Pool) Release(c *Client) {
	if c == nil {
		return
	}
	select {
	case p.handles <- c:
	default:
		// devolver mais handles do que o pool tem é bug do chamador
		log.Printf("[inference] release com pool cheio, descartando handle")
	}
}

// DetectPose segura um handle só pelo tempo da chamada. É o que o caminho
// barato do funil de vídeo usa: um frame por vez, sempre dentro do freio
// do pool.
func (p *Pool) DetectPose(ctx context.Context, framePath string, timestamp float64) (*core.PoseHit, error) {
	c, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer p.Release(c)
	return c.DetectPose(ctx, framePath, timestamp)
}

// Warmup acorda cada handle chamando o health do servidor de modelo, pra
// primeira detecção de verdade não pagar o custo de carga do modelo.
// Falha de warmup não é fatal: o pool segue utilizável.
func (p *Pool) Warmup(ctx context.Context) {
	start := time.Now()
	warmed := 0
	for i := 0; i < p.size; i++ {
		c, err := p.Acquire(ctx)
		if err != nil {
			break
		}
		if err := c.Healthy(ctx); err != nil {
			log.Printf("[inference] warmup do handle %d falhou: %v", i, err)
		} else {
			warmed++
		}
		p.Release(c)
	}
	log.Printf("[inference] warmup: %d/%d handles prontos em %s", warmed, p.size, time.Since(start).Round(time.Millisecond))
}
