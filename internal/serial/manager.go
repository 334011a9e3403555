// internal/serial/manager.go
package serial

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// State do ciclo de vida do manager.
type State string

const (
	StateClosed       State = "closed"
	StateOpening      State = "opening"
	StateOpen         State = "open"
	StateReconnecting State = "reconnecting"
)

// Command é uma linha de saída mais um callback opcional de conclusão,
// chamado pelo writer com o resultado da escrita.
type Command struct {
	Line     string
	Callback func(ok bool, err error)
}

func (c Command) complete(ok bool, err error) {
	if c.Callback == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[serial] panic no callback de comando: %v", r)
		}
	}()
	c.Callback(ok, err)
}

// CallbackFunc recebe mensagens classificadas de um tipo registrado.
type CallbackFunc func(msg Message)

type namedCallback struct {
	name string
	fn   CallbackFunc
}

// ManagerStats são contadores acumulados desde o Start.
type ManagerStats struct {
	MessagesReceived uint64 `json:"messages_received"`
	MessagesSent     uint64 `json:"messages_sent"`
	Errors           uint64 `json:"errors"`
	InvalidChars     uint64 `json:"invalid_chars"`
	BootGarbage      uint64 `json:"boot_garbage_filtered"`
	DroppedResponses uint64 `json:"dropped_responses"`
	Reconnects       uint64 `json:"reconnects"`
}

// ManagerConfig — zero values caem nos defaults.
type ManagerConfig struct {
	BootGrace        time.Duration // janela do filtro de lixo de boot (default 3s)
	ResponseQueueLen int           // fila de mensagens classificadas (default 100)
	CommandQueueLen  int           // fila de comandos de saída (default 256)
	AckTimeout       time.Duration // timeout padrão do SendCommandSync (default 2s)
	ReconnectBase    time.Duration // backoff inicial de reconexão (default 2s)
	ReconnectMax     time.Duration // teto do backoff (default 30s)
}

func (c *ManagerConfig) defaults() {
	if c.BootGrace <= 0 {
		c.BootGrace = 3 * time.Second
	}
	if c.ResponseQueueLen <= 0 {
		c.ResponseQueueLen = 100
	}
	if c.CommandQueueLen <= 0 {
		c.CommandQueueLen = 256
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = 2 * time.Second
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = 2 * time.Second
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 30 * time.Second
	}
}

// Manager roda três loops concorrentes sobre o Transport: reader (acumula
// bytes, filtra lixo de boot, classifica linhas), writer (drena a fila de
// comandos) e dispatch (entrega mensagens aos callbacks). Reader e writer
// nunca compartilham buffer — toda comunicação passa pelas filas.
type Manager struct {
	cfg       ManagerConfig
	transport Transport

	mu        sync.Mutex
	state     State
	callbacks map[MessageType][]namedCallback
	graceEnds time.Time
	openGate  chan struct{} // fecha quando o transporte fica utilizável
	started   bool

	commands  chan Command
	responses chan Message

	stopCh chan struct{}
	doneWg sync.WaitGroup

	syncSeq          atomic.Uint64
	messagesReceived atomic.Uint64
	messagesSent     atomic.Uint64
	errorsCount      atomic.Uint64
	invalidChars     atomic.Uint64
	bootGarbage      atomic.Uint64
	droppedResponses atomic.Uint64
	reconnects       atomic.Uint64
}

// NewManager monta o manager sobre um transporte (ainda fechado).
func NewManager(t Transport, cfg ManagerConfig) *Manager {
	cfg.defaults()
	return &Manager{
		cfg:       cfg,
		transport: t,
		state:     StateClosed,
		callbacks: make(map[MessageType][]namedCallback),
		openGate:  make(chan struct{}),
		commands:  make(chan Command, cfg.CommandQueueLen),
		responses: make(chan Message, cfg.ResponseQueueLen),
		stopCh:    make(chan struct{}),
	}
}

// NewManagerFromEnv monta o manager sobre o device configurado no ambiente.
//
//	SERIAL_PORT  device (default /dev/ttyUSB0)
//	SERIAL_BAUD  baud rate (default 115200)
func NewManagerFromEnv() (*Manager, error) {
	port, err := NewPort(PortConfig{
		Device: getenv("SERIAL_PORT", "/dev/ttyUSB0"),
		Baud:   getenvInt("SERIAL_BAUD", 115200),
	})
	if err != nil {
		return nil, err
	}
	return NewManager(port, ManagerConfig{}), nil
}

// Start abre o transporte e sobe os três loops.
func (m *Manager) Start() error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("serial: manager já iniciado")
	}
	m.state = StateOpening
	m.mu.Unlock()

	if err := m.transport.Open(); err != nil {
		m.mu.Lock()
		m.state = StateClosed
		m.mu.Unlock()
		return fmt.Errorf("serial: abrir transporte: %w", err)
	}

	m.mu.Lock()
	m.started = true
	m.state = StateOpen
	m.graceEnds = time.Now().Add(m.cfg.BootGrace)
	close(m.openGate)
	m.mu.Unlock()

	m.doneWg.Add(3)
	go m.readLoop()
	go m.writeLoop()
	go m.dispatchLoop()

	log.Printf("[serial] manager iniciado em %s (grace=%s)", m.transport.Name(), m.cfg.BootGrace)
	return nil
}

// Stop encerra os loops e fecha o transporte, esperando no máximo timeout
// pelo encerramento gracioso.
func (m *Manager) Stop(timeout time.Duration) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = false
	m.state = StateClosed
	m.mu.Unlock()

	close(m.stopCh)

	done := make(chan struct{})
	go func() {
		m.doneWg.Wait()
		close(done)
	}()

	var stopErr error
	select {
	case <-done:
	case <-time.After(timeout):
		stopErr = ErrStopTimeout
		log.Printf("[serial] timeout esperando loops encerrarem")
	}

	if err := m.transport.Close(); err != nil && stopErr == nil {
		stopErr = err
	}
	return stopErr
}

// State devolve o estado atual do manager.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stats devolve um snapshot dos contadores.
func (m *Manager) Stats() ManagerStats {
	return ManagerStats{
		MessagesReceived: m.messagesReceived.Load(),
		MessagesSent:     m.messagesSent.Load(),
		Errors:           m.errorsCount.Load(),
		InvalidChars:     m.invalidChars.Load(),
		BootGarbage:      m.bootGarbage.Load(),
		DroppedResponses: m.droppedResponses.Load(),
		Reconnects:       m.reconnects.Load(),
	}
}

// RegisterCallback adiciona um callback nomeado para um tipo de mensagem.
// Vários callbacks por tipo são permitidos; o nome identifica no unregister.
func (m *Manager) RegisterCallback(t MessageType, name string, fn CallbackFunc) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks[t] = append(m.callbacks[t], namedCallback{name: name, fn: fn})
}

// UnregisterCallback remove um callback pelo nome. Remover um nome que não
// existe é no-op.
func (m *Manager) UnregisterCallback(t MessageType, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cbs := m.callbacks[t]
	for i, cb := range cbs {
		if cb.name == name {
			m.callbacks[t] = append(cbs[:i:i], cbs[i+1:]...)
			return
		}
	}
}

// SendCommand enfileira um comando (fire-and-forget). A fila continua
// aceitando comandos durante uma queda do transporte — eles atrasam, não
// somem. Fila cheia devolve ErrQueueFull e completa o callback com falha.
func (m *Manager) SendCommand(line string, cb func(ok bool, err error)) error {
	cmd := Command{Line: line, Callback: cb}
	select {
	case m.commands <- cmd:
		return nil
	default:
		m.errorsCount.Add(1)
		log.Printf("[serial] fila de comandos cheia, descartando %q", line)
		cmd.complete(false, ErrQueueFull)
		return ErrQueueFull
	}
}

// SendCommandSync enfileira e espera. Com waitACK, registra um callback
// one-shot de ACK, espera a confirmação dentro do timeout e desregistra.
// Sem waitACK, espera só a escrita concluir. Devolve false em timeout ou
// falha de escrita — é a única falha do manager que propaga pro chamador.
func (m *Manager) SendCommandSync(line string, waitACK bool, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = m.cfg.AckTimeout
	}

	if !waitACK {
		done := make(chan bool, 1)
		if err := m.SendCommand(line, func(ok bool, err error) { done <- ok }); err != nil {
			return false
		}
		select {
		case ok := <-done:
			return ok
		case <-time.After(timeout):
			return false
		case <-m.stopCh:
			return false
		}
	}

	ackCh := make(chan struct{}, 1)
	name := fmt.Sprintf("sync-ack-%d", m.syncSeq.Add(1))
	m.RegisterCallback(MessageAck, name, func(Message) {
		select {
		case ackCh <- struct{}{}:
		default:
		}
	})
	defer m.UnregisterCallback(MessageAck, name)

	if err := m.SendCommand(line, nil); err != nil {
		return false
	}

	select {
	case <-ackCh:
		return true
	case <-time.After(timeout):
		return false
	case <-m.stopCh:
		return false
	}
}

// ---------------------------------------------------------------------------
// loops
// ---------------------------------------------------------------------------

// readLoop acumula bytes do transporte e processa linha a linha. Em erro de
// transporte, dispara a reconexão e volta a esperar o gate.
func (m *Manager) readLoop() {
	defer m.doneWg.Done()

	buf := make([]byte, 512)
	var acc []byte

	for {
		select {
		case <-m.stopCh:
			return
		default:
		}

		if !m.awaitOpen() {
			return
		}

		n, err := m.transport.Read(buf)
		if err != nil {
			m.errorsCount.Add(1)
			log.Printf("[serial] erro de leitura: %v", err)
			acc = acc[:0] // buffer parcial de uma conexão morta não serve
			m.triggerReconnect()
			continue
		}
		if n == 0 {
			continue // poll timeout, nada chegou
		}
		acc = m.ingest(acc, buf[:n])
	}
}

// ingest anexa o chunk ao acumulador e emite cada linha completa.
func (m *Manager) ingest(acc, chunk []byte) []byte {
	acc = append(acc, chunk...)
	for {
		idx := bytes.IndexByte(acc, '\n')
		if idx < 0 {
			return acc
		}
		line := strings.TrimSpace(string(acc[:idx]))
		acc = acc[idx+1:]
		if line != "" {
			m.handleLine(line)
		}
	}
}

func (m *Manager) handleLine(line string) {
	if s := strings.ToValidUTF8(line, ""); s != line {
		m.invalidChars.Add(1)
		line = strings.TrimSpace(s)
		if line == "" {
			return
		}
	}

	m.mu.Lock()
	inGrace := time.Now().Before(m.graceEnds)
	m.mu.Unlock()

	if inGrace && !isBootAllowed(line) {
		m.bootGarbage.Add(1)
		return
	}

	msg := Message{Type: Classify(line), Payload: line, ReceivedAt: time.Now()}
	m.messagesReceived.Add(1)

	select {
	case m.responses <- msg:
	default:
		// fila cheia: descarta a mais nova e avisa — o reader nunca bloqueia
		m.droppedResponses.Add(1)
		log.Printf("[serial] fila de respostas cheia, descartando %s (%q)", msg.Type, msg.Payload)
	}
}

// writeLoop drena a fila de comandos. O gate garante que durante uma queda
// os comandos fiquem parados na fila em vez de queimarem em sequência.
func (m *Manager) writeLoop() {
	defer m.doneWg.Done()

	for {
		select {
		case <-m.stopCh:
			return
		case cmd := <-m.commands:
			if !m.awaitOpen() {
				cmd.complete(false, ErrManagerStopped)
				return
			}

			line := cmd.Line
			if !strings.HasSuffix(line, "\n") {
				line += "\n"
			}

			if _, err := m.transport.Write([]byte(line)); err != nil {
				m.errorsCount.Add(1)
				log.Printf("[serial] erro de escrita (%q): %v", cmd.Line, err)
				cmd.complete(false, err)
				m.triggerReconnect()
				continue
			}

			m.messagesSent.Add(1)
			cmd.complete(true, nil)
		}
	}
}

// dispatchLoop entrega mensagens classificadas aos callbacks registrados.
// Erro/panic de um callback não impede os demais nem a próxima mensagem.
func (m *Manager) dispatchLoop() {
	defer m.doneWg.Done()

	for {
		select {
		case <-m.stopCh:
			return
		case msg := <-m.responses:
			m.dispatch(msg)
		}
	}
}

func (m *Manager) dispatch(msg Message) {
	m.mu.Lock()
	cbs := make([]namedCallback, len(m.callbacks[msg.Type]))
	copy(cbs, m.callbacks[msg.Type])
	m.mu.Unlock()

	for _, cb := range cbs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.errorsCount.Add(1)
					log.Printf("[serial] panic no callback %s (%s): %v", cb.name, msg.Type, r)
				}
			}()
			cb.fn(msg)
		}()
	}
}

// ---------------------------------------------------------------------------
// reconexão
// ---------------------------------------------------------------------------

// awaitOpen bloqueia até o transporte estar utilizável (ou o manager parar).
func (m *Manager) awaitOpen() bool {
	for {
		m.mu.Lock()
		st := m.state
		gate := m.openGate
		m.mu.Unlock()

		if st == StateOpen {
			return true
		}
		select {
		case <-gate:
			// gate fechou: reavalia o estado
		case <-m.stopCh:
			return false
		}
	}
}

// triggerReconnect derruba o transporte e dispara a reabertura com backoff.
// Reader e writer podem chamar ao mesmo tempo; só a primeira chamada age.
func (m *Manager) triggerReconnect() {
	m.mu.Lock()
	if m.state != StateOpen {
		m.mu.Unlock()
		return
	}
	m.state = StateReconnecting
	m.openGate = make(chan struct{})
	m.mu.Unlock()

	m.reconnects.Add(1)
	_ = m.transport.Close()

	m.doneWg.Add(1)
	go m.reopenLoop()
}

// reopenLoop tenta reabrir pra sempre com backoff exponencial — queda de
// transporte nunca é fatal.
func (m *Manager) reopenLoop() {
	defer m.doneWg.Done()

	backoff := m.cfg.ReconnectBase
	for attempt := 1; ; attempt++ {
		select {
		case <-m.stopCh:
			return
		case <-time.After(backoff):
		}

		if err := m.transport.Open(); err != nil {
			log.Printf("[serial] reconexão %d falhou: %v (próxima em %s)", attempt, err, backoff)
			backoff *= 2
			if backoff > m.cfg.ReconnectMax {
				backoff = m.cfg.ReconnectMax
			}
			continue
		}

		m.mu.Lock()
		m.state = StateOpen
		m.graceEnds = time.Now().Add(m.cfg.BootGrace)
		close(m.openGate)
		m.mu.Unlock()

		log.Printf("[serial] reconectado em %s após %d tentativa(s)", m.transport.Name(), attempt)
		return
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
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
