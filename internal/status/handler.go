// internal/status/handler.go
package status

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sua-org/digefx-monitor/internal/bus"
	"github.com/sua-org/digefx-monitor/internal/core"
	"github.com/sua-org/digefx-monitor/internal/serial"
)

// statusCameraSlots é quantas câmeras o painel físico do ESP32 mostra.
const statusCameraSlots = 4

// Snapshot é o estado agregado exibido no painel do ESP32. Comparável por
// valor: snapshot igual ao último enviado não gera tráfego serial.
type Snapshot struct {
	PC       bool
	Internet bool
	App      bool
	Cameras  [statusCameraSlots]bool
}

// Encode serializa na ordem fixa que o firmware espera:
//
//	STATUS:PC:1,INTERNET:1,APP:1,CAM1:1,CAM2:0,CAM3:1,CAM4:0
func (s Snapshot) Encode() string {
	parts := make([]string, 0, 3+statusCameraSlots)
	parts = append(parts,
		"PC:"+boolDigit(s.PC),
		"INTERNET:"+boolDigit(s.Internet),
		"APP:"+boolDigit(s.App),
	)
	for i, on := range s.Cameras {
		parts = append(parts, fmt.Sprintf("CAM%d:%s", i+1, boolDigit(on)))
	}
	return "STATUS:" + strings.Join(parts, ",")
}

func boolDigit(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// CommandSender é a fatia do serial.Manager que o handler usa.
type CommandSender interface {
	SendCommand(line string, cb func(ok bool, err error)) error
	SendCommandSync(line string, waitACK bool, timeout time.Duration) bool
	RegisterCallback(t serial.MessageType, name string, fn serial.CallbackFunc)
}

// Store é a fatia de persistência consumida pelo handler.
type Store interface {
	SaveDeviceStatus(ds core.DeviceStatus) error
	SaveLocation(fix core.GPSFix) error
	SaveHostStatus(hs core.HostStatus) error
	SetCameraOnline(cameraID int, online bool) error
	ActiveCameras() ([]core.Camera, error)
}

// HandlerConfig parametriza os timers do handler.
type HandlerConfig struct {
	StatusInterval    time.Duration // painel do ESP32
	HeartbeatInterval time.Duration // watchdog do firmware
	HostInterval      time.Duration // snapshot de saúde do host
	AckTimeout        time.Duration
	MaxMisses         int // heartbeats sem ACK antes do log crítico
}

func (c *HandlerConfig) defaults() {
	if c.StatusInterval <= 0 {
		c.StatusInterval = 5 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 3 * time.Second
	}
	if c.HostInterval <= 0 {
		c.HostInterval = 60 * time.Second
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = 2 * time.Second
	}
	if c.MaxMisses <= 0 {
		c.MaxMisses = 3
	}
}

// Handler liga o mundo do processo ao microcontrolador: empurra estado
// (STATUS/HEARTBEAT) e consome telemetria (DEVICE_ID). É um produtor
// puramente temporizado; a recuperação do link fica toda no serial.Manager.
type Handler struct {
	mgr   CommandSender
	bus   *bus.Bus
	store Store
	cfg   HandlerConfig

	mu       sync.Mutex
	lastSnap Snapshot
	haveLast bool
	camState map[int]bool
	hbMisses int

	wg sync.WaitGroup

	// injeção para teste; defaults vêm do Collector
	internetUp  func() bool
	probeCamera func(cam core.Camera) bool
	appUp       func(ctx context.Context) bool
	collectHost func(ctx context.Context) core.HostStatus
	publicIP    func(ctx context.Context) string
	now         func() time.Time
}

// NewHandler monta o handler. store pode ser nil (telemetria só logada);
// appUp nil significa "aplicação sempre saudável".
func NewHandler(mgr CommandSender, b *bus.Bus, store Store, col *Collector, cfg HandlerConfig) *Handler {
	cfg.defaults()
	if col == nil {
		col = NewCollector()
	}
	return &Handler{
		mgr:         mgr,
		bus:         b,
		store:       store,
		cfg:         cfg,
		camState:    make(map[int]bool),
		internetUp:  col.InternetUp,
		probeCamera: col.ProbeCamera,
		appUp:       func(context.Context) bool { return true },
		collectHost: col.CollectHost,
		publicIP:    col.PublicIP,
		now:         time.Now,
	}
}

// NewHandlerFromEnv lê STATUS_INTERVAL_SECONDS, HEARTBEAT_INTERVAL_SECONDS,
// HOST_STATUS_INTERVAL_SECONDS e HEARTBEAT_MAX_MISSES por cima dos defaults.
func NewHandlerFromEnv(mgr CommandSender, b *bus.Bus, store Store) *Handler {
	cfg := HandlerConfig{
		StatusInterval:    time.Duration(getenvInt("STATUS_INTERVAL_SECONDS", 5)) * time.Second,
		HeartbeatInterval: time.Duration(getenvInt("HEARTBEAT_INTERVAL_SECONDS", 3)) * time.Second,
		HostInterval:      time.Duration(getenvInt("HOST_STATUS_INTERVAL_SECONDS", 60)) * time.Second,
		MaxMisses:         getenvInt("HEARTBEAT_MAX_MISSES", 3),
	}
	return NewHandler(mgr, b, store, NewCollector(), cfg)
}

// SetAppCheck define a sonda de saúde da aplicação que alimenta o campo
// APP do painel.
func (h *Handler) SetAppCheck(fn func(ctx context.Context) bool) {
	if fn != nil {
		h.appUp = fn
	}
}

// Start registra os callbacks no serial.Manager, avisa o firmware que o
// monitor subiu e dispara os três loops. Cancele o contexto e chame Stop
// para encerrar.
func (h *Handler) Start(ctx context.Context) {
	h.registerCallbacks()

	if ok := h.mgr.SendCommandSync("INIT:OK", false, h.cfg.AckTimeout); !ok {
		log.Printf("[status] INIT:OK não escrito (link serial ainda fora?)")
	}

	h.wg.Add(3)
	go h.statusLoop(ctx)
	go h.heartbeatLoop(ctx)
	go h.hostLoop(ctx)
}

// Stop espera os loops encerrarem e manda SHUTDOWN:1 pro firmware apagar
// o painel. Chame depois de cancelar o contexto do Start e antes de parar
// o serial.Manager.
func (h *Handler) Stop() {
	h.wg.Wait()
	if ok := h.mgr.SendCommandSync("SHUTDOWN:1", false, h.cfg.AckTimeout); !ok {
		log.Printf("[status] SHUTDOWN:1 não escrito")
	}
}

// Misses devolve o número atual de heartbeats consecutivos sem ACK.
func (h *Handler) Misses() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hbMisses
}

func (h *Handler) registerCallbacks() {
	h.mgr.RegisterCallback(serial.MessageStatusData, "status-telemetry", h.onDeviceStatus)
	h.mgr.RegisterCallback(serial.MessageReady, "status-ready", h.onReady)
	h.mgr.RegisterCallback(serial.MessageHeartbeatTimeout, "status-hb-timeout", h.onHeartbeatTimeout)
	h.mgr.RegisterCallback(serial.MessageDebug, "status-debug", h.onDebug)
}

// onDeviceStatus persiste a telemetria e confirma com ACK — o firmware
// reenvia a linha até ver a confirmação.
func (h *Handler) onDeviceStatus(msg serial.Message) {
	ds, fix, err := ParseDeviceStatus(msg.Payload, msg.ReceivedAt)
	if err != nil {
		log.Printf("[status] %v", err)
		return
	}

	if h.store != nil {
		if err := h.store.SaveDeviceStatus(ds); err != nil {
			log.Printf("[status] erro ao salvar telemetria de %s: %v", ds.DeviceID, err)
		}
		if fix != nil {
			if err := h.store.SaveLocation(*fix); err != nil {
				log.Printf("[status] erro ao salvar posição de %s: %v", ds.DeviceID, err)
			}
		}
	}

	if err := h.mgr.SendCommand("ACK", nil); err != nil {
		log.Printf("[status] erro ao enfileirar ACK: %v", err)
	}
	log.Printf("[status] telemetria %s: ign=%s bat=%.2fV gps=%s", ds.DeviceID, ds.Ignition, ds.BatteryVoltage, ds.GPSStatus)
}

// onReady força o reenvio do painel: o ESP32 reiniciou e perdeu o estado.
func (h *Handler) onReady(serial.Message) {
	log.Printf("[status] ESP32 pronto, reenviando estado do painel")
	h.mu.Lock()
	h.haveLast = false
	h.mu.Unlock()
	if err := h.mgr.SendCommand("INIT:OK", nil); err != nil {
		log.Printf("[status] erro ao enfileirar INIT:OK: %v", err)
	}
}

func (h *Handler) onHeartbeatTimeout(serial.Message) {
	log.Printf("[status] ESP32 reporta HEARTBEAT_TIMEOUT, enviando heartbeat imediato")
	line := fmt.Sprintf("HEARTBEAT:%d", h.now().Unix())
	if err := h.mgr.SendCommand(line, nil); err != nil {
		log.Printf("[status] erro ao enfileirar heartbeat: %v", err)
	}
}

func (h *Handler) onDebug(msg serial.Message) {
	log.Printf("[esp32] %s", strings.TrimSpace(strings.TrimPrefix(msg.Payload, "DEBUG:")))
}

func (h *Handler) statusLoop(ctx context.Context) {
	defer h.wg.Done()
	ticker := time.NewTicker(h.cfg.StatusInterval)
	defer ticker.Stop()

	log.Printf("[status] loop de status iniciado (intervalo=%s)", h.cfg.StatusInterval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[status] loop de status encerrado")
			return
		case <-ticker.C:
			h.pushStatus(ctx)
		}
	}
}

// pushStatus monta o snapshot e só fala com o firmware quando ele mudou.
// STATUS sem ACK não atualiza lastSnap: o próximo ciclo tenta de novo.
func (h *Handler) pushStatus(ctx context.Context) {
	snap := h.buildSnapshot(ctx)

	h.mu.Lock()
	unchanged := h.haveLast && snap == h.lastSnap
	h.mu.Unlock()
	if unchanged {
		return
	}

	line := snap.Encode()
	if ok := h.mgr.SendCommandSync(line, true, h.cfg.AckTimeout); !ok {
		log.Printf("[status] STATUS sem ACK, repetindo no próximo ciclo")
		return
	}

	h.mu.Lock()
	h.lastSnap = snap
	h.haveLast = true
	h.mu.Unlock()
	log.Printf("[status] painel atualizado: %s", line)
}

// buildSnapshot sonda internet, aplicação e câmeras. As sondas de câmera
// rodam em paralelo; o timeout do dial limita a espera total.
func (h *Handler) buildSnapshot(ctx context.Context) Snapshot {
	snap := Snapshot{
		PC:       true,
		Internet: h.internetUp(),
		App:      h.appUp(ctx),
	}
	if h.store == nil {
		return snap
	}

	cams, err := h.store.ActiveCameras()
	if err != nil {
		log.Printf("[status] erro ao listar câmeras ativas: %v", err)
		return snap
	}

	results := make([]bool, len(cams))
	var wg sync.WaitGroup
	for i, cam := range cams {
		wg.Add(1)
		go func(i int, cam core.Camera) {
			defer wg.Done()
			results[i] = h.probeCamera(cam)
		}(i, cam)
	}
	wg.Wait()

	for i, cam := range cams {
		if i < statusCameraSlots {
			snap.Cameras[i] = results[i]
		}
		h.noteCameraState(ctx, cam, results[i])
	}
	return snap
}

// noteCameraState persiste e publica transições de conectividade. A
// primeira observação de cada câmera também conta como transição.
func (h *Handler) noteCameraState(ctx context.Context, cam core.Camera, online bool) {
	h.mu.Lock()
	prev, seen := h.camState[cam.ID]
	h.camState[cam.ID] = online
	h.mu.Unlock()

	if seen && prev == online {
		return
	}

	if err := h.store.SetCameraOnline(cam.ID, online); err != nil {
		log.Printf("[status] erro ao salvar estado da câmera %s: %v", cam.Name, err)
	}
	if h.bus != nil {
		h.bus.Publish(ctx, core.NewCameraStatusEvent(cam, online))
	}
	word := "offline"
	if online {
		word = "online"
	}
	log.Printf("[status] câmera %s (%s) %s", cam.Name, cam.IP, word)
}

func (h *Handler) heartbeatLoop(ctx context.Context) {
	defer h.wg.Done()
	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()

	log.Printf("[status] heartbeat iniciado (intervalo=%s)", h.cfg.HeartbeatInterval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[status] heartbeat encerrado")
			return
		case <-ticker.C:
			h.beat()
		}
	}
}

func (h *Handler) beat() {
	line := fmt.Sprintf("HEARTBEAT:%d", h.now().Unix())
	if h.mgr.SendCommandSync(line, true, h.cfg.AckTimeout) {
		h.mu.Lock()
		h.hbMisses = 0
		h.mu.Unlock()
		return
	}

	h.mu.Lock()
	h.hbMisses++
	misses := h.hbMisses
	h.mu.Unlock()

	if misses >= h.cfg.MaxMisses {
		log.Printf("[status] CRÍTICO: %d heartbeats consecutivos sem ACK, link com o ESP32 possivelmente morto", misses)
		return
	}
	log.Printf("[status] heartbeat sem ACK (%d/%d)", misses, h.cfg.MaxMisses)
}

func (h *Handler) hostLoop(ctx context.Context) {
	defer h.wg.Done()
	ticker := time.NewTicker(h.cfg.HostInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hs := h.collectHost(ctx)
			hs.PublicIP = h.publicIP(ctx)
			if h.store != nil {
				if err := h.store.SaveHostStatus(hs); err != nil {
					log.Printf("[status] erro ao salvar status do host: %v", err)
				}
			}
			log.Printf("[status] host: cpu=%.0f%% mem=%.0f%% disco=%.0f%% online=%t",
				hs.CPUPercent, hs.MemPercent, hs.DiskPercent, hs.Online)
		}
	}
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return def
	}
	return n
}
