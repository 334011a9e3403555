// internal/status/collect.go
package status

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/sua-org/digefx-monitor/internal/core"
)

const (
	defaultInternetAddr = "8.8.8.8:53"
	defaultDialTimeout  = 2 * time.Second
	publicIPEndpoint    = "https://api.ipify.org"
)

// Collector sonda conectividade e tira snapshots de saúde do host.
type Collector struct {
	internetAddr string
	dialTimeout  time.Duration
	http         *http.Client

	// injeção para teste; default net.DialTimeout
	dial func(network, addr string, timeout time.Duration) (net.Conn, error)
}

func NewCollector() *Collector {
	return &Collector{
		internetAddr: defaultInternetAddr,
		dialTimeout:  defaultDialTimeout,
		http:         &http.Client{Timeout: 5 * time.Second},
		dial:         net.DialTimeout,
	}
}

// CollectHost monta o snapshot de saúde do host. Métrica que falha fica
// zerada em vez de derrubar o snapshot.
func (c *Collector) CollectHost(ctx context.Context) core.HostStatus {
	hs := core.HostStatus{CollectedAt: time.Now().UTC()}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		hs.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		hs.MemPercent = vm.UsedPercent
	}
	if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
		hs.DiskPercent = du.UsedPercent
	}
	if temps, err := host.SensorsTemperaturesWithContext(ctx); err == nil {
		for _, t := range temps {
			key := strings.ToLower(t.SensorKey)
			if strings.Contains(key, "coretemp") || strings.Contains(key, "cpu") {
				hs.Temperature = t.Temperature
				break
			}
		}
	}

	hs.HostIP = c.localIP()
	hs.Online = c.InternetUp()
	return hs
}

// InternetUp testa a saída pra internet com um dial TCP curto no DNS do
// Google. Sem tráfego de aplicação, só o handshake.
func (c *Collector) InternetUp() bool {
	conn, err := c.dial("tcp", c.internetAddr, c.dialTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// ProbeCamera testa o alcance TCP da câmera na porta RTSP cadastrada.
func (c *Collector) ProbeCamera(cam core.Camera) bool {
	if cam.IP == "" {
		return false
	}
	port := cam.Port
	if port <= 0 {
		port = 554
	}
	conn, err := c.dial("tcp", net.JoinHostPort(cam.IP, strconv.Itoa(port)), c.dialTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// PublicIP consulta o IP público do link. Melhor esforço: string vazia
// quando o serviço não responde.
func (c *Collector) PublicIP(ctx context.Context) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, publicIPEndpoint, nil)
	if err != nil {
		return ""
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(body))
}

// localIP descobre o IP da interface de saída sem gerar tráfego real
// (socket UDP nunca transmite no Dial).
func (c *Collector) localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return ""
}
