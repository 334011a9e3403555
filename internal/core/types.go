// internal/core/types.go
package core

import "time"

// Camera é a visão que o pipeline tem de uma câmera cadastrada.
// Vem do store (tabela cameras), nunca do filesystem.
type Camera struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	IP     string `json:"ip"`
	Port   int    `json:"port"`
	Active bool   `json:"active"`

	// Códigos de alerta habilitados para essa câmera (ex.: NO_HELMET).
	// Vazio = todos os tipos do catálogo.
	AlertCodes []string `json:"alert_codes,omitempty"`
}

// EnabledAlertCodes devolve os códigos habilitados, caindo no catálogo
// completo quando a câmera não restringe nada.
func (c Camera) EnabledAlertCodes() []string {
	if len(c.AlertCodes) > 0 {
		return c.AlertCodes
	}
	codes := make([]string, 0, len(DefaultAlertTypes))
	for _, at := range DefaultAlertTypes {
		codes = append(codes, at.Code)
	}
	return codes
}

// PoseHit é um frame onde o modelo leve encontrou um corpo.
type PoseHit struct {
	Timestamp  float64 `json:"timestamp"` // segundos desde o início do vídeo
	Confidence float64 `json:"confidence"`
	BBox       BBox    `json:"bbox"`
}

// BBox em coordenadas normalizadas (0..1), como o endpoint de pose devolve.
type BBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// DeviceStatus é a telemetria parseada de uma linha DEVICE_ID: do ESP32.
// Ignition e os relés chegam como "On"/"Off" e são guardados assim.
type DeviceStatus struct {
	DeviceID       string    `json:"device_id"`
	Ignition       string    `json:"ignition"`
	BatteryVoltage float64   `json:"battery_voltage"`
	MinVoltage     float64   `json:"min_voltage"`
	Relay1         string    `json:"relay1_status"`
	Relay1Time     float64   `json:"relay1_time"`
	Relay2         string    `json:"relay2_status"`
	Relay2Time     float64   `json:"relay2_time"`
	GPSStatus      string    `json:"gps_status"`
	ReceivedAt     time.Time `json:"received_at"`
}

// GPSFix é a posição opcional que acompanha a telemetria do device.
// Lat/lng zerados significam fix inválido e não devem ser persistidos.
type GPSFix struct {
	DeviceID   string    `json:"device_id"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Speed      float64   `json:"speed"`
	HDOP       float64   `json:"hdop"`
	Satellites int       `json:"sats"`
	FixAt      time.Time `json:"fix_at"`
}

// Valid informa se o fix tem coordenadas utilizáveis.
func (g GPSFix) Valid() bool {
	return g.Latitude != 0 || g.Longitude != 0
}

// HostStatus é o snapshot periódico do host que roda o monitor.
type HostStatus struct {
	HostIP      string    `json:"host_ip,omitempty"`
	PublicIP    string    `json:"public_ip,omitempty"`
	CPUPercent  float64   `json:"cpu_percent"`
	MemPercent  float64   `json:"memory_percent"`
	DiskPercent float64   `json:"disk_percent"`
	Temperature float64   `json:"temperature,omitempty"`
	Online      bool      `json:"online"`
	CollectedAt time.Time `json:"collected_at"`
}
