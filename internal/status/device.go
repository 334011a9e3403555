// internal/status/device.go
package status

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sua-org/digefx-monitor/internal/core"
)

// ParseDeviceStatus decodifica uma linha de telemetria do ESP32:
//
//	DEVICE_ID:esp32-frota-17;IGNITION:On;BATTERY:12.64;MIN_VOLTAGE:11.80;
//	RELAY1:On;RELAY1_TIME:12.5;RELAY2:Off;RELAY2_TIME:0;GPS_STATUS:Valid;
//	LAT:-23.5505;LNG:-46.6333;SPEED:42.0;HDOP:0.9;SATS:11
//
// Itens separados por ";", chave e valor por ":". Chaves desconhecidas são
// ignoradas (firmware novo não quebra monitor velho). O fix de GPS só é
// devolvido quando a linha traz LAT/LNG; cabe ao chamador descartar fix
// com coordenadas zeradas.
func ParseDeviceStatus(line string, at time.Time) (core.DeviceStatus, *core.GPSFix, error) {
	ds := core.DeviceStatus{ReceivedAt: at}
	fix := core.GPSFix{FixAt: at}
	sawCoords := false

	for _, item := range strings.Split(strings.TrimSpace(line), ";") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		key, value, ok := strings.Cut(item, ":")
		if !ok {
			continue
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "DEVICE_ID":
			ds.DeviceID = value
		case "IGNITION":
			ds.Ignition = value
		case "BATTERY":
			ds.BatteryVoltage = parseFloat(value)
		case "MIN_VOLTAGE":
			ds.MinVoltage = parseFloat(value)
		case "RELAY1":
			ds.Relay1 = value
		case "RELAY1_TIME":
			ds.Relay1Time = parseFloat(value)
		case "RELAY2":
			ds.Relay2 = value
		case "RELAY2_TIME":
			ds.Relay2Time = parseFloat(value)
		case "GPS_STATUS":
			ds.GPSStatus = value
		case "LAT":
			fix.Latitude = parseFloat(value)
			sawCoords = true
		case "LNG":
			fix.Longitude = parseFloat(value)
			sawCoords = true
		case "SPEED":
			fix.Speed = parseFloat(value)
		case "HDOP":
			fix.HDOP = parseFloat(value)
		case "SATS":
			fix.Satellites = parseInt(value)
		}
	}

	if ds.DeviceID == "" {
		return core.DeviceStatus{}, nil, fmt.Errorf("status: linha de telemetria sem DEVICE_ID: %q", line)
	}
	if !sawCoords {
		return ds, nil, nil
	}
	fix.DeviceID = ds.DeviceID
	return ds, &fix, nil
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func parseInt(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
