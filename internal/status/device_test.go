// internal/status/device_test.go
package status

import (
	"strings"
	"testing"
	"time"
)

const fullTelemetryLine = "DEVICE_ID:esp32-frota-17;IGNITION:On;BATTERY:12.64;MIN_VOLTAGE:11.80;" +
	"RELAY1:On;RELAY1_TIME:12.5;RELAY2:Off;RELAY2_TIME:0;GPS_STATUS:Valid;" +
	"LAT:-23.5505;LNG:-46.6333;SPEED:42.0;HDOP:0.9;SATS:11"

// TestParseDeviceStatusFull verifies every key of a complete telemetry
// line lands in the right field.
func TestParseDeviceStatusFull(t *testing.T) {
	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	ds, fix, err := ParseDeviceStatus(fullTelemetryLine, at)
	if err != nil {
		t.Fatalf("ParseDeviceStatus failed: %v", err)
	}

	if ds.DeviceID != "esp32-frota-17" {
		t.Errorf("Expected device esp32-frota-17, got %q", ds.DeviceID)
	}
	if ds.Ignition != "On" || ds.Relay1 != "On" || ds.Relay2 != "Off" {
		t.Errorf("Unexpected switch states: ign=%q r1=%q r2=%q", ds.Ignition, ds.Relay1, ds.Relay2)
	}
	if ds.BatteryVoltage != 12.64 || ds.MinVoltage != 11.80 {
		t.Errorf("Unexpected voltages: bat=%.2f min=%.2f", ds.BatteryVoltage, ds.MinVoltage)
	}
	if ds.Relay1Time != 12.5 || ds.Relay2Time != 0 {
		t.Errorf("Unexpected relay times: r1=%.1f r2=%.1f", ds.Relay1Time, ds.Relay2Time)
	}
	if ds.GPSStatus != "Valid" {
		t.Errorf("Expected GPS_STATUS Valid, got %q", ds.GPSStatus)
	}
	if !ds.ReceivedAt.Equal(at) {
		t.Errorf("Expected ReceivedAt %v, got %v", at, ds.ReceivedAt)
	}

	if fix == nil {
		t.Fatalf("Expected a GPS fix")
	}
	if fix.DeviceID != "esp32-frota-17" {
		t.Errorf("Expected fix tied to the device, got %q", fix.DeviceID)
	}
	if fix.Latitude != -23.5505 || fix.Longitude != -46.6333 {
		t.Errorf("Unexpected coordinates: %.4f,%.4f", fix.Latitude, fix.Longitude)
	}
	if fix.Speed != 42.0 || fix.HDOP != 0.9 || fix.Satellites != 11 {
		t.Errorf("Unexpected fix data: speed=%.1f hdop=%.1f sats=%d", fix.Speed, fix.HDOP, fix.Satellites)
	}
	if !fix.Valid() {
		t.Errorf("Expected a valid fix")
	}
}

// TestParseDeviceStatusNoGPS verifies lines without coordinates yield no fix.
func TestParseDeviceStatusNoGPS(t *testing.T) {
	line := "DEVICE_ID:esp32-01;IGNITION:Off;BATTERY:11.9;GPS_STATUS:Invalid"
	ds, fix, err := ParseDeviceStatus(line, time.Now())
	if err != nil {
		t.Fatalf("ParseDeviceStatus failed: %v", err)
	}
	if fix != nil {
		t.Errorf("Expected no fix without LAT/LNG, got %+v", fix)
	}
	if ds.GPSStatus != "Invalid" {
		t.Errorf("Expected GPS_STATUS Invalid, got %q", ds.GPSStatus)
	}
}

// TestParseDeviceStatusZeroCoords verifies a zeroed fix parses but reports
// itself invalid, so callers can drop it.
func TestParseDeviceStatusZeroCoords(t *testing.T) {
	line := "DEVICE_ID:esp32-01;GPS_STATUS:Invalid;LAT:0;LNG:0;SPEED:0;HDOP:99.9;SATS:0"
	_, fix, err := ParseDeviceStatus(line, time.Now())
	if err != nil {
		t.Fatalf("ParseDeviceStatus failed: %v", err)
	}
	if fix == nil {
		t.Fatalf("Expected a parsed fix even with zero coords")
	}
	if fix.Valid() {
		t.Errorf("Expected zeroed coordinates to be invalid")
	}
}

// TestParseDeviceStatusMissingID verifies the device id is mandatory.
func TestParseDeviceStatusMissingID(t *testing.T) {
	_, _, err := ParseDeviceStatus("IGNITION:On;BATTERY:12.1", time.Now())
	if err == nil {
		t.Fatalf("Expected error for a line without DEVICE_ID")
	}
	if !strings.Contains(err.Error(), "DEVICE_ID") {
		t.Errorf("Expected error naming DEVICE_ID, got %v", err)
	}
}

// TestParseDeviceStatusTolerance verifies unknown keys, stray spaces and
// malformed items are ignored instead of failing the line.
func TestParseDeviceStatusTolerance(t *testing.T) {
	line := " DEVICE_ID:esp32-02 ; FIRMWARE:2.1.0 ; battery:12.0 ;semvalor; IGNITION:On "
	ds, _, err := ParseDeviceStatus(line, time.Now())
	if err != nil {
		t.Fatalf("ParseDeviceStatus failed: %v", err)
	}
	if ds.DeviceID != "esp32-02" {
		t.Errorf("Expected esp32-02, got %q", ds.DeviceID)
	}
	if ds.BatteryVoltage != 12.0 {
		t.Errorf("Expected lowercase key accepted, got bat=%.1f", ds.BatteryVoltage)
	}
	if ds.Ignition != "On" {
		t.Errorf("Expected IGNITION parsed after junk items, got %q", ds.Ignition)
	}
}
