// internal/serial/message.go
package serial

import (
	"strings"
	"time"
)

// MessageType classifica cada linha recebida do microcontrolador.
type MessageType string

const (
	MessageStatusData       MessageType = "STATUS_DATA"
	MessageAck              MessageType = "ACK"
	MessageReady            MessageType = "READY"
	MessageHeartbeatTimeout MessageType = "HEARTBEAT_TIMEOUT"
	MessageDebug            MessageType = "DEBUG"
	MessageUnknown          MessageType = "UNKNOWN"
)

// Message é uma linha já classificada, pronta pro dispatch de callbacks.
type Message struct {
	Type       MessageType
	Payload    string
	ReceivedAt time.Time
}

// Classify decide o tipo de uma linha do protocolo. Linha que não casa com
// nada vira Unknown — é logada e descartada pelos consumidores, nunca
// derruba a conexão.
func Classify(line string) MessageType {
	switch {
	case line == "ACK":
		return MessageAck
	case line == "ESP32_READY":
		return MessageReady
	case line == "HEARTBEAT_TIMEOUT":
		return MessageHeartbeatTimeout
	case strings.HasPrefix(line, "DEVICE_ID:"):
		return MessageStatusData
	case strings.HasPrefix(line, "DEBUG:"):
		return MessageDebug
	default:
		return MessageUnknown
	}
}

// bootAllowPrefixes são os começos de linha aceitos durante a janela de
// graça pós-open. O bootloader do ESP32 cospe log de ROM na serial nos
// primeiros segundos; tudo que não começar com esses prefixos é lixo de
// boot e é descartado em silêncio.
var bootAllowPrefixes = []string{
	"DEVICE_ID:",
	"ACK",
	"ESP32_READY",
	"HEARTBEAT_TIMEOUT",
	"DEBUG:",
	"===",
	"ESP32 DIGEFX",
}

func isBootAllowed(line string) bool {
	for _, p := range bootAllowPrefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}
