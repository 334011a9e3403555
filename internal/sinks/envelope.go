// internal/sinks/envelope.go
package sinks

import (
	"time"

	"github.com/sua-org/digefx-monitor/internal/core"
)

// O envelope é o contrato de integração com os consumidores externos
// (dashboards, central de frota). MQTT e AMQP publicam exatamente o mesmo
// JSON; mudar um campo aqui quebra os dois lados de uma vez.

const (
	envelopeSource  = "digefx-monitor"
	envelopeVersion = "1.0"
)

type alertEnvelope struct {
	EventID   string            `json:"event_id"`
	EventType string            `json:"event_type"`
	Timestamp string            `json:"timestamp"`
	Camera    envelopeCamera    `json:"camera"`
	Alert     envelopeAlert     `json:"alert"`
	Detection envelopeDetection `json:"detection"`
	Source    string            `json:"source"`
	Version   string            `json:"version"`
}

type envelopeCamera struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	IP   string `json:"ip"`
}

type envelopeAlert struct {
	TypeID     int     `json:"type_id"`
	TypeCode   string  `json:"type_code"`
	TypeName   string  `json:"type_name"`
	Severity   string  `json:"severity"`
	Confidence float64 `json:"confidence"`
}

type envelopeDetection struct {
	TriggeredAt   string                 `json:"triggered_at"`
	ImagePath     string                 `json:"image_path"`
	VideoClipPath string                 `json:"video_clip_path"`
	Metadata      map[string]interface{} `json:"metadata"`
}

func newAlertEnvelope(evt *core.AlertEvent) alertEnvelope {
	ts := evt.OccurredAt().UTC().Format(time.RFC3339)
	return alertEnvelope{
		EventID:   evt.EventID(),
		EventType: string(evt.EventType()),
		Timestamp: ts,
		Camera: envelopeCamera{
			ID:   evt.CameraID,
			Name: evt.CameraName,
			IP:   evt.CameraIP,
		},
		Alert: envelopeAlert{
			TypeID:     evt.AlertTypeID,
			TypeCode:   evt.AlertCode,
			TypeName:   evt.AlertName,
			Severity:   evt.Severity,
			Confidence: evt.Confidence,
		},
		Detection: envelopeDetection{
			TriggeredAt:   ts,
			ImagePath:     evt.ImagePath,
			VideoClipPath: evt.ClipPath,
			Metadata:      evt.Metadata(),
		},
		Source:  envelopeSource,
		Version: envelopeVersion,
	}
}
