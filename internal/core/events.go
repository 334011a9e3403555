// internal/core/events.go
package core

import (
	"time"

	"github.com/google/uuid"
)

// EventType discrimina os eventos que circulam no bus.
type EventType string

const (
	EventCameraAlert      EventType = "CAMERA_ALERT_DETECTED"
	EventCameraStatus     EventType = "CAMERA_STATUS_CHANGED"
	EventNewVideoFile     EventType = "NEW_VIDEO_FILE"
	EventTriggerDetection EventType = "TRIGGER_DETECTION"
)

// Event é o contrato mínimo que todo evento do bus cumpre.
// Depois de publicado, um evento é imutável: handlers que precisarem
// alterar algo trabalham numa cópia própria.
type Event interface {
	EventID() string
	EventType() EventType
	OccurredAt() time.Time
	Metadata() map[string]interface{}
}

// Header carrega os campos comuns a todos os eventos.
type Header struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Meta      map[string]interface{} `json:"meta,omitempty"`
}

func (h Header) EventID() string                  { return h.ID }
func (h Header) EventType() EventType             { return h.Type }
func (h Header) OccurredAt() time.Time            { return h.Timestamp }
func (h Header) Metadata() map[string]interface{} { return h.Meta }

func newHeader(t EventType, meta map[string]interface{}) Header {
	return Header{
		ID:        uuid.NewString(),
		Type:      t,
		Timestamp: time.Now().UTC(),
		Meta:      meta,
	}
}

// AlertEvent registra uma violação detectada numa câmera.
type AlertEvent struct {
	Header
	CameraID    int     `json:"camera_id"`
	CameraName  string  `json:"camera_name"`
	CameraIP    string  `json:"camera_ip,omitempty"`
	AlertTypeID int     `json:"alert_type_id,omitempty"`
	AlertCode   string  `json:"alert_code"`
	AlertName   string  `json:"alert_name"`
	Severity    string  `json:"severity"`
	Confidence  float64 `json:"confidence"`

	// Caminhos locais da evidência; o sink de storage sobe pro MinIO.
	ImagePath string `json:"image_path,omitempty"`
	ClipPath  string `json:"clip_path,omitempty"`
}

// NewAlertEvent monta um AlertEvent a partir da câmera e do tipo do catálogo.
func NewAlertEvent(cam Camera, at AlertType, confidence float64, meta map[string]interface{}) *AlertEvent {
	return &AlertEvent{
		Header:      newHeader(EventCameraAlert, meta),
		CameraID:    cam.ID,
		CameraName:  cam.Name,
		CameraIP:    cam.IP,
		AlertTypeID: at.ID,
		AlertCode:   at.Code,
		AlertName:   at.Name,
		Severity:    at.Severity,
		Confidence:  confidence,
	}
}

// CameraStatusEvent sinaliza mudança de conectividade de uma câmera.
type CameraStatusEvent struct {
	Header
	CameraID   int    `json:"camera_id"`
	CameraName string `json:"camera_name"`
	Online     bool   `json:"online"`
}

func NewCameraStatusEvent(cam Camera, online bool) *CameraStatusEvent {
	return &CameraStatusEvent{
		Header:     newHeader(EventCameraStatus, nil),
		CameraID:   cam.ID,
		CameraName: cam.Name,
		Online:     online,
	}
}

// NewVideoFileEvent avisa que um arquivo de vídeo novo apareceu no watch dir.
type NewVideoFileEvent struct {
	Header
	Path       string    `json:"path"`
	DetectedAt time.Time `json:"detected_at"`
}

func NewVideoFileDetected(path string, detectedAt time.Time) *NewVideoFileEvent {
	return &NewVideoFileEvent{
		Header:     newHeader(EventNewVideoFile, nil),
		Path:       path,
		DetectedAt: detectedAt,
	}
}

// TriggerDetectionEvent é a escalada do pré-filtro para o pipeline pesado:
// o vídeo tem gente suficiente para valer a análise cara.
type TriggerDetectionEvent struct {
	Header
	VideoPath   string    `json:"video_path"`
	Camera      Camera    `json:"camera"`
	PoseHits    []PoseHit `json:"pose_hits"`
	AlertCodes  []string  `json:"alert_codes"`
	TotalFrames int       `json:"total_frames"`
	FPS         float64   `json:"fps"`
}

func NewTriggerDetectionEvent(videoPath string, cam Camera, hits []PoseHit, totalFrames int, fps float64, meta map[string]interface{}) *TriggerDetectionEvent {
	return &TriggerDetectionEvent{
		Header:      newHeader(EventTriggerDetection, meta),
		VideoPath:   videoPath,
		Camera:      cam,
		PoseHits:    hits,
		AlertCodes:  cam.EnabledAlertCodes(),
		TotalFrames: totalFrames,
		FPS:         fps,
	}
}
