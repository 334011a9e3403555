// internal/sinks/vms.go
package sinks

import (
	"context"
	"fmt"
	"log"

	"github.com/sua-org/digefx-monitor/internal/core"
	"github.com/sua-org/digefx-monitor/internal/vms"
)

// eventCreator é o pedaço do cliente VMS que o sink usa.
type eventCreator interface {
	CreateEvent(ctx context.Context, cameraName, label string, payload vms.EventPayload) (*vms.CreateEventResponse, error)
}

// VMSSink registra o alerta como evento manual no VMS, amarrando a
// ocorrência à linha do tempo de gravação da câmera.
type VMSSink struct {
	cli eventCreator
}

func init() {
	RegisterSink("vms", func() (Sink, error) { return NewVMSSinkFromEnv() })
}

func NewVMSSinkFromEnv() (*VMSSink, error) {
	cli, err := vms.NewFromEnv()
	if err != nil {
		return nil, err
	}
	return &VMSSink{cli: cli}, nil
}

func (s *VMSSink) Name() string { return "vms" }

func (s *VMSSink) Handle(ctx context.Context, evt *core.AlertEvent) error {
	camera := evt.CameraName
	if camera == "" {
		camera = fmt.Sprintf("camera_%d", evt.CameraID)
	}
	resp, err := s.cli.CreateEvent(ctx, camera, evt.AlertCode, vms.EventPayload{
		SubLabel:         evt.AlertName,
		Score:            evt.Confidence,
		IncludeRecording: true,
		Source:           envelopeSource,
	})
	if err != nil {
		return fmt.Errorf("vms: erro ao registrar alerta %s: %w", evt.EventID(), err)
	}
	if !resp.Success {
		return fmt.Errorf("vms: registro do alerta %s recusado: %s", evt.EventID(), resp.Message)
	}
	log.Printf("[sinks] vms: alerta %s registrado como evento %s", evt.EventID(), resp.EventID)
	return nil
}

func (s *VMSSink) Close() {}
