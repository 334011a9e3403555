// internal/sinks/mqtt.go
package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/sua-org/digefx-monitor/internal/core"
	"github.com/sua-org/digefx-monitor/internal/mqttclient"
)

// publisher é o pedaço do cliente MQTT que o sink realmente usa.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// MQTTSink publica cada alerta num leque de tópicos: o geral, o da câmera,
// o do tipo e o da severidade. Consumidor assina só o recorte que interessa.
type MQTTSink struct {
	pub    publisher
	prefix string
	closer func()
}

func init() {
	RegisterSink("mqtt", func() (Sink, error) { return NewMQTTSinkFromEnv() })
}

func NewMQTTSinkFromEnv() (*MQTTSink, error) {
	cli, err := mqttclient.NewClientFromEnv("digefx-monitor-alerts")
	if err != nil {
		return nil, err
	}
	return &MQTTSink{
		pub:    cli,
		prefix: getenv("MQTT_TOPIC_PREFIX", "digefx/alerts"),
		closer: cli.Close,
	}, nil
}

func (s *MQTTSink) Name() string { return "mqtt" }

// Handle publica o alerta com QoS 1 em todos os tópicos do esquema.
// Tenta todos mesmo quando algum falha; o retorno agrega o resultado.
func (s *MQTTSink) Handle(_ context.Context, evt *core.AlertEvent) error {
	payload, err := json.Marshal(newAlertEnvelope(evt))
	if err != nil {
		return fmt.Errorf("erro ao serializar alerta %s: %w", evt.EventID(), err)
	}

	topics := s.topics(evt)
	failed := 0
	for _, topic := range topics {
		if err := s.pub.Publish(topic, 1, false, payload); err != nil {
			log.Printf("[sinks] mqtt: erro ao publicar em %s: %v", topic, err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("mqtt: %d de %d tópicos falharam para o alerta %s", failed, len(topics), evt.EventID())
	}
	return nil
}

func (s *MQTTSink) topics(evt *core.AlertEvent) []string {
	return []string{
		s.prefix + "/all",
		fmt.Sprintf("%s/camera/%d", s.prefix, evt.CameraID),
		fmt.Sprintf("%s/type/%s", s.prefix, evt.AlertCode),
		fmt.Sprintf("%s/severity/%s", s.prefix, evt.Severity),
	}
}

func (s *MQTTSink) Close() {
	if s.closer != nil {
		s.closer()
	}
}
