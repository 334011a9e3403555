// cmd/mqtt-alert-subscriber/main.go
package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sua-org/digefx-monitor/internal/mqttclient"
)

// Ferramenta de bancada: assina os tópicos de alerta e imprime o envelope
// de cada mensagem. Útil pra conferir o que a central vai receber.
func main() {
	if err := godotenv.Load(); err == nil {
		log.Printf("[debug] .env carregado com sucesso")
	}

	prefix := getenv("MQTT_TOPIC_PREFIX", "digefx/alerts")
	subscribeTopic := getenv("MQTT_DEBUG_TOPIC", prefix+"/#")

	mqttCli, err := mqttclient.NewClientFromEnv("digefx-alert-subscriber")
	if err != nil {
		log.Fatalf("erro ao conectar no MQTT: %v", err)
	}
	defer mqttCli.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	if err := mqttCli.Subscribe(subscribeTopic, 1,
		func(topic string, payload []byte) {
			handleMessage(topic, payload)
		},
	); err != nil {
		log.Fatalf("erro ao assinar tópico %s: %v", subscribeTopic, err)
	}
	log.Printf("[debug] assinado em: %s", subscribeTopic)

	go func() {
		<-sig
		log.Println("[debug] sinal recebido, encerrando subscriber...")
		cancel()
	}()

	<-ctx.Done()
	time.Sleep(500 * time.Millisecond)
}

func handleMessage(topic string, payload []byte) {
	log.Printf("\n[debug] mensagem recebida no tópico: %s", topic)

	var raw map[string]interface{}
	if err := json.Unmarshal(payload, &raw); err != nil {
		log.Printf("[debug] erro ao fazer unmarshal do JSON: %v", err)
		log.Printf("[debug] payload como string: %s", string(payload))
		return
	}

	// Mostra JSON bonitinho
	pretty, _ := json.MarshalIndent(raw, "", "  ")
	log.Printf("[debug] JSON decodificado:\n%s", string(pretty))

	// Resumo de uma linha pros campos do envelope
	camera, _ := raw["camera"].(map[string]interface{})
	alert, _ := raw["alert"].(map[string]interface{})
	if camera == nil || alert == nil {
		return
	}
	log.Printf("[ALERT] ts=%v camera=%v tipo=%v severidade=%v confiança=%v",
		raw["timestamp"], camera["name"], alert["type_code"], alert["severity"], alert["confidence"])
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
