// cmd/serial-probe/main.go
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sua-org/digefx-monitor/internal/serial"
)

// Ferramenta de bancada: abre a serial do ESP32, loga tudo que chega já
// classificado e opcionalmente manda um comando esperando ACK.
//
//	go run ./cmd/serial-probe               só escuta
//	go run ./cmd/serial-probe "INIT:OK"     manda o comando e espera ACK
func main() {
	if err := godotenv.Load(); err == nil {
		log.Printf("[probe] .env carregado com sucesso")
	}

	mgr, err := serial.NewManagerFromEnv()
	if err != nil {
		log.Fatalf("erro ao configurar a serial: %v", err)
	}
	if err := mgr.Start(); err != nil {
		log.Fatalf("erro ao abrir a serial: %v", err)
	}

	types := []serial.MessageType{
		serial.MessageStatusData,
		serial.MessageAck,
		serial.MessageReady,
		serial.MessageHeartbeatTimeout,
		serial.MessageDebug,
		serial.MessageUnknown,
	}
	for _, t := range types {
		t := t
		mgr.RegisterCallback(t, "probe-"+string(t), func(msg serial.Message) {
			log.Printf("[%s] %s", t, msg.Payload)
		})
	}

	if len(os.Args) > 1 {
		cmd := os.Args[1]
		log.Printf("[probe] enviando %q e aguardando ACK...", cmd)
		if ok := mgr.SendCommandSync(cmd, true, 2*time.Second); ok {
			log.Printf("[probe] ACK recebido")
		} else {
			log.Printf("[probe] sem ACK dentro do timeout")
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Println("[probe] encerrando...")
	stats := mgr.Stats()
	log.Printf("[probe] recebidas=%d enviadas=%d erros=%d lixo_de_boot=%d",
		stats.MessagesReceived, stats.MessagesSent, stats.Errors, stats.BootGarbage)
	if err := mgr.Stop(3 * time.Second); err != nil {
		log.Printf("[probe] serial não parou limpo: %v", err)
	}
}
