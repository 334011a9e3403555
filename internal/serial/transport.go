// internal/serial/transport.go
package serial

import "errors"

// Transport é um handle de dispositivo serial já configurado.
//
// Implementações NÃO podem mexer nas linhas de modem (DTR/RTS) ao abrir
// ou fechar: pulsar essas linhas reseta o microcontrolador do outro lado.
// Essa restrição é o motivo de não usarmos uma lib serial convencional.
type Transport interface {
	Open() error
	Close() error
	// Read espera um intervalo curto por bytes e devolve o que tiver.
	// (0, nil) significa "nada no momento", não EOF.
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Name() string
}

var (
	ErrNotOpen        = errors.New("serial: transporte não está aberto")
	ErrQueueFull      = errors.New("serial: fila de comandos cheia")
	ErrManagerStopped = errors.New("serial: manager encerrado")
	ErrStopTimeout    = errors.New("serial: timeout esperando loops encerrarem")
)
