// internal/serial/port_linux.go
package serial

import (
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// PortConfig configura o device serial cru.
type PortConfig struct {
	Device      string        // ex.: /dev/ttyUSB0
	Baud        int           // default 115200
	PollTimeout time.Duration // espera máxima por bytes num Read (default 100ms)
}

var baudFlags = map[int]uint32{
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
	230400: unix.B230400,
	460800: unix.B460800,
	921600: unix.B921600,
}

// devicePort abre o device como fd cru e configura a disciplina de linha
// na mão via termios. Libs seriais convencionais levantam DTR/RTS no open,
// o que reseta o ESP32 — aqui nunca tocamos TIOCMBIS/TIOCMBIC e o HUPCL
// fica desligado pra o close não derrubar a linha.
type devicePort struct {
	cfg PortConfig

	mu   sync.Mutex
	fd   int
	open bool
}

// NewPort valida a config e devolve o transporte (ainda fechado).
func NewPort(cfg PortConfig) (Transport, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("serial: device não definido")
	}
	if cfg.Baud == 0 {
		cfg.Baud = 115200
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 100 * time.Millisecond
	}
	if _, ok := baudFlags[cfg.Baud]; !ok {
		return nil, fmt.Errorf("serial: baud %d não suportado", cfg.Baud)
	}
	return &devicePort{cfg: cfg, fd: -1}, nil
}

func (p *devicePort) Name() string { return p.cfg.Device }

func (p *devicePort) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.open {
		return nil
	}

	// O_NOCTTY: não virar terminal de controle do processo.
	// O_NONBLOCK: não travar esperando carrier no open.
	fd, err := unix.Open(p.cfg.Device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return fmt.Errorf("serial: open %s: %w", p.cfg.Device, err)
	}

	if err := configureLine(fd, baudFlags[p.cfg.Baud]); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("serial: configurar %s: %w", p.cfg.Device, err)
	}

	p.fd = fd
	p.open = true
	log.Printf("[serial] porta %s aberta (baud=%d)", p.cfg.Device, p.cfg.Baud)
	return nil
}

// configureLine aplica modo raw 8N1: sem eco, sem modo canônico, sem fluxo
// por hardware/software e — CRÍTICO — sem HUPCL.
func configureLine(fd int, baud uint32) error {
	tio, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("tcgetattr: %w", err)
	}

	// entrada: sem tradução CR/NL, sem XON/XOFF, sem strip
	tio.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF | unix.IXANY
	// saída: crua
	tio.Oflag &^= unix.OPOST
	// local: sem eco, sem canônico, sem sinais
	tio.Lflag &^= unix.ECHO | unix.ECHOE | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	// controle: 8N1, ignora estado das linhas de modem (CLOCAL), sem RTS/CTS
	// e sem HUPCL — senão o close pulsa DTR e reinicia o microcontrolador
	tio.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB | unix.CRTSCTS | unix.HUPCL | unix.CBAUD
	tio.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL | baud
	tio.Ispeed = baud
	tio.Ospeed = baud

	// leitura com timeout curto no driver (VTIME em décimos de segundo)
	tio.Cc[unix.VMIN] = 0
	tio.Cc[unix.VTIME] = 1

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, tio); err != nil {
		return fmt.Errorf("tcsetattr: %w", err)
	}

	// descarta o que estiver pendente nos buffers dos dois sentidos
	_ = unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIOFLUSH)
	return nil
}

func (p *devicePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open {
		return nil
	}
	p.open = false
	fd := p.fd
	p.fd = -1
	if err := unix.Close(fd); err != nil {
		return fmt.Errorf("serial: close %s: %w", p.cfg.Device, err)
	}
	log.Printf("[serial] porta %s fechada", p.cfg.Device)
	return nil
}

func (p *devicePort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	fd, open := p.fd, p.open
	p.mu.Unlock()
	if !open {
		return 0, ErrNotOpen
	}

	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(pfd, int(p.cfg.PollTimeout/time.Millisecond))
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, fmt.Errorf("serial: poll: %w", err)
	}
	if n == 0 {
		return 0, nil // nada chegou dentro do timeout
	}
	if pfd[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
		return 0, fmt.Errorf("serial: dispositivo %s indisponível (revents=%#x)", p.cfg.Device, pfd[0].Revents)
	}

	nr, err := unix.Read(fd, buf)
	if err != nil {
		if err == unix.EAGAIN {
			return 0, nil
		}
		return 0, fmt.Errorf("serial: read: %w", err)
	}
	if nr == 0 {
		// POLLIN com zero bytes: USB desconectado
		return 0, fmt.Errorf("serial: EOF em %s", p.cfg.Device)
	}
	return nr, nil
}

func (p *devicePort) Write(buf []byte) (int, error) {
	p.mu.Lock()
	fd, open := p.fd, p.open
	p.mu.Unlock()
	if !open {
		return 0, ErrNotOpen
	}

	total := 0
	for total < len(buf) {
		n, err := unix.Write(fd, buf[total:])
		if err != nil {
			if err == unix.EAGAIN {
				// fd é non-blocking: espera o driver drenar o buffer
				pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
				_, _ = unix.Poll(pfd, int(p.cfg.PollTimeout/time.Millisecond))
				continue
			}
			return total, fmt.Errorf("serial: write: %w", err)
		}
		total += n
	}
	return total, nil
}
