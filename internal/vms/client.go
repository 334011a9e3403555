// internal/vms/client.go
package vms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Client fala com o VMS (Frigate) que grava as câmeras. Alertas viram
// eventos no VMS para ficarem ancorados na timeline de gravação.
type Client struct {
	BaseURL string

	// tentativas de criação de evento antes de desistir (default 3)
	Attempts int
	// espera entre tentativas, multiplicada pelo número da tentativa
	RetryBase time.Duration

	HTTP *http.Client
}

// EventPayload é o corpo aceito pelo endpoint de criação de eventos.
type EventPayload struct {
	SubLabel         string  `json:"sub_label,omitempty"`
	Score            float64 `json:"score,omitempty"`
	Duration         int     `json:"duration,omitempty"`
	IncludeRecording bool    `json:"include_recording"`
	Source           string  `json:"source,omitempty"`
}

// CreateEventResponse é o que o VMS devolve na criação.
type CreateEventResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	EventID string `json:"event_id"`
}

// New cria um client com parâmetros explícitos.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		Attempts:  3,
		RetryBase: time.Second,
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// NewFromEnv cria um client lendo variáveis de ambiente:
//
//	VMS_BASE_URL  (ex: http://10.10.0.40:5000)
func NewFromEnv() (*Client, error) {
	baseURL := os.Getenv("VMS_BASE_URL")
	if baseURL == "" {
		return nil, fmt.Errorf("VMS_BASE_URL não definido")
	}
	return New(baseURL), nil
}

// CreateEvent registra um evento na timeline do VMS:
//
//	POST {base}/api/events/{camera}/{label}/create
//
// Erros de rede e 5xx são retentados com backoff; 4xx falha direto
// (câmera ou label errados não se curam sozinhos).
func (c *Client) CreateEvent(ctx context.Context, cameraName, label string, payload EventPayload) (*CreateEventResponse, error) {
	if cameraName == "" || label == "" {
		return nil, fmt.Errorf("vms: câmera e label são obrigatórios")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("erro ao serializar payload: %w", err)
	}

	urlReq := fmt.Sprintf("%s/api/events/%s/%s/create",
		c.BaseURL, url.PathEscape(cameraName), url.PathEscape(label))

	attempts := c.Attempts
	if attempts <= 0 {
		attempts = 3
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			wait := c.RetryBase * time.Duration(attempt-1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, urlReq, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("erro ao criar request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.HTTP.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("erro ao chamar events/create: %w", err)
			continue
		}

		bodyBytes, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("erro ao ler resposta events/create: %w", err)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
			var out CreateEventResponse
			if err := json.Unmarshal(bodyBytes, &out); err != nil {
				// sucesso HTTP com corpo fora do padrão ainda conta como criado
				return &CreateEventResponse{Success: true, Message: string(bodyBytes)}, nil
			}
			return &out, nil
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("events/create status %d: %s", resp.StatusCode, string(bodyBytes))
			continue
		default:
			return nil, fmt.Errorf("events/create status %d: %s", resp.StatusCode, string(bodyBytes))
		}
	}
	return nil, fmt.Errorf("vms: events/create falhou após %d tentativa(s): %w", attempts, lastErr)
}

// Stats consulta GET /api/stats, usado como health check e diagnóstico.
func (c *Client) Stats(ctx context.Context) (map[string]interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/stats", nil)
	if err != nil {
		return nil, fmt.Errorf("erro ao criar request stats: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("erro ao chamar stats: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("erro ao ler resposta stats: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stats status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var stats map[string]interface{}
	if err := json.Unmarshal(bodyBytes, &stats); err != nil {
		return nil, fmt.Errorf("erro ao parsear JSON stats: %w", err)
	}
	return stats, nil
}

// Healthy informa se o VMS responde.
func (c *Client) Healthy(ctx context.Context) bool {
	_, err := c.Stats(ctx)
	return err == nil
}
