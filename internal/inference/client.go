// internal/inference/client.go
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sua-org/digefx-monitor/internal/core"
)

// Detection é um objeto encontrado pelo modelo pesado num frame.
type Detection struct {
	Class      string    `json:"class"`
	Confidence float64   `json:"confidence"`
	BBox       core.BBox `json:"bbox"`
}

// Client fala com os dois servidores de modelo: o de pose (leve, usado pelo
// pré-filtro) e o de objetos (pesado, usado pelo pipeline de alertas).
// Ambos recebem um frame JPEG via multipart e devolvem JSON.
type Client struct {
	PoseURL   string
	DetectURL string

	HTTP *http.Client
}

// New cria um client com os endpoints explícitos.
func New(poseURL, detectURL string) *Client {
	return &Client{
		PoseURL:   strings.TrimRight(poseURL, "/"),
		DetectURL: strings.TrimRight(detectURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// NewFromEnv cria um client lendo variáveis de ambiente:
//
//	POSE_ENDPOINT    (ex: http://127.0.0.1:8501/pose)
//	DETECT_ENDPOINT  (ex: http://127.0.0.1:8502/detect)
func NewFromEnv() (*Client, error) {
	poseURL := os.Getenv("POSE_ENDPOINT")
	if poseURL == "" {
		return nil, fmt.Errorf("POSE_ENDPOINT não definido")
	}
	detectURL := os.Getenv("DETECT_ENDPOINT")
	if detectURL == "" {
		return nil, fmt.Errorf("DETECT_ENDPOINT não definido")
	}
	return New(poseURL, detectURL), nil
}

// envelope comum dos dois servidores de modelo.
type inferenceResponse struct {
	Detections []Detection `json:"detections"`
}

// DetectPose roda o modelo de pose num frame e devolve o hit mais confiante,
// ou nil quando não há ninguém no frame. O timestamp informado é carimbado
// no hit (o servidor não sabe de onde o frame veio).
func (c *Client) DetectPose(ctx context.Context, framePath string, timestamp float64) (*core.PoseHit, error) {
	resp, err := c.postFrame(ctx, c.PoseURL, framePath)
	if err != nil {
		return nil, err
	}
	if len(resp.Detections) == 0 {
		return nil, nil
	}

	best := resp.Detections[0]
	for _, d := range resp.Detections[1:] {
		if d.Confidence > best.Confidence {
			best = d
		}
	}
	return &core.PoseHit{
		Timestamp:  timestamp,
		Confidence: best.Confidence,
		BBox:       best.BBox,
	}, nil
}

// DetectObjects roda o modelo de objetos num frame e devolve tudo que ele
// encontrou (person, helmet, gloves, seat_belt, smoking, cell_phone...).
func (c *Client) DetectObjects(ctx context.Context, framePath string) ([]Detection, error) {
	resp, err := c.postFrame(ctx, c.DetectURL, framePath)
	if err != nil {
		return nil, err
	}
	return resp.Detections, nil
}

// Healthy confere se o servidor de objetos responde — usado no warmup do
// pool pra pagar o custo de carregar o modelo antes do primeiro alerta.
func (c *Client) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.DetectURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("erro ao criar request de health: %w", err)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("erro ao chamar health: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health status %d", resp.StatusCode)
	}
	return nil
}

// postFrame sobe um frame pro endpoint e decodifica o envelope de detecções.
func (c *Client) postFrame(ctx context.Context, endpoint, framePath string) (*inferenceResponse, error) {
	file, err := os.Open(framePath)
	if err != nil {
		return nil, fmt.Errorf("erro ao abrir frame %s: %w", framePath, err)
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fw, err := writer.CreateFormFile("image", filepath.Base(framePath))
	if err != nil {
		return nil, fmt.Errorf("erro ao criar part image: %w", err)
	}
	if _, err := io.Copy(fw, file); err != nil {
		return nil, fmt.Errorf("erro ao copiar frame para multipart: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("erro ao fechar multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("erro ao criar request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("erro ao chamar %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("erro ao ler resposta de %s: %w", endpoint, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inferência status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var out inferenceResponse
	if err := json.Unmarshal(bodyBytes, &out); err != nil {
		return nil, fmt.Errorf("erro ao parsear JSON de %s: %w (body=%s)", endpoint, err, string(bodyBytes))
	}
	return &out, nil
}
