// internal/store/store.go
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sua-org/digefx-monitor/internal/core"
)

// Store é o acesso SQLite do monitor: catálogo de alertas, câmeras
// cadastradas, histórico de alertas e telemetria do veículo/host.
// Uma conexão única com WAL atende bem o volume de um edge device.
type Store struct {
	conn *sql.DB
	mu   sync.RWMutex
	path string
}

// NewStore abre (ou cria) o banco no caminho dado e aplica o schema.
func NewStore(path string) (*Store, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("store: abrir banco: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	s := &Store{conn: conn, path: path}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: migrar schema: %w", err)
	}
	if err := s.seedAlertTypes(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: seed de alert_types: %w", err)
	}

	log.Printf("[store] banco pronto em %s", path)
	return s, nil
}

// NewStoreFromEnv monta o store a partir do ambiente.
//
// Variáveis:
//   DATABASE_PATH  caminho do arquivo SQLite (default ./digefx.db)
func NewStoreFromEnv() (*Store, error) {
	path := os.Getenv("DATABASE_PATH")
	if path == "" {
		path = "./digefx.db"
	}
	return NewStore(path)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS alert_types (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		description TEXT DEFAULT '',
		severity TEXT NOT NULL DEFAULT 'medium',
		icon TEXT DEFAULT '',
		color TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS cameras (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		ip TEXT DEFAULT '',
		port INTEGER DEFAULT 554,
		active INTEGER DEFAULT 1,
		alert_codes TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS alerts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		camera_id INTEGER NOT NULL,
		alert_type_id INTEGER NOT NULL,
		confidence REAL DEFAULT 0,
		image_path TEXT DEFAULT '',
		video_path TEXT DEFAULT '',
		metadata TEXT DEFAULT '{}',
		triggered_at DATETIME NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS camera_status (
		camera_id INTEGER PRIMARY KEY,
		online INTEGER DEFAULT 0,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS device_status (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id TEXT,
		ignition TEXT,
		battery_voltage REAL,
		min_voltage REAL,
		relay1_status TEXT,
		relay1_time REAL,
		relay2_status TEXT,
		relay2_time REAL,
		gps_status TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS device_locations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id TEXT,
		latitude REAL,
		longitude REAL,
		speed REAL,
		hdop REAL,
		sats INTEGER,
		timestamp DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS host_status (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		host_ip TEXT,
		public_ip TEXT,
		cpu_usage REAL,
		ram_usage REAL,
		disk_usage REAL,
		temperature REAL,
		online INTEGER DEFAULT 0,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_alerts_camera_type_time ON alerts(camera_id, alert_type_id, triggered_at);
	CREATE INDEX IF NOT EXISTS idx_alerts_triggered ON alerts(triggered_at);
	CREATE INDEX IF NOT EXISTS idx_device_status_time ON device_status(timestamp);
	CREATE INDEX IF NOT EXISTS idx_device_locations_time ON device_locations(timestamp);
	`

	_, err := s.conn.Exec(schema)
	return err
}

// seedAlertTypes garante o catálogo padrão com IDs estáveis.
func (s *Store) seedAlertTypes() error {
	for _, at := range core.DefaultAlertTypes {
		_, err := s.conn.Exec(`
			INSERT OR IGNORE INTO alert_types (id, code, name, description, severity, icon, color)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, at.ID, at.Code, at.Name, at.Description, at.Severity, at.Icon, at.Color)
		if err != nil {
			return err
		}
	}
	return nil
}

// Close fecha a conexão com o banco.
func (s *Store) Close() error {
	return s.conn.Close()
}

// ---------------------------------------------------------------------------
// alertas
// ---------------------------------------------------------------------------

// AlertRecord é uma linha do histórico de alertas já resolvida contra o
// catálogo e o cadastro de câmeras.
type AlertRecord struct {
	ID          int64     `json:"id"`
	CameraID    int       `json:"camera_id"`
	CameraName  string    `json:"camera_name"`
	AlertCode   string    `json:"alert_code"`
	AlertName   string    `json:"alert_name"`
	Severity    string    `json:"severity"`
	Confidence  float64   `json:"confidence"`
	ImagePath   string    `json:"image_path,omitempty"`
	VideoPath   string    `json:"video_path,omitempty"`
	TriggeredAt time.Time `json:"triggered_at"`
}

// SaveAlert persiste um evento de alerta e devolve o id gerado.
// Câmera não cadastrada (id 0) persiste mesmo assim — o histórico do
// veículo não pode depender do cadastro do painel.
func (s *Store) SaveAlert(evt *core.AlertEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := json.Marshal(evt.Metadata())
	if err != nil {
		meta = []byte("{}")
	}

	res, err := s.conn.Exec(`
		INSERT INTO alerts (camera_id, alert_type_id, confidence, image_path, video_path, metadata, triggered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, evt.CameraID, evt.AlertTypeID, evt.Confidence, evt.ImagePath, evt.ClipPath, string(meta), evt.OccurredAt().UTC())
	if err != nil {
		return 0, fmt.Errorf("store: inserir alerta: %w", err)
	}
	return res.LastInsertId()
}

// LastAlertTime devolve o horário do alerta mais recente daquele código
// naquela câmera. ok=false quando nunca houve.
func (s *Store) LastAlertTime(cameraID int, code string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var at time.Time
	err := s.conn.QueryRow(`
		SELECT a.triggered_at
		FROM alerts a
		JOIN alert_types t ON t.id = a.alert_type_id
		WHERE a.camera_id = ? AND t.code = ?
		ORDER BY a.triggered_at DESC
		LIMIT 1
	`, cameraID, strings.ToUpper(code)).Scan(&at)

	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("store: último alerta: %w", err)
	}
	return at, true, nil
}

// RecentAlerts lista os alertas mais novos primeiro.
func (s *Store) RecentAlerts(limit int) ([]AlertRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.conn.Query(`
		SELECT a.id, a.camera_id, COALESCE(c.name, ''), t.code, t.name, t.severity,
		       a.confidence, a.image_path, a.video_path, a.triggered_at
		FROM alerts a
		JOIN alert_types t ON t.id = a.alert_type_id
		LEFT JOIN cameras c ON c.id = a.camera_id
		ORDER BY a.triggered_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: listar alertas: %w", err)
	}
	defer rows.Close()

	var out []AlertRecord
	for rows.Next() {
		var r AlertRecord
		if err := rows.Scan(&r.ID, &r.CameraID, &r.CameraName, &r.AlertCode, &r.AlertName,
			&r.Severity, &r.Confidence, &r.ImagePath, &r.VideoPath, &r.TriggeredAt); err != nil {
			return nil, fmt.Errorf("store: ler alerta: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AlertTypes devolve o catálogo persistido, em ordem de id.
func (s *Store) AlertTypes() ([]core.AlertType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.Query(`
		SELECT id, code, name, description, severity, icon, color
		FROM alert_types ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("store: listar alert_types: %w", err)
	}
	defer rows.Close()

	var out []core.AlertType
	for rows.Next() {
		var at core.AlertType
		if err := rows.Scan(&at.ID, &at.Code, &at.Name, &at.Description, &at.Severity, &at.Icon, &at.Color); err != nil {
			return nil, fmt.Errorf("store: ler alert_type: %w", err)
		}
		out = append(out, at)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// câmeras
// ---------------------------------------------------------------------------

// UpsertCamera cadastra ou atualiza uma câmera pelo nome.
func (s *Store) UpsertCamera(cam core.Camera) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	codes := strings.Join(cam.AlertCodes, ",")
	_, err := s.conn.Exec(`
		INSERT INTO cameras (name, ip, port, active, alert_codes)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			ip = excluded.ip,
			port = excluded.port,
			active = excluded.active,
			alert_codes = excluded.alert_codes
	`, cam.Name, cam.IP, cam.Port, boolInt(cam.Active), codes)
	if err != nil {
		return 0, fmt.Errorf("store: upsert câmera %s: %w", cam.Name, err)
	}

	var id int
	if err := s.conn.QueryRow(`SELECT id FROM cameras WHERE name = ?`, cam.Name).Scan(&id); err != nil {
		return 0, fmt.Errorf("store: id da câmera %s: %w", cam.Name, err)
	}
	return id, nil
}

// CameraByName busca uma câmera ativa pelo nome. Devolve nil quando não
// existe — é o chamador que decide o fallback.
func (s *Store) CameraByName(name string) (*core.Camera, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var cam core.Camera
	var active int
	var codes string
	err := s.conn.QueryRow(`
		SELECT id, name, ip, port, active, alert_codes
		FROM cameras WHERE name = ?
	`, name).Scan(&cam.ID, &cam.Name, &cam.IP, &cam.Port, &active, &codes)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: buscar câmera %s: %w", name, err)
	}
	cam.Active = active != 0
	cam.AlertCodes = splitCodes(codes)
	return &cam, nil
}

// ActiveCameraByName é o lookup que o pré-filtro usa: devolve nil tanto
// pra câmera inexistente quanto pra câmera desativada.
func (s *Store) ActiveCameraByName(name string) (*core.Camera, error) {
	cam, err := s.CameraByName(name)
	if err != nil || cam == nil {
		return nil, err
	}
	if !cam.Active {
		return nil, nil
	}
	return cam, nil
}

// ActiveCameras lista as câmeras ativas em ordem de id.
func (s *Store) ActiveCameras() ([]core.Camera, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.Query(`
		SELECT id, name, ip, port, alert_codes
		FROM cameras WHERE active = 1 ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("store: listar câmeras: %w", err)
	}
	defer rows.Close()

	var out []core.Camera
	for rows.Next() {
		var cam core.Camera
		var codes string
		if err := rows.Scan(&cam.ID, &cam.Name, &cam.IP, &cam.Port, &codes); err != nil {
			return nil, fmt.Errorf("store: ler câmera: %w", err)
		}
		cam.Active = true
		cam.AlertCodes = splitCodes(codes)
		out = append(out, cam)
	}
	return out, rows.Err()
}

// SetCameraOnline grava o estado de conexão atual da câmera.
func (s *Store) SetCameraOnline(cameraID int, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(`
		INSERT INTO camera_status (camera_id, online, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(camera_id) DO UPDATE SET
			online = excluded.online,
			updated_at = excluded.updated_at
	`, cameraID, boolInt(online), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: status da câmera %d: %w", cameraID, err)
	}
	return nil
}

// CameraOnlineMap devolve camera_id -> online.
func (s *Store) CameraOnlineMap() (map[int]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.Query(`SELECT camera_id, online FROM camera_status`)
	if err != nil {
		return nil, fmt.Errorf("store: status das câmeras: %w", err)
	}
	defer rows.Close()

	out := make(map[int]bool)
	for rows.Next() {
		var id, online int
		if err := rows.Scan(&id, &online); err != nil {
			return nil, fmt.Errorf("store: ler status de câmera: %w", err)
		}
		out[id] = online != 0
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// telemetria
// ---------------------------------------------------------------------------

// SaveDeviceStatus persiste uma leitura de telemetria do ESP32.
func (s *Store) SaveDeviceStatus(ds core.DeviceStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(`
		INSERT INTO device_status (device_id, ignition, battery_voltage, min_voltage,
			relay1_status, relay1_time, relay2_status, relay2_time, gps_status, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ds.DeviceID, ds.Ignition, ds.BatteryVoltage, ds.MinVoltage,
		ds.Relay1, ds.Relay1Time, ds.Relay2, ds.Relay2Time, ds.GPSStatus, ds.ReceivedAt.UTC())
	if err != nil {
		return fmt.Errorf("store: inserir device_status: %w", err)
	}
	return nil
}

// SaveLocation persiste um fix de GPS. Fix inválido (0,0) é ignorado.
func (s *Store) SaveLocation(fix core.GPSFix) error {
	if !fix.Valid() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(`
		INSERT INTO device_locations (device_id, latitude, longitude, speed, hdop, sats, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, fix.DeviceID, fix.Latitude, fix.Longitude, fix.Speed, fix.HDOP, fix.Satellites, fix.FixAt.UTC())
	if err != nil {
		return fmt.Errorf("store: inserir localização: %w", err)
	}
	return nil
}

// SaveHostStatus persiste um snapshot do host.
func (s *Store) SaveHostStatus(hs core.HostStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(`
		INSERT INTO host_status (host_ip, public_ip, cpu_usage, ram_usage, disk_usage, temperature, online, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, hs.HostIP, hs.PublicIP, hs.CPUPercent, hs.MemPercent, hs.DiskPercent,
		hs.Temperature, boolInt(hs.Online), hs.CollectedAt.UTC())
	if err != nil {
		return fmt.Errorf("store: inserir host_status: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func splitCodes(csv string) []string {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToUpper(p))
		}
	}
	return out
}
