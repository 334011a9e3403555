// internal/core/alerts.go
package core

import "strings"

// AlertType descreve um tipo de alerta do catálogo.
// IDs batem com o seed do store (tabela alert_types).
type AlertType struct {
	ID          int    `json:"id"`
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Severity    string `json:"severity"`
	Icon        string `json:"icon,omitempty"`
	Color       string `json:"color,omitempty"`
}

// Catálogo padrão de adversidades. O seed do banco usa exatamente estas
// entradas; os ícones são os nomes que o painel espera.
var DefaultAlertTypes = []AlertType{
	{
		ID:          1,
		Code:        "NO_HELMET",
		Name:        "No Helmet Detected",
		Description: "Person detected without safety helmet",
		Severity:    "high",
		Icon:        "Construction",
		Color:       "#f44336",
	},
	{
		ID:          2,
		Code:        "NO_GLOVES",
		Name:        "No Gloves Detected",
		Description: "Person detected without safety gloves",
		Severity:    "medium",
		Icon:        "FrontHand",
		Color:       "#ff9800",
	},
	{
		ID:          3,
		Code:        "NO_SEAT_BELT",
		Name:        "No Seat Belt",
		Description: "Driver detected without seat belt",
		Severity:    "high",
		Icon:        "AirlineSeatReclineNormal",
		Color:       "#2196f3",
	},
	{
		ID:          4,
		Code:        "SMOKING",
		Name:        "Smoking Detected",
		Description: "Person detected smoking",
		Severity:    "medium",
		Icon:        "SmokingRooms",
		Color:       "#9c27b0",
	},
	{
		ID:          5,
		Code:        "USING_CELL_PHONE",
		Name:        "Cell Phone Usage",
		Description: "Person detected using cell phone",
		Severity:    "medium",
		Icon:        "PhoneAndroid",
		Color:       "#4caf50",
	},
}

var alertTypeByCode = func() map[string]AlertType {
	m := make(map[string]AlertType, len(DefaultAlertTypes))
	for _, at := range DefaultAlertTypes {
		m[strings.ToUpper(at.Code)] = at
	}
	return m
}()

// AlertTypeByCode resolve um código (case-insensitive) contra o catálogo.
func AlertTypeByCode(code string) (AlertType, bool) {
	at, ok := alertTypeByCode[strings.ToUpper(strings.TrimSpace(code))]
	return at, ok
}
