// internal/detect/rules.go
package detect

import (
	"github.com/sua-org/digefx-monitor/internal/inference"
)

// Classes que o modelo pesado emite.
const (
	ClassPerson    = "person"
	ClassHelmet    = "helmet"
	ClassGloves    = "gloves"
	ClassSeatBelt  = "seat_belt"
	ClassSmoking   = "smoking"
	ClassCellPhone = "cell_phone"
)

// Adversidades diretas: a classe presente no frame já é a violação.
var directAlerts = []struct {
	class string
	code  string
}{
	{ClassSmoking, "SMOKING"},
	{ClassCellPhone, "USING_CELL_PHONE"},
}

// Adversidades derivadas: pessoa presente E o equipamento ausente.
var derivedAlerts = []struct {
	companion string
	code      string
}{
	{ClassHelmet, "NO_HELMET"},
	{ClassGloves, "NO_GLOVES"},
	{ClassSeatBelt, "NO_SEAT_BELT"},
}

// EvaluateFrame aplica as regras de domínio num frame e devolve os códigos
// de alerta que ele exibe. A ordem de saída é estável (diretas primeiro).
func EvaluateFrame(dets []inference.Detection) []string {
	present := make(map[string]bool, len(dets))
	for _, d := range dets {
		present[d.Class] = true
	}

	var codes []string
	for _, rule := range directAlerts {
		if present[rule.class] {
			codes = append(codes, rule.code)
		}
	}
	if present[ClassPerson] {
		for _, rule := range derivedAlerts {
			if !present[rule.companion] {
				codes = append(codes, rule.code)
			}
		}
	}
	return codes
}
