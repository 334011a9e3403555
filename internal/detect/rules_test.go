// internal/detect/rules_test.go
package detect

import (
	"reflect"
	"testing"

	"github.com/sua-org/digefx-monitor/internal/inference"
)

func dets(classes ...string) []inference.Detection {
	out := make([]inference.Detection, 0, len(classes))
	for _, c := range classes {
		out = append(out, inference.Detection{Class: c, Confidence: 0.9})
	}
	return out
}

// TestEvaluateFrame verifies the per-frame rules: direct classes map 1:1
// and derived codes require a person without the companion equipment.
func TestEvaluateFrame(t *testing.T) {
	cases := []struct {
		name    string
		classes []string
		want    []string
	}{
		{
			name:    "pessoa sem nenhum EPI",
			classes: []string{ClassPerson},
			want:    []string{"NO_HELMET", "NO_GLOVES", "NO_SEAT_BELT"},
		},
		{
			name:    "pessoa com tudo",
			classes: []string{ClassPerson, ClassHelmet, ClassGloves, ClassSeatBelt},
			want:    nil,
		},
		{
			name:    "fumando sem pessoa detectada",
			classes: []string{ClassSmoking},
			want:    []string{"SMOKING"},
		},
		{
			name:    "celular com EPI completo",
			classes: []string{ClassPerson, ClassCellPhone, ClassHelmet, ClassGloves, ClassSeatBelt},
			want:    []string{"USING_CELL_PHONE"},
		},
		{
			name:    "direta e derivadas juntas",
			classes: []string{ClassPerson, ClassSmoking, ClassHelmet},
			want:    []string{"SMOKING", "NO_GLOVES", "NO_SEAT_BELT"},
		},
		{
			name:    "frame vazio",
			classes: nil,
			want:    nil,
		},
		{
			name:    "capacete sozinho não deriva nada",
			classes: []string{ClassHelmet},
			want:    nil,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := EvaluateFrame(dets(tc.classes...))
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("EvaluateFrame(%v) = %v, want %v", tc.classes, got, tc.want)
			}
		})
	}
}

// TestEvaluateFrameDuplicateDetections verifies repeated boxes of the
// same class count once per frame.
func TestEvaluateFrameDuplicateDetections(t *testing.T) {
	got := EvaluateFrame(dets(ClassSmoking, ClassSmoking, ClassSmoking))
	if !reflect.DeepEqual(got, []string{"SMOKING"}) {
		t.Errorf("Expected a single SMOKING code, got %v", got)
	}
}
