// internal/inference/client_test.go
package inference

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func writeFrame(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "frame_0001.jpg")
	if err := os.WriteFile(path, []byte("jpegdata"), 0o644); err != nil {
		t.Fatalf("writeFrame failed: %v", err)
	}
	return path
}

// TestDetectPoseBestHit verifies the pose call uploads the frame and keeps
// only the most confident detection.
func TestDetectPoseBestHit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm failed: %v", err)
		}
		if _, _, err := r.FormFile("image"); err != nil {
			t.Errorf("Expected image part: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"detections":[
			{"confidence":0.55,"bbox":{"x":0.1,"y":0.1,"w":0.2,"h":0.4}},
			{"confidence":0.91,"bbox":{"x":0.4,"y":0.2,"w":0.25,"h":0.5}}
		]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.URL)
	hit, err := c.DetectPose(context.Background(), writeFrame(t), 4.2)
	if err != nil {
		t.Fatalf("DetectPose failed: %v", err)
	}
	if hit == nil {
		t.Fatalf("Expected a pose hit, got nil")
	}
	if hit.Confidence != 0.91 {
		t.Errorf("Expected best confidence 0.91, got %v", hit.Confidence)
	}
	if hit.Timestamp != 4.2 {
		t.Errorf("Expected timestamp 4.2, got %v", hit.Timestamp)
	}
	if hit.BBox.X != 0.4 || hit.BBox.H != 0.5 {
		t.Errorf("Expected bbox of best detection, got %+v", hit.BBox)
	}
}

// TestDetectPoseNoPerson verifies an empty detection list means no hit and
// no error.
func TestDetectPoseNoPerson(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"detections":[]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.URL)
	hit, err := c.DetectPose(context.Background(), writeFrame(t), 0)
	if err != nil {
		t.Fatalf("DetectPose failed: %v", err)
	}
	if hit != nil {
		t.Errorf("Expected nil hit for empty frame, got %+v", hit)
	}
}

// TestDetectObjects verifies class parsing from the heavy model.
func TestDetectObjects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"detections":[
			{"class":"person","confidence":0.93,"bbox":{"x":0.2,"y":0.1,"w":0.3,"h":0.7}},
			{"class":"cell_phone","confidence":0.74,"bbox":{"x":0.35,"y":0.3,"w":0.05,"h":0.08}}
		]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.URL)
	dets, err := c.DetectObjects(context.Background(), writeFrame(t))
	if err != nil {
		t.Fatalf("DetectObjects failed: %v", err)
	}
	if len(dets) != 2 {
		t.Fatalf("Expected 2 detections, got %d", len(dets))
	}
	if dets[0].Class != "person" || dets[1].Class != "cell_phone" {
		t.Errorf("Expected person and cell_phone, got %s and %s", dets[0].Class, dets[1].Class)
	}
}

// TestDetectServerError verifies non-200 responses surface as errors.
func TestDetectServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, srv.URL)
	if _, err := c.DetectObjects(context.Background(), writeFrame(t)); err == nil {
		t.Fatalf("Expected error on 500, got nil")
	}
}

// TestHealthy verifies the health probe used by pool warmup.
func TestHealthy(t *testing.T) {
	var status = http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("Expected /health, got %s", r.URL.Path)
		}
		w.WriteHeader(status)
	}))
	defer srv.Close()

	c := New(srv.URL, srv.URL)
	if err := c.Healthy(context.Background()); err != nil {
		t.Errorf("Healthy failed on 200: %v", err)
	}

	status = http.StatusServiceUnavailable
	if err := c.Healthy(context.Background()); err == nil {
		t.Errorf("Expected error on 503, got nil")
	}
}
