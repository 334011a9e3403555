// internal/sinks/vms_test.go
package sinks

import (
	"context"
	"errors"
	"testing"

	"github.com/sua-org/digefx-monitor/internal/vms"
)

type createCall struct {
	camera  string
	label   string
	payload vms.EventPayload
}

type fakeEventCreator struct {
	calls []createCall
	resp  *vms.CreateEventResponse
	err   error
}

func (f *fakeEventCreator) CreateEvent(_ context.Context, cameraName, label string, payload vms.EventPayload) (*vms.CreateEventResponse, error) {
	f.calls = append(f.calls, createCall{camera: cameraName, label: label, payload: payload})
	return f.resp, f.err
}

// TestVMSSinkCreatesEvent verifies the alert lands as a VMS event on the
// camera timeline with the alert code as label.
func TestVMSSinkCreatesEvent(t *testing.T) {
	cli := &fakeEventCreator{resp: &vms.CreateEventResponse{Success: true, EventID: "1700000000.123-abc"}}
	sink := &VMSSink{cli: cli}

	if err := sink.Handle(context.Background(), newTestAlert()); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if len(cli.calls) != 1 {
		t.Fatalf("Expected 1 CreateEvent call, got %d", len(cli.calls))
	}

	call := cli.calls[0]
	if call.camera != "cam-frente" {
		t.Errorf("Expected camera cam-frente, got %s", call.camera)
	}
	if call.label != "NO_HELMET" {
		t.Errorf("Expected label NO_HELMET, got %s", call.label)
	}
	if call.payload.SubLabel != "No Helmet Detected" {
		t.Errorf("Expected sub_label with the alert name, got %s", call.payload.SubLabel)
	}
	if call.payload.Score != 0.87 {
		t.Errorf("Expected score 0.87, got %v", call.payload.Score)
	}
	if !call.payload.IncludeRecording {
		t.Error("Expected include_recording=true")
	}
	if call.payload.Source != "digefx-monitor" {
		t.Errorf("Expected source digefx-monitor, got %s", call.payload.Source)
	}
}

// TestVMSSinkFallbackCameraName verifies the camera_<id> fallback when the
// event carries no camera name.
func TestVMSSinkFallbackCameraName(t *testing.T) {
	cli := &fakeEventCreator{resp: &vms.CreateEventResponse{Success: true}}
	sink := &VMSSink{cli: cli}

	evt := newTestAlert()
	evt.CameraName = ""
	if err := sink.Handle(context.Background(), evt); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if cli.calls[0].camera != "camera_3" {
		t.Errorf("Expected fallback camera_3, got %s", cli.calls[0].camera)
	}
}

// TestVMSSinkRejected verifies that a VMS refusal comes back as an error.
func TestVMSSinkRejected(t *testing.T) {
	cli := &fakeEventCreator{resp: &vms.CreateEventResponse{Success: false, Message: "camera desconhecida"}}
	sink := &VMSSink{cli: cli}

	if err := sink.Handle(context.Background(), newTestAlert()); err == nil {
		t.Fatal("Expected error when the VMS rejects the event")
	}

	cli = &fakeEventCreator{err: errors.New("timeout")}
	sink = &VMSSink{cli: cli}
	if err := sink.Handle(context.Background(), newTestAlert()); err == nil {
		t.Fatal("Expected error when the request fails")
	}
}
