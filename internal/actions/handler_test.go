package actions

import (
	"context"
	"errors"
	"testing"
)

// recordingMesh captures the dispatched calls.
type recordingMesh struct {
	checked     bool
	speedtest   bool
	deletedID   string
	deletedName string
	rebooted    string
	confirmed   bool
	err         error
}

func (m *recordingMesh) CheckForUpdates(context.Context) error {
	m.checked = true
	return m.err
}

func (m *recordingMesh) DeleteDevice(_ context.Context, id, name string) error {
	m.deletedID, m.deletedName = id, name
	return m.err
}

func (m *recordingMesh) RebootNode(_ context.Context, name string, confirm bool) error {
	m.rebooted, m.confirmed = name, confirm
	return m.err
}

func (m *recordingMesh) StartSpeedtest(context.Context) error {
	m.speedtest = true
	return m.err
}

func TestValidate_RequiredMeshField(t *testing.T) {
	t.Parallel()

	h := NewHandler(&recordingMesh{}, nil)

	_, err := h.Validate(ActionCheckUpdates, map[string]any{})
	if !errors.Is(err, ErrMissingField) {
		t.Fatalf("err=%v", err)
	}

	if _, err := h.Validate(ActionCheckUpdates, map[string]any{"mesh": "mesh-1"}); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidate_RejectsUnknownFieldAndType(t *testing.T) {
	t.Parallel()

	h := NewHandler(&recordingMesh{}, nil)

	_, err := h.Validate(ActionRebootNode, map[string]any{"mesh": "mesh-1", "node_name": "Bedroom", "bogus": 1})
	if !errors.Is(err, ErrUnknownField) {
		t.Fatalf("err=%v", err)
	}

	_, err = h.Validate(ActionRebootNode, map[string]any{"mesh": "mesh-1", "node_name": "Bedroom", "is_primary": "yes"})
	if !errors.Is(err, ErrWrongType) {
		t.Fatalf("err=%v", err)
	}

	_, err = h.Validate("no_such_action", map[string]any{})
	if !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("err=%v", err)
	}
}

func TestValidate_AppliesBooleanDefault(t *testing.T) {
	t.Parallel()

	h := NewHandler(&recordingMesh{}, nil)

	resolved, err := h.Validate(ActionRebootNode, map[string]any{"mesh": "mesh-1", "node_name": "Bedroom"})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if v, ok := resolved["is_primary"].(bool); !ok || v {
		t.Fatalf("is_primary=%v", resolved["is_primary"])
	}
}

func TestInvoke_DispatchesToMesh(t *testing.T) {
	t.Parallel()

	mesh := &recordingMesh{}
	h := NewHandler(mesh, nil)
	ctx := context.Background()

	if err := h.Invoke(ctx, ActionCheckUpdates, map[string]any{"mesh": "mesh-1"}); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !mesh.checked {
		t.Fatalf("check_updates not dispatched")
	}

	payload := map[string]any{"mesh": "mesh-1", "device_name": "old-printer"}
	if err := h.Invoke(ctx, ActionDeleteDevice, payload); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if mesh.deletedName != "old-printer" || mesh.deletedID != "" {
		t.Fatalf("delete id=%q name=%q", mesh.deletedID, mesh.deletedName)
	}

	payload = map[string]any{"mesh": "mesh-1", "node_name": "Front Room", "is_primary": true}
	if err := h.Invoke(ctx, ActionRebootNode, payload); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if mesh.rebooted != "Front Room" || !mesh.confirmed {
		t.Fatalf("reboot name=%q confirmed=%v", mesh.rebooted, mesh.confirmed)
	}

	if err := h.Invoke(ctx, ActionStartSpeedtest, map[string]any{"mesh": "mesh-1"}); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !mesh.speedtest {
		t.Fatalf("start_speedtest not dispatched")
	}
}

func TestInvoke_DomainErrorsPassThrough(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("device must be offline")
	mesh := &recordingMesh{err: sentinel}
	h := NewHandler(mesh, nil)

	err := h.Invoke(context.Background(), ActionDeleteDevice, map[string]any{"mesh": "mesh-1", "device_id": "uuid-1"})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err=%v", err)
	}
}
