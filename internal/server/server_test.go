package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/matthiufungho/linksys-velop/internal/actions"
	"github.com/matthiufungho/linksys-velop/internal/config"
	"github.com/matthiufungho/linksys-velop/internal/diagnostics"
	"github.com/matthiufungho/linksys-velop/internal/event"
	"github.com/matthiufungho/linksys-velop/internal/mesh"
	"github.com/matthiufungho/linksys-velop/internal/model"
	"github.com/matthiufungho/linksys-velop/internal/store"
)

type fakeMesh struct {
	snapshot *model.Mesh
	gathered int
	stage    string
	latest   *model.SpeedtestResult

	invoked []string
	fail    error
}

func (f *fakeMesh) Current() *model.Mesh { return f.snapshot }

func (f *fakeMesh) GatherDetails(ctx context.Context) (*model.Mesh, error) {
	f.gathered++
	f.snapshot = testSnapshot()
	return f.snapshot, nil
}

func (f *fakeMesh) SpeedtestStage(ctx context.Context) (string, error) {
	return f.stage, nil
}

func (f *fakeMesh) LatestSpeedtestResult(ctx context.Context) (*model.SpeedtestResult, error) {
	return f.latest, nil
}

func (f *fakeMesh) CheckForUpdates(ctx context.Context) error {
	f.invoked = append(f.invoked, "check_updates")
	return f.fail
}

func (f *fakeMesh) DeleteDevice(ctx context.Context, deviceID, deviceName string) error {
	f.invoked = append(f.invoked, "delete_device")
	return f.fail
}

func (f *fakeMesh) RebootNode(ctx context.Context, nodeName string, confirmPrimary bool) error {
	f.invoked = append(f.invoked, "reboot_node")
	return f.fail
}

func (f *fakeMesh) StartSpeedtest(ctx context.Context) error {
	f.invoked = append(f.invoked, "start_speedtest")
	return f.fail
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func testServer(fake *fakeMesh) *Server {
	log := quietLogger()
	cfg := config.Config{
		Mesh:   &config.MeshConfig{Node: "192.168.1.1", Password: "secret"},
		Bridge: &config.BridgeConfig{Listen: "127.0.0.1:0"},
	}
	handler := actions.NewHandler(fake, log)
	return NewServer(cfg, fake, handler, event.NewBus(), nil, log)
}

func testSnapshot() *model.Mesh {
	return &model.Mesh{
		ConnectedNode: "192.168.1.1",
		WANStatus:     true,
		WANIP:         "82.11.4.7",
		Nodes: []model.Node{
			{UniqueID: "n1", Name: "Front Room", Type: model.NodeTypePrimary, Status: true, Serial: "SER1"},
		},
		Devices: []model.Device{
			{UniqueID: "d1", Name: "My Phone", Status: true},
		},
		PolledAt: time.Now().UTC(),
	}
}

func TestHandleMesh_ReturnsSnapshot(t *testing.T) {
	t.Parallel()

	fake := &fakeMesh{snapshot: testSnapshot()}
	ts := httptest.NewServer(testServer(fake).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/mesh")
	if err != nil {
		t.Fatalf("GET /mesh: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}

	var snap model.Mesh
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.ConnectedNode != "192.168.1.1" || len(snap.Nodes) != 1 {
		t.Fatalf("snapshot=%+v", snap)
	}
	if fake.gathered != 0 {
		t.Fatalf("gathered=%d, cached snapshot should be served", fake.gathered)
	}
}

func TestHandleNodes_PollsWhenCacheEmpty(t *testing.T) {
	t.Parallel()

	fake := &fakeMesh{}
	server := testServer(fake)

	rec := httptest.NewRecorder()
	server.handleNodes(rec, httptest.NewRequest(http.MethodGet, "/nodes", nil))
	if fake.gathered != 1 {
		t.Fatalf("gathered=%d", fake.gathered)
	}
}

func TestHandleActions_Document(t *testing.T) {
	t.Parallel()

	fake := &fakeMesh{snapshot: testSnapshot()}
	ts := httptest.NewServer(testServer(fake).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/actions")
	if err != nil {
		t.Fatalf("GET /actions: %v", err)
	}
	defer resp.Body.Close()

	var doc map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, name := range []string{
		actions.ActionCheckUpdates,
		actions.ActionDeleteDevice,
		actions.ActionRebootNode,
		actions.ActionStartSpeedtest,
	} {
		if _, ok := doc[name]; !ok {
			t.Fatalf("missing action %q", name)
		}
	}
}

func TestHandleActions_YAML(t *testing.T) {
	t.Parallel()

	fake := &fakeMesh{snapshot: testSnapshot()}
	ts := httptest.NewServer(testServer(fake).Handler())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/actions", nil)
	req.Header.Set("Accept", "application/yaml")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /actions: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "application/yaml" {
		t.Fatalf("content-type=%q", ct)
	}
}

func TestHandleActionInvoke(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		action string
		body   string
		fail   error
		status int
	}{
		{name: "accepted", action: "start_speedtest", body: `{"mesh":"m1"}`, status: http.StatusAccepted},
		{name: "missing required field", action: "reboot_node", body: `{"mesh":"m1"}`, status: http.StatusBadRequest},
		{name: "unknown action", action: "format_disk", body: `{"mesh":"m1"}`, status: http.StatusNotFound},
		{name: "unknown field", action: "check_updates", body: `{"mesh":"m1","bogus":1}`, status: http.StatusBadRequest},
		{name: "device online", action: "delete_device", body: `{"mesh":"m1","device_name":"My Phone"}`, fail: mesh.ErrDeviceOnline, status: http.StatusConflict},
		{name: "primary unconfirmed", action: "reboot_node", body: `{"mesh":"m1","node_name":"Front Room"}`, fail: mesh.ErrPrimaryNotAllowed, status: http.StatusConflict},
		{name: "node not found", action: "reboot_node", body: `{"mesh":"m1","node_name":"Attic"}`, fail: mesh.ErrNodeNotFound, status: http.StatusNotFound},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			fake := &fakeMesh{snapshot: testSnapshot(), fail: tc.fail}
			ts := httptest.NewServer(testServer(fake).Handler())
			defer ts.Close()

			resp, err := http.Post(ts.URL+"/actions/"+tc.action, "application/json", bytes.NewReader([]byte(tc.body)))
			if err != nil {
				t.Fatalf("POST: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tc.status {
				t.Fatalf("status=%d want=%d", resp.StatusCode, tc.status)
			}
		})
	}
}

func TestHandleActionInvoke_GetRejected(t *testing.T) {
	t.Parallel()

	fake := &fakeMesh{snapshot: testSnapshot()}
	ts := httptest.NewServer(testServer(fake).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/actions/start_speedtest")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d", resp.StatusCode)
	}
}

func TestHandleSpeedtest(t *testing.T) {
	t.Parallel()

	fake := &fakeMesh{
		snapshot: testSnapshot(),
		stage:    "SpeedTest",
		latest: &model.SpeedtestResult{
			Timestamp:    time.Now().UTC(),
			ExitCode:     "Success",
			DownloadMbps: 200,
		},
	}
	ts := httptest.NewServer(testServer(fake).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/speedtest")
	if err != nil {
		t.Fatalf("GET /speedtest: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["running"] != true || body["stage"] != "SpeedTest" {
		t.Fatalf("body=%v", body)
	}
}

func TestHandleDiagnostics_Redacts(t *testing.T) {
	t.Parallel()

	fake := &fakeMesh{snapshot: testSnapshot()}
	ts := httptest.NewServer(testServer(fake).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/diagnostics")
	if err != nil {
		t.Fatalf("GET /diagnostics: %v", err)
	}
	defer resp.Body.Close()

	var payload diagnostics.Payload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Data.Mesh["wan_ip"] != diagnostics.Redacted {
		t.Fatalf("wan_ip=%v", payload.Data.Mesh["wan_ip"])
	}
	if payload.Data.Nodes[0]["serial"] != diagnostics.Redacted {
		t.Fatalf("serial=%v", payload.Data.Nodes[0]["serial"])
	}
	meshCfg := payload.Config["mesh"].(map[string]any)
	if meshCfg["password"] != diagnostics.Redacted {
		t.Fatalf("password=%v", meshCfg["password"])
	}
	if strings.Contains(meshCfg["password"].(string), "secret") {
		t.Fatalf("password leaked")
	}
}

type fakeTracker struct {
	devices []store.TrackedDevice
}

func (f *fakeTracker) Tracked() []store.TrackedDevice {
	devices := make([]store.TrackedDevice, len(f.devices))
	copy(devices, f.devices)
	return devices
}

func TestHandleTracker(t *testing.T) {
	t.Parallel()

	fake := &fakeMesh{snapshot: testSnapshot()}
	srv := testServer(fake)
	srv.tracker = &fakeTracker{devices: []store.TrackedDevice{
		{ID: "d-phone", Name: "My Phone", Home: true},
	}}

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/tracker")
	if err != nil {
		t.Fatalf("GET /tracker: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Devices []store.TrackedDevice `json:"devices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Devices) != 1 || body.Devices[0].ID != "d-phone" || !body.Devices[0].Home {
		t.Fatalf("devices=%+v", body.Devices)
	}
}

func TestHandleTracker_NoTracker(t *testing.T) {
	t.Parallel()

	fake := &fakeMesh{snapshot: testSnapshot()}
	ts := httptest.NewServer(testServer(fake).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/tracker")
	if err != nil {
		t.Fatalf("GET /tracker: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Devices []store.TrackedDevice `json:"devices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Devices == nil || len(body.Devices) != 0 {
		t.Fatalf("devices=%+v", body.Devices)
	}
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()

	fake := &fakeMesh{snapshot: testSnapshot()}
	ts := httptest.NewServer(testServer(fake).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
}
