package actions

import (
	"reflect"
	"testing"
)

func TestBuiltin_MeshFieldOnEveryAction(t *testing.T) {
	t.Parallel()

	doc := Builtin()
	if len(doc) != 4 {
		t.Fatalf("actions=%d", len(doc))
	}

	for name, action := range doc {
		mesh, ok := action.Fields["mesh"]
		if !ok {
			t.Fatalf("%s: mesh field missing", name)
		}
		if !mesh.Required {
			t.Fatalf("%s: mesh field not required", name)
		}
		if mesh.Selector.Device == nil {
			t.Fatalf("%s: mesh field is not a device selector", name)
		}
		if mesh.Selector.Device.Integration != Integration {
			t.Fatalf("%s: integration=%q", name, mesh.Selector.Device.Integration)
		}
		if mesh.Selector.Device.Manufacturer != Manufacturer {
			t.Fatalf("%s: manufacturer=%q", name, mesh.Selector.Device.Manufacturer)
		}
	}
}

func TestBuiltin_DeleteDeviceIdentifyingFields(t *testing.T) {
	t.Parallel()

	action := Builtin()[ActionDeleteDevice]

	identifying := 0
	for name, field := range action.Fields {
		if name == "mesh" {
			continue
		}
		identifying++
		if field.Required {
			t.Fatalf("identifying field %s must be optional", name)
		}
		if field.Selector.Text == nil {
			t.Fatalf("identifying field %s must be free text", name)
		}
	}
	if identifying != 2 {
		t.Fatalf("identifying fields=%d", identifying)
	}
	if _, ok := action.Fields["device_id"]; !ok {
		t.Fatalf("device_id missing")
	}
	if _, ok := action.Fields["device_name"]; !ok {
		t.Fatalf("device_name missing")
	}
}

func TestBuiltin_RebootNodeFields(t *testing.T) {
	t.Parallel()

	action := Builtin()[ActionRebootNode]

	nodeName := action.Fields["node_name"]
	if !nodeName.Required || nodeName.Selector.Text == nil {
		t.Fatalf("node_name=%+v", nodeName)
	}

	isPrimary := action.Fields["is_primary"]
	if isPrimary.Required {
		t.Fatalf("is_primary must be optional")
	}
	if isPrimary.Selector.Boolean == nil {
		t.Fatalf("is_primary must be boolean")
	}
	if def, ok := isPrimary.Default.(bool); !ok || def {
		t.Fatalf("is_primary default=%v", isPrimary.Default)
	}
}

func TestBuiltin_SelectorKindsClosedSet(t *testing.T) {
	t.Parallel()

	allowed := map[string]bool{
		SelectorKindDevice:  true,
		SelectorKindText:    true,
		SelectorKindBoolean: true,
	}

	for name, action := range Builtin() {
		for fieldName, field := range action.Fields {
			kind, err := field.Selector.Kind()
			if err != nil {
				t.Fatalf("%s.%s: %v", name, fieldName, err)
			}
			if !allowed[kind] {
				t.Fatalf("%s.%s: kind=%q outside closed set", name, fieldName, kind)
			}
		}
	}
}

func TestSelectorKind_RejectsAmbiguous(t *testing.T) {
	t.Parallel()

	s := Selector{Text: &TextSelector{}, Boolean: &BooleanSelector{}}
	if _, err := s.Kind(); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := (Selector{}).Kind(); err == nil {
		t.Fatalf("expected error for empty selector")
	}
}

func TestMarshalParse_RoundTrip(t *testing.T) {
	t.Parallel()

	doc := Builtin()
	data, err := Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	parsed, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !reflect.DeepEqual(doc, parsed) {
		t.Fatalf("round trip mismatch:\n%s", data)
	}
}

func TestValidateDocument_RejectsMissingMesh(t *testing.T) {
	t.Parallel()

	doc := Document{
		"custom": Action{
			Name:   "Custom",
			Fields: map[string]Field{"value": {Selector: Selector{Text: &TextSelector{}}}},
		},
	}
	if err := ValidateDocument(doc); err == nil {
		t.Fatalf("expected error")
	}
}
