package actions

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Selector kinds form a closed set: a field is targeted with a device
// picker, free text, or a boolean toggle.
const (
	SelectorKindDevice  = "device"
	SelectorKindText    = "text"
	SelectorKindBoolean = "boolean"
)

// Integration identity used to scope device selectors.
const (
	Integration  = "linksys_velop"
	Manufacturer = "Linksys"
)

// Action names exposed to the automation platform.
const (
	ActionCheckUpdates   = "check_updates"
	ActionDeleteDevice   = "delete_device"
	ActionRebootNode     = "reboot_node"
	ActionStartSpeedtest = "start_speedtest"
)

// DeviceSelector restricts a device field to entries owned by the given
// integration and manufacturer.
type DeviceSelector struct {
	Integration  string `yaml:"integration"`
	Manufacturer string `yaml:"manufacturer"`
}

// TextSelector marks a free-text field.
type TextSelector struct{}

// BooleanSelector marks an on/off field.
type BooleanSelector struct{}

// Selector declares how a field is presented and constrained. Exactly one
// member is set.
type Selector struct {
	Device  *DeviceSelector  `yaml:"device,omitempty"`
	Text    *TextSelector    `yaml:"text,omitempty"`
	Boolean *BooleanSelector `yaml:"boolean,omitempty"`
}

// Kind returns the selector's kind, or an error when the selector declares
// none or more than one.
func (s Selector) Kind() (string, error) {
	kinds := make([]string, 0, 1)
	if s.Device != nil {
		kinds = append(kinds, SelectorKindDevice)
	}
	if s.Text != nil {
		kinds = append(kinds, SelectorKindText)
	}
	if s.Boolean != nil {
		kinds = append(kinds, SelectorKindBoolean)
	}
	if len(kinds) != 1 {
		return "", fmt.Errorf("actions: selector must declare exactly one kind, got %d", len(kinds))
	}
	return kinds[0], nil
}

// Field is one input of an action.
type Field struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Required    bool   `yaml:"required,omitempty"`
	// Default is kept even when false so boolean defaults survive the
	// round trip through the declarative form.
	Default  any      `yaml:"default"`
	Selector Selector `yaml:"selector"`
}

// Action is an externally invokable operation: a human-readable identity
// plus its field schema.
type Action struct {
	Name        string           `yaml:"name"`
	Description string           `yaml:"description"`
	Fields      map[string]Field `yaml:"fields"`
}

// Document maps action names to their schemas; this is the full contract
// exposed to the platform's action-invocation mechanism.
type Document map[string]Action

// meshField is the selector every action shares: which mesh the request
// applies to.
func meshField() Field {
	return Field{
		Name:        "Mesh",
		Description: "The mesh the action applies to.",
		Required:    true,
		Selector: Selector{
			Device: &DeviceSelector{Integration: Integration, Manufacturer: Manufacturer},
		},
	}
}

// Builtin returns the action schemas this bridge exposes.
func Builtin() Document {
	return Document{
		ActionCheckUpdates: {
			Name:        "Check for updates",
			Description: "Check the mesh for firmware updates on all nodes.",
			Fields: map[string]Field{
				"mesh": meshField(),
			},
		},
		ActionDeleteDevice: {
			Name:        "Delete device",
			Description: "Delete a device from the mesh device list. The device must be offline.",
			Fields: map[string]Field{
				"mesh": meshField(),
				"device_id": {
					Name:        "Device ID",
					Description: "The unique ID of the device to delete.",
					Selector:    Selector{Text: &TextSelector{}},
				},
				"device_name": {
					Name:        "Device name",
					Description: "The name of the device to delete, used when no ID is given.",
					Selector:    Selector{Text: &TextSelector{}},
				},
			},
		},
		ActionRebootNode: {
			Name:        "Reboot node",
			Description: "Reboot the given node.",
			Fields: map[string]Field{
				"mesh": meshField(),
				"node_name": {
					Name:        "Node name",
					Description: "The name of the node to reboot.",
					Required:    true,
					Selector:    Selector{Text: &TextSelector{}},
				},
				"is_primary": {
					Name:        "Is primary",
					Description: "Confirm rebooting the primary node. All secondary nodes reboot as well.",
					Default:     false,
					Selector:    Selector{Boolean: &BooleanSelector{}},
				},
			},
		},
		ActionStartSpeedtest: {
			Name:        "Start speedtest",
			Description: "Run a speed test against the mesh WAN link.",
			Fields: map[string]Field{
				"mesh": meshField(),
			},
		},
	}
}

// Marshal renders the document in its declarative YAML form.
func Marshal(doc Document) ([]byte, error) {
	return yaml.Marshal(doc)
}

// Parse reads a declarative YAML document back.
func Parse(data []byte) (Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if err := ValidateDocument(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// ValidateDocument checks structural rules: every field declares exactly
// one selector of a known kind, and every action carries the required mesh
// device selector.
func ValidateDocument(doc Document) error {
	for actionName, action := range doc {
		mesh, ok := action.Fields["mesh"]
		if !ok {
			return fmt.Errorf("actions: %s is missing the mesh field", actionName)
		}
		if !mesh.Required || mesh.Selector.Device == nil {
			return fmt.Errorf("actions: %s mesh field must be a required device selector", actionName)
		}
		for fieldName, field := range action.Fields {
			if _, err := field.Selector.Kind(); err != nil {
				return fmt.Errorf("actions: %s.%s: %w", actionName, fieldName, err)
			}
		}
	}
	return nil
}
