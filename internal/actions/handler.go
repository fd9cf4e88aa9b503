package actions

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Validation errors for action payloads.
var (
	ErrUnknownAction = errors.New("actions: unknown action")
	ErrUnknownField  = errors.New("actions: unknown field")
	ErrMissingField  = errors.New("actions: missing required field")
	ErrWrongType     = errors.New("actions: wrong field type")
)

// MeshActions is the slice of the mesh client the handler dispatches to.
type MeshActions interface {
	CheckForUpdates(ctx context.Context) error
	DeleteDevice(ctx context.Context, deviceID, deviceName string) error
	RebootNode(ctx context.Context, nodeName string, confirmPrimary bool) error
	StartSpeedtest(ctx context.Context) error
}

// Handler validates action payloads against the schema document and
// forwards them to the mesh.
type Handler struct {
	doc  Document
	mesh MeshActions
	log  *logrus.Entry
}

// NewHandler builds a handler for the builtin schemas.
func NewHandler(mesh MeshActions, log *logrus.Logger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{
		doc:  Builtin(),
		mesh: mesh,
		log:  log.WithField("component", "actions"),
	}
}

// Document returns the schema document the handler validates against.
func (h *Handler) Document() Document { return h.doc }

// Validate checks a payload against the named action's schema and returns
// the payload with defaults applied.
func (h *Handler) Validate(name string, payload map[string]any) (map[string]any, error) {
	action, ok := h.doc[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}

	resolved := make(map[string]any, len(action.Fields))
	for key, value := range payload {
		field, ok := action.Fields[key]
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, name, key)
		}
		kind, err := field.Selector.Kind()
		if err != nil {
			return nil, err
		}
		switch kind {
		case SelectorKindDevice, SelectorKindText:
			s, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s.%s must be a string", ErrWrongType, name, key)
			}
			resolved[key] = s
		case SelectorKindBoolean:
			b, ok := value.(bool)
			if !ok {
				return nil, fmt.Errorf("%w: %s.%s must be a boolean", ErrWrongType, name, key)
			}
			resolved[key] = b
		}
	}

	for key, field := range action.Fields {
		if _, present := resolved[key]; present {
			continue
		}
		if field.Required {
			return nil, fmt.Errorf("%w: %s.%s", ErrMissingField, name, key)
		}
		if field.Default != nil {
			resolved[key] = field.Default
		}
	}

	return resolved, nil
}

// Invoke validates the payload and dispatches the action to the mesh.
// Domain failures from the mesh are returned unwrapped so callers can
// surface them through their own failure reporting.
func (h *Handler) Invoke(ctx context.Context, name string, payload map[string]any) error {
	resolved, err := h.Validate(name, payload)
	if err != nil {
		return err
	}

	h.log.WithField("action", name).Info("dispatching action")

	switch name {
	case ActionCheckUpdates:
		return h.mesh.CheckForUpdates(ctx)
	case ActionDeleteDevice:
		id, _ := resolved["device_id"].(string)
		deviceName, _ := resolved["device_name"].(string)
		return h.mesh.DeleteDevice(ctx, id, deviceName)
	case ActionRebootNode:
		nodeName, _ := resolved["node_name"].(string)
		isPrimary, _ := resolved["is_primary"].(bool)
		return h.mesh.RebootNode(ctx, nodeName, isPrimary)
	case ActionStartSpeedtest:
		return h.mesh.StartSpeedtest(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}
}
