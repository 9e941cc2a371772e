package devices

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"

	"github.com/dotsetgreg/homeagent/pkg/config"
)

var (
	ErrUnknownDevice      = errors.New("unknown device")
	ErrUnsupportedCommand = errors.New("unsupported command")
)

// Device classes understood by the simulator.
const (
	ClassLights         = "lights"
	ClassAirConditioner = "air_conditioner"
	ClassTV             = "tv"
	ClassSpeaker        = "speaker"
	ClassCurtains       = "curtains"
)

type Device struct {
	ID    string         `json:"id"`
	Class string         `json:"class"`
	Name  string         `json:"name"`
	Room  string         `json:"room,omitempty"`
	State map[string]any `json:"state"`
}

// On reports whether the device is currently powered or open.
func (d Device) On() bool {
	power, _ := d.State["power"].(string)
	return power == "on"
}

func (d Device) clone() Device {
	d.State = maps.Clone(d.State)
	return d
}

type Command struct {
	DeviceID   string         `json:"device_id"`
	Command    string         `json:"command"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

type Result struct {
	Success  bool           `json:"success"`
	DeviceID string         `json:"device_id"`
	Command  string         `json:"command"`
	NewState map[string]any `json:"new_state,omitempty"`
	Message  string         `json:"message"`
}

// Dispatcher executes device commands. Failures are returned as errors and
// the caller decides how to surface them.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd Command) (Result, error)
	Status(ctx context.Context, ids ...string) ([]Device, error)
	Class(deviceID string) (string, bool)
}

var classCommands = map[string][]string{
	ClassLights:         {"turn_on", "turn_off", "set_brightness", "set_color", "set_hue", "set_saturation"},
	ClassAirConditioner: {"turn_on", "turn_off", "set_temperature", "set_mode"},
	ClassTV:             {"turn_on", "turn_off", "set_volume", "set_channel", "play", "pause"},
	ClassSpeaker:        {"turn_on", "turn_off", "set_volume", "play", "pause"},
	ClassCurtains:       {"turn_on", "turn_off", "open_curtain", "close_curtain", "set_position"},
}

// SupportedCommands lists the commands a device class accepts.
func SupportedCommands(class string) []string {
	return append([]string(nil), classCommands[class]...)
}

func initialState(class string) map[string]any {
	state := map[string]any{"power": "off"}
	switch class {
	case ClassLights:
		state["brightness"] = 0
	case ClassAirConditioner:
		state["temperature"] = 24
		state["mode"] = "cool"
	case ClassTV:
		state["volume"] = 20
		state["channel"] = 1
		state["playing"] = false
	case ClassSpeaker:
		state["volume"] = 30
		state["playing"] = false
	case ClassCurtains:
		state["position"] = 0
	}
	return state
}

// FromSpecs turns configured device specs into devices in their initial state.
func FromSpecs(specs []config.DeviceSpec) []Device {
	out := make([]Device, 0, len(specs))
	for _, spec := range specs {
		id := strings.TrimSpace(spec.ID)
		if id == "" {
			continue
		}
		class := strings.TrimSpace(spec.Class)
		if class == "" {
			class = id
		}
		name := spec.Name
		if name == "" {
			name = id
		}
		out = append(out, Device{ID: id, Class: class, Name: name, Room: spec.Room, State: initialState(class)})
	}
	return out
}

func DefaultDevices() []Device {
	return FromSpecs(config.DefaultConfig().Devices.Seed)
}

// Summary lists which devices are on and which are off.
func Summary(devs []Device) string {
	if len(devs) == 0 {
		return "No devices are registered."
	}
	var on, off []string
	for _, d := range devs {
		if d.On() {
			on = append(on, describeState(d))
		} else {
			off = append(off, d.Name)
		}
	}
	sort.Strings(on)
	sort.Strings(off)

	parts := make([]string, 0, 2)
	if len(on) > 0 {
		parts = append(parts, "On: "+strings.Join(on, ", ")+".")
	}
	if len(off) > 0 {
		parts = append(parts, "Off: "+strings.Join(off, ", ")+".")
	}
	return strings.Join(parts, " ")
}

func describeState(d Device) string {
	switch d.Class {
	case ClassLights:
		if b, ok := intValue(d.State["brightness"]); ok {
			return fmt.Sprintf("%s (%d%%)", d.Name, b)
		}
	case ClassAirConditioner:
		if temp, ok := intValue(d.State["temperature"]); ok {
			return fmt.Sprintf("%s (%d°C)", d.Name, temp)
		}
	case ClassSpeaker, ClassTV:
		if vol, ok := intValue(d.State["volume"]); ok {
			return fmt.Sprintf("%s (volume %d)", d.Name, vol)
		}
	case ClassCurtains:
		if pos, ok := intValue(d.State["position"]); ok {
			return fmt.Sprintf("%s (%d%% open)", d.Name, pos)
		}
	}
	return d.Name
}
