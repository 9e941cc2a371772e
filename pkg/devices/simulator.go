package devices

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dotsetgreg/homeagent/pkg/logger"
)

// Simulator is an in-memory device registry that applies commands with the
// clamping rules of real hardware.
type Simulator struct {
	mu      sync.RWMutex
	devices map[string]*Device
	order   []string

	// Latency delays every dispatch; used to exercise timeouts.
	Latency time.Duration
}

func NewSimulator(seed []Device) *Simulator {
	s := &Simulator{devices: make(map[string]*Device, len(seed))}
	for _, d := range seed {
		s.Register(d)
	}
	return s
}

// Register adds or replaces a device.
func (s *Simulator) Register(d Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.State == nil {
		d.State = initialState(d.Class)
	}
	copied := d.clone()
	if _, exists := s.devices[d.ID]; !exists {
		s.order = append(s.order, d.ID)
	}
	s.devices[d.ID] = &copied
}

func (s *Simulator) Class(deviceID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[deviceID]
	if !ok {
		return "", false
	}
	return d.Class, true
}

// Status returns copies of the named devices, or all devices when no id is
// given, in registration order.
func (s *Simulator) Status(ctx context.Context, ids ...string) ([]Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(ids) == 0 {
		ids = s.order
	}
	out := make([]Device, 0, len(ids))
	for _, id := range ids {
		d, ok := s.devices[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
		}
		out = append(out, d.clone())
	}
	return out, nil
}

func (s *Simulator) Dispatch(ctx context.Context, cmd Command) (Result, error) {
	if s.Latency > 0 {
		timer := time.NewTimer(s.Latency)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return Result{DeviceID: cmd.DeviceID, Command: cmd.Command, Message: "device did not respond"}, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return Result{DeviceID: cmd.DeviceID, Command: cmd.Command}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[cmd.DeviceID]
	if !ok {
		return Result{DeviceID: cmd.DeviceID, Command: cmd.Command, Message: "device not found"},
			fmt.Errorf("%w: %s", ErrUnknownDevice, cmd.DeviceID)
	}
	command := strings.ToLower(strings.TrimSpace(cmd.Command))
	if !slices.Contains(classCommands[d.Class], command) {
		return Result{DeviceID: d.ID, Command: command, Message: fmt.Sprintf("%s cannot %s", d.Name, strings.ReplaceAll(command, "_", " "))},
			fmt.Errorf("%w: %s on %s", ErrUnsupportedCommand, command, d.Class)
	}

	next := maps.Clone(d.State)
	if next == nil {
		next = map[string]any{}
	}
	apply(d.Class, command, cmd.Parameters, next)
	d.State = next

	result := Result{
		Success:  true,
		DeviceID: d.ID,
		Command:  command,
		NewState: maps.Clone(next),
		Message:  describe(d.Name, command, next),
	}
	logger.InfoCF("devices", "Device command applied",
		map[string]interface{}{
			"device_id": d.ID,
			"command":   command,
			"state":     next,
		})
	return result, nil
}

func apply(class, command string, params map[string]any, state map[string]any) {
	switch command {
	case "turn_on":
		state["power"] = "on"
		switch class {
		case ClassLights:
			if b, _ := intValue(state["brightness"]); b == 0 {
				state["brightness"] = 100
			}
		case ClassCurtains:
			state["position"] = 100
		}
	case "turn_off":
		state["power"] = "off"
		if class == ClassCurtains {
			state["position"] = 0
		}
		if class == ClassSpeaker || class == ClassTV {
			state["playing"] = false
		}
	case "set_brightness":
		state["brightness"] = clamp(param(params, 50, "brightness", "value"), 0, 100)
		state["power"] = "on"
	case "set_hue":
		state["hue"] = clamp(param(params, 0, "hue", "value"), 0, 360)
		state["power"] = "on"
	case "set_saturation":
		state["saturation"] = clamp(param(params, 50, "saturation", "value"), 0, 100)
		state["power"] = "on"
	case "set_color":
		if name, ok := params["color"].(string); ok {
			if hue, sat, known := colorHue(name); known {
				state["hue"], state["saturation"] = hue, sat
				state["color"] = strings.ToLower(name)
			}
		}
		if _, ok := params["hue"]; ok {
			state["hue"] = clamp(param(params, 0, "hue"), 0, 360)
		}
		if _, ok := params["saturation"]; ok {
			state["saturation"] = clamp(param(params, 50, "saturation"), 0, 100)
		}
		state["power"] = "on"
	case "set_temperature":
		state["temperature"] = clamp(param(params, 24, "temperature", "value"), 16, 30)
		state["power"] = "on"
	case "set_mode":
		if mode, ok := params["mode"].(string); ok && mode != "" {
			state["mode"] = strings.ToLower(mode)
		}
		state["power"] = "on"
	case "set_volume":
		current, _ := intValue(state["volume"])
		volume := param(params, 50, "volume", "value", "level")
		if delta, ok := intValue(params["delta"]); ok {
			if _, absolute := params["volume"]; !absolute {
				volume = current + delta
			}
		}
		state["volume"] = clamp(volume, 0, 100)
		state["power"] = "on"
	case "play":
		state["playing"] = true
		state["power"] = "on"
	case "pause":
		state["playing"] = false
	case "set_channel":
		state["channel"] = max(1, param(params, 1, "channel", "value"))
		state["power"] = "on"
	case "set_position":
		pos := clamp(param(params, 0, "position", "targetPosition", "value"), 0, 100)
		state["position"] = pos
		if pos > 0 {
			state["power"] = "on"
		} else {
			state["power"] = "off"
		}
	case "open_curtain":
		state["position"] = 100
		state["power"] = "on"
	case "close_curtain":
		state["position"] = 0
		state["power"] = "off"
	}
}

func describe(name, command string, state map[string]any) string {
	switch command {
	case "turn_on":
		return name + " turned on"
	case "turn_off":
		return name + " turned off"
	case "set_brightness":
		return fmt.Sprintf("%s brightness set to %v%%", name, state["brightness"])
	case "set_hue", "set_saturation", "set_color":
		if color, ok := state["color"].(string); ok {
			return fmt.Sprintf("%s set to %s", name, color)
		}
		return fmt.Sprintf("%s colour updated", name)
	case "set_temperature":
		return fmt.Sprintf("%s set to %v°C", name, state["temperature"])
	case "set_mode":
		return fmt.Sprintf("%s switched to %v mode", name, state["mode"])
	case "set_volume":
		return fmt.Sprintf("%s volume set to %v", name, state["volume"])
	case "play":
		return name + " playing"
	case "pause":
		return name + " paused"
	case "set_channel":
		return fmt.Sprintf("%s on channel %v", name, state["channel"])
	case "set_position":
		return fmt.Sprintf("%s %v%% open", name, state["position"])
	case "open_curtain":
		return name + " fully open"
	case "close_curtain":
		return name + " fully closed"
	}
	return name + " updated"
}

var colorHues = map[string][2]int{
	"red":    {0, 100},
	"orange": {30, 100},
	"warm":   {30, 40},
	"yellow": {60, 100},
	"green":  {120, 100},
	"cyan":   {180, 100},
	"blue":   {240, 100},
	"purple": {270, 100},
	"pink":   {330, 60},
	"white":  {0, 0},
}

func colorHue(name string) (int, int, bool) {
	hs, ok := colorHues[strings.ToLower(strings.TrimSpace(name))]
	return hs[0], hs[1], ok
}

func param(params map[string]any, fallback int, keys ...string) int {
	for _, key := range keys {
		if v, ok := intValue(params[key]); ok {
			return v
		}
	}
	return fallback
}

func clamp(v, lo, hi int) int {
	return max(lo, min(hi, v))
}

func intValue(raw any) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case int64:
		return roundInt(float64(v))
	case float64:
		return roundInt(v)
	case float32:
		return roundInt(float64(v))
	case string:
		f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(v), "%"), 64)
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			return 0, false
		}
		return roundInt(f)
	}
	return 0, false
}

// roundInt bounds f before converting; every device range sits well inside it.
func roundInt(f float64) (int, bool) {
	if math.IsNaN(f) {
		return 0, false
	}
	return int(math.Round(math.Max(-1e6, math.Min(1e6, f)))), true
}
