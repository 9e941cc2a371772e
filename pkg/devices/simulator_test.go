package devices

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dispatch(t *testing.T, s *Simulator, id, command string, params map[string]any) Result {
	t.Helper()
	res, err := s.Dispatch(context.Background(), Command{DeviceID: id, Command: command, Parameters: params})
	require.NoError(t, err)
	require.True(t, res.Success)
	return res
}

func TestSimulatorTurnOnDefaults(t *testing.T) {
	s := NewSimulator(DefaultDevices())

	res := dispatch(t, s, "lights", "turn_on", nil)
	assert.Equal(t, "on", res.NewState["power"])
	assert.Equal(t, 100, res.NewState["brightness"])
	assert.Contains(t, res.Message, "turned on")

	res = dispatch(t, s, "lights", "turn_off", nil)
	assert.Equal(t, "off", res.NewState["power"])
}

func TestSimulatorClampsParameters(t *testing.T) {
	s := NewSimulator(DefaultDevices())

	cases := []struct {
		id, command string
		params      map[string]any
		key         string
		want        int
	}{
		{"lights", "set_brightness", map[string]any{"brightness": 140.0}, "brightness", 100},
		{"lights", "set_brightness", map[string]any{"brightness": -5}, "brightness", 0},
		{"lights", "set_hue", map[string]any{"hue": 400}, "hue", 360},
		{"air_conditioner", "set_temperature", map[string]any{"temperature": 12}, "temperature", 16},
		{"air_conditioner", "set_temperature", map[string]any{"temperature": "35"}, "temperature", 30},
		{"air_conditioner", "set_temperature", nil, "temperature", 24},
		{"speaker", "set_volume", map[string]any{"volume": 250}, "volume", 100},
		{"curtains", "set_position", map[string]any{"targetPosition": 45}, "position", 45},
		{"speaker", "set_volume", map[string]any{"volume": 1e30}, "volume", 100},
		{"speaker", "set_volume", map[string]any{"volume": "99999999999999999999"}, "volume", 100},
		{"lights", "set_brightness", map[string]any{"brightness": -1e30}, "brightness", 0},
		{"curtains", "set_position", map[string]any{"position": int64(1 << 62)}, "position", 100},
	}
	for _, tc := range cases {
		res := dispatch(t, s, tc.id, tc.command, tc.params)
		assert.Equal(t, tc.want, res.NewState[tc.key], "%s %s %v", tc.id, tc.command, tc.params)
	}
}

func TestSimulatorVolumeDelta(t *testing.T) {
	s := NewSimulator(DefaultDevices())
	dispatch(t, s, "speaker", "set_volume", map[string]any{"volume": 30})
	res := dispatch(t, s, "speaker", "set_volume", map[string]any{"delta": 10})
	assert.Equal(t, 40, res.NewState["volume"])
}

func TestSimulatorCurtains(t *testing.T) {
	s := NewSimulator(DefaultDevices())
	res := dispatch(t, s, "curtains", "open_curtain", nil)
	assert.Equal(t, 100, res.NewState["position"])
	assert.Equal(t, "on", res.NewState["power"])

	res = dispatch(t, s, "curtains", "close_curtain", nil)
	assert.Equal(t, 0, res.NewState["position"])
	assert.Equal(t, "off", res.NewState["power"])
}

func TestSimulatorNamedColor(t *testing.T) {
	s := NewSimulator(DefaultDevices())
	res := dispatch(t, s, "lights", "set_color", map[string]any{"color": "Blue"})
	assert.Equal(t, 240, res.NewState["hue"])
	assert.Equal(t, "blue", res.NewState["color"])
}

func TestSimulatorErrors(t *testing.T) {
	s := NewSimulator(DefaultDevices())

	_, err := s.Dispatch(context.Background(), Command{DeviceID: "toaster", Command: "turn_on"})
	assert.ErrorIs(t, err, ErrUnknownDevice)

	res, err := s.Dispatch(context.Background(), Command{DeviceID: "curtains", Command: "set_volume"})
	assert.ErrorIs(t, err, ErrUnsupportedCommand)
	assert.False(t, res.Success)

	_, err = s.Status(context.Background(), "lights", "toaster")
	assert.True(t, errors.Is(err, ErrUnknownDevice))
}

func TestSimulatorLatencyHonoursContext(t *testing.T) {
	s := NewSimulator(DefaultDevices())
	s.Latency = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	res, err := s.Dispatch(ctx, Command{DeviceID: "lights", Command: "turn_on"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, res.Success)

	devs, err := s.Status(context.Background(), "lights")
	require.NoError(t, err)
	assert.False(t, devs[0].On())
}

func TestSimulatorStatusReturnsCopies(t *testing.T) {
	s := NewSimulator(DefaultDevices())
	devs, err := s.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, devs, 5)
	assert.Equal(t, "lights", devs[0].ID)

	devs[0].State["power"] = "on"
	again, _ := s.Status(context.Background(), "lights")
	assert.Equal(t, "off", again[0].State["power"])

	class, ok := s.Class("air_conditioner")
	assert.True(t, ok)
	assert.Equal(t, ClassAirConditioner, class)
}

func TestSimulatorConcurrentDispatch(t *testing.T) {
	s := NewSimulator(DefaultDevices())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = s.Dispatch(context.Background(), Command{DeviceID: "speaker", Command: "set_volume", Parameters: map[string]any{"volume": i}})
			_, _ = s.Status(context.Background())
		}(i)
	}
	wg.Wait()
}

func TestSummary(t *testing.T) {
	s := NewSimulator(DefaultDevices())
	dispatch(t, s, "lights", "set_brightness", map[string]any{"brightness": 40})
	dispatch(t, s, "air_conditioner", "set_temperature", map[string]any{"temperature": 22})

	devs, _ := s.Status(context.Background())
	summary := Summary(devs)
	assert.True(t, strings.HasPrefix(summary, "On: "), summary)
	assert.Contains(t, summary, "Living room lights (40%)")
	assert.Contains(t, summary, "Air conditioner (22°C)")
	assert.Contains(t, summary, "Off: ")
	assert.Contains(t, summary, "TV")

	assert.Equal(t, "No devices are registered.", Summary(nil))
}
