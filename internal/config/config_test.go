package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfig = `
{
	// stand hardware map
	"staleFactor": 3,
	"commandStaleMs": 2000,
	"state_defaults": {
		"solenoids": {"armed": null, "powered": null},
		"pts": {"mv": null}
	},
	"boards": {
		"ActuatorBoard": {
			"serial": {"port": "/dev/ttyUSB0", "baud": 115200},
			"pollIntervalSec": 0.02,
			"isActuator": true,
			"devices": {
				"solenoids": {
					"Fuel": {"channel": 0},
					"Ox": {"channel": 1}
				}
			}
		},
		"SensorBoard": {
			"udp": {"host": "192.168.1.50", "port": 5005},
			"pollIntervalSec": 0.05,
			"devices": {
				"pts": {
					"Chamber": {"channel": 2, "adc": true, "gain": 0.152, "offset": -14.2}
				}
			}
		}
	}
}`

func load(t *testing.T, text string) (*StandConfig, error) {
	t.Helper()
	return LoadFromReader(strings.NewReader(text))
}

func TestLoadValid(t *testing.T) {
	cfg, err := load(t, validConfig)
	require.NoError(t, err)
	assert.Len(t, cfg.Boards, 2)
	assert.True(t, cfg.Boards["ActuatorBoard"].IsActuator)
	assert.Equal(t, 115200, cfg.Boards["ActuatorBoard"].Serial.Baud)
	assert.InDelta(t, 0.02, cfg.Boards["ActuatorBoard"].PollIntervalSec, 1e-9)

	pt := cfg.Boards["SensorBoard"].Devices["pts"]["Chamber"]
	require.NotNil(t, pt.Gain)
	assert.InDelta(t, 0.152, *pt.Gain, 1e-9)
}

func TestRejectUnknownKindInDefaults(t *testing.T) {
	bad := strings.Replace(validConfig, `"pts": {"mv": null}`,
		`"pts": {"mv": null}, "thrusters": {"x": null}`, 1)
	_, err := load(t, bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown device kind")
}

func TestRejectKindMissingFromDefaults(t *testing.T) {
	bad := strings.Replace(validConfig, `"pts": {"mv": null}`, `"tcs": {"temp": null}`, 1)
	_, err := load(t, bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not present in state_defaults")
}

func TestRejectSchemaMismatchInDefaults(t *testing.T) {
	bad := strings.Replace(validConfig, `"pts": {"mv": null}`, `"pts": {"mv": null, "bar": null}`, 1)
	_, err := load(t, bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fields must be exactly")
}

func TestRejectDuplicateChannel(t *testing.T) {
	bad := strings.Replace(validConfig, `"Ox": {"channel": 1}`, `"Ox": {"channel": 0}`, 1)
	_, err := load(t, bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate channel")
}

func TestRejectDuplicateDeviceAcrossBoards(t *testing.T) {
	bad := strings.Replace(validConfig,
		`"pts": {
					"Chamber": {"channel": 2, "adc": true, "gain": 0.152, "offset": -14.2}
				}`,
		`"solenoids": {
					"Fuel": {"channel": 5}
				}`, 1)
	_, err := load(t, bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate device")
}

func TestRejectMissingTransport(t *testing.T) {
	bad := strings.Replace(validConfig, `"udp": {"host": "192.168.1.50", "port": 5005},`, ``, 1)
	_, err := load(t, bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transport is required")
}

func TestRejectAdcWithoutCalibration(t *testing.T) {
	bad := strings.Replace(validConfig, `"adc": true, "gain": 0.152, `, `"adc": true, `, 1)
	_, err := load(t, bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "require gain and offset")
}

func TestRejectActuatorDeviceOnSensorBoard(t *testing.T) {
	bad := strings.Replace(validConfig, `"isActuator": true,`, ``, 1)
	_, err := load(t, bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "without isActuator")
}

func TestRejectUnknownJSONField(t *testing.T) {
	bad := strings.Replace(validConfig, `"staleFactor": 3,`, `"staleFactor": 3, "bogus": 1,`, 1)
	_, err := load(t, bad)
	require.Error(t, err)
}

func TestDefaults(t *testing.T) {
	cfg, err := load(t, validConfig)
	require.NoError(t, err)
	assert.Equal(t, "2s", cfg.CommandStaleness().String())
	assert.Equal(t, "500ms", cfg.Boards["SensorBoard"].ReceiveTimeout().String())
	assert.Equal(t, 16, cfg.Boards["SensorBoard"].CommandBufferSize)
}
