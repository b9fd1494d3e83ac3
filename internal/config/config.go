// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/proplab/standd/internal/device"
)

/* =========================
   Types (devices keyed by kind -> name)
   ========================= */

type StandConfig struct {
	Boards         map[string]*BoardConfig   `json:"boards"`
	StateDefaults  map[string]map[string]any `json:"state_defaults"` // kind -> field -> null
	StaleFactor    float64                   `json:"staleFactor"`    // x poll interval before a field reads stale
	CommandStaleMs int                       `json:"commandStaleMs"` // reject commands older than this
}

type BoardConfig struct {
	Serial *SerialConfig `json:"serial,omitempty"`
	UDP    *UDPConfig    `json:"udp,omitempty"`

	PollIntervalSec   float64 `json:"pollIntervalSec"`
	ReceiveTimeoutMs  int     `json:"receiveTimeoutMs"`
	CommandBufferSize int     `json:"commandBufferSize"`
	IsActuator        bool    `json:"isActuator"`

	// kind -> name -> attributes
	Devices map[string]map[string]DeviceConfig `json:"devices"`
}

type SerialConfig struct {
	Port string `json:"port"`
	Baud int    `json:"baud"`
}

type UDPConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type DeviceConfig struct {
	Channel   *int     `json:"channel,omitempty"`
	Gain      *float64 `json:"gain,omitempty"`
	Offset    *float64 `json:"offset,omitempty"`
	ADC       bool     `json:"adc,omitempty"`
	SafeAngle *float64 `json:"safeAngle,omitempty"`
}

/* =========================
   Helpers
   ========================= */

func (b BoardConfig) PollInterval() time.Duration {
	return time.Duration(b.PollIntervalSec * float64(time.Second))
}

func (b BoardConfig) ReceiveTimeout() time.Duration {
	if b.ReceiveTimeoutMs <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(b.ReceiveTimeoutMs) * time.Millisecond
}

func (c StandConfig) CommandStaleness() time.Duration {
	if c.CommandStaleMs <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.CommandStaleMs) * time.Millisecond
}

/* =========================
   Strict load + validate
   ========================= */

func Load(path string) (*StandConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return parse(raw)
}

func LoadFromReader(r io.Reader) (*StandConfig, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return parse(raw)
}

func parse(raw []byte) (*StandConfig, error) {
	clean := stripJSONComments(raw)

	dec := json.NewDecoder(strings.NewReader(string(clean)))
	dec.DisallowUnknownFields()

	var cfg StandConfig
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *StandConfig) Validate() error {
	var errs multiErr

	/* State defaults: every kind must be known and its field set must
	   match the compiled schema exactly, or a board could write fields
	   nothing else in the process understands. */
	if len(c.StateDefaults) == 0 {
		errs.add("state_defaults cannot be empty")
	}
	for kindName, fields := range c.StateDefaults {
		kind, err := device.ParseKind(kindName)
		if err != nil {
			errs.addf("state_defaults[%s]: unknown device kind", kindName)
			continue
		}
		want := device.Fields(kind)
		if !sameFieldSet(fields, want) {
			errs.addf("state_defaults[%s]: fields must be exactly {%s}", kindName, strings.Join(want, ", "))
		}
	}

	/* Boards */
	if len(c.Boards) == 0 {
		errs.add("boards cannot be empty")
	}

	// (kind, name) keys the state store, so names are unique per kind
	// across ALL boards.
	seenNames := map[string]string{} // kind/name -> board

	for _, boardName := range sortedKeys(c.Boards) {
		b := c.Boards[boardName]
		if b == nil {
			errs.addf("boards[%s]: empty board", boardName)
			continue
		}

		switch {
		case b.Serial != nil && b.UDP != nil:
			errs.addf("boards[%s]: serial and udp are mutually exclusive", boardName)
		case b.Serial != nil:
			if strings.TrimSpace(b.Serial.Port) == "" {
				errs.addf("boards[%s]: serial.port is required", boardName)
			}
			if b.Serial.Baud <= 0 {
				errs.addf("boards[%s]: serial.baud must be > 0", boardName)
			}
		case b.UDP != nil:
			if strings.TrimSpace(b.UDP.Host) == "" {
				errs.addf("boards[%s]: udp.host is required", boardName)
			}
			if b.UDP.Port <= 0 || b.UDP.Port > 65535 {
				errs.addf("boards[%s]: udp.port must be 1..65535", boardName)
			}
		default:
			errs.addf("boards[%s]: a serial or udp transport is required", boardName)
		}

		if b.PollIntervalSec <= 0 {
			errs.addf("boards[%s]: pollIntervalSec must be > 0 (e.g., 0.02)", boardName)
		}
		if b.ReceiveTimeoutMs < 0 {
			errs.addf("boards[%s]: receiveTimeoutMs cannot be negative", boardName)
		}
		if b.CommandBufferSize == 0 {
			b.CommandBufferSize = 16
		}
		if b.CommandBufferSize < 0 {
			errs.addf("boards[%s]: commandBufferSize cannot be negative", boardName)
		}

		if len(b.Devices) == 0 {
			errs.addf("boards[%s]: devices cannot be empty", boardName)
		}

		for _, kindName := range sortedKeys(b.Devices) {
			byName := b.Devices[kindName]
			if _, ok := c.StateDefaults[kindName]; !ok {
				errs.addf("boards[%s].devices[%s]: kind not present in state_defaults", boardName, kindName)
				continue
			}
			kind, err := device.ParseKind(kindName)
			if err != nil {
				// already reported via state_defaults check
				continue
			}

			seenChannels := map[int]string{} // channel -> name, per kind per board
			for _, devName := range sortedKeys(byName) {
				d := byName[devName]
				if strings.TrimSpace(devName) == "" {
					errs.addf("boards[%s].devices[%s]: device name is required", boardName, kindName)
					continue
				}
				key := kindName + "/" + devName
				if other, clash := seenNames[key]; clash {
					errs.addf("boards[%s].devices[%s][%s]: duplicate device (already on board %s)", boardName, kindName, devName, other)
				} else {
					seenNames[key] = boardName
				}

				if device.NeedsChannel(kind) {
					if d.Channel == nil {
						errs.addf("boards[%s].devices[%s][%s]: channel is required", boardName, kindName, devName)
					} else if prev, dup := seenChannels[*d.Channel]; dup {
						errs.addf("boards[%s].devices[%s][%s]: duplicate channel %d (also %s)", boardName, kindName, devName, *d.Channel, prev)
					} else {
						seenChannels[*d.Channel] = devName
					}
				}
				if d.ADC && (d.Gain == nil || d.Offset == nil) {
					errs.addf("boards[%s].devices[%s][%s]: adc devices require gain and offset", boardName, kindName, devName)
				}
				if d.SafeAngle != nil && kind != device.TVC {
					errs.addf("boards[%s].devices[%s][%s]: safeAngle only applies to tvcs", boardName, kindName, devName)
				}
				if !b.IsActuator && device.IsActuator(kind) {
					errs.addf("boards[%s].devices[%s][%s]: actuator device on a board without isActuator", boardName, kindName, devName)
				}
			}
		}
	}

	if c.StaleFactor < 0 {
		errs.add("staleFactor cannot be negative")
	}
	if c.CommandStaleMs < 0 {
		errs.add("commandStaleMs cannot be negative")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func sameFieldSet(have map[string]any, want []string) bool {
	if len(have) != len(want) {
		return false
	}
	for _, f := range want {
		if _, ok := have[f]; !ok {
			return false
		}
	}
	return true
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

/* =========================
   Comment stripping + utils
   ========================= */

var (
	lineComments  = regexp.MustCompile(`(?m)//[^\n\r]*`)
	blockComments = regexp.MustCompile(`(?s)/\*.*?\*/`)
)

func stripJSONComments(in []byte) []byte {
	text := string(in)
	text = blockComments.ReplaceAllString(text, "")
	text = lineComments.ReplaceAllString(text, "")
	return []byte(text)
}

// small multi-error
type multiErr []string

func (m *multiErr) add(s string)            { *m = append(*m, s) }
func (m *multiErr) addf(f string, a ...any) { *m = append(*m, fmt.Sprintf(f, a...)) }
func (m multiErr) Error() string            { return "validation errors: " + strings.Join(m, "; ") }
