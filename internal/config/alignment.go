package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/shared.frame/internal/security"
)

// DefaultAlignmentConfigPath is the path to the canonical alignment defaults file.
const DefaultAlignmentConfigPath = "config/alignment.defaults.json"

// Alignment modes accepted in the "mode" field.
const (
	ModeAuto         = "auto"
	ModeManual       = "manual"
	ModeMarker       = "marker"
	ModeSharedOrigin = "shared-origin"
)

// AlignmentConfig is the per-client alignment configuration. Every field is
// optional; the Get* methods supply defaults for fields left out of the file.
// Rotations are quaternions written as [w, x, y, z].
type AlignmentConfig struct {
	Mode            *string `json:"mode,omitempty"`
	JoinGracePeriod *string `json:"join_grace_period,omitempty"` // duration string like "1s"

	DebugMarkers    *bool `json:"debug_markers,omitempty"`
	MaxDebugMarkers *int  `json:"max_debug_markers,omitempty"`

	// Local reference point
	ReferencePosition *[3]float64 `json:"reference_position,omitempty"`
	ReferenceRotation *[4]float64 `json:"reference_rotation,omitempty"`

	// Manual alignment, used when mode is "manual"
	ManualPositionOffset *[3]float64 `json:"manual_position_offset,omitempty"`
	ManualRotationOffset *[4]float64 `json:"manual_rotation_offset,omitempty"`
	ManualScale          *float64    `json:"manual_scale,omitempty"`

	// Session
	Room           *string `json:"room,omitempty"`
	MaxPeers       *int    `json:"max_peers,omitempty"`
	RelayURL       *string `json:"relay_url,omitempty"`
	TickInterval   *string `json:"tick_interval,omitempty"`
	ConnectTimeout *string `json:"connect_timeout,omitempty"`
}

func ptrString(v string) *string { return &v }

// EmptyAlignmentConfig returns an AlignmentConfig with all fields unset.
func EmptyAlignmentConfig() *AlignmentConfig {
	return &AlignmentConfig{}
}

// LoadAlignmentConfig loads an AlignmentConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted
// from the file fall back to the Get* defaults.
func LoadAlignmentConfig(path string) (*AlignmentConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyAlignmentConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultAlignmentConfig loads DefaultAlignmentConfigPath, searching
// the current directory and its parents up to the repository root.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultAlignmentConfig() *AlignmentConfig {
	candidates := []string{
		DefaultAlignmentConfigPath,
		"../" + DefaultAlignmentConfigPath,
		"../../" + DefaultAlignmentConfigPath,    // from internal/config/
		"../../../" + DefaultAlignmentConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadAlignmentConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultAlignmentConfigPath + " - run tests from repository root")
}

// ApplyOverrides replaces the relay URL and room with command-line values
// when they are non-empty, then validates the result. The room is sanitised
// so a free-form label still yields a usable room name.
func (c *AlignmentConfig) ApplyOverrides(relayURL, room string) error {
	if relayURL != "" {
		c.RelayURL = ptrString(relayURL)
	}
	if room != "" {
		c.Room = ptrString(security.SanitizeRoomName(room))
	}
	return c.Validate()
}

// Validate checks that the configuration values are valid.
func (c *AlignmentConfig) Validate() error {
	if c.Mode != nil {
		switch *c.Mode {
		case ModeAuto, ModeManual, ModeMarker, ModeSharedOrigin:
		default:
			return fmt.Errorf("mode must be one of auto, manual, marker, shared-origin, got %q", *c.Mode)
		}
	}

	// A zero grace period announces on the first tick; the loop intervals
	// must be positive.
	for _, f := range []struct {
		name     string
		value    *string
		positive bool
	}{
		{"join_grace_period", c.JoinGracePeriod, false},
		{"tick_interval", c.TickInterval, true},
		{"connect_timeout", c.ConnectTimeout, true},
	} {
		if f.value == nil || *f.value == "" {
			continue
		}
		d, err := time.ParseDuration(*f.value)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", f.name, *f.value, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", f.name, d)
		}
		if f.positive && d == 0 {
			return fmt.Errorf("%s must be positive, got %s", f.name, d)
		}
	}

	if c.MaxDebugMarkers != nil && *c.MaxDebugMarkers < 0 {
		return fmt.Errorf("max_debug_markers must be non-negative, got %d", *c.MaxDebugMarkers)
	}
	if c.MaxPeers != nil && *c.MaxPeers < 0 {
		return fmt.Errorf("max_peers must be non-negative, got %d", *c.MaxPeers)
	}
	if c.ManualScale != nil {
		if s := *c.ManualScale; !(s > 0) || math.IsInf(s, 0) {
			return fmt.Errorf("manual_scale must be positive and finite, got %f", s)
		}
	}
	if c.Room != nil {
		if err := security.ValidateRoomName(*c.Room); err != nil {
			return fmt.Errorf("invalid room: %w", err)
		}
	}
	for name, q := range map[string]*[4]float64{
		"reference_rotation":     c.ReferenceRotation,
		"manual_rotation_offset": c.ManualRotationOffset,
	} {
		if q == nil {
			continue
		}
		norm := math.Sqrt(q[0]*q[0] + q[1]*q[1] + q[2]*q[2] + q[3]*q[3])
		if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
			return fmt.Errorf("%s must be a non-zero finite quaternion [w, x, y, z]", name)
		}
	}
	return nil
}

func parseDurationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}

// GetMode returns the alignment mode or the default.
func (c *AlignmentConfig) GetMode() string {
	if c.Mode == nil {
		return ModeAuto
	}
	return *c.Mode
}

// GetJoinGracePeriod returns the wait between joining a room and the first
// spatial reference broadcast.
func (c *AlignmentConfig) GetJoinGracePeriod() time.Duration {
	return parseDurationOr(c.JoinGracePeriod, time.Second)
}

// GetDebugMarkers returns the debug_markers value or the default.
func (c *AlignmentConfig) GetDebugMarkers() bool {
	if c.DebugMarkers == nil {
		return false
	}
	return *c.DebugMarkers
}

// GetMaxDebugMarkers returns the max_debug_markers value or the default.
func (c *AlignmentConfig) GetMaxDebugMarkers() int {
	if c.MaxDebugMarkers == nil {
		return 64
	}
	return *c.MaxDebugMarkers
}

// GetReferencePosition returns the local reference position or the origin.
func (c *AlignmentConfig) GetReferencePosition() [3]float64 {
	if c.ReferencePosition == nil {
		return [3]float64{}
	}
	return *c.ReferencePosition
}

// GetReferenceRotation returns the local reference rotation or identity.
func (c *AlignmentConfig) GetReferenceRotation() [4]float64 {
	if c.ReferenceRotation == nil {
		return [4]float64{1, 0, 0, 0}
	}
	return *c.ReferenceRotation
}

// GetManualPositionOffset returns the manual position offset or zero.
func (c *AlignmentConfig) GetManualPositionOffset() [3]float64 {
	if c.ManualPositionOffset == nil {
		return [3]float64{}
	}
	return *c.ManualPositionOffset
}

// GetManualRotationOffset returns the manual rotation offset or identity.
func (c *AlignmentConfig) GetManualRotationOffset() [4]float64 {
	if c.ManualRotationOffset == nil {
		return [4]float64{1, 0, 0, 0}
	}
	return *c.ManualRotationOffset
}

// GetManualScale returns the manual scale multiplier or 1.
func (c *AlignmentConfig) GetManualScale() float64 {
	if c.ManualScale == nil {
		return 1
	}
	return *c.ManualScale
}

// GetRoom returns the room name or the default.
func (c *AlignmentConfig) GetRoom() string {
	if c.Room == nil {
		return "default"
	}
	return *c.Room
}

// GetMaxPeers returns the room capacity requested on create (0 = unlimited).
func (c *AlignmentConfig) GetMaxPeers() int {
	if c.MaxPeers == nil {
		return 8
	}
	return *c.MaxPeers
}

// GetRelayURL returns the relay websocket URL or the default.
func (c *AlignmentConfig) GetRelayURL() string {
	if c.RelayURL == nil || *c.RelayURL == "" {
		return "ws://localhost:8090/ws"
	}
	return *c.RelayURL
}

// GetTickInterval returns the tick loop interval.
func (c *AlignmentConfig) GetTickInterval() time.Duration {
	return parseDurationOr(c.TickInterval, 50*time.Millisecond)
}

// GetConnectTimeout returns the bound on connecting and joining.
func (c *AlignmentConfig) GetConnectTimeout() time.Duration {
	return parseDurationOr(c.ConnectTimeout, 10*time.Second)
}
