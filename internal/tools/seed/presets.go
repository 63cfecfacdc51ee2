package seed

import "fmt"

// Preset names a bundle of generation parameters.
type Preset string

const (
	// PresetDemo creates one campaign with a full party and an open map.
	PresetDemo Preset = "demo"

	// PresetVariety creates several campaigns with open and closed maps.
	PresetVariety Preset = "variety"

	// PresetStressTest creates many campaigns with crowded maps.
	PresetStressTest Preset = "stress-test"
)

// PresetConfig holds the generation parameters for a preset.
type PresetConfig struct {
	Campaigns int

	// Players per campaign (min, max)
	PlayersMin int
	PlayersMax int

	// Maps per campaign (min, max)
	MapsMin int
	MapsMax int

	// Markers per map (min, max)
	MarkersMin int
	MarkersMax int

	// Probability that a player has no character bound.
	SpectatorRatio float64
	// Probability that a map starts open.
	OpenRatio float64
}

// Presets lists the known presets in display order.
func Presets() []Preset {
	return []Preset{PresetDemo, PresetVariety, PresetStressTest}
}

// ValidatePreset rejects unknown preset names.
func ValidatePreset(preset Preset) error {
	for _, known := range Presets() {
		if preset == known {
			return nil
		}
	}
	return fmt.Errorf("unknown preset %q", preset)
}

// GetPresetConfig returns the configuration for a preset.
func GetPresetConfig(preset Preset) PresetConfig {
	switch preset {
	case PresetVariety:
		return PresetConfig{
			Campaigns:      6,
			PlayersMin:     2,
			PlayersMax:     5,
			MapsMin:        1,
			MapsMax:        3,
			MarkersMin:     0,
			MarkersMax:     8,
			SpectatorRatio: 0.25,
			OpenRatio:      0.5,
		}
	case PresetStressTest:
		return PresetConfig{
			Campaigns:      40,
			PlayersMin:     6,
			PlayersMax:     8,
			MapsMin:        1,
			MapsMax:        1,
			MarkersMin:     50,
			MarkersMax:     120,
			SpectatorRatio: 0.1,
			OpenRatio:      1,
		}
	default:
		return PresetConfig{
			Campaigns:  1,
			PlayersMin: 4,
			PlayersMax: 4,
			MapsMin:    2,
			MapsMax:    2,
			MarkersMin: 4,
			MarkersMax: 6,
			OpenRatio:  0.5,
		}
	}
}
