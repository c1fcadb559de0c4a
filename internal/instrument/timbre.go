package instrument

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cbegin/textmusic-go/internal/wavetable"
)

// DefaultNames are the four General MIDI timbres the player loads, one per
// track: piano, bass, strings and pad.
var DefaultNames = []string{
	"0000_SBLive_sf2",
	"0330_FluidR3_GM_sf2_file",
	"0480_FluidR3_GM_sf2_file",
	"0890_Chaos_sf2_file",
}

// Timbre is the resource document describing one instrument.
//
//	name: 0000_SBLive_sf2
//	program: 0
//	attack: 0.004
//	decay: 0.3
//	sustain: 0.5
//	release: 0.25
//	wave: "00 0c 18 ..."
type Timbre struct {
	Name    string  `yaml:"name"`
	Program int     `yaml:"program"`
	Attack  float64 `yaml:"attack"`
	Decay   float64 `yaml:"decay"`
	Sustain float64 `yaml:"sustain"`
	Release float64 `yaml:"release"`
	Wave    string  `yaml:"wave"`
}

// Parse decodes a timbre document.
func Parse(data []byte) (Timbre, error) {
	var t Timbre
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Timbre{}, fmt.Errorf("parse timbre: %w", err)
	}
	if strings.TrimSpace(t.Wave) == "" {
		return Timbre{}, errors.New("parse timbre: missing wave")
	}
	if t.Attack < 0 || t.Decay < 0 || t.Release < 0 {
		return Timbre{}, errors.New("parse timbre: negative envelope time")
	}
	if t.Sustain < 0 || t.Sustain > 1 {
		return Timbre{}, fmt.Errorf("parse timbre: sustain %v outside [0,1]", t.Sustain)
	}
	return t, nil
}

// Encode renders t as a YAML document.
func Encode(t Timbre) ([]byte, error) {
	return yaml.Marshal(t)
}

// Table converts the timbre into a playable wavetable.
func (t Timbre) Table() (*wavetable.Table, error) {
	samples, err := wavetable.ParseHex(t.Wave)
	if err != nil {
		return nil, fmt.Errorf("timbre %s: %w", t.Name, err)
	}
	table := wavetable.NewTable(samples)
	table.AttackSec = t.Attack
	table.DecaySec = t.Decay
	table.SustainLvl = t.Sustain
	table.ReleaseSec = t.Release
	return table, nil
}

// HexWave encodes samples in [-1,1] as signed 8-bit hex, the inverse of
// wavetable.ParseHex.
func HexWave(samples []float64) string {
	raw := make([]byte, len(samples))
	for i, s := range samples {
		s = math.Max(-1, math.Min(1, s))
		raw[i] = byte(int8(math.Round(s * 127)))
	}
	return hex.EncodeToString(raw)
}
