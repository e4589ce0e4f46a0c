// Package weather models Martian surface conditions for each settlement.
// Conditions are a pure function of seed, settlement and mission time, so a
// restored world sees the same storms it would have seen without the restart.
package weather

import (
	"math"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/mars-colony/internal/simtime"
)

// StormOpacity is the optical depth above which outdoor work is unsafe.
const StormOpacity = 2.0

// MaxOpacity bounds the dust optical depth.
const MaxOpacity = 5.0

// Conditions are the surface conditions at one settlement and time.
type Conditions struct {
	Opacity  float64 `json:"opacity"`  // dust optical depth, 0.3 (clear) to MaxOpacity
	Daylight float64 `json:"daylight"` // 0.0 (night) to 1.0 (noon, clear sky)
	Storm    bool    `json:"storm"`
}

// Model produces deterministic conditions from layered simplex noise.
type Model struct {
	dust opensimplex.Noise
	gust opensimplex.Noise
}

// NewModel creates a weather model for the given seed.
func NewModel(seed int64) *Model {
	return &Model{
		dust: opensimplex.NewNormalized(seed + 11),
		gust: opensimplex.NewNormalized(seed + 12),
	}
}

// At returns conditions for a settlement at time t.
func (m *Model) At(settlementID uint64, t simtime.SimTime) Conditions {
	// Storms evolve over sols; gusts vary within a sol.
	days := t.Total() / simtime.MillisolsPerSol
	y := float64(settlementID) * 17.3

	base := octaveNoise(m.dust, days*0.15, y, 3, 1.0, 0.5)
	gust := m.gust.Eval2(days*4, y)

	// Bias toward clear skies: opacity climbs steeply only at the top of the noise range.
	opacity := 0.3 + math.Pow(base, 3)*MaxOpacity*1.6 + gust*0.2
	opacity = clamp(opacity, 0.3, MaxOpacity)

	// Sun is up between 250 and 750 millisols, peaking at noon.
	sun := math.Sin((t.Millisol - 250) / 500 * math.Pi)
	if sun < 0 {
		sun = 0
	}
	daylight := sun * math.Exp(-(opacity-0.3)/2)

	return Conditions{
		Opacity:  opacity,
		Daylight: daylight,
		Storm:    opacity >= StormOpacity,
	}
}

// octaveNoise generates fractal noise by layering multiple frequencies.
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
