package weather

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/talgya/mars-colony/internal/simtime"
)

func TestConditionsAreDeterministic(t *testing.T) {
	a := NewModel(42)
	b := NewModel(42)
	for sol := uint64(0); sol < 20; sol++ {
		at := simtime.SimTime{Sol: sol, Millisol: 412.5}
		assert.Equal(t, a.At(3, at), b.At(3, at))
	}
}

func TestConditionsStayInRange(t *testing.T) {
	m := NewModel(7)
	for sol := uint64(0); sol < 50; sol++ {
		for ms := 0.0; ms < simtime.MillisolsPerSol; ms += 97 {
			c := m.At(1, simtime.SimTime{Sol: sol, Millisol: ms})
			assert.GreaterOrEqual(t, c.Opacity, 0.3)
			assert.LessOrEqual(t, c.Opacity, MaxOpacity)
			assert.GreaterOrEqual(t, c.Daylight, 0.0)
			assert.LessOrEqual(t, c.Daylight, 1.0)
			assert.Equal(t, c.Opacity >= StormOpacity, c.Storm)
		}
	}
}

func TestNightHasNoDaylight(t *testing.T) {
	m := NewModel(1)
	c := m.At(1, simtime.SimTime{Sol: 3, Millisol: 100})
	assert.Zero(t, c.Daylight)
	c = m.At(1, simtime.SimTime{Sol: 3, Millisol: 900})
	assert.Zero(t, c.Daylight)
}
