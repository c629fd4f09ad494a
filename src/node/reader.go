package node

import (
	"errors"
	"math"
	"math/rand"
	"sync"

	"github.com/G1-H25/jenlib/src/inter"
)

var errSimulatedFault = errors.New("node: simulated sensor fault")

// SimulatedReader produces a slow sine drift plus noise around a base
// temperature and humidity. It stands in for real hardware in simulate mode.
type SimulatedReader struct {
	mu       sync.Mutex
	rng      *rand.Rand
	step     int
	BaseC    float64
	BasePct  float64
	FailEach int // every FailEach-th read fails; 0 never
}

var _ inter.SensorReader = (*SimulatedReader)(nil)

// NewSimulatedReader seeds the reader from the device id so every sensor drifts differently.
func NewSimulatedReader(id inter.DeviceID) *SimulatedReader {
	return &SimulatedReader{
		rng:     rand.New(rand.NewSource(int64(id))),
		BaseC:   21.5,
		BasePct: 45,
	}
}

func (r *SimulatedReader) Read() (float64, float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.step++
	if r.FailEach > 0 && r.step%r.FailEach == 0 {
		return 0, 0, errSimulatedFault
	}
	phase := float64(r.step) / 60 * 2 * math.Pi
	c := r.BaseC + 1.5*math.Sin(phase) + r.rng.NormFloat64()*0.1
	pct := r.BasePct + 5*math.Cos(phase) + r.rng.NormFloat64()*0.5
	return c, pct, nil
}
