// Package timing provides the clock and frequency helpers shared by the
// driver, the simulated device, and the tracers.
package timing

import (
	"fmt"
	"log"
	"math"
	"time"
)

// Freq defines the type of frequency
type Freq float64

// Defines the unit of frequency
const (
	Hz  Freq = 1
	KHz Freq = 1e3
	MHz Freq = 1e6
	GHz Freq = 1e9
)

// Period returns the time between two consecutive ticks
func (f Freq) Period() time.Duration {
	if f == 0 {
		log.Panic("frequency cannot be 0")
	}

	return time.Duration(float64(time.Second) / float64(f))
}

// Cycle converts a duration to the number of cycles that fit in it.
func (f Freq) Cycle(d time.Duration) uint64 {
	if d < 0 {
		log.Panic("duration cannot be negative")
	}

	return uint64(math.Round(d.Seconds() * float64(f)))
}

// NCycles returns the duration of n cycles.
func (f Freq) NCycles(n uint64) time.Duration {
	if f == 0 {
		log.Panic("frequency cannot be 0")
	}

	return time.Duration(float64(n) / float64(f) * float64(time.Second))
}

func (f Freq) String() string {
	switch {
	case f >= GHz:
		return fmt.Sprintf("%.2f GHz", float64(f/GHz))
	case f >= MHz:
		return fmt.Sprintf("%.2f MHz", float64(f/MHz))
	case f >= KHz:
		return fmt.Sprintf("%.2f KHz", float64(f/KHz))
	default:
		return fmt.Sprintf("%.2f Hz", float64(f))
	}
}
