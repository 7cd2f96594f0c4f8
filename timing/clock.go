package timing

import "time"

// TimeTeller can be used to get the current time.
type TimeTeller interface {
	CurrentTime() time.Time
}

// WallClock tells the time of the host.
type WallClock struct{}

// CurrentTime returns time.Now.
func (WallClock) CurrentTime() time.Time {
	return time.Now()
}
