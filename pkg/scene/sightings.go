package scene

import (
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/gwillem/nfconsole/pkg/frame"
	"github.com/gwillem/nfconsole/pkg/wire"
)

// MaxAge is how long a sighting stays visible.
const MaxAge = 5 * time.Second

// Sighting is one observed gantry position, render frame.
type Sighting struct {
	Position r3.Vec
	Born     time.Time
}

// Opacity fades linearly from 1 at birth to 0 at MaxAge.
func (s Sighting) Opacity(now time.Time) float64 {
	age := now.Sub(s.Born)
	if age <= 0 {
		return 1
	}
	return max(0, 1-age.Seconds()/MaxAge.Seconds())
}

// Sightings keeps recent gantry sightings until they expire.
type Sightings struct {
	dots []Sighting
}

// Add records robot-frame sightings observed at now.
func (s *Sightings) Add(now time.Time, sightings []wire.Vec3) {
	for _, v := range sightings {
		s.dots = append(s.dots, Sighting{Position: frame.RobotToRender(v.R3()), Born: now})
	}
}

// Expire drops sightings aged MaxAge or more.
func (s *Sightings) Expire(now time.Time) {
	live := s.dots[:0]
	for _, d := range s.dots {
		if now.Sub(d.Born) < MaxAge {
			live = append(live, d)
		}
	}
	clear(s.dots[len(live):])
	s.dots = live
}

// Live expires old sightings and returns a copy of the rest.
func (s *Sightings) Live(now time.Time) []Sighting {
	s.Expire(now)
	return append([]Sighting(nil), s.dots...)
}

// Len returns the number of stored sightings, expired or not.
func (s *Sightings) Len() int { return len(s.dots) }
