package engine

import "time"

// Clock converts wall-clock time into simulated days. One day passes every
// game.speed seconds; the unused remainder carries over. Speed 0 pauses.
type Clock struct {
	Accumulated time.Duration `json:"accumulated"`
	Day         uint64        `json:"day"`
}

// Advance adds elapsed real time at the given speed (seconds per day) and
// returns how many whole days are now due. While paused elapsed time is
// discarded rather than banked.
func (c *Clock) Advance(elapsed time.Duration, speed float64) int {
	if speed <= 0 || elapsed <= 0 {
		return 0
	}
	perDay := time.Duration(speed * float64(time.Second))
	if perDay <= 0 {
		perDay = 1
	}
	c.Accumulated += elapsed
	n := c.Accumulated / perDay
	c.Accumulated -= n * perDay
	c.Day += uint64(n)
	return int(n)
}
