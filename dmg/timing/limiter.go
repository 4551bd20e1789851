// Package timing paces interactive front ends to the DMG frame rate.
package timing

import "time"

var dotsPerFrame float64 = 70224
var dmgClockHz float64 = 4194304

// FrameDuration is the wall-clock length of one DMG frame: 70224 T-cycles at
// 4.194304 MHz, ~16.74 ms.
var FrameDuration = time.Duration(float64(time.Second) * dotsPerFrame / dmgClockHz)

// Limiter sleeps between frames with drift compensation: short waits
// busy-spin for accuracy, long waits sleep most of the interval first.
type Limiter struct {
	next time.Time
}

// NewLimiter returns a limiter anchored to the current time.
func NewLimiter() *Limiter {
	return &Limiter{next: time.Now()}
}

// Wait blocks until the next frame deadline. If the caller has fallen more
// than a few frames behind, the deadline snaps to now instead of fast-
// forwarding through the backlog.
func (l *Limiter) Wait() {
	now := time.Now()
	sleep := l.next.Sub(now)

	switch {
	case sleep > 2*time.Millisecond:
		time.Sleep(sleep - time.Millisecond)
		for time.Now().Before(l.next) {
		}
	case sleep > 0:
		for time.Now().Before(l.next) {
		}
	case sleep < -3*FrameDuration:
		l.next = now
	}

	l.next = l.next.Add(FrameDuration)
}

// Reset re-anchors the deadline, used after pauses.
func (l *Limiter) Reset() {
	l.next = time.Now()
}
