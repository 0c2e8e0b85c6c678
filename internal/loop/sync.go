package loop

import (
	"math"
	"sync/atomic"
	"time"
)

// Clock values outside real timestamps
const (
	// clockUnset means the stream has not played anything yet
	clockUnset = time.Duration(math.MinInt64)
	// clockEnded means the stream is over and no longer steers sync
	clockEnded = time.Duration(math.MaxInt64)
)

func finite(c time.Duration) bool {
	return c != clockUnset && c != clockEnded
}

type clock struct {
	v atomic.Int64
}

func newClock(initial time.Duration) *clock {
	c := &clock{}
	c.set(initial)
	return c
}

func (c *clock) get() time.Duration  { return time.Duration(c.v.Load()) }
func (c *clock) set(t time.Duration) { c.v.Store(int64(t)) }

type action int

const (
	actionRender action = iota
	actionSleep
	actionDrop
)

func (a action) String() string {
	switch a {
	case actionSleep:
		return "sleep"
	case actionDrop:
		return "drop"
	default:
		return "render"
	}
}

// decide picks what to do with a video frame stamped ts. With a running
// audio clock the frame is dropped when later than threshold and delayed
// when earlier than threshold. Without one the video paces itself against
// the previous frame.
func decide(ts, audioClock, prevVideo, threshold time.Duration, speed float64) (action, time.Duration) {
	if finite(audioClock) {
		delta := ts - audioClock
		switch {
		case delta < -threshold:
			return actionDrop, 0
		case delta > threshold:
			return actionSleep, scale(delta, speed)
		default:
			return actionRender, 0
		}
	}

	if finite(prevVideo) {
		if wait := ts - prevVideo; wait > 0 {
			return actionSleep, scale(wait, speed)
		}
	}
	return actionRender, 0
}

// scale converts media time into wall time at speed
func scale(d time.Duration, speed float64) time.Duration {
	if speed <= 0 {
		return d
	}
	return time.Duration(float64(d) / speed)
}
