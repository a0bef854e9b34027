// README: Reliability score rules. Pure functions over a bounded 0..100 score.
package reliability

import "errors"

const (
	MinScore     = 0
	MaxScore     = 100
	InitialScore = 100
)

var ErrInvalidRating = errors.New("rating must be between 1 and 5")

type EventKind string

const (
	EventLateCancellation EventKind = "late_cancellation"
	EventRating           EventKind = "rating"
)

type Event struct {
	Kind  EventKind
	Stars int
}

func LateCancellation() Event {
	return Event{Kind: EventLateCancellation}
}

func Rating(stars int) (Event, error) {
	if stars < 1 || stars > 5 {
		return Event{}, ErrInvalidRating
	}
	return Event{Kind: EventRating, Stars: stars}, nil
}

// Delta is the score change an event causes before clamping.
func Delta(ev Event) int {
	switch ev.Kind {
	case EventLateCancellation:
		return -2
	case EventRating:
		switch {
		case ev.Stars >= 5:
			return 2
		case ev.Stars == 4:
			return 1
		case ev.Stars == 3:
			return 0
		default:
			return -5
		}
	}
	return 0
}

// Apply returns clamp(score + delta, 0, 100).
func Apply(score int, ev Event) int {
	return clamp(score+Delta(ev), MinScore, MaxScore)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
