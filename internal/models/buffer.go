package models

import (
	"math"
	"time"
)

// BufferedMessage is one inbound text waiting in a user's buffer.
// Timestamp is unix seconds with sub-second precision.
type BufferedMessage struct {
	Text      string  `json:"text"`
	Timestamp float64 `json:"timestamp"`
}

func NewBufferedMessage(text string, at time.Time) BufferedMessage {
	return BufferedMessage{Text: text, Timestamp: UnixSeconds(at)}
}

func (m BufferedMessage) ArrivedAt() time.Time { return FromUnixSeconds(m.Timestamp) }

// UnixSeconds converts t to float seconds, the unit used for every
// timestamp kept in the coordination store.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func FromUnixSeconds(s float64) time.Time {
	sec, frac := math.Modf(s)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}
