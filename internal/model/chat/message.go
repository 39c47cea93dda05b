package chat

import "time"

// Message is a single chat line. Received marks frames that came in over the socket;
// outbound messages typed by the user have Received=false.
type Message struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Received  bool   `json:"received"`
	Timestamp int64  `json:"timestamp"`
}

// Time converts the epoch-millisecond timestamp back to a time.Time.
func (m Message) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// CloneMessages returns an independent copy of msgs. A nil input yields an empty slice so
// that persisted records always carry a messages array.
func CloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}
