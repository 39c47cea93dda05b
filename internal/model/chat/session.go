package chat

import "time"

// Session is an independently persisted conversation thread.
type Session struct {
	ID          uint64    `json:"id"`
	Messages    []Message `json:"messages"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Summary is the lightweight listing form of a session, used for session tabs.
type Summary struct {
	ID          uint64    `json:"id"`
	Messages    int       `json:"messages"`
	LastUpdated time.Time `json:"lastUpdated"`
	Current     bool      `json:"current"`
}

// Summarize builds the listing form of s.
func (s Session) Summarize(current uint64) Summary {
	return Summary{
		ID:          s.ID,
		Messages:    len(s.Messages),
		LastUpdated: s.LastUpdated,
		Current:     s.ID == current,
	}
}
