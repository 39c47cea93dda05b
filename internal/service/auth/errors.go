package auth

import "fmt"

// Kind classifies auth failures. Every kind is shown to the user.
type Kind int

const (
	// KindInvalid means the credentials were rejected locally before any request.
	KindInvalid Kind = iota + 1
	// KindRejected carries the message the auth server returned.
	KindRejected
	// KindUnknown is a response with neither a token nor an error message.
	KindUnknown
	// KindTransport covers network failures and unreadable responses.
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindRejected:
		return "rejected"
	case KindUnknown:
		return "unknown"
	case KindTransport:
		return "transport"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is returned by Login and Register.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("auth %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// UserMessage is the text shown in the blocking alert.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case KindRejected, KindInvalid:
		return e.Message
	case KindUnknown:
		return "authentication failed"
	default:
		return "something went wrong"
	}
}
