// Package mail delivers outbound notifications. Delivery is best effort:
// callers hand a Message to a Dispatcher and never wait on the result.
package mail

import (
	"fmt"
	"time"
)

// Message is a plain-text email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// PINMessage builds the password reset PIN notification.
func PINMessage(to, pin string, ttl time.Duration) Message {
	return Message{
		To:      to,
		Subject: "Your 4-Digit Password Reset PIN",
		Body: fmt.Sprintf("Your password reset PIN is: %s\n\nIt expires in %d minutes. If you did not request a reset, ignore this email.\n",
			pin, int(ttl.Minutes())),
	}
}
