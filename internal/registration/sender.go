package registration

import "log"

// Sender delivers a confirmation secret to a registrant. Delivery is
// fire-and-forget: the registration flow never blocks on, or fails because
// of, mail transport.
type Sender interface {
	Send(secret, recipient string, data map[string]string)
}

// LogSender writes deliveries to the process log. Stands in for a real mail
// transport in development and tests.
type LogSender struct {
	Log *log.Logger
}

func (s *LogSender) Send(secret, recipient string, data map[string]string) {
	if s.Log == nil {
		return
	}
	// Never log the secret itself.
	s.Log.Printf("confirmation mail to %s (secret withheld, %d data fields)", recipient, len(data))
}
