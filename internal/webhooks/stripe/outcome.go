package stripewebhook

// Outcome describes what one webhook event did. All three cases are HTTP 200
// to the provider; the distinction exists for logs and metrics.
type Outcome struct {
	Received  bool `json:"received"`
	Ignored   bool `json:"ignored,omitempty"`
	Duplicate bool `json:"duplicate,omitempty"`
}

func outcomeReceived() *Outcome  { return &Outcome{Received: true} }
func outcomeIgnored() *Outcome   { return &Outcome{Received: true, Ignored: true} }
func outcomeDuplicate() *Outcome { return &Outcome{Received: true, Duplicate: true} }

// Label returns the metrics label for the outcome.
func (o *Outcome) Label() string {
	switch {
	case o == nil:
		return "unknown"
	case o.Duplicate:
		return "duplicate"
	case o.Ignored:
		return "ignored"
	default:
		return "received"
	}
}
