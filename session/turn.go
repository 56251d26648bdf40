// Package session holds conversation transcripts and the stores that keep
// them for the lifetime of a browser session.
package session

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Transcript is an append-only sequence of turns. Append never modifies the
// receiver's backing array.
type Transcript []Turn

func (t Transcript) Append(turns ...Turn) Transcript {
	next := make(Transcript, 0, len(t)+len(turns))
	next = append(next, t...)
	return append(next, turns...)
}

func (t Transcript) Len() int {
	return len(t)
}

// Since returns the turns appended after the first n.
func (t Transcript) Since(n int) []Turn {
	if n >= len(t) {
		return nil
	}
	if n < 0 {
		n = 0
	}
	return append([]Turn(nil), t[n:]...)
}
