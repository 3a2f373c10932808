package reflection

// fadeTurns is how many conversational prompts carry the previous
// session's summary before it clears for good.
const fadeTurns = 3

// Fade doles out the previous session's summary to the first few
// conversational prompts of a new session. Once exhausted it stays
// empty for the process lifetime. Not safe for concurrent use; the
// orchestrator's lock covers it.
type Fade struct {
	text      string
	remaining int
}

// NewFade creates a fade-out for a summary. An empty summary produces
// an already-exhausted fade.
func NewFade(summary string) *Fade {
	if summary == "" {
		return &Fade{}
	}
	return &Fade{text: summary, remaining: fadeTurns}
}

// Take returns the summary and consumes one fade turn. After the third
// take it returns "" forever.
func (f *Fade) Take() string {
	if f.remaining <= 0 {
		return ""
	}
	f.remaining--
	text := f.text
	if f.remaining == 0 {
		f.text = ""
	}
	return text
}

// Active reports whether the fade still has turns left.
func (f *Fade) Active() bool { return f.remaining > 0 }
