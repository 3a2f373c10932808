// Package conversation holds the in-process exchange buffer and the
// background consolidation of evicted exchanges into durable memory.
package conversation

// Turn roles.
const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

// Turn is one utterance in the conversation.
type Turn struct {
	Role string
	Text string
}

// Buffer is a fixed-capacity FIFO of turns. It is not safe for
// concurrent use; the orchestrator serializes access.
type Buffer struct {
	capacity int
	turns    []Turn

	// onEvict fires when a complete (user, agent) pair is about to be
	// evicted, before the synchronous eviction happens. It must not
	// block.
	onEvict func(user, agent Turn)
}

// NewBuffer creates a buffer holding capacity turns (two per exchange).
// Capacities below 2 are raised to 2.
func NewBuffer(capacity int, onEvict func(user, agent Turn)) *Buffer {
	if capacity < 2 {
		capacity = 2
	}
	return &Buffer{
		capacity: capacity,
		turns:    make([]Turn, 0, capacity),
		onEvict:  onEvict,
	}
}

// AppendExchange records a completed (user, agent) exchange as two
// turns, evicting the oldest turns as needed.
func (b *Buffer) AppendExchange(userText, agentText string) {
	b.append(Turn{Role: RoleUser, Text: userText})
	b.append(Turn{Role: RoleAgent, Text: agentText})
}

func (b *Buffer) append(t Turn) {
	if len(b.turns) >= b.capacity {
		// Dispatch consolidation before the pair disappears.
		if b.onEvict != nil && len(b.turns) >= 2 &&
			b.turns[0].Role == RoleUser && b.turns[1].Role == RoleAgent {
			b.onEvict(b.turns[0], b.turns[1])
		}
		b.turns = b.turns[1:]
	}
	b.turns = append(b.turns, t)
}

// Turns returns a copy of the buffered turns, oldest first.
func (b *Buffer) Turns() []Turn {
	out := make([]Turn, len(b.turns))
	copy(out, b.turns)
	return out
}

// Len returns the number of buffered turns.
func (b *Buffer) Len() int { return len(b.turns) }

// Capacity returns the buffer's fixed capacity in turns.
func (b *Buffer) Capacity() int { return b.capacity }

// Clear empties the buffer without consolidation.
func (b *Buffer) Clear() { b.turns = b.turns[:0] }
