package conversation

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talonhq/talon/pkg/gateway"
)

func TestBufferCapacityNeverExceeded(t *testing.T) {
	b := NewBuffer(16, nil)

	for i := 0; i < 40; i++ {
		b.AppendExchange(fmt.Sprintf("user %d", i), fmt.Sprintf("agent %d", i))
		assert.LessOrEqual(t, b.Len(), 16)
	}

	turns := b.Turns()
	require.Len(t, turns, 16)
	// Oldest surviving exchange is number 32, most recent is 39.
	assert.Equal(t, "user 32", turns[0].Text)
	assert.Equal(t, "agent 39", turns[15].Text)
}

func TestBufferOrdering(t *testing.T) {
	b := NewBuffer(6, nil)
	b.AppendExchange("q1", "a1")
	b.AppendExchange("q2", "a2")

	turns := b.Turns()
	require.Len(t, turns, 4)
	assert.Equal(t, RoleUser, turns[0].Role)
	assert.Equal(t, RoleAgent, turns[1].Role)
	assert.Equal(t, "q1", turns[0].Text)
	assert.Equal(t, "a2", turns[3].Text)
}

func TestBufferEvictionDispatchesPairs(t *testing.T) {
	var evicted [][2]string
	b := NewBuffer(4, func(user, agent Turn) {
		evicted = append(evicted, [2]string{user.Text, agent.Text})
	})

	b.AppendExchange("q1", "a1")
	b.AppendExchange("q2", "a2")
	assert.Empty(t, evicted)

	b.AppendExchange("q3", "a3")
	require.Len(t, evicted, 1)
	assert.Equal(t, [2]string{"q1", "a1"}, evicted[0])
}

func TestBufferMinimumCapacity(t *testing.T) {
	b := NewBuffer(0, nil)
	assert.Equal(t, 2, b.Capacity())
}

func TestBufferClear(t *testing.T) {
	b := NewBuffer(8, nil)
	b.AppendExchange("q", "a")
	b.Clear()
	assert.Equal(t, 0, b.Len())
}

type memPrefs struct {
	mu    sync.Mutex
	texts []string
}

func (m *memPrefs) StorePreference(ctx context.Context, text, source string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts = append(m.texts, text)
	return nil
}

func (m *memPrefs) all() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.texts...)
}

func TestConsolidatorStoresInsight(t *testing.T) {
	mock := gateway.NewMock()
	mock.Enqueue("User keeps the thermostat at 20 degrees.")
	prefs := &memPrefs{}

	c := NewConsolidator(mock, prefs, 2)
	c.Dispatch(Turn{Role: RoleUser, Text: "set the thermostat to 20"}, Turn{Role: RoleAgent, Text: "done"})
	c.Wait()

	require.Len(t, prefs.all(), 1)
	assert.Contains(t, prefs.all()[0], "thermostat")
}

func TestConsolidatorNothingWritesNothing(t *testing.T) {
	for _, reply := range []string{"nothing", "Nothing.", "  nothing  ", gateway.Errorf("backend down")} {
		mock := gateway.NewMock()
		mock.Enqueue(reply)
		prefs := &memPrefs{}

		c := NewConsolidator(mock, prefs, 1)
		c.Dispatch(Turn{Role: RoleUser, Text: "hi"}, Turn{Role: RoleAgent, Text: "hello"})
		c.Wait()

		assert.Empty(t, prefs.all(), "reply %q must not be stored", reply)
	}
}

func TestConsolidatorPromptContainsExchange(t *testing.T) {
	mock := gateway.NewMock()
	mock.Enqueue("nothing")
	c := NewConsolidator(mock, &memPrefs{}, 1)

	c.Dispatch(Turn{Role: RoleUser, Text: "play some jazz"}, Turn{Role: RoleAgent, Text: "playing jazz"})
	c.Wait()

	prompt := mock.LastPrompt()
	assert.Contains(t, prompt, "play some jazz")
	assert.Contains(t, prompt, "playing jazz")
}
