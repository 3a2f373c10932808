package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubHandler struct {
	Base
}

func newStub(name string, priority int, enabled bool, keywords ...string) *stubHandler {
	return &stubHandler{Base: Base{Desc: Descriptor{
		Name:             name,
		Description:      "stub " + name,
		Keywords:         keywords,
		Priority:         priority,
		Enabled:          enabled,
		RoutingAvailable: true,
	}}}
}

func (s *stubHandler) Execute(ctx context.Context, command string, ec *ExecContext) (*Result, error) {
	return &Result{Success: true, Response: s.Desc.Name + " handled it"}, nil
}

func TestRegisterAndGet(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(newStub("timers", 5, true, "timer")))

	h, ok := r.Get("timers")
	assert.True(t, ok)
	assert.Equal(t, "timers", h.Descriptor().Name)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegisterDuplicate(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(newStub("timers", 5, true)))
	assert.Error(t, r.Register(newStub("timers", 1, true)))
}

func TestRegisterUnnamed(t *testing.T) {
	r := New()
	assert.Error(t, r.Register(&stubHandler{}))
}

func TestAllOrdersByPriority(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(newStub("low", 1, true)))
	require.NoError(t, r.Register(newStub("high", 10, true)))
	require.NoError(t, r.Register(newStub("mid-a", 5, true)))
	require.NoError(t, r.Register(newStub("mid-b", 5, true)))

	var names []string
	for _, h := range r.All() {
		names = append(names, h.Descriptor().Name)
	}
	assert.Equal(t, []string{"high", "mid-a", "mid-b", "low"}, names)
}

func TestEnabledFiltersDisabled(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(newStub("on", 1, true)))
	require.NoError(t, r.Register(newStub("off", 9, false)))

	enabled := r.Enabled()
	require.Len(t, enabled, 1)
	assert.Equal(t, "on", enabled[0].Descriptor().Name)
}

func TestOnChangeFiresOnRegister(t *testing.T) {
	r := New()
	fired := 0
	r.OnChange(func() { fired++ })

	require.NoError(t, r.Register(newStub("timers", 5, true)))
	assert.Equal(t, 1, fired)
}

func TestKeywordMatcherWordBoundaries(t *testing.T) {
	match := KeywordMatcher([]string{"note", "remind me"})

	assert.True(t, match("take a note about milk"))
	assert.True(t, match("Remind me to stretch"))
	assert.False(t, match("noteworthy achievement"))
	assert.False(t, match("unrelated command"))
}

func TestDeclined(t *testing.T) {
	assert.True(t, (&Result{}).Declined())
	assert.False(t, (&Result{Success: true}).Declined())
	assert.False(t, (&Result{Response: "no"}).Declined())
	assert.False(t, (&Result{ActionsTaken: []Action{{}}}).Declined())
}
