package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycle(t *testing.T) {
	m := NewManager(nil)
	assert.Equal(t, Idle, m.State())

	require.NoError(t, m.Bind("s1"))
	assert.Equal(t, SessionOpen, m.State())
	assert.Equal(t, "s1", string(m.Current()))

	require.NoError(t, m.Transition(Crawling))
	// 会话丢失后重连
	require.NoError(t, m.Bind("s2"))
	assert.Equal(t, 2, m.Opened())
	require.NoError(t, m.Transition(Crawling))
	require.NoError(t, m.Transition(SessionOpen))
	require.NoError(t, m.Transition(AwaitingCommand))

	m.Close()
	m.Close()
	assert.Equal(t, Closed, m.State())
	assert.Empty(t, m.Current())
}

func TestIllegalTransitions(t *testing.T) {
	m := NewManager(nil)

	err := m.Transition(Crawling)
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, Idle, te.From)
	assert.Equal(t, Crawling, te.To)

	require.NoError(t, m.Bind("s1"))
	require.NoError(t, m.Transition(Crawling))
	assert.Error(t, m.Transition(AwaitingCommand))

	m.Close()
	assert.Error(t, m.Bind("s2"))
	assert.Error(t, m.Transition(SessionOpen))
}
