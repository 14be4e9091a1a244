package configadmin

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) ConfigurationEvent(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func TestMemory_Update(t *testing.T) {
	m := NewMemory(nil)
	log := &eventLog{}
	m.AddListener(log)

	require.NoError(t, m.Update("foo", map[string]any{"a": 1}))
	require.NoError(t, m.Update("foo", map[string]any{"a": 2}))
	require.NoError(t, m.Update("foo", map[string]any{"a": 2}))

	assert.Equal(t, []Event{
		{Type: Created, PID: "foo"},
		{Type: Updated, PID: "foo"},
	}, log.snapshot())

	c, ok := m.Get("foo")
	require.True(t, ok)
	assert.Equal(t, int64(1), c.ChangeCount())
	assert.Equal(t, map[string]any{"a": 2, ServicePID: "foo"}, c.ProcessedProperties())
	assert.Empty(t, c.FactoryPID())

	assert.ErrorIs(t, m.Update("", nil), ErrEmptyPID)
}

func TestMemory_Factory(t *testing.T) {
	m := NewMemory(nil)
	log := &eventLog{}
	m.AddListener(log)

	pid, err := m.UpdateFactory("com.example.pool", "one", map[string]any{"size": 3})
	require.NoError(t, err)
	assert.Equal(t, "com.example.pool~one", pid)

	c, ok := m.Get(pid)
	require.True(t, ok)
	assert.Equal(t, "com.example.pool", c.FactoryPID())
	assert.Equal(t, "com.example.pool", c.ProcessedProperties()[ServiceFactoryPID])

	require.NoError(t, m.Delete(pid))
	assert.ErrorIs(t, m.Delete(pid), ErrConfigurationDeleted)

	assert.Equal(t, []Event{
		{Type: Created, PID: pid, FactoryPID: "com.example.pool"},
		{Type: Deleted, PID: pid, FactoryPID: "com.example.pool"},
	}, log.snapshot())

	_, err = m.UpdateFactory("com.example.pool", "", nil)
	assert.ErrorIs(t, err, ErrEmptyPID)
}

func TestMemory_ListConfigurations(t *testing.T) {
	m := NewMemory(nil)
	require.NoError(t, m.Update("b", nil))
	require.NoError(t, m.Update("a", nil))
	_, err := m.UpdateFactory("f", "1", nil)
	require.NoError(t, err)
	_, err = m.UpdateFactory("f", "2", nil)
	require.NoError(t, err)

	all, err := m.ListConfigurations("")
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "a", all[0].PID())

	byPID, err := m.ListConfigurations("(service.pid=b)")
	require.NoError(t, err)
	require.Len(t, byPID, 1)

	byFactory, err := m.ListConfigurations("(service.factoryPid=f)")
	require.NoError(t, err)
	assert.Len(t, byFactory, 2)

	none, err := m.ListConfigurations("(service.pid=zzz)")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = m.ListConfigurations("(broken")
	assert.Error(t, err)
}

func TestMemory_Location(t *testing.T) {
	m := NewMemory(nil)
	log := &eventLog{}
	remove := m.AddListener(log)

	require.NoError(t, m.Update("foo", nil))
	require.NoError(t, m.SetBundleLocation("foo", "file:other"))

	c, _ := m.Get("foo")
	assert.False(t, c.VisibleTo("file:mine"))
	assert.True(t, c.VisibleTo("file:other"))

	require.NoError(t, m.SetBundleLocation("foo", "?region"))
	c, _ = m.Get("foo")
	assert.True(t, c.VisibleTo("file:mine"))

	remove()
	require.NoError(t, m.SetBundleLocation("foo", ""))
	assert.Len(t, log.snapshot(), 3)
	assert.Equal(t, LocationChanged, log.snapshot()[1].Type)

	assert.ErrorIs(t, m.SetBundleLocation("missing", "x"), ErrConfigurationDeleted)
}

func TestFactoryPIDOf(t *testing.T) {
	assert.Equal(t, "pool", FactoryPIDOf("pool~a"))
	assert.Equal(t, "", FactoryPIDOf("pool"))
	assert.Equal(t, "", FactoryPIDOf("~a"))
}
