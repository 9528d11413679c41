package sync

import (
	"testing"
	"time"

	"github.com/rjeczalik/notify"
	"github.com/stretchr/testify/assert"
)

type fakeEventInfo struct {
	ev   notify.Event
	path string
}

func (f fakeEventInfo) Event() notify.Event { return f.ev }
func (f fakeEventInfo) Path() string        { return f.path }
func (f fakeEventInfo) Sys() interface{}    { return nil }

func TestToEvent(t *testing.T) {
	tests := []struct {
		raw  notify.Event
		want EventOp
	}{
		{notify.Create, OpAdded},
		{notify.Write, OpChanged},
		{notify.Remove, OpRemoved},
		{notify.Rename, OpRemoved},
	}

	for _, tt := range tests {
		ev := toEvent(fakeEventInfo{ev: tt.raw, path: "/p/a.ts"})
		assert.Equal(t, tt.want, ev.Op, tt.raw.String())
		assert.Equal(t, "/p/a.ts", ev.Path)
	}
}

func TestIgnoreOnceConsumesOneEvent(t *testing.T) {
	w := NewWatcher(t.TempDir())

	w.IgnoreOnce("/p/a.ts")
	assert.True(t, w.isPathTemporarilyIgnored("/p/a.ts"))
	// the entry is consumed on first hit
	assert.False(t, w.isPathTemporarilyIgnored("/p/a.ts"))

	assert.False(t, w.isPathTemporarilyIgnored("/p/other.ts"))
}

func TestIgnoreOnceExpires(t *testing.T) {
	w := NewWatcher(t.TempDir())

	w.IgnoreOnceWithTimeout("/p/a.ts", 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.False(t, w.isPathTemporarilyIgnored("/p/a.ts"))
}

func TestEventOpString(t *testing.T) {
	assert.Equal(t, "changed", OpChanged.String())
	assert.Equal(t, "added", OpAdded.String())
	assert.Equal(t, "removed", OpRemoved.String())
}
