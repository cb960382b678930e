package browser

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"hncrawler/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(loaderID string) model.LifecycleEvent {
	return model.LifecycleEvent{FrameID: "main", LoaderID: loaderID, Name: loadEvent}
}

func TestEventTableMatchesBoundLoader(t *testing.T) {
	tab := newEventTable()
	e, err := tab.expect(1, loadEvent)
	require.NoError(t, err)
	tab.bind(e, "L1")

	assert.False(t, tab.deliver(load("other")), "不相关的 loader 应被丢弃")
	assert.False(t, tab.deliver(model.LifecycleEvent{LoaderID: "L1", Name: "DOMContentLoaded"}))
	assert.True(t, tab.deliver(load("L1")))

	ev, err := tab.wait(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, "L1", ev.LoaderID)
	assert.Zero(t, tab.size())
}

func TestEventTableCandidatesBeforeBind(t *testing.T) {
	tab := newEventTable()
	e, err := tab.expect(1, loadEvent)
	require.NoError(t, err)

	// 回复到达之前事件已经到达
	assert.False(t, tab.deliver(load("stale")))
	assert.False(t, tab.deliver(load("L7")))
	tab.bind(e, "L7")

	ev, err := tab.wait(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, "L7", ev.LoaderID)
}

func TestEventTableEarliestWildcardFirst(t *testing.T) {
	tab := newEventTable()
	first, _ := tab.expect(1, loadEvent)
	second, _ := tab.expect(2, loadEvent)
	tab.bind(first, "")
	tab.bind(second, "")

	require.True(t, tab.deliver(load("a")))
	require.True(t, tab.deliver(load("b")))

	ev1, err := tab.wait(context.Background(), first)
	require.NoError(t, err)
	ev2, err := tab.wait(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, "a", ev1.LoaderID)
	assert.Equal(t, "b", ev2.LoaderID)
}

func TestEventTableConcurrentDelivery(t *testing.T) {
	tab := newEventTable()
	ids := []string{"L1", "L2", "L3", "L4", "L5", "L6", "L7", "L8"}
	exps := make([]*expectation, len(ids))
	for i, id := range ids {
		e, err := tab.expect(uint64(i+1), loadEvent)
		require.NoError(t, err)
		tab.bind(e, id)
		exps[i] = e
	}

	var wg sync.WaitGroup
	for i := len(ids) - 1; i >= 0; i-- {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			tab.deliver(load("noise"))
			tab.deliver(load(id))
		}(ids[i])
	}
	wg.Wait()

	for i, e := range exps {
		ev, err := tab.wait(context.Background(), e)
		require.NoError(t, err)
		assert.Equal(t, ids[i], ev.LoaderID)
	}
	assert.Zero(t, tab.size())
}

func TestEventTableWaitTimeoutRemovesExpectation(t *testing.T) {
	tab := newEventTable()
	e, _ := tab.expect(1, loadEvent)
	tab.bind(e, "L1")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := tab.wait(ctx, e)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, tab.size())

	// 迟到的事件无人认领
	assert.False(t, tab.deliver(load("L1")))
}

func TestEventTableFail(t *testing.T) {
	tab := newEventTable()
	e, _ := tab.expect(1, loadEvent)
	tab.bind(e, "L1")

	lost := &SessionLostError{SessionID: "s", Err: errors.New("eof")}
	tab.fail(lost)
	tab.fail(errors.New("second"))

	_, err := tab.wait(context.Background(), e)
	var target *SessionLostError
	require.ErrorAs(t, err, &target)

	_, err = tab.expect(2, loadEvent)
	assert.ErrorAs(t, err, &target)
}

func TestEventTableWatchFiltersFrame(t *testing.T) {
	tab := newEventTable()
	e, err := tab.watch(1, loadEvent, "main")
	require.NoError(t, err)

	assert.False(t, tab.deliver(model.LifecycleEvent{FrameID: "ad", LoaderID: "A1", Name: loadEvent}), "子框架事件不匹配")
	assert.False(t, tab.deliver(model.LifecycleEvent{FrameID: "main", LoaderID: "L9", Name: "init"}))
	assert.True(t, tab.deliver(load("L9")), "任意 loader 均可匹配")

	ev, err := tab.wait(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, "L9", ev.LoaderID)

	// 未知主框架时不限框架
	e, err = tab.watch(2, loadEvent, "")
	require.NoError(t, err)
	assert.True(t, tab.deliver(model.LifecycleEvent{FrameID: "ad", Name: loadEvent}))
	_, err = tab.wait(context.Background(), e)
	require.NoError(t, err)

	tab.fail(errors.New("closed"))
	_, err = tab.watch(3, loadEvent, "main")
	assert.Error(t, err)
}
