package cdp

import (
	"testing"

	"github.com/mafredri/cdp/protocol/page"
	"github.com/stretchr/testify/assert"
)

func TestToLifecycleEvent(t *testing.T) {
	ev := ToLifecycleEvent(&page.LifecycleEventReply{FrameID: "F1", LoaderID: "L1", Name: "load"})
	assert.EqualValues(t, "F1", ev.FrameID)
	assert.Equal(t, "L1", ev.LoaderID)
	assert.Equal(t, "load", ev.Name)
}

func TestValueDecoding(t *testing.T) {
	assert.True(t, ToBool([]byte(`true`)))
	assert.False(t, ToBool([]byte(`null`)))
	assert.Equal(t, []string{"<a>1</a>", "<a>2</a>"}, ToStrings([]byte(`["<a>1</a>", 3, "<a>2</a>"]`)))
	assert.Nil(t, ToStrings([]byte(`"x"`)))

	u, title := ToPageInfo([]byte(`{"url":"https://news.ycombinator.com/","title":"Hacker News"}`))
	assert.Equal(t, "https://news.ycombinator.com/", u)
	assert.Equal(t, "Hacker News", title)
}

func TestToHistoryEntries(t *testing.T) {
	out := ToHistoryEntries([]page.NavigationEntry{{ID: 1, URL: "https://a"}, {ID: 2, URL: "https://b", Title: "B"}})
	assert.Len(t, out, 2)
	assert.Equal(t, 2, out[1].ID)
	assert.Equal(t, "B", out[1].Title)
}
