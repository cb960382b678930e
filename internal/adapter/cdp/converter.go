package cdp

import (
	"hncrawler/pkg/model"

	"github.com/mafredri/cdp/protocol/page"
	"github.com/tidwall/gjson"
)

// ToLifecycleEvent 将 CDP 生命周期事件转换为中立模型
func ToLifecycleEvent(ev *page.LifecycleEventReply) model.LifecycleEvent {
	return model.LifecycleEvent{
		FrameID:  model.FrameID(ev.FrameID),
		LoaderID: string(ev.LoaderID),
		Name:     ev.Name,
	}
}

// ToHistoryEntries 将导航历史转换为中立模型
func ToHistoryEntries(entries []page.NavigationEntry) []model.HistoryEntry {
	out := make([]model.HistoryEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, model.HistoryEntry{ID: e.ID, URL: e.URL, Title: e.Title})
	}
	return out
}

// ToBool 解析 returnByValue 的布尔结果
func ToBool(raw []byte) bool {
	return gjson.ParseBytes(raw).Bool()
}

// ToStrings 解析 returnByValue 的字符串数组结果，非字符串元素被忽略
func ToStrings(raw []byte) []string {
	res := gjson.ParseBytes(raw)
	if !res.IsArray() {
		return nil
	}
	var out []string
	res.ForEach(func(_, v gjson.Result) bool {
		if v.Type == gjson.String {
			out = append(out, v.Str)
		}
		return true
	})
	return out
}

// ToPageInfo 解析 {url, title} 形式的页面信息
func ToPageInfo(raw []byte) (url, title string) {
	res := gjson.ParseBytes(raw)
	return res.Get("url").String(), res.Get("title").String()
}
