package action

// Descriptor 描述词表中的一个动作，供外部语言模型理解可用操作
type Descriptor struct {
	Name        string
	Kind        Kind
	Description string
	// Parameters JSON Schema 形式的参数描述
	Parameters map[string]any
}

var vocabulary = []Descriptor{
	{
		Name:        "navigate",
		Kind:        KindNavigate,
		Description: "Navigate the browser to an absolute http(s) URL",
		Parameters: object(map[string]any{
			"url": prop("string", "The URL to navigate to"),
		}, "url"),
	},
	{
		Name:        "click",
		Kind:        KindClick,
		Description: "Click the first element matching a CSS selector",
		Parameters: object(map[string]any{
			"selector": prop("string", "CSS selector for the element to click"),
		}, "selector"),
	},
	{
		Name:        "extract",
		Kind:        KindExtract,
		Description: "Extract the HTML of elements matching a CSS selector, or of the whole page when selector is omitted",
		Parameters: object(map[string]any{
			"selector": prop("string", "Optional CSS selector; omit for the whole page"),
		}),
	},
	{
		Name:        "wait",
		Kind:        KindWait,
		Description: "Wait until a condition holds: 'load' (document ready), 'delay' (sleep), or a CSS selector that must appear",
		Parameters: object(map[string]any{
			"condition":  prop("string", "load, delay, or a CSS selector"),
			"timeout_ms": prop("integer", "Maximum time to wait in milliseconds, at most 60000"),
		}, "timeout_ms"),
	},
	{
		Name:        "scroll",
		Kind:        KindScroll,
		Description: "Scroll the page vertically by a number of pixels",
		Parameters: object(map[string]any{
			"amount": prop("integer", "Number of pixels to scroll (positive for down, negative for up)"),
		}, "amount"),
	},
	{
		Name:        "history",
		Kind:        KindHistory,
		Description: "Go back or forward one page in browser history",
		Parameters: object(map[string]any{
			"direction": map[string]any{"type": "string", "enum": []string{Back, Forward}},
		}, "direction"),
	},
}

// Vocabulary 返回封闭动作词表的副本
func Vocabulary() []Descriptor {
	out := make([]Descriptor, len(vocabulary))
	copy(out, vocabulary)
	return out
}

func object(props map[string]any, required ...string) map[string]any {
	o := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		o["required"] = required
	}
	return o
}

func prop(typ, desc string) map[string]any {
	return map[string]any{"type": typ, "description": desc}
}
