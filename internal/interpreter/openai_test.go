package interpreter

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"hncrawler/pkg/action"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const toolReply = `{
  "id": "chatcmpl-1",
  "choices": [{
    "index": 0,
    "message": {
      "role": "assistant",
      "content": null,
      "tool_calls": [
        {"id": "call_1", "type": "function", "function": {"name": "navigate_to_url", "arguments": "{\"url\":\"https://news.ycombinator.com\"}"}},
        {"id": "call_2", "type": "function", "function": {"name": "click", "arguments": "{\"selector\":\".titleline > a\"}"}}
      ]
    },
    "finish_reason": "tool_calls"
  }]
}`

func TestOpenAISuggest(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, chatPath, r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, toolReply)
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIOptions{BaseURL: srv.URL + "/", Model: "gpt-4o", APIKey: "sk-test"}, nil)
	sug, err := o.Suggest(context.Background(), Request{
		Text:       "open hn and click the first story",
		Vocabulary: action.Vocabulary(),
		CurrentURL: "about:blank",
		History:    []Turn{{Command: "scroll down", Actions: []string{"scroll(500)"}}},
	})
	require.NoError(t, err)
	require.Len(t, sug.Calls, 2)
	assert.Equal(t, "navigate_to_url", sug.Calls[0].Name)
	assert.JSONEq(t, `{"selector":".titleline > a"}`, sug.Calls[1].Arguments)

	require.True(t, gjson.ValidBytes(body))
	req := gjson.ParseBytes(body)
	assert.Equal(t, "gpt-4o", req.Get("model").String())
	assert.Equal(t, "auto", req.Get("tool_choice").String())
	assert.Equal(t, int64(len(action.Vocabulary())), req.Get("tools.#").Int())
	assert.Equal(t, "navigate", req.Get("tools.0.function.name").String())
	assert.Equal(t, "object", req.Get("tools.0.function.parameters.type").String())

	msgs := req.Get("messages").Array()
	require.Len(t, msgs, 4)
	assert.Equal(t, "system", msgs[0].Get("role").String())
	assert.Contains(t, msgs[0].Get("content").String(), "about:blank")
	assert.Equal(t, "scroll down", msgs[1].Get("content").String())
	assert.Equal(t, "assistant", msgs[2].Get("role").String())
	assert.Equal(t, "open hn and click the first story", msgs[3].Get("content").String())
}

func TestOpenAIHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"Incorrect API key provided"}}`)
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIOptions{BaseURL: srv.URL, Model: "gpt-4o"}, nil)
	_, err := o.Suggest(context.Background(), Request{Text: "x"})
	var ue *UnavailableError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, http.StatusUnauthorized, ue.Status)
	assert.Contains(t, ue.Error(), "Incorrect API key")
}

func TestOpenAIMalformedReply(t *testing.T) {
	for _, reply := range []string{`not json`, `{"choices":[]}`} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, reply)
		}))
		o := NewOpenAI(OpenAIOptions{BaseURL: srv.URL}, nil)
		_, err := o.Suggest(context.Background(), Request{Text: "x"})
		var ue *UnavailableError
		assert.ErrorAs(t, err, &ue, reply)
		srv.Close()
	}
}

func TestOpenAIUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	o := NewOpenAI(OpenAIOptions{BaseURL: url}, nil)
	_, err := o.Suggest(context.Background(), Request{Text: "x"})
	var ue *UnavailableError
	assert.ErrorAs(t, err, &ue)
}

func TestParseReplyTextOnly(t *testing.T) {
	sug, err := parseReply([]byte(`{"choices":[{"message":{"role":"assistant","content":"no tools needed"}}]}`))
	require.NoError(t, err)
	assert.Empty(t, sug.Calls)
	assert.Equal(t, "no tools needed", sug.Text)
}

func TestOpenAISendsPageMap(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		_, _ = io.WriteString(w, toolReply)
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIOptions{BaseURL: srv.URL, Model: "gpt-4o", APIKey: "sk-test"}, nil)
	_, err := o.Suggest(context.Background(), Request{
		Text:       "open the first story",
		Vocabulary: action.Vocabulary(),
		CurrentURL: "https://news.ycombinator.com/",
		Page: PageMap{
			URL:   "https://news.ycombinator.com/",
			Title: "Hacker News",
			Elements: []PageElement{
				{Tag: "a", Text: "Show HN: A tiny database", Selector: "tr[id=\"41\"] > td:nth-of-type(3) > span > a", Href: "https://tiny.example/"},
				{Tag: "a", Text: "login", Selector: "#pagetop > a:nth-of-type(1)", Href: "https://news.ycombinator.com/login"},
			},
		},
	})
	require.NoError(t, err)

	msgs := gjson.GetBytes(body, "messages").Array()
	require.Len(t, msgs, 3)
	assert.Equal(t, "system", msgs[1].Get("role").String())
	assert.Equal(t, "open the first story", msgs[2].Get("content").String())

	content := msgs[1].Get("content").String()
	assert.Contains(t, content, "Hacker News")
	raw := content[strings.Index(content, "["):]
	require.True(t, gjson.Valid(raw))
	els := gjson.Parse(raw).Array()
	require.Len(t, els, 2)
	assert.Equal(t, `tr[id="41"] > td:nth-of-type(3) > span > a`, els[0].Get("selector").String())
	assert.Equal(t, "https://tiny.example/", els[0].Get("href").String())
	assert.Equal(t, "login", els[1].Get("text").String())
}

func TestOpenAIOmitsEmptyPageMap(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		_, _ = io.WriteString(w, toolReply)
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIOptions{BaseURL: srv.URL, APIKey: "sk-test"}, nil)
	_, err := o.Suggest(context.Background(), Request{Text: "scroll", Page: PageMap{URL: "https://x.example/"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), gjson.GetBytes(body, "messages.#").Int())
}
