package qaclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsk_FormEncodedPost(t *testing.T) {
	var gotQuestion, gotChannel, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/qa/ask", r.URL.Path)
		require.NoError(t, r.ParseForm())
		gotQuestion = r.PostFormValue("question")
		gotChannel = r.PostFormValue("channel")
		gotKey = r.PostFormValue("apikey")
		w.Write([]byte(`{"__AnswerBy__":"GenAI"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "/var/log/qa.log", "line", "key-1", 5*time.Second)
	res, err := c.Ask(context.Background(), "你好嗎？")
	require.NoError(t, err)

	assert.Equal(t, "你好嗎？", gotQuestion)
	assert.Equal(t, "line", gotChannel)
	assert.Equal(t, "key-1", gotKey)
	assert.JSONEq(t, `{"__AnswerBy__":"GenAI"}`, string(res.Body))
	assert.False(t, res.SentAt.IsZero())
	assert.GreaterOrEqual(t, res.ResponseTimeMs(), int64(0))
}

func TestAsk_ServerErrorIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL, "", "web", "", 5*time.Second)
	_, err := c.Ask(context.Background(), "q")
	assert.ErrorIs(t, err, ErrTransport)
}

func TestSizeAndTail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/qa/log", r.URL.Path)
		require.Equal(t, "/var/log/qa.log", r.URL.Query().Get("file"))
		if r.URL.Query().Get("sizeOnly") == "1" {
			w.Write([]byte(" 2048 \n"))
			return
		}
		assert.Equal(t, "1024", r.URL.Query().Get("offset"))
		assert.Equal(t, "512", r.URL.Query().Get("length"))
		w.Write([]byte("tail content"))
	}))
	defer srv.Close()

	c := New(srv.URL, "/var/log/qa.log", "web", "", 5*time.Second)

	size, err := c.Size(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2048), size)

	tail, err := c.Tail(context.Background(), 1024, 512)
	require.NoError(t, err)
	assert.Equal(t, "tail content", tail)
}

func TestSize_BadBodyIsProbeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not a number"))
	}))
	defer srv.Close()

	c := New(srv.URL, "x.log", "web", "", 5*time.Second)
	_, err := c.Size(context.Background())
	assert.ErrorIs(t, err, ErrProbe)
}

func TestParseChannel(t *testing.T) {
	name, key := ParseChannel("Line Bot (abc-123)")
	assert.Equal(t, "Line Bot", name)
	assert.Equal(t, "abc-123", key)

	name, key = ParseChannel("default")
	assert.Equal(t, "web", name)
	assert.Empty(t, key)

	name, key = ParseChannel("")
	assert.Equal(t, "web", name)
	assert.Empty(t, key)

	name, key = ParseChannel("voice")
	assert.Equal(t, "voice", name)
	assert.Empty(t, key)
}
