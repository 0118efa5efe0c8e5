package channel

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "привет...", Truncate("привет мир!", 9))
	assert.Equal(t, "ab", Truncate("abcdef", 2))
	assert.Len(t, []rune(Truncate(strings.Repeat("я", 5000), MaxMessageLength)), MaxMessageLength)
}

func TestSendText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"chat_id": "42", "text": "✅ Task completed"}`, string(body))
		w.Write([]byte(`{"ok": true, "result": {}}`))
	}))
	defer server.Close()

	ch := NewTelegramChannel(server.URL, "TOKEN")
	require.NoError(t, ch.SendText(context.Background(), "42", "✅ Task completed"))
}

func TestSendTextTruncatesLongMessages(t *testing.T) {
	var received int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req sendMessageRequest
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, sonic.ConfigStd.Unmarshal(body, &req))
		received = len([]rune(req.Text))
		w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	ch := NewTelegramChannel(server.URL, "TOKEN")
	require.NoError(t, ch.SendText(context.Background(), "42", strings.Repeat("a", 10000)))
	assert.Equal(t, MaxMessageLength, received)
}

func TestSendTextError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok": false, "error_code": 400, "description": "Bad Request: chat not found"}`))
	}))
	defer server.Close()

	err := NewTelegramChannel(server.URL, "TOKEN").SendText(context.Background(), "42", "hi")
	assert.ErrorIs(t, err, ErrSendFailed)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestSendVoice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendVoice", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "42", r.FormValue("chat_id"))

		file, header, err := r.FormFile("voice")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "answer.ogg", header.Filename)
		data, _ := io.ReadAll(file)
		assert.Equal(t, "OggS", string(data))

		w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	ch := NewTelegramChannel(server.URL, "TOKEN")
	require.NoError(t, ch.SendVoice(context.Background(), "42", "answer.ogg", bytes.NewReader([]byte("OggS"))))
}
