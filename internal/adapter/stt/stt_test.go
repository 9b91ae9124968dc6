package stt

import (
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/salescall/internal/audio"
)

func TestEndpoint(t *testing.T) {
	endpoint, header, err := Endpoint(Options{URL: "wss://stt.example/v1/listen", APIKey: "k"})
	require.NoError(t, err)

	u, err := url.Parse(endpoint)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "linear16", q.Get("encoding"))
	assert.Equal(t, "16000", q.Get("sample_rate"))
	assert.Equal(t, "nova-2", q.Get("model"))
	assert.Equal(t, "true", q.Get("interim_results"))
	assert.Equal(t, "Token k", header.Get("Authorization"))
}

func TestDecode(t *testing.T) {
	res, ok, err := Decode([]byte(`{"type":"Results","channel":{"alternatives":[{"transcript":" Hello there ","confidence":0.9}]},"is_final":true,"speech_final":false}`))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Result{Text: "Hello there", IsFinal: true}, res)

	_, ok, err = Decode([]byte(`{"type":"Metadata","request_id":"r1"}`))
	require.NoError(t, err)
	assert.False(t, ok)

	res, ok, err = Decode([]byte(`{"type":"UtteranceEnd"}`))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, res.SpeechFinal)

	_, _, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestMockServer(t *testing.T) {
	server := httptest.NewServer(NewMockServer("hello world", nil))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	loud := audio.Float32ToPCM16([]float32{0.5, -0.5, 0.5, -0.5})
	quiet := audio.Float32ToPCM16(make([]float32, 4))

	var results []Result
	read := func() {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		res, ok, err := Decode(data)
		require.NoError(t, err)
		require.True(t, ok)
		results = append(results, res)
	}

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, loud))
	read()
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, loud))
	read()
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, quiet))
	read()

	assert.Equal(t, []Result{
		{Text: "hello"},
		{Text: "hello world"},
		{Text: "hello world", IsFinal: true, SpeechFinal: true},
	}, results)
}
