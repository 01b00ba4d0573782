package transcribe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsAudioMediaType(t *testing.T) {
	assert.True(t, IsAudioMediaType("audio/ogg"))
	assert.True(t, IsAudioMediaType("audio/ogg; codecs=opus"))
	assert.True(t, IsAudioMediaType("AUDIO/MPEG"))
	assert.True(t, IsAudioMediaType("application/ogg"))
	assert.True(t, IsAudioMediaType(" audio/wav "))

	assert.False(t, IsAudioMediaType("image/jpeg"))
	assert.False(t, IsAudioMediaType("video/mp4"))
	assert.False(t, IsAudioMediaType("application/pdf"))
	assert.False(t, IsAudioMediaType(""))
}

func TestResolveEncoding(t *testing.T) {
	enc, rates := resolveEncoding("audio/ogg; codecs=opus")
	assert.Equal(t, "OGG_OPUS", enc)
	assert.Equal(t, []int{16000, 24000, 12000, 48000, 8000}, rates)

	enc, rates = resolveEncoding("audio/mpeg")
	assert.Equal(t, "MP3", enc)
	assert.Equal(t, []int{16000, 0}, rates)

	enc, rates = resolveEncoding("audio/whatever")
	assert.Equal(t, "OGG_OPUS", enc, "unknown audio types assume a WhatsApp voice note")
	assert.Len(t, rates, 5)
}

func newTestSTT(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient("test-key", "pt-BR", 2*time.Second)
	c.endpoint = srv.URL
	return c
}

func TestTranscribeSuccess(t *testing.T) {
	var gotCfg map[string]any
	c := newTestSTT(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		gotCfg = body["config"].(map[string]any)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[{"alternatives":[{"transcript":"quero ver o catálogo "}]}]}`))
	})

	text := c.Transcribe(context.Background(), []byte("fake-ogg-bytes"), "audio/ogg")
	assert.Equal(t, "quero ver o catálogo", text)
	assert.Equal(t, "OGG_OPUS", gotCfg["encoding"])
	assert.Equal(t, "pt-BR", gotCfg["languageCode"])
	assert.Equal(t, 16000.0, gotCfg["sampleRateHertz"], "first opus candidate rate")
}

func TestTranscribeRetriesSampleRatesOnInvalidArgument(t *testing.T) {
	var rates []float64
	c := newTestSTT(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		cfg := body["config"].(map[string]any)
		rate := cfg["sampleRateHertz"].(float64)
		rates = append(rates, rate)

		w.Header().Set("Content-Type", "application/json")
		if rate != 48000 {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"code":400,"status":"INVALID_ARGUMENT","message":"sample_rate_hertz"}}`))
			return
		}
		w.Write([]byte(`{"results":[{"alternatives":[{"transcript":"oi"}]}]}`))
	})

	text := c.Transcribe(context.Background(), []byte("fake"), "audio/ogg")
	require.Equal(t, "oi", text)
	assert.Equal(t, []float64{16000, 24000, 12000, 48000}, rates)
}

func TestTranscribePermanentErrorReturnsEmpty(t *testing.T) {
	calls := 0
	c := newTestSTT(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"code":403,"status":"PERMISSION_DENIED","message":"bad key"}}`))
	})

	assert.Empty(t, c.Transcribe(context.Background(), []byte("fake"), "audio/ogg"))
	assert.Equal(t, 1, calls, "only InvalidArgument triggers another attempt")
}

func TestTranscribeNoSpeechReturnsEmpty(t *testing.T) {
	c := newTestSTT(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[]}`))
	})
	assert.Empty(t, c.Transcribe(context.Background(), []byte("fake"), "audio/ogg"))
}

func TestTranscribeGuards(t *testing.T) {
	c := NewClient("", "pt-BR", time.Second)
	assert.Empty(t, c.Transcribe(context.Background(), []byte("fake"), "audio/ogg"), "no api key")

	c = NewClient("key", "pt-BR", time.Second)
	assert.Empty(t, c.Transcribe(context.Background(), nil, "audio/ogg"), "no audio")
}
