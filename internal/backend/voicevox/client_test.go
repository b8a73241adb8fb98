package voicevox

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/narra-sync/internal/backend/backendtest"
	"github.com/cuongbtq/narra-sync/internal/orchestrator/domain"
	"github.com/cuongbtq/narra-sync/shared/retry"
)

type fakeEngine struct {
	queryFailures atomic.Int32
	queryStatus   int
	synthCalls    atomic.Int32
	lastSpeed     atomic.Value
	lastSpeaker   atomic.Value
}

func (e *fakeEngine) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /audio_query", func(w http.ResponseWriter, r *http.Request) {
		if e.queryFailures.Load() > 0 {
			e.queryFailures.Add(-1)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if e.queryStatus != 0 {
			w.WriteHeader(e.queryStatus)
			_, _ = w.Write([]byte(`{"detail":"bad text"}`))
			return
		}
		assert.NotEmpty(t, r.URL.Query().Get("text"))
		e.lastSpeaker.Store(r.URL.Query().Get("speaker"))
		_ = json.NewEncoder(w).Encode(map[string]any{"speedScale": 1.0, "accent_phrases": []any{}})
	})
	mux.HandleFunc("POST /synthesis", func(w http.ResponseWriter, r *http.Request) {
		e.synthCalls.Add(1)
		body, _ := io.ReadAll(r.Body)
		var q map[string]any
		assert.NoError(t, json.Unmarshal(body, &q))
		e.lastSpeed.Store(q["speedScale"])
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(backendtest.WAV(24000, 1.25, false))
	})
	mux.HandleFunc("GET /speakers", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"name":"ずんだもん","styles":[{"id":1,"name":"あまあま"},{"id":3,"name":"ノーマル"}]},
			{"name":"青山龍星","styles":[{"id":13,"name":"ノーマル"}]}
		]`))
	})
	return mux
}

func newTestClient(t *testing.T, engine *fakeEngine) *Client {
	t.Helper()
	srv := httptest.NewServer(engine.handler(t))
	t.Cleanup(srv.Close)

	return NewClient(Config{
		BaseURL: srv.URL + "/",
		Retry:   retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond},
	}, srv.Client(), nil)
}

func TestSynthesize_WritesAudio(t *testing.T) {
	engine := &fakeEngine{}
	client := newTestClient(t, engine)
	out := filepath.Join(t.TempDir(), "audio", "audio_000.wav")

	art, err := client.Synthesize(context.Background(), domain.Payload{
		Text:   "こんにちは",
		Output: out,
		Params: map[string]string{ParamSpeaker: "3", ParamSpeed: "1.2"},
	})
	require.NoError(t, err)

	assert.Equal(t, out, art.Path)
	assert.InDelta(t, 1.25, art.Duration.Seconds(), 0.001)
	assert.FileExists(t, out)
	assert.Equal(t, "3", engine.lastSpeaker.Load())
	assert.Equal(t, 1.2, engine.lastSpeed.Load())
}

func TestSynthesize_DefaultsSpeakerAndSpeed(t *testing.T) {
	engine := &fakeEngine{}
	client := newTestClient(t, engine)

	_, err := client.Synthesize(context.Background(), domain.Payload{Text: "hello"})
	require.NoError(t, err)

	assert.Equal(t, "13", engine.lastSpeaker.Load())
	assert.Equal(t, 1.0, engine.lastSpeed.Load())
}

func TestSynthesize_RetriesServerErrors(t *testing.T) {
	engine := &fakeEngine{}
	engine.queryFailures.Store(2)
	client := newTestClient(t, engine)

	_, err := client.Synthesize(context.Background(), domain.Payload{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), engine.synthCalls.Load())
}

func TestSynthesize_Failures(t *testing.T) {
	tests := []struct {
		name     string
		engine   *fakeEngine
		payload  domain.Payload
		wantKind domain.ErrorKind
	}{
		{
			name: "retries exhausted",
			engine: func() *fakeEngine {
				e := &fakeEngine{}
				e.queryFailures.Store(5)
				return e
			}(),
			payload:  domain.Payload{Text: "hello"},
			wantKind: domain.KindSubmissionFailure,
		},
		{
			name:     "client error is not retried",
			engine:   &fakeEngine{queryStatus: http.StatusUnprocessableEntity},
			payload:  domain.Payload{Text: "hello"},
			wantKind: domain.KindSubmissionFailure,
		},
		{
			name:     "bad speaker parameter",
			engine:   &fakeEngine{},
			payload:  domain.Payload{Text: "hello", Params: map[string]string{ParamSpeaker: "narrator"}},
			wantKind: domain.KindSubmissionFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, tt.engine)
			_, err := client.Synthesize(context.Background(), tt.payload)
			assert.Equal(t, tt.wantKind, domain.KindOf(err))
			assert.Zero(t, tt.engine.synthCalls.Load())
		})
	}
}

func TestSynthesize_UnwritableOutput(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	client := newTestClient(t, &fakeEngine{})
	_, err := client.Synthesize(context.Background(), domain.Payload{
		Text:   "hello",
		Output: filepath.Join(blocker, "audio_000.wav"),
	})

	assert.Equal(t, domain.KindDownloadFailure, domain.KindOf(err))
}

func TestAdapter_RunsThroughDirect(t *testing.T) {
	client := newTestClient(t, &fakeEngine{})
	adapter := client.Adapter()

	assert.Equal(t, Name, adapter.Name())
	art, err := adapter.Run(context.Background(), domain.Payload{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", art.Input.Text)
}

func TestListSpeakers(t *testing.T) {
	client := newTestClient(t, &fakeEngine{})

	speakers, err := client.ListSpeakers(context.Background())
	require.NoError(t, err)
	require.Len(t, speakers, 3)
	assert.Equal(t, Speaker{ID: 1, Name: "ずんだもん", Style: "あまあま"}, speakers[0])
	assert.Equal(t, 13, speakers[2].ID)
}
