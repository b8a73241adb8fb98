package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/narra-sync/internal/backend/backendtest"
	"github.com/cuongbtq/narra-sync/internal/pipeline"
)

func newEngine(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /audio_query", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("text") == "fail" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		_, _ = w.Write([]byte(`{"speedScale":1.0}`))
	})
	mux.HandleFunc("POST /synthesis", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(backendtest.WAV(24000, 0.5, false))
	})
	// the same server stands in for the midjourney proxy health check
	mux.HandleFunc("GET /mj/task/list", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
	mux.HandleFunc("GET /speakers", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"name":"青山龍星","styles":[{"id":13,"name":"ノーマル"}]}]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, engineURL string) (string, string) {
	t.Helper()
	return writeConfigWithProxy(t, engineURL, engineURL)
}

func writeConfigWithProxy(t *testing.T, engineURL, proxyURL string) (string, string) {
	t.Helper()
	u, err := url.Parse(proxyURL)
	require.NoError(t, err)
	dir := t.TempDir()
	cfg := fmt.Sprintf(`
logging:
  level: error
  output: %s
voicevox:
  url: %s
  retry:
    max_attempts: 1
midjourney:
  host: %s
  port: %s
output:
  dir: %s
  audio_dir: %s
  image_dir: %s
`, filepath.Join(dir, "cli.log"), engineURL, u.Hostname(), u.Port(), dir, filepath.Join(dir, "audio"), filepath.Join(dir, "images"))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path, dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root, a := newRootCommand()
	t.Cleanup(a.close)

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	root, _ := newRootCommand()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"voice", "images", "regenerate", "speakers"})
}

func TestRootCommand_ConfigPathFromEnv(t *testing.T) {
	t.Setenv("NARRA_SYNC_CONFIG_PATH", "/etc/narra/config.yaml")
	root, _ := newRootCommand()

	assert.Equal(t, "/etc/narra/config.yaml", root.PersistentFlags().Lookup("config").DefValue)
}

func TestRootCommand_HelpNeedsNoConfig(t *testing.T) {
	out, err := execute(t, "--config", "/does/not/exist.yaml", "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "narra-sync")
}

func TestRootCommand_MissingConfig(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "speakers")
	assert.ErrorContains(t, err, "failed to load config")
}

func TestVoiceCommand(t *testing.T) {
	engine := newEngine(t)
	configPath, dir := writeConfig(t, engine.URL)

	story := filepath.Join(dir, "story.txt")
	require.NoError(t, os.WriteFile(story, []byte("こんにちは\n\nさようなら\n"), 0o644))

	out, err := execute(t, "--config", configPath, "voice", story, "--json")
	require.NoError(t, err)

	var report pipeline.VoiceReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 3, report.TotalSentences)
	assert.Equal(t, 2, report.SuccessfulGenerations)
	assert.InDelta(t, 1.0, report.TotalDuration, 0.01)
	assert.True(t, report.AudioFiles[1].Skipped)

	assert.FileExists(t, filepath.Join(dir, "audio", "audio_000.wav"))
	assert.FileExists(t, filepath.Join(dir, "audio", "audio_002.wav"))
	assert.FileExists(t, filepath.Join(dir, "audio", "story_audio_info.json"))
}

func TestVoiceCommand_ReportsFailures(t *testing.T) {
	engine := newEngine(t)
	configPath, dir := writeConfig(t, engine.URL)

	story := filepath.Join(dir, "story.txt")
	require.NoError(t, os.WriteFile(story, []byte("ok\nfail\n"), 0o644))

	out, err := execute(t, "--config", configPath, "voice", story)
	assert.ErrorContains(t, err, "1 sentences failed")
	assert.Contains(t, out, "Generated 1/2 audio files")
	assert.Contains(t, out, "#001 failed (SUBMISSION_FAILURE)")
}

func TestSpeakersCommand(t *testing.T) {
	engine := newEngine(t)
	configPath, _ := writeConfig(t, engine.URL)

	out, err := execute(t, "--config", configPath, "speakers")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "ID")
	assert.Contains(t, lines[1], "13")
	assert.Contains(t, lines[1], "青山龍星")
}

func TestRegenerateCommand_InvalidArgs(t *testing.T) {
	engine := newEngine(t)
	configPath, dir := writeConfig(t, engine.URL)

	_, err := execute(t, "--config", configPath, "regenerate", filepath.Join(dir, "key_scenes.json"), "four")
	assert.ErrorContains(t, err, "invalid scene id")

	scenes := filepath.Join(dir, "key_scenes.json")
	require.NoError(t, os.WriteFile(scenes, []byte(`[{"scene_id":1,"prompt":"harbour"}]`), 0o644))
	_, err = execute(t, "--config", configPath, "regenerate", scenes, "2")
	assert.ErrorIs(t, err, pipeline.ErrSceneNotFound)
}

func TestImageCommands_ProxyUnreachable(t *testing.T) {
	engine := newEngine(t)
	// answers 404 on every path, like another service on the proxy's port
	other := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(other.Close)
	configPath, dir := writeConfigWithProxy(t, engine.URL, other.URL)

	scenes := filepath.Join(dir, "key_scenes.json")
	original := []byte(`[{"scene_id":1,"prompt":"harbour"}]`)
	require.NoError(t, os.WriteFile(scenes, original, 0o644))

	_, err := execute(t, "--config", configPath, "images", scenes)
	assert.ErrorContains(t, err, "midjourney proxy")
	assert.ErrorContains(t, err, "MIDJOURNEY_API_PORT")

	_, err = execute(t, "--config", configPath, "regenerate", scenes, "1")
	assert.ErrorContains(t, err, "midjourney proxy")

	_, statErr := os.Stat(filepath.Join(dir, "images", "key_scenes_image_info.json"))
	assert.ErrorIs(t, statErr, os.ErrNotExist)
	data, readErr := os.ReadFile(scenes)
	require.NoError(t, readErr)
	assert.Equal(t, original, data)
}
