package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/kaggler/internal/agent"
	"github.com/soyeahso/kaggler/internal/config"
	"github.com/soyeahso/kaggler/internal/domain"
	"github.com/soyeahso/kaggler/internal/logging"
	"github.com/soyeahso/kaggler/internal/session"
	"github.com/soyeahso/kaggler/internal/store"
	"github.com/soyeahso/kaggler/internal/version"
)

func init() {
	log = logging.New(nil, "silent")
}

type fakeRunner struct {
	texts  []string
	resets int
	err    error
}

func (f *fakeRunner) SubmitTurn(_ context.Context, req agent.TurnRequest) (*agent.TurnResult, error) {
	f.texts = append(f.texts, req.Text)
	if f.err != nil {
		return nil, f.err
	}
	return &agent.TurnResult{Answer: "answer: " + req.Text}, nil
}

func (f *fakeRunner) SubmitTurnStream(_ context.Context, req agent.TurnRequest) (<-chan agent.TurnEvent, error) {
	f.texts = append(f.texts, req.Text)
	ch := make(chan agent.TurnEvent, 4)
	ch <- agent.TurnEvent{Type: agent.EventToolStart, Tool: "rag_tool"}
	ch <- agent.TurnEvent{Type: agent.EventDelta, Content: "ans"}
	ch <- agent.TurnEvent{Type: agent.EventDelta, Content: "wer"}
	if f.err != nil {
		ch <- agent.TurnEvent{Type: agent.EventError, Error: f.err.Error()}
	} else {
		ch <- agent.TurnEvent{Type: agent.EventDone, Content: "answer"}
	}
	close(ch)
	return ch, nil
}

func (f *fakeRunner) ResetTopic(context.Context, string) (string, error) {
	f.resets++
	return "thread_fresh", nil
}

// --- chat tests ---

func TestChatter_Turn(t *testing.T) {
	var out bytes.Buffer
	r := &fakeRunner{}
	c := chatter{svc: r, out: &out, topic: "titanic"}

	require.NoError(t, c.turn(context.Background(), "hello"))
	assert.Equal(t, "answer: hello\n", out.String())
}

func TestChatter_TurnStream(t *testing.T) {
	var out bytes.Buffer
	c := chatter{svc: &fakeRunner{}, out: &out, topic: "titanic", stream: true}

	require.NoError(t, c.turn(context.Background(), "hello"))
	assert.Equal(t, "answer\n", out.String())
}

func TestChatter_TurnStreamError(t *testing.T) {
	var out bytes.Buffer
	c := chatter{svc: &fakeRunner{err: errors.New("boom")}, out: &out, topic: "titanic", stream: true}

	assert.EqualError(t, c.turn(context.Background(), "hello"), "boom")
}

func TestChatter_REPL(t *testing.T) {
	var out bytes.Buffer
	r := &fakeRunner{}
	c := chatter{svc: r, out: &out, topic: "titanic", handle: "thread_old"}

	in := strings.NewReader("first question\n\n/help\n/reset\nsecond\n/quit\nnever sent\n")
	require.NoError(t, c.repl(context.Background(), in))

	assert.Equal(t, []string{"first question", "second"}, r.texts)
	assert.Equal(t, 1, r.resets)
	assert.Empty(t, c.handle, "reset drops the pinned handle")
	assert.Contains(t, out.String(), "answer: first question")
	assert.Contains(t, out.String(), "/reset")
	assert.Contains(t, out.String(), "thread_fresh")
}

func TestChatter_REPLKeepsGoingAfterError(t *testing.T) {
	var out bytes.Buffer
	r := &fakeRunner{err: errors.New("provider down")}
	c := chatter{svc: r, out: &out, topic: "titanic"}

	require.NoError(t, c.repl(context.Background(), strings.NewReader("a\nb\n")))
	assert.Len(t, r.texts, 2)
	assert.Contains(t, out.String(), "error: provider down")
}

// --- storage tests ---

func TestOpenStorage_Memory(t *testing.T) {
	st, err := openStorage(config.StorageConfig{Driver: "memory"}, log)
	require.NoError(t, err)
	defer st.Close()

	assert.Nil(t, st.db)
	assert.Nil(t, st.transcripts)
	assert.IsType(t, &session.MemoryCheckpointer{}, st.checkpoints)
}

func TestOpenStorage_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "kaggler.db")
	st, err := openStorage(config.StorageConfig{Driver: "sqlite", Path: path, Checkpoints: "sqlite"}, log)
	require.NoError(t, err)
	defer st.Close()

	require.NotNil(t, st.db)
	assert.NotNil(t, st.transcripts)
	assert.IsType(t, &store.SQLiteCheckpointer{}, st.checkpoints)
	assert.FileExists(t, path)

	ctx := context.Background()
	require.NoError(t, st.checkpoints.Store(ctx, "thread_a", domain.NewState("titanic")))
	_, ok, err := st.checkpoints.Load(ctx, "thread_a")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOpenStorage_UnknownDriver(t *testing.T) {
	_, err := openStorage(config.StorageConfig{Driver: "postgres"}, log)
	assert.ErrorContains(t, err, "postgres")
}

// --- output helpers ---

func TestPrintTopics(t *testing.T) {
	var out bytes.Buffer
	printTopics(&out, nil)
	assert.Equal(t, "No topics yet.\n", out.String())

	out.Reset()
	printTopics(&out, []domain.SnapshotInfo{{
		TopicKey:      "titanic",
		SessionHandle: "thread_titanic",
		Messages:      6,
		HasSummary:    true,
		SavedAt:       time.Now(),
	}})
	assert.Contains(t, out.String(), "titanic")
	assert.Contains(t, out.String(), "6 msgs")
	assert.Contains(t, out.String(), "summarized")
}

func TestOneLine(t *testing.T) {
	assert.Equal(t, "a b c", oneLine("a\n b\t\tc", 10))
	assert.Equal(t, "abc...", oneLine("abcdef", 3))
}

// --- command tests ---

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("KAGGLER_HOME", t.TempDir())
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--log-level", "silent"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := runCmd(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "kaggler")
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestConfigValidateCmd(t *testing.T) {
	path := writeConfig(t, "llm:\n  provider: ollama\ntools:\n  rag:\n    endpoint: http://localhost:3000\n")

	out, err := runCmd(t, "--config", path, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "Config OK")
}

func TestConfigValidateCmd_Issues(t *testing.T) {
	path := writeConfig(t, "llm:\n  provider: ollama\nstorage:\n  driver: postgres\n")

	out, err := runCmd(t, "--config", path, "config", "validate")
	assert.Error(t, err)
	assert.Contains(t, out, "storage.driver")
	assert.Contains(t, out, "tools.rag.endpoint")
}

func TestChatCmd_RequiresTopic(t *testing.T) {
	_, err := runCmd(t, "chat", "hello")
	assert.ErrorContains(t, err, "topic")
}

func TestConfigSetGetUnset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	out, err := runCmd(t, "--config", path, "config", "set", "tools.rag.k", "8")
	require.NoError(t, err)
	assert.Contains(t, out, "tools.rag.k = 8")
	assert.Contains(t, out, "note:", "defaults alone leave issues to report")

	out, err = runCmd(t, "--config", path, "config", "get", "tools.rag.k")
	require.NoError(t, err)
	assert.Equal(t, "8\n", out)

	out, err = runCmd(t, "--config", path, "config", "get", "tools")
	require.NoError(t, err)
	assert.Contains(t, out, "rag:")

	_, err = runCmd(t, "--config", path, "config", "unset", "tools.rag.k")
	require.NoError(t, err)
	_, err = runCmd(t, "--config", path, "config", "get", "tools.rag.k")
	assert.ErrorContains(t, err, "not set")
}

func TestConfigSet_KeepsSiblingKeys(t *testing.T) {
	path := writeConfig(t, "llm:\n  provider: openai\n  apiKey: ${OPENAI_API_KEY}\n")

	_, err := runCmd(t, "--config", path, "config", "set", "llm.model", "gpt-4o")
	require.NoError(t, err)

	out, err := runCmd(t, "--config", path, "config", "get", "llm.apiKey")
	require.NoError(t, err)
	assert.Equal(t, "${OPENAI_API_KEY}\n", out)

	out, err = runCmd(t, "--config", path, "config", "get", "llm.provider")
	require.NoError(t, err)
	assert.Equal(t, "openai\n", out)

	_, err = runCmd(t, "--config", path, "config", "unset", "llm.model")
	require.NoError(t, err)

	doc, err := config.LoadDocument(path)
	require.NoError(t, err)
	assert.Equal(t, config.Document{"llm": map[string]any{
		"provider": "openai",
		"apiKey":   "${OPENAI_API_KEY}",
	}}, doc)
}

func TestConfigSet_RejectsBadEdits(t *testing.T) {
	path := writeConfig(t, "gateway:\n  port: 18790\n")

	_, err := runCmd(t, "--config", path, "config", "set", "gateway.port", "eighty")
	assert.ErrorContains(t, err, "not saved")

	_, err = runCmd(t, "--config", path, "config", "set", "plugins.x", "1")
	assert.ErrorContains(t, err, "unknown section")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "gateway:\n  port: 18790\n", string(data))
}

func TestConfigPathCmd(t *testing.T) {
	path := writeConfig(t, "")
	out, err := runCmd(t, "--config", path, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, path+"\n", out)
}

func TestVersionCmd_JSON(t *testing.T) {
	out, err := runCmd(t, "version", "--json")
	require.NoError(t, err)

	var b version.Build
	require.NoError(t, json.Unmarshal([]byte(out), &b))
	assert.NotEmpty(t, b.Version)
	assert.NotEmpty(t, b.Platform)
}

func TestGatewayFlags_Apply(t *testing.T) {
	cfg := config.Defaults().Gateway
	want := cfg

	gatewayFlags{}.apply(&cfg)
	assert.Equal(t, want, cfg, "zero flags change nothing")

	gatewayFlags{port: 9100, bind: "lan"}.apply(&cfg)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "lan", cfg.Bind)
}
