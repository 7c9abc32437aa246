package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/soyeahso/kaggler/internal/agent"
	"github.com/soyeahso/kaggler/internal/codec"
	"github.com/soyeahso/kaggler/internal/config"
	"github.com/soyeahso/kaggler/internal/hooks"
	"github.com/soyeahso/kaggler/internal/llm"
	"github.com/soyeahso/kaggler/internal/logging"
	"github.com/soyeahso/kaggler/internal/session"
	"github.com/soyeahso/kaggler/internal/store"
	"github.com/soyeahso/kaggler/internal/tools"
	"github.com/soyeahso/kaggler/internal/topic"
)

const hookDrainTimeout = 5 * time.Second

// storage is the persistence layer selected by the storage config section.
type storage struct {
	db          *store.DB // nil for the memory driver
	kv          store.KV
	codec       *codec.Codec
	checkpoints session.Checkpointer
	transcripts agent.TranscriptArchive // nil without a database
}

func (s *storage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func openStorage(cfg config.StorageConfig, log *logging.Logger) (*storage, error) {
	st := &storage{codec: codec.New(log)}

	switch cfg.Driver {
	case "memory":
		st.kv = store.NewMemoryKV()
		st.checkpoints = session.NewMemoryCheckpointer()
		log.Info().Msg("using in-memory storage")
		return st, nil
	case "sqlite", "":
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}

	db, err := store.Open(paths.DatabasePath(cfg), log)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	st.db = db
	st.kv = store.NewSQLiteKV(db)
	st.transcripts = store.NewTranscriptStore(db)
	if cfg.Checkpoints == "sqlite" {
		st.checkpoints = store.NewSQLiteCheckpointer(db, st.codec)
	} else {
		st.checkpoints = session.NewMemoryCheckpointer()
	}
	return st, nil
}

// app is the fully wired turn service plus everything that must be closed
// with it.
type app struct {
	cfg     config.Config
	storage *storage
	hooks   *hooks.Manager
	svc     *agent.Service
}

// Close waits briefly for async hooks such as turn_end, then closes storage.
func (a *app) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), hookDrainTimeout)
	defer cancel()
	if err := a.hooks.Drain(ctx); err != nil {
		log.Warn().Err(err).Msg("exiting with hooks still running")
	}
	return a.storage.Close()
}

// loadConfig loads and validates the config file.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return cfg, err
	}
	if issues := config.Validate(&cfg); len(issues) > 0 {
		for _, issue := range issues {
			log.Error().Str("path", issue.Path).Msg(issue.Message)
		}
		return cfg, errValidation(len(issues))
	}
	return cfg, nil
}

func errValidation(n int) error {
	return fmt.Errorf("config validation failed with %d issue(s)", n)
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	registry := llm.NewRegistryFromConfig(cfg.LLM, log)
	if len(registry.List()) == 0 {
		return nil, fmt.Errorf("no LLM provider available (llm.provider=%s)", cfg.LLM.Provider)
	}
	fallbacks := make([]string, 0, len(cfg.LLM.Fallbacks))
	for _, fb := range cfg.LLM.Fallbacks {
		fallbacks = append(fallbacks, fb.Name())
	}
	client := agent.NewFailoverClient(registry, cfg.LLM.Provider, fallbacks, log)

	toolReg, err := tools.FromConfig(ctx, cfg.Tools, log)
	if err != nil {
		return nil, err
	}
	if len(toolReg.Names()) == 0 {
		log.Warn().Msg("no retrieval tools configured, answers will come from the model alone")
	}

	st, err := openStorage(cfg.Storage, log)
	if err != nil {
		return nil, err
	}

	o := cfg.Orchestration
	opts := agent.DefaultOptions()
	opts.MaxTokens = cfg.LLM.MaxTokens
	opts.Temperature = cfg.LLM.Temperature
	opts.PrimaryTool = o.PrimaryTool
	opts.FallbackTool = o.FallbackTool
	opts.MaxRetries = o.MaxRetries
	opts.MaxToolRounds = o.MaxToolRounds

	engine := agent.NewEngine(agent.EngineDeps{
		Client:     client,
		Tools:      toolReg,
		Topics:     topic.FromConfig(cfg.Topics, log),
		Evaluator:  agent.NewLLMEvaluator(client, cfg.LLM.EvalTemperature, o.EvaluatorContentLimit),
		Summarizer: agent.NewSummarizer(client, cfg.LLM.SummaryTemperature, o.SummaryThreshold, o.RetainMessages, log),
		Trimmer:    agent.NewTrimmer(agent.NewTokenCounter(cfg.LLM.Model), o.TokenBudget),
	}, opts, log)

	hookMgr := hooks.NewManager(log)
	if n := hooks.RegisterCommands(hookMgr, cfg.Hooks); n > 0 {
		log.Info().Int("hooks", n).Strs("events", hookMgr.Events()).Msg("command hooks registered")
	}

	svc := agent.NewService(agent.ServiceDeps{
		Engine:        engine,
		Registry:      session.NewRegistry(st.kv, cfg.Session.User, log),
		Snapshots:     session.NewSnapshotStore(st.kv, st.codec, log),
		Checkpoints:   st.checkpoints,
		Transcripts:   st.transcripts,
		Hooks:         hookMgr,
		MaxConcurrent: o.MaxConcurrentTurns,
	}, log)

	log.Info().
		Strs("providers", registry.List()).
		Strs("tools", toolReg.Names()).
		Str("storage", cfg.Storage.Driver).
		Msg("kaggler ready")

	return &app{cfg: cfg, storage: st, hooks: hookMgr, svc: svc}, nil
}

// withApp loads config, builds the app, runs fn and closes the app.
func withApp(ctx context.Context, fn func(a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
