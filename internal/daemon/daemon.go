package daemon

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/harun/deskd/internal/config"
	"github.com/harun/deskd/internal/gateway"
	"github.com/harun/deskd/internal/logger"
	"github.com/harun/deskd/internal/metrics"
	"github.com/harun/deskd/internal/observability"
	"github.com/harun/deskd/pkg/conversation"
	"github.com/harun/deskd/pkg/hitl"
	"github.com/harun/deskd/pkg/knowledge"
	"github.com/harun/deskd/pkg/orchestrator"
	"github.com/harun/deskd/pkg/reasoner"
	"github.com/harun/deskd/pkg/specialist"
	"github.com/harun/deskd/pkg/supervisor"
	"github.com/harun/deskd/pkg/supporttools"
	"github.com/harun/deskd/pkg/tools"
)

// Daemon is the assembled support desk service.
type Daemon struct {
	cfg     *config.Config
	log     *logger.Logger
	zlog    zerolog.Logger
	store   conversation.Store
	index   *knowledge.Index
	metrics *metrics.Metrics
	auditor *observability.AuditLogger
	gate    *hitl.Gate
	orch    *orchestrator.Orchestrator
	server  *gateway.Server
	cron    *cron.Cron
}

// New builds the daemon from configuration. Nothing starts serving
// until Run is called.
func New(cfg *config.Config) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	zlog := log.Zerolog()

	d := &Daemon{cfg: cfg, log: log, zlog: zlog}
	if err := d.build(); err != nil {
		d.closeAll()
		return nil, err
	}
	return d, nil
}

func (d *Daemon) build() error {
	cfg := d.cfg

	store, err := conversation.NewSQLiteStore(cfg.StorePath, d.zlog)
	if err != nil {
		return fmt.Errorf("failed to open thread store: %w", err)
	}
	d.store = store

	registry := tools.NewRegistry()
	if err := supporttools.RegisterAll(registry); err != nil {
		return fmt.Errorf("failed to register support tools: %w", err)
	}

	d.metrics = metrics.NewMetrics()

	var retriever knowledge.Retriever
	if cfg.Retriever.CorpusDir != "" {
		index, err := d.buildIndex()
		if err != nil {
			return err
		}
		d.index = index
		retriever = index
	}

	auditor, err := observability.NewAuditLogger(cfg.Audit.File)
	if err != nil {
		return fmt.Errorf("failed to open audit trail: %w", err)
	}
	d.auditor = auditor

	hub := gateway.NewReviewerHub(d.zlog)

	gate, err := hitl.New(hitl.Config{
		Store:       store,
		Registry:    registry,
		ToolTimeout: time.Duration(cfg.Orchestration.ToolTimeoutSeconds) * time.Second,
		Notifier:    hub,
		Metrics:     d.metrics,
		Logger:      d.zlog,
	})
	if err != nil {
		return fmt.Errorf("failed to create approval gate: %w", err)
	}
	d.gate = gate

	agents, err := d.buildSpecialists(registry, retriever)
	if err != nil {
		return err
	}

	sup := supervisor.New(supervisor.Config{
		Classifier: d.buildClassifier(retriever),
		Logger:     d.zlog,
	})

	orch, err := orchestrator.New(orchestrator.Config{
		Store:      store,
		Supervisor: sup,
		Agents:     agents,
		Gate:       gate,
		Auditor:    auditor,
		Metrics:    d.metrics,
		Logger:     d.zlog,
	})
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	d.orch = orch

	server, err := gateway.NewServer(gateway.Config{
		Host:         cfg.Gateway.Host,
		Port:         cfg.Gateway.Port,
		SharedSecret: cfg.Gateway.SharedSecret,
		Orchestrator: orch,
		Gate:         gate,
		Store:        store,
		Hub:          hub,
		Metrics:      d.metrics.Handler(),
		Logger:       d.zlog,
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}
	d.server = server

	d.cron = cron.New()
	ttl := time.Duration(cfg.Orchestration.ApprovalTTLMinutes) * time.Minute
	if ttl > 0 && cfg.Orchestration.ExpirySweepSpec != "" {
		_, err := d.cron.AddFunc(cfg.Orchestration.ExpirySweepSpec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := d.gate.ExpireStale(ctx, ttl); err != nil {
				d.zlog.Error().Err(err).Msg("Approval expiry sweep failed")
			}
		})
		if err != nil {
			return fmt.Errorf("invalid expiry sweep spec: %w", err)
		}
	}

	return nil
}

func (d *Daemon) buildIndex() (*knowledge.Index, error) {
	cfg := d.cfg

	var embedder knowledge.EmbeddingProvider
	if cfg.Retriever.Embeddings {
		for _, profile := range cfg.AI.Profiles {
			if profile.Provider == "openai" {
				embedder = knowledge.NewOpenAIEmbedder(profile.APIKey, cfg.Retriever.EmbeddingModel)
				break
			}
		}
		if embedder == nil {
			d.zlog.Warn().Msg("Embeddings enabled but no openai profile configured, using keyword search only")
		}
	}

	index, err := knowledge.NewIndex(knowledge.Config{
		CorpusDir: cfg.Retriever.CorpusDir,
		DBPath:    filepath.Join(cfg.DataDir, "knowledge.db"),
		Logger:    d.zlog,
		Embedder:  embedder,
		Timeout:   time.Duration(cfg.Retriever.TimeoutSeconds) * time.Second,
		Metrics:   d.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open knowledge index: %w", err)
	}
	return index, nil
}

// Specialist instructions. The supervisor's routing decides which of
// these handles a thread; the registry is shared.
var specialistPrompts = map[string]string{
	supervisor.AgentBilling: "You are a billing support specialist. You resolve questions about " +
		"invoices, charges, duplicate payments, and refunds. Verify charges with the lookup tools " +
		"before issuing any refund, and state refund confirmations clearly.",
	supervisor.AgentReturns: "You are a returns and exchanges specialist. You check order status " +
		"and return windows, and create RMAs for eligible items. Tell the customer exactly what " +
		"to ship back and what happens next.",
	supervisor.AgentTroubleshoot: "You are a product troubleshooting specialist. You diagnose " +
		"device problems with the diagnostic tools, check warranty coverage, and schedule repairs " +
		"when a fault cannot be fixed remotely.",
}

func (d *Daemon) buildSpecialists(registry *tools.Registry, retriever knowledge.Retriever) ([]*specialist.Engine, error) {
	cfg := d.cfg

	profiles := make([]reasoner.Profile, 0, len(cfg.AI.Profiles))
	for _, p := range cfg.AI.Profiles {
		profiles = append(profiles, reasoner.Profile{
			ID:       p.ID,
			Provider: p.Provider,
			APIKey:   p.APIKey,
			Priority: p.Priority,
		})
	}

	toolDefs := make([]tools.Definition, 0)
	for _, name := range registry.List() {
		if def := registry.Get(name); def != nil {
			toolDefs = append(toolDefs, *def)
		}
	}

	thresholds := tools.Thresholds{
		Limits:          cfg.Approvals.Thresholds,
		DefaultCurrency: cfg.Approvals.DefaultCurrency,
	}

	engines := make([]*specialist.Engine, 0, len(specialistPrompts))
	for _, name := range []string{supervisor.AgentBilling, supervisor.AgentReturns, supervisor.AgentTroubleshoot} {
		proposer, err := reasoner.NewLLMProposer(reasoner.LLMConfig{
			Profiles:     profiles,
			Model:        cfg.Models.Default,
			Temperature:  cfg.Models.Temperature,
			MaxTokens:    cfg.Models.MaxTokens,
			SystemPrompt: specialistPrompts[name],
			Tools:        toolDefs,
			Logger:       d.zlog,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create %s proposer: %w", name, err)
		}

		engine, err := specialist.New(specialist.Config{
			Name:        name,
			Proposer:    proposer,
			Registry:    registry,
			Retriever:   retriever,
			Thresholds:  thresholds,
			MaxCycles:   cfg.Orchestration.MaxDecideCycles,
			StepTimeout: time.Duration(cfg.Orchestration.StepTimeoutSeconds) * time.Second,
			ToolTimeout: time.Duration(cfg.Orchestration.ToolTimeoutSeconds) * time.Second,
			Logger:      d.zlog,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create %s specialist: %w", name, err)
		}
		engines = append(engines, engine)
	}

	return engines, nil
}

// buildClassifier creates the LLM intent classifier from the highest
// priority profile, or nil when no client can be built. The supervisor
// falls back to keyword routing without one.
func (d *Daemon) buildClassifier(retriever knowledge.Retriever) supervisor.Classifier {
	cfg := d.cfg

	best := cfg.AI.Profiles[0]
	for _, p := range cfg.AI.Profiles {
		if p.Priority < best.Priority {
			best = p
		}
	}

	factory := &reasoner.ClientFactory{}
	client, err := factory.NewClient(reasoner.Profile{
		ID:       best.ID,
		Provider: best.Provider,
		APIKey:   best.APIKey,
		Priority: best.Priority,
	})
	if err != nil {
		d.zlog.Warn().Err(err).Msg("No classifier client available, using keyword routing only")
		return nil
	}

	model := cfg.Models.Classifier
	if model == "" {
		model = cfg.Models.Default
	}
	return supervisor.NewLLMClassifier(client, model, retriever)
}

// Run starts serving and blocks until the context is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	d.zlog.Info().
		Int("port", d.cfg.Gateway.Port).
		Int("max_cycles", d.cfg.Orchestration.MaxDecideCycles).
		Msg("Starting support desk daemon")

	if err := d.server.Start(); err != nil {
		return fmt.Errorf("failed to start gateway: %w", err)
	}
	d.cron.Start()

	d.recoverInterrupted(ctx)

	<-ctx.Done()
	d.zlog.Info().Msg("Shutdown signal received")
	return d.Stop()
}

// recoverInterrupted resumes runs that were mid-flight when the
// previous process died. Their checkpoints are still in running state.
func (d *Daemon) recoverInterrupted(ctx context.Context) {
	ids, err := d.store.ListByStatus(ctx, conversation.StatusRunning)
	if err != nil {
		d.zlog.Error().Err(err).Msg("Failed to list interrupted runs")
		return
	}

	for _, id := range ids {
		threadID := id
		d.zlog.Warn().Str("thread_id", threadID).Msg("Resuming interrupted run")
		go func() {
			if err := d.orch.ContinueRun(ctx, threadID); err != nil {
				d.zlog.Error().Err(err).Str("thread_id", threadID).Msg("Failed to resume interrupted run")
			}
		}()
	}
}

// Stop shuts everything down in reverse dependency order.
func (d *Daemon) Stop() error {
	if d.cron != nil {
		<-d.cron.Stop().Done()
	}
	var firstErr error
	if d.server != nil {
		if err := d.server.Stop(); err != nil {
			firstErr = err
		}
	}
	d.zlog.Info().Msg("Daemon stopped")
	d.closeAll()
	return firstErr
}

func (d *Daemon) closeAll() {
	if d.index != nil {
		d.index.Close()
	}
	if d.store != nil {
		d.store.Close()
	}
	if d.auditor != nil {
		d.auditor.Close()
	}
	if d.log != nil {
		d.log.Close()
	}
}
