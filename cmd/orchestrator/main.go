// Command orchestrator runs the conversational orchestrator as a standalone
// A2A service: it exposes get_agent_card and process_task over JSON-RPC,
// drives the stateful graph (C4/C5) per call, and dispatches to specialist
// agents discovered through the agent registry (C7).
//
// # Configuration
//
// Environment variables override the config file, which overrides the
// built-in defaults (config.Load documents the full order); the -debug
// flag additionally forces debug on.
//
//	-config   path to a YAML config file (optional)
//	-host     listen host (default "localhost")
//	-port     listen port (default "8090")
//	-debug    enable debug logging
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"goa.design/clue/log"

	"goa.design/orchestra/a2a"
	"goa.design/orchestra/agentregistry"
	"goa.design/orchestra/config"
	"goa.design/orchestra/graph"
	"goa.design/orchestra/llm"
	"goa.design/orchestra/llm/anthropic"
	"goa.design/orchestra/llm/bedrock"
	"goa.design/orchestra/llm/openai"
	"goa.design/orchestra/memory"
	"goa.design/orchestra/orchestrator"
	"goa.design/orchestra/resilience"
	"goa.design/orchestra/store"
	"goa.design/orchestra/store/postgres"
	"goa.design/orchestra/store/sqlitekv"
	"goa.design/orchestra/telemetry"
)

func main() {
	var (
		configF = flag.String("config", "", "path to a YAML config file")
		hostF   = flag.String("host", "localhost", "listen host")
		portF   = flag.String("port", "8090", "listen port")
		dbgF    = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
	}

	if err := run(ctx, *configF, *hostF, *portF, *dbgF); err != nil {
		log.Fatal(ctx, err)
	}
}

func run(ctx context.Context, configPath, host, port string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if debug {
		cfg.Debug = true
	}

	obs := telemetry.Clue("orchestrator")
	if cfg.Environment == config.Development {
		obs = telemetry.Noop()
	}
	log.Print(ctx, log.KV{K: "environment", V: string(cfg.Environment)})

	// One embedded file backs both the graph's per-thread checkpoints and
	// the memory subsystem's per-user cache; their namespaces never
	// overlap, so a single *sql.DB handle with its own worker pool serves
	// both instead of opening the file twice.
	embeddedBackend, err := sqlitekv.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open embedded store: %w", err)
	}
	defer embeddedBackend.Close()
	embedded := store.New(embeddedBackend, cfg.Database.PoolSize)
	defer embedded.Close()
	checkpoints := graph.NewCheckpointStore(embedded)
	cache := embedded

	var durable *store.Store
	if cfg.Database.PostgresDSN != "" {
		pgBackend, err := postgres.Open(ctx, postgres.Config{DSN: cfg.Database.PostgresDSN, PoolSize: int32(cfg.Database.PoolSize)})
		if err != nil {
			return fmt.Errorf("open postgres memory store: %w", err)
		}
		defer pgBackend.Close()
		durable = store.New(pgBackend, cfg.Database.PoolSize)
		defer durable.Close()
	}
	memStore := memory.NewStore(cache, durable, obs)

	llmClient, err := newLLMClient(ctx, cfg.LLM)
	if err != nil {
		return fmt.Errorf("configure llm client: %w", err)
	}
	extractor := memory.NewExtractor(llmClient, cfg.LLM.Model)

	pool := a2a.NewPool(a2a.PoolConfig{
		MaxConnsTotal:   cfg.A2A.ConnectionPoolSize,
		MaxConnsPerHost: cfg.A2A.ConnectionPoolSizePerHost,
		DNSCacheTTL:     time.Duration(cfg.A2A.DNSCacheTTLSecs) * time.Second,
		KeepAlive:       time.Duration(cfg.A2A.KeepaliveTimeoutSecs) * time.Second,
		SweepInterval:   30 * time.Second,
		MaxEntryAge:     10 * time.Minute,
	}, obs)
	defer pool.Close()

	healthTimeout := time.Duration(cfg.A2A.HealthCheckTimeoutSecs) * time.Second
	breakerCfg := resilience.BreakerConfig{
		Threshold: cfg.A2A.CircuitBreakerThreshold,
		Timeout:   time.Duration(cfg.A2A.CircuitBreakerTimeoutSecs) * time.Second,
	}
	probeCall := resilience.NewCall(
		resilience.NewBreaker("agentregistry.probe", breakerCfg, obs),
		resilience.RetryConfig{MaxAttempts: 1},
		healthTimeout,
	)
	registry := agentregistry.New(
		a2a.NewClient("", probeCall, a2a.WithHTTPClient(pool.Get("agentregistry", healthTimeout, healthTimeout))),
		agentregistry.Config{
			ProbeInterval: healthTimeout,
			ProbeTimeout:  healthTimeout,
			TaskTimeout:   time.Duration(cfg.A2A.TimeoutSecs) * time.Second,
		},
		obs,
	)
	for name, agentCfg := range cfg.Agents {
		endpoint := fmt.Sprintf("http://%s:%d", agentCfg.Host, agentCfg.Port)
		registry.Register(name, endpoint, breakerCfg)
	}
	registry.Probe(ctx)
	registry.StartBackgroundProbing(ctx)
	defer registry.Stop()

	deps := orchestrator.Dependencies{
		LLM:          llmClient,
		Model:        cfg.LLM.Model,
		Memory:       memStore,
		Extractor:    extractor,
		Registry:     registry,
		Conversation: cfg.Conversation,
	}
	g, err := orchestrator.Build(deps)
	if err != nil {
		return fmt.Errorf("build orchestrator graph: %w", err)
	}
	runtime := graph.NewRuntime(g, checkpoints, graph.DefaultRuntimeConfig(), obs)

	srv := a2a.NewServer(obs, a2a.WithMaxInFlight(cfg.A2A.MaxInFlightPerHost))
	srv.Handle(a2a.MethodGetAgentCard, handleGetAgentCard())
	srv.Handle(a2a.MethodProcessTask, handleProcessTask(runtime, checkpoints))

	addr := net.JoinHostPort(host, port)
	httpSrv := &http.Server{Addr: addr, Handler: srv, ReadHeaderTimeout: 60 * time.Second}

	errc := make(chan error, 1)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()
	go func() {
		log.Printf(ctx, "listening on %s", addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	err = <-errc
	log.Printf(ctx, "shutting down: %v", err)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// newLLMClient selects and constructs a Client for the configured
// provider. anthropic and openai read their key directly from
// cfg.LLM.APIKey; bedrock instead resolves credentials through the AWS
// SDK's standard chain (environment, shared config, instance role).
func newLLMClient(ctx context.Context, cfg config.LLMConfig) (llm.Client, error) {
	switch cfg.Provider {
	case "anthropic":
		return anthropic.NewFromAPIKey(cfg.APIKey, cfg.Model, cfg.Temperature, cfg.MaxTokens)
	case "openai":
		return openai.NewFromAPIKey(cfg.APIKey, cfg.Model, cfg.Temperature, cfg.MaxTokens)
	case "bedrock":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return bedrock.New(bedrockruntime.NewFromConfig(awsCfg), cfg.Model, float32(cfg.Temperature), cfg.MaxTokens)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// handleGetAgentCard advertises the orchestrator's own capabilities, the
// ones a caller sees before deciding to hand it a task at all.
func handleGetAgentCard() a2a.HandlerFunc {
	return func(_ context.Context, _ json.RawMessage) (any, error) {
		return a2a.AgentCard{
			Name:               "orchestrator",
			Version:            "1.0.0",
			Description:        "conversational orchestrator with specialist dispatch and durable memory",
			Capabilities:       []string{"conversation", "crm_lookup", "plan_execute"},
			Endpoints:          map[string]string{"process_task": a2a.MethodProcessTask},
			CommunicationModes: []string{"sync"},
		}, nil
	}
}

// orchestratorTaskParams is the process_task request body: a Task whose
// Context carries the user and thread identity the graph keys state on.
type orchestratorTaskParams struct {
	Task *a2a.Task `json:"task"`
}

// handleProcessTask runs or resumes a thread's graph for an inbound Task
// and translates the final state back into a TaskResult. A thread with a
// pending checkpoint (a prior call suspended, e.g. on a plan_execute
// approval prompt — §7 Interrupt) resumes from it instead of restarting
// at initialize_memory; the inbound instruction becomes both the new
// user message and, verbatim, the reply threaded into the resumed
// node's state so it can decide whether the human approved.
func handleProcessTask(runtime *graph.Runtime, checkpoints *graph.CheckpointStore) a2a.HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var params orchestratorTaskParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, &a2a.RPCError{Code: a2a.CodeInvalidParams, Message: "invalid task params"}
		}
		task := params.Task
		if task == nil || task.Instruction == "" {
			return nil, &a2a.RPCError{Code: a2a.CodeInvalidParams, Message: "task with an instruction is required"}
		}

		threadID, _ := task.Context["thread_id"].(string)
		if threadID == "" {
			threadID = task.ID
		}
		userID, _ := task.Context["user_id"].(string)
		message := graph.Message{ID: task.ID, Role: "user", Content: task.Instruction}

		_, loadErr := checkpoints.Load(ctx, threadID)
		var result graph.StepResult
		switch {
		case loadErr == nil:
			extra := graph.State{
				graph.KeyMessages:            []graph.Message{message},
				graph.KeyPlanExecuteApproval: task.Instruction,
			}
			r, err := runtime.Resume(ctx, threadID, extra)
			if err != nil {
				return nil, &a2a.RPCError{Code: a2a.CodeInternal, Message: err.Error()}
			}
			result = r
		case errors.Is(loadErr, store.ErrNotFound):
			initial := graph.State{
				graph.KeyThreadID: threadID,
				graph.KeyUserID:   userID,
				graph.KeyMessages: []graph.Message{message},
			}
			result = runtime.Run(ctx, threadID, initial)
		default:
			return nil, &a2a.RPCError{Code: a2a.CodeInternal, Message: loadErr.Error()}
		}
		return taskResultFromStep(result)
	}
}

func taskResultFromStep(result graph.StepResult) (*a2a.TaskResult, error) {
	switch result.Kind {
	case graph.Failed:
		return nil, &a2a.RPCError{Code: a2a.CodeInternal, Message: result.Err.Error()}
	case graph.Suspended:
		res := &a2a.TaskResult{Status: "suspended"}
		if result.Suspend != nil {
			res.Prompt = result.Suspend.Prompt
		}
		return res, nil
	case graph.Cancelled:
		return &a2a.TaskResult{Status: "cancelled"}, nil
	}

	messages, _ := result.State[graph.KeyMessages].([]graph.Message)
	var reply string
	if len(messages) > 0 {
		reply = messages[len(messages)-1].Content
	}
	return &a2a.TaskResult{
		Status:    "completed",
		Artifacts: []*a2a.Artifact{{MIMEType: "text/plain", Content: []byte(reply)}},
	}, nil
}
