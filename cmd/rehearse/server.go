package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/rehearse/internal/api"
	"github.com/kalambet/rehearse/internal/assessment"
	"github.com/kalambet/rehearse/internal/cache"
	"github.com/kalambet/rehearse/internal/composer"
	"github.com/kalambet/rehearse/internal/config"
	"github.com/kalambet/rehearse/internal/dialogue"
	"github.com/kalambet/rehearse/internal/engine"
	"github.com/kalambet/rehearse/internal/events"
	"github.com/kalambet/rehearse/internal/extract"
	"github.com/kalambet/rehearse/internal/ingest"
	"github.com/kalambet/rehearse/internal/orchestrator"
	"github.com/kalambet/rehearse/internal/pipeline"
	"github.com/kalambet/rehearse/internal/profile"
	"github.com/kalambet/rehearse/internal/ratelimit"
	"github.com/kalambet/rehearse/internal/reranking"
	"github.com/kalambet/rehearse/internal/retrieval"
	"github.com/kalambet/rehearse/internal/speech"
	"github.com/kalambet/rehearse/internal/storage"
)

const (
	// ratingCacheTTL keeps model ratings for identical transcripts.
	ratingCacheTTL   = 24 * time.Hour
	memoryCacheSize  = 1024
	workerPoll       = 500 * time.Millisecond
	shutdownTimeout  = 10 * time.Second
	redisNamespace   = "rehearse:"
	rerankTimeout    = 5 * time.Second
	defaultCallSlack = 30 * time.Second
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the rehearse server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		stdio, _ := cmd.Flags().GetBool("mcp-stdio")
		return runServer(stdio)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running rehearse server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show rehearse system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	startCmd.Flags().Bool("mcp-stdio", false, "serve MCP over stdin/stdout instead of HTTP")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "rehearse.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

// app is the wired server.
type app struct {
	store    *storage.Store
	worker   *ingest.Worker
	deps     api.Deps
	logger   *slog.Logger
	closeFns []func() error
}

func (a *app) Close() {
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		if err := a.closeFns[i](); err != nil {
			a.logger.Warn("closing resource", "error", err)
		}
	}
}

// buildApp wires every component from configuration. eng is the raw
// inference backend; retries are layered here per use.
func buildApp(ctx context.Context, cfg config.Config, policy config.Policy, eng engine.Engine, logger *slog.Logger) (*app, error) {
	a := &app{logger: logger}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a.store = store
	a.closeFns = append(a.closeFns, store.Close)

	var (
		sharedCache cache.Cache       = cache.NewMemory(memoryCacheSize)
		limiter     ratelimit.Limiter = ratelimit.NewTokenBucket(cfg.Interview.RateLimitPerMinute, cfg.Interview.RateLimitBurst)
	)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			// Both consumers degrade on Redis errors, so an outage at
			// startup is not fatal.
			logger.Warn("redis not reachable at startup", "addr", cfg.Redis.Addr, "error", err)
		}
		a.closeFns = append(a.closeFns, rdb.Close)
		sharedCache = cache.NewRedis(rdb, redisNamespace)
		if cfg.Interview.RateLimitPerMinute > 0 {
			limiter = ratelimit.NewRedisWindow(rdb, redisNamespace, cfg.Interview.RateLimitPerMinute, time.Minute)
		}
	}
	if cfg.Interview.RateLimitPerMinute <= 0 {
		limiter = ratelimit.Unlimited{}
	}

	timeout := config.Duration(cfg.Engine.Timeout, config.DefaultEngineTimeout)
	retry := engine.DefaultRetryPolicy
	retry.Timeout = timeout
	// A call may spend the retry budget on every attempt plus backoff.
	callTimeout := time.Duration(retry.MaxAttempts)*timeout + defaultCallSlack

	sink := events.NewJobSink(store, logger)
	profiles := profile.NewManager(store, sink)

	embedder := retrieval.NewEmbedder(engine.WithRetry(eng, "embedding", retry), cfg.Engine.EmbedModel).
		WithCache(sharedCache, 7*24*time.Hour)
	vectors := retrieval.NewSQLiteStore(store.DB())
	retriever := retrieval.NewRetriever(embedder, vectors)

	personalizeOpts := []pipeline.Option{
		pipeline.WithTopK(cfg.Retrieval.TopK),
		pipeline.WithDriftThreshold(policy.DriftThreshold),
		pipeline.WithCache(sharedCache, policy.ContextTTL),
		pipeline.WithLogger(logger),
	}
	if cfg.Retrieval.Rerank {
		// Reranking shares the interview budget, so it gets no retries.
		personalizeOpts = append(personalizeOpts, pipeline.WithReranker(
			reranking.New(eng, cfg.Engine.ChatModel, true, rerankTimeout, cfg.Retrieval.RerankThreshold)))
	}
	personalizer := pipeline.NewPersonalizer(retriever, profiles, personalizeOpts...)

	comp := composer.New(0)
	interviewer := dialogue.New(engine.WithRetry(eng, "interviewer", retry), comp, cfg.Engine.ChatModel,
		dialogue.WithTemperature(policy.QuestionTemperature),
		dialogue.WithQuestionBank(dialogue.QuestionBank(policy.Questions())),
		dialogue.WithLogger(logger),
	)
	assessor := assessment.New(engine.WithRetry(eng, "assessment", retry), cfg.Engine.RatingModel,
		assessment.WithCache(sharedCache, ratingCacheTTL),
		assessment.WithFeedbackTemperature(policy.FeedbackTemperature),
		assessment.WithCallTimeout(callTimeout),
		assessment.WithLogger(logger),
	)

	var analyzer speech.Analyzer = speech.Disabled{}
	if cfg.Speech.URL != "" {
		analyzer = speech.NewHTTPAnalyzer(cfg.Speech.URL, cfg.Speech.APIKey, config.Duration(cfg.Speech.Timeout, 30*time.Second))
	}

	orch := orchestrator.New(orchestrator.Deps{
		Store:        store,
		Interviewer:  interviewer,
		Personalizer: personalizer,
		Assessor:     assessor,
		Composer:     comp,
		Speech:       analyzer,
		Limiter:      limiter,
		Events:       sink,
		Logger:       logger,
	}, orchestrator.Config{
		MaxQuestions:  policy.MaxQuestions,
		EndPhrases:    policy.EndPhrases,
		CallTimeout:   callTimeout,
		AssessTimeout: 2 * callTimeout, // rating and feedback
	})

	a.worker = ingest.NewWorker(store, store, profiles, retrieval.NewIndexer(embedder, vectors), workerPoll)
	a.deps = api.Deps{
		Interviews: orch,
		Profiles:   profiles,
		Context:    retriever,
		Reindex:    sink,
		Extractor:  extract.New(engine.WithRetry(eng, "extract", retry), cfg.Engine.ChatModel, timeout),
		Token:      cfg.Server.Token,
	}
	return a, nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

func runServer(mcpStdio bool) error {
	fmt.Fprintf(os.Stderr, "rehearse version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(os.Stderr, cfg.LogLevel())
	slog.SetDefault(logger)

	if _, err := config.EnsureToken(&cfg); err != nil {
		return err
	}
	logger.Info("API bearer token available")

	policy, err := config.LoadPolicy(cfg.Interview.PolicyFile)
	if err != nil {
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := engine.New(ctx, engine.Options{
		Backend: cfg.Engine.Backend,
		URL:     cfg.Engine.URL,
		APIKey:  cfg.Engine.APIKey,
	})
	if err != nil {
		return fmt.Errorf("creating inference engine: %w", err)
	}
	if err := engine.EnsureReady(ctx, eng, cfg.Engine.ChatModel, cfg.Engine.EmbedModel, os.Stderr); err != nil {
		return err
	}

	a, err := buildApp(ctx, cfg, policy, eng, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port),
		Handler:           api.NewHandler(a.deps),
		ReadHeaderTimeout: 10 * time.Second,
	}
	mcpSrv := api.NewMCPServer(a.deps, version)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.worker.Run(gctx)
		return nil
	})

	g.Go(func() error {
		logger.Info("HTTP API listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	var mcpHTTP *http.Server
	if mcpStdio {
		// Listen blocks on stdin, so it is not part of the group.
		go func() {
			if err := server.NewStdioServer(mcpSrv).Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("MCP stdio server error", "error", err)
			}
		}()
		logger.Info("MCP server started (stdio transport)")
	} else {
		mcpHTTP = &http.Server{
			Addr:              fmt.Sprintf("127.0.0.1:%d", cfg.Server.MCPPort),
			Handler:           api.BearerAuth(cfg.Server.Token)(server.NewStreamableHTTPServer(mcpSrv)),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Info("MCP server listening (streamable HTTP)", "addr", mcpHTTP.Addr)
			if err := mcpHTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("mcp server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpSrv.Shutdown(shutdownCtx)
		if mcpHTTP != nil {
			err = errors.Join(err, mcpHTTP.Shutdown(shutdownCtx))
		}
		return err
	})

	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("rehearse is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop rehearse (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to rehearse (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}
	client := &http.Client{Timeout: 2 * time.Second}
	running := false
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port))
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d (MCP on %d)", cfg.Server.Port, cfg.Server.MCPPort)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	eng, err := engine.New(ctx, engine.Options{Backend: cfg.Engine.Backend, URL: cfg.Engine.URL, APIKey: cfg.Engine.APIKey})
	switch {
	case err != nil:
		printStatus("Engine", "misconfigured: %v", err)
	case eng.IsRunning(ctx):
		printStatus("Engine", "%s reachable", cfg.Engine.Backend)
	default:
		printStatus("Engine", "%s not reachable", cfg.Engine.Backend)
	}
	printStatus("Chat model", "%s", cfg.Engine.ChatModel)
	printStatus("Rating model", "%s", cfg.Engine.RatingModel)
	printStatus("Embed model", "%s", cfg.Engine.EmbedModel)

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			printStatus("Redis", "unreachable at %s", cfg.Redis.Addr)
		} else {
			printStatus("Redis", "connected at %s", cfg.Redis.Addr)
		}
		rdb.Close()
	} else {
		printStatus("Redis", "disabled (in-process cache and rate limiter)")
	}

	if cfg.Speech.URL != "" {
		printStatus("Speech", "%s", cfg.Speech.URL)
	} else {
		printStatus("Speech", "disabled")
	}

	if running && cfg.Server.Token != "" {
		c := &apiClient{baseURL: fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port), token: cfg.Server.Token, httpClient: client}
		if r, err := c.get(ctx, "/sessions?candidate_id="+url.QueryEscape(candidate)+"&limit=100"); err == nil {
			var sessions []json.RawMessage
			if decodeJSON(r, &sessions) == nil {
				printStatus("Sessions", "%s for %s", countLabel(len(sessions), 100), candidate)
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
