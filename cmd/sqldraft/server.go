package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/brfsskit/sqldraft/internal/api"
	"github.com/brfsskit/sqldraft/internal/config"
	"github.com/brfsskit/sqldraft/internal/dictionary"
	"github.com/brfsskit/sqldraft/internal/drafting"
	"github.com/brfsskit/sqldraft/internal/gemini"
	"github.com/brfsskit/sqldraft/internal/publish"
	"github.com/brfsskit/sqldraft/internal/refdocs"
	"github.com/brfsskit/sqldraft/internal/samples"
	"github.com/brfsskit/sqldraft/internal/storage"
	"github.com/brfsskit/sqldraft/internal/tables"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the sqldraft server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		preload, _ := cmd.Flags().GetString("preload")
		mcp, _ := cmd.Flags().GetBool("mcp")
		return runServer(preload, mcp)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running sqldraft server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sqldraft system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	startCmd.Flags().String("preload", "", "directory of brfss_{year}.csv files to load at startup")
	startCmd.Flags().Bool("mcp", true, "serve MCP over stdin/stdout")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "sqldraft.pid")
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

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func runServer(preloadDir string, serveMCP bool) error {
	fmt.Fprintf(os.Stderr, "sqldraft version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)})))

	apiToken, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	if cfg.Gemini.APIKey == "" {
		printWarning("no Gemini API key configured; requests must supply one (%s)", config.MissingKeyHint())
	}

	// Check if a server is already running via the health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("sqldraft is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("sqldraft is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	catalog, err := tables.OpenCatalog(cfg.TablesDir())
	if err != nil {
		return fmt.Errorf("opening table catalog: %w", err)
	}
	defer catalog.Close()

	if preloadDir != "" {
		printStep("Loading survey tables from %s", preloadDir)
		stats, err := catalog.LoadDir(ctx, preloadDir)
		if err != nil {
			return fmt.Errorf("preloading tables: %w", err)
		}
		if len(stats) == 0 {
			printWarning("no brfss_{year}.csv files found in %s", preloadDir)
		}
	}

	sampleCatalog, err := samples.Load()
	if err != nil {
		return fmt.Errorf("loading sample queries: %w", err)
	}

	draftTimeout, err := cfg.DraftTimeout()
	if err != nil {
		return err
	}
	pollInterval, err := cfg.PollInterval()
	if err != nil {
		return err
	}

	conn := gemini.Connector{BaseURL: cfg.Gemini.BaseURL}
	apiKey := func() string { return cfg.Gemini.APIKey }

	drafter := drafting.NewDrafter(drafting.GeminiConnector(conn), drafting.Options{
		Model:             cfg.Gemini.Model,
		Dialect:           cfg.Drafting.Dialect,
		Timeout:           draftTimeout,
		LookupConcurrency: cfg.Drafting.LookupConcurrency,
	})

	svc := api.NewService(api.Deps{
		Store:    store,
		Tables:   catalog,
		Drafter:  drafter,
		Presence: refdocs.NewChecker(refdocs.GeminiLister(conn)),
		Remote: func(ctx context.Context, credential string) (api.FileDeleter, error) {
			if credential == "" {
				return nil, errors.New("gemini API key required to delete remote files")
			}
			return conn.Connect(ctx, credential)
		},
		Samples:    sampleCatalog,
		Dictionary: dictionary.New(cfg.DictionaryDir()),
		APIKey:     apiKey,
		SampleRows: cfg.Drafting.SampleRows,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	})

	topRouter := chi.NewRouter()
	topRouter.Mount("/", api.NewHandler(svc, apiToken))

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: topRouter,
	}

	// Reference document uploads run in the background.
	worker := publish.NewWorker(store, publish.GeminiUploader(conn, apiKey), pollInterval)
	go worker.Run(ctx)

	if serveMCP {
		stdioSrv := server.NewStdioServer(api.NewMCPServer(svc, version))
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "sqldraft listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
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
		printError("sqldraft is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop sqldraft (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to sqldraft (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	running := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Model", "%s", cfg.Gemini.Model)
	if cfg.Gemini.APIKey != "" {
		printStatus("Gemini key", "configured")
	} else {
		printStatus("Gemini key", "not set")
	}

	apiToken, tokenErr := config.GetAPIToken(config.NewKeychain())
	if tokenErr == nil && running {
		if dsResp, err := apiGet(client, serverURL+"/v1/datasets", apiToken); err == nil {
			var ds []api.DatasetStatus
			if json.NewDecoder(dsResp.Body).Decode(&ds) == nil {
				var loaded []string
				for _, d := range ds {
					if d.Loaded {
						loaded = append(loaded, d.Table)
					}
				}
				if len(loaded) == 0 {
					printStatus("Tables", "none loaded")
				} else {
					printStatus("Tables", "%s", strings.Join(loaded, ", "))
				}
			}
			dsResp.Body.Close()
		}
		if draftsResp, err := apiGet(client, serverURL+"/v1/drafts?limit=100", apiToken); err == nil {
			var drafts []json.RawMessage
			if json.NewDecoder(draftsResp.Body).Decode(&drafts) == nil {
				printStatus("Drafts", "%s", countLabel(len(drafts), 100))
			}
			draftsResp.Body.Close()
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

func apiGet(client *http.Client, url, token string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return client.Do(req)
}
