package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/shelf/internal/api"
	"github.com/kalambet/shelf/internal/config"
	"github.com/kalambet/shelf/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local HTTP API (foreground)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the library to MCP clients over stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running shelf server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server, library and sync status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

// pidFile records the PID of a running 'shelf serve' in the data directory.
type pidFile string

func newPIDFile(dataDir string) pidFile {
	return pidFile(filepath.Join(dataDir, "shelf.pid"))
}

func (p pidFile) write() error {
	if err := os.MkdirAll(filepath.Dir(string(p)), 0o755); err != nil {
		return err
	}
	return os.WriteFile(string(p), []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

// read returns the recorded PID. A file naming a process that no longer
// exists is removed and reported as os.ErrNotExist.
func (p pidFile) read() (int, error) {
	data, err := os.ReadFile(string(p))
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("corrupt PID file %s: %w", p, err)
	}
	if proc, err := os.FindProcess(pid); err != nil || proc.Signal(syscall.Signal(0)) != nil {
		p.remove()
		return 0, os.ErrNotExist
	}
	return pid, nil
}

func (p pidFile) remove() {
	os.Remove(string(p))
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "shelf version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	apiToken, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}

	pid := newPIDFile(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if running, pidErr := pid.read(); pidErr == nil {
			printWarning("shelf is already running (PID %d)", running)
			return fmt.Errorf("server already running (PID %d)", running)
		}
		printWarning("shelf is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := pid.write(); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer pid.remove()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	a := newApp(cfg, store, config.OpenSettings(cfg), config.NewKeychain())
	defer a.Close()

	handler := api.NewAppHandler(api.AppDeps{
		Store:      a.store,
		Library:    a.library,
		Backup:     a.backup,
		Preview:    a.preview,
		Categories: a.categories,
		Token:      apiToken,
		Logger:     slog.Default(),
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		printSuccess("shelf listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		printStep("shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runMCP() error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s := api.NewMCPServer(api.MCPDeps{
		Store:      a.store,
		Library:    a.library,
		Backup:     a.backup,
		Categories: a.categories,
		Version:    version,
	})
	slog.Info("MCP server started (stdio transport)")
	if err := server.NewStdioServer(s).Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	pf := newPIDFile(cfg.Storage.DataDir)
	pid, err := pf.read()
	if errors.Is(err, os.ErrNotExist) {
		printWarning("shelf is not running")
		return nil
	}
	if err != nil {
		return err
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		pf.remove()
		return fmt.Errorf("stopping shelf (PID %d): %w", pid, err)
	}
	printSuccess("Sent stop signal to shelf (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	a, err := openApp()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}
	defer a.Close()

	var counts []categoryCount
	client, err := newAPIClient(a.cfg)
	if err == nil && client.healthy(ctx) {
		printStatus("Server", "running on port %d", a.cfg.Server.Port)
		counts, err = client.categories(ctx)
		if err != nil {
			printWarning("could not read categories from server: %v", err)
		}
	} else {
		printStatus("Server", "stopped")
	}
	if counts == nil {
		local, err := a.store.CategoryCounts(ctx)
		if err != nil {
			return err
		}
		counts = orderCounts(a.categories, local)
	}

	total := 0
	for _, c := range counts {
		printStatus("  "+c.Key, "%d", c.Count)
		total += c.Count
	}
	printStatus("Materials", "%d", total)

	if id := a.settings.RemoteID(); id != "" {
		printStatus("Gist", "%s", id)
	} else {
		printStatus("Gist", "none (next push creates one)")
	}
	if src := config.TokenSource(a.keychain); src != "" {
		printStatus("Token", "set (%s)", src)
	} else {
		printStatus("Token", "not set")
	}
	printStatus("Data dir", "%s", a.cfg.Storage.DataDir)
	return nil
}

// orderCounts lists configured categories first, then any stray keys found
// in the store.
func orderCounts(cats []string, counts map[string]int) []categoryCount {
	out := make([]categoryCount, 0, len(counts))
	seen := make(map[string]bool, len(cats))
	for _, c := range cats {
		out = append(out, categoryCount{Key: c, Count: counts[c]})
		seen[c] = true
	}
	var extra []string
	for c := range counts {
		if !seen[c] {
			extra = append(extra, c)
		}
	}
	sort.Strings(extra)
	for _, c := range extra {
		out = append(out, categoryCount{Key: c, Count: counts[c]})
	}
	return out
}
