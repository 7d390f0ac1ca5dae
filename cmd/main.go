package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/richard-senior/podds/internal/logger"
	"github.com/richard-senior/podds/pkg/api"
	"github.com/richard-senior/podds/pkg/feed"
	"github.com/richard-senior/podds/pkg/protocol"
	"github.com/richard-senior/podds/pkg/server"
	"github.com/richard-senior/podds/pkg/tools"
	"github.com/richard-senior/podds/pkg/transport"
	"github.com/richard-senior/podds/pkg/util/podds"
)

const usage = `usage: podds [command]

commands:
  mcp                              MCP server on stdin/stdout (default)
  serve                            REST server on PODDS_HTTP_ADDR
  train [league]                   retrain one league, or every configured league
  scrape <league> <team> <url> [competition]
                                   scrape an FBref match log page into the corpus
  settle                           settle every finished fixture waiting in the store
  call <tool> [key=value ...]      run one MCP tool and print its markdown
`

// app holds the wired service and its collaborators
type app struct {
	cfg     *podds.PoddsConfig
	store   *podds.Store
	metrics *podds.Metrics
	svc     *podds.Service
}

func main() {
	cmd := "mcp"
	var args []string
	if len(os.Args) > 1 {
		cmd, args = os.Args[1], os.Args[2:]
	}
	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		fmt.Print(usage)
		return
	}

	cfg, err := podds.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}
	configureLogging(cfg, cmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, cmd, args); err != nil {
		logger.Error("Command failed:", cmd, err)
		stop()
		os.Exit(1)
	}
}

// configureLogging keeps stdout clean for the MCP transport by logging to file in mcp mode
func configureLogging(cfg *podds.PoddsConfig, cmd string) {
	logger.SetShowDateTime(true)
	if level, err := logger.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	} else {
		logger.Warn("Ignoring log level", err)
	}
	logger.SetLogFile(cfg.LogFilePath)

	output := 'c'
	if cmd == "mcp" {
		output = 'f'
	} else if cfg.LogFilePath != "" {
		output = 'b'
	}
	if err := logger.SetLogOutput(output); err != nil {
		fmt.Fprintln(os.Stderr, "failed to configure logging:", err)
	}
}

func run(ctx context.Context, cfg *podds.PoddsConfig, cmd string, args []string) error {
	switch cmd {
	case "scrape":
		return scrape(ctx, cfg, args)
	case "mcp", "serve", "train", "settle", "call":
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.store.Close()

	switch cmd {
	case "train":
		return a.train(ctx, args)
	case "settle":
		return a.settleAll(ctx)
	}

	// the remaining commands serve predictions, so every league is trained up front
	if err := a.svc.Registry().RetrainAll(ctx, cfg.LeagueNames()); err != nil {
		logger.Warn("Some leagues have no model:", err)
	}

	switch cmd {
	case "serve":
		return a.serve(ctx)
	case "call":
		return a.call(ctx, args)
	default:
		t := transport.NewStdioTransport()
		return server.NewServer(t, tools.PoddsTools(a.svc)...).Start(ctx)
	}
}

func newApp(ctx context.Context, cfg *podds.PoddsConfig) (*app, error) {
	store, err := podds.OpenStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	logger.Info("Using", store.Dialect(), "store")

	metrics := podds.NewMetrics()
	registry := podds.NewModelRegistry(&podds.CSVCorpus{Root: cfg.PoddsDataPath}, cfg, metrics)
	client := feed.NewClient(cfg)
	if cfg.ApiFootballKey == "" {
		logger.Warn("API_FOOTBALL_KEY is not set, live fixtures will be unavailable")
	}
	return &app{
		cfg:     cfg,
		store:   store,
		metrics: metrics,
		svc:     podds.NewService(cfg, registry, store, client, metrics),
	}, nil
}

func (a *app) train(ctx context.Context, args []string) error {
	leagues := a.cfg.LeagueNames()
	if len(args) > 0 {
		leagues = args[:1]
	}
	var errs []error
	for _, league := range leagues {
		summary, err := a.svc.Retrain(ctx, league)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		logger.Info("Trained", summary.League, "run", summary.RunID, "teams", summary.Teams, "rows", summary.RowsUsed)
		fmt.Printf("%s: %d teams from %d rows (run %s)\n", summary.League, summary.Teams, summary.RowsUsed, summary.RunID)
	}
	return errors.Join(errs...)
}

func scrape(ctx context.Context, cfg *podds.PoddsConfig, args []string) error {
	if len(args) < 3 {
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("scrape needs a league, a team and a url")
	}
	league, team, url := args[0], args[1], args[2]
	comp := ""
	if len(args) > 3 {
		comp = args[3]
	}

	rows, err := podds.NewScraper(cfg.PoddsCachePath).FetchMatchLogs(ctx, url, team, comp)
	if err != nil {
		return err
	}
	corpus := &podds.CSVCorpus{Root: cfg.PoddsDataPath}
	path, err := corpus.SaveCorpusFile(league, team, rows)
	if err != nil {
		return err
	}
	fmt.Printf("wrote %d rows to %s\n", len(rows), path)
	return nil
}

// settleAll settles one fixture per cycle until nothing is waiting
func (a *app) settleAll(ctx context.Context) error {
	count := 0
	for {
		id, err := a.svc.SettleFinished(ctx)
		if err != nil {
			return err
		}
		if id == 0 {
			break
		}
		count++
	}
	fmt.Printf("settled %d fixtures\n", count)
	return nil
}

func (a *app) serve(ctx context.Context) error {
	h := api.NewAPIHandler(a.svc, a.metrics.Registry())
	srv := h.NewHTTPServer(a.cfg.HTTPAddr)

	errChan := make(chan error, 1)
	go func() {
		logger.Info("REST server listening on", a.cfg.HTTPAddr)
		errChan <- srv.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("Shutting down REST server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// call runs one tools/call request through the MCP server in process
func (a *app) call(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("call needs a tool name")
	}
	arguments := map[string]any{}
	for _, kv := range args[1:] {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("invalid argument %q, want key=value", kv)
		}
		arguments[k] = v
	}

	req, err := protocol.NewJsonRpcRequest(string(protocol.MethodToolsCall), protocol.ToolCallParams{Name: args[0], Arguments: arguments}, uuid.NewString())
	if err != nil {
		return err
	}
	in, err := json.Marshal(req)
	if err != nil {
		return err
	}

	var out bytes.Buffer
	t := transport.NewStreamTransport(bytes.NewReader(in), &out)
	if err := server.NewServer(t, tools.PoddsTools(a.svc)...).ProcessRequests(ctx); err != nil {
		return err
	}

	resp, err := protocol.ParseJsonRpcResponse(bytes.TrimSpace(out.Bytes()))
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	var result protocol.ToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return err
	}
	for _, c := range result.Content {
		fmt.Println(c.Text)
	}
	if result.IsError {
		return fmt.Errorf("tool %s failed", args[0])
	}
	return nil
}
