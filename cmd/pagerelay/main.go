// Command pagerelay is the page-to-panel relay daemon.
//
// Usage:
//
//	pagerelay -config pagerelay.yaml        # serve HTTP from YAML config
//	pagerelay -db db/pagerelay.db -addr :8091
//	pagerelay -mcp                          # also serve MCP tools on stdio
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	ossignal "os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/pagerelay/browse"
	"github.com/hazyhaar/pagerelay/entity"
	"github.com/hazyhaar/pagerelay/extract"
	"github.com/hazyhaar/pagerelay/mailbox"
	"github.com/hazyhaar/pagerelay/panel"
	"github.com/hazyhaar/pagerelay/relay"
	"github.com/hazyhaar/pagerelay/signal"
)

func main() {
	configPath := flag.String("config", "", "path to pagerelay.yaml config file")
	dbPath := flag.String("db", "", "mailbox database path (overrides config)")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	serveMCP := flag.Bool("mcp", false, "serve MCP tools on stdio")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *dbPath, *addr, *serveMCP); err != nil {
		logger.Error("pagerelay: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, dbPath, addr string, serveMCP bool) error {
	cfg := defaultConfig()
	if configPath != "" {
		loaded, err := loadConfig(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if addr != "" {
		cfg.Listen = addr
	}

	box, err := mailbox.Open(cfg.DBPath, mailbox.WithMkdirAll())
	if err != nil {
		return fmt.Errorf("open mailbox: %w", err)
	}
	defer box.Close()

	rules := extract.DefaultRules()
	if cfg.Rules != "" {
		rules, err = extract.LoadRules(cfg.Rules)
		if err != nil {
			return fmt.Errorf("load rules: %w", err)
		}
	}

	bus := signal.NewBus(signal.WithLogger(logger))
	agent := extract.NewAgent(extract.New(rules, extract.WithLogger(logger)), box, bus, logger)

	fetcher := browse.NewFetcher(browse.WithLogger(logger))
	var browser *browse.Browser
	if cfg.Browser.Enabled {
		browser = browse.NewBrowser(browse.BrowserConfig{
			RemoteURL:  cfg.Browser.Remote,
			NavTimeout: cfg.Browser.NavTimeout,
			Logger:     logger,
		})
		defer browser.Close()
	}

	reg := newRegistry()
	for _, cc := range cfg.Contexts {
		reg.set(cc.ID, cc.URL)
	}
	load := browse.Loader(fetcher, browser, reg.get)

	r := relay.New(relay.Config{
		PollAttempts: cfg.Relay.PollAttempts,
		PollInterval: cfg.Relay.PollInterval,
		Staleness:    cfg.Relay.Staleness,
	}, box, bus, logger)
	go r.Run(ctx)

	var analyzer panel.Analyzer = nullAnalyzer{}
	if cfg.Analyzer.URL != "" {
		analyzer = newHTTPAnalyzer(cfg.Analyzer.URL, cfg.Analyzer.Timeout, logger)
	}
	manager := panel.NewManager(box, bus, analyzer, logger)

	watch := newWatchSet(ctx, agent, load)
	for _, cc := range cfg.Contexts {
		watch.ensure(cc.ID)
	}

	if serveMCP {
		mcpSrv := mcp.NewServer(&mcp.Implementation{
			Name:    "pagerelay",
			Version: "1.0.0",
		}, nil)
		r.RegisterMCP(mcpSrv)
		go func() {
			if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				logger.Error("pagerelay: mcp stdio", "error", err)
			}
		}()
	}

	router := newRouter(ctx, logger, box, bus, r, manager, agent, watch, reg, load)

	srv := &http.Server{Addr: cfg.Listen, Handler: router}
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	logger.Info("pagerelay: listening", "addr", cfg.Listen)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func newRouter(ctx context.Context, logger *slog.Logger, box *mailbox.Box, bus *signal.Bus, rl *relay.Relay,
	manager *panel.Manager, agent *extract.Agent, watch *watchSet, reg *registry, load extract.Loader) http.Handler {

	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, 200, map[string]any{"status": "ok", "signalsDropped": bus.Dropped()})
	})

	r.Route("/api/contexts/{contextID}", func(r chi.Router) {
		r.Post("/capture", func(w http.ResponseWriter, req *http.Request) {
			contextID := chi.URLParam(req, "contextID")
			var body struct {
				URL  string `json:"url"`
				HTML string `json:"html"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeError(w, 400, err)
				return
			}
			if body.URL == "" {
				writeError(w, 400, fmt.Errorf("url is required"))
				return
			}
			reg.set(contextID, body.URL)
			watch.ensure(contextID)

			var page *extract.PageModel
			var err error
			if body.HTML != "" {
				page, err = extract.ParsePage(contextID, body.URL, strings.NewReader(body.HTML))
			} else {
				page, err = load(req.Context(), contextID)
			}
			if err != nil {
				writeError(w, 502, err)
				return
			}

			snap, err := agent.Capture(req.Context(), page)
			if err != nil {
				if err == extract.ErrNoMatch {
					writeError(w, 422, err)
					return
				}
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 201, snap)
		})

		r.Post("/trigger", func(w http.ResponseWriter, req *http.Request) {
			contextID := chi.URLParam(req, "contextID")
			rl.OnUserIntent(ctx, contextID)
			writeJSON(w, 202, map[string]string{"status": "accepted", "contextId": contextID})
		})

		r.Get("/panel", func(w http.ResponseWriter, req *http.Request) {
			contextID := chi.URLParam(req, "contextID")
			p := manager.Panel(contextID)
			if p == nil {
				p = manager.Activate(ctx, contextID)
			}
			writeJSON(w, 200, p.View())
		})

		r.Post("/manual", func(w http.ResponseWriter, req *http.Request) {
			contextID := chi.URLParam(req, "contextID")
			var snap entity.Snapshot
			if err := json.NewDecoder(req.Body).Decode(&snap); err != nil {
				writeError(w, 400, err)
				return
			}
			if snap.Name == "" {
				writeError(w, 400, fmt.Errorf("name is required"))
				return
			}
			p := manager.Panel(contextID)
			if p == nil {
				p = manager.Activate(ctx, contextID)
			}
			if err := p.SetManualSnapshot(req.Context(), &snap); err != nil {
				if err == panel.ErrBusy {
					writeError(w, 409, err)
					return
				}
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, p.View())
		})

		r.Post("/retry", func(w http.ResponseWriter, req *http.Request) {
			contextID := chi.URLParam(req, "contextID")
			p := manager.Panel(contextID)
			if p == nil {
				writeError(w, 404, fmt.Errorf("no active panel for context %s", contextID))
				return
			}
			if err := p.RetryManual(ctx); err != nil {
				if err == panel.ErrBusy {
					writeError(w, 409, err)
					return
				}
				writeError(w, 422, err)
				return
			}
			writeJSON(w, 202, map[string]string{"status": "accepted"})
		})

		r.Post("/view", func(w http.ResponseWriter, req *http.Request) {
			contextID := chi.URLParam(req, "contextID")
			var body struct {
				State string `json:"state"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeError(w, 400, err)
				return
			}
			p := manager.Panel(contextID)
			if p == nil {
				writeError(w, 404, fmt.Errorf("no active panel for context %s", contextID))
				return
			}
			if err := p.SetView(panel.State(body.State)); err != nil {
				writeError(w, 400, err)
				return
			}
			writeJSON(w, 200, p.View())
		})

		r.Get("/snapshot", func(w http.ResponseWriter, req *http.Request) {
			contextID := chi.URLParam(req, "contextID")
			snap, err := box.Snapshot(req.Context(), contextID)
			if err != nil {
				writeError(w, 500, err)
				return
			}
			if snap == nil {
				writeError(w, 404, fmt.Errorf("no snapshot for context %s", contextID))
				return
			}
			writeJSON(w, 200, snap)
		})
	})

	r.Post("/api/quick-action", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			ContextID string `json:"context_id"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, 400, err)
			return
		}
		if body.ContextID == "" {
			writeError(w, 400, fmt.Errorf("context_id is required"))
			return
		}
		rl.OnUserIntent(ctx, body.ContextID)
		writeJSON(w, 202, map[string]string{"status": "accepted", "contextId": body.ContextID})
	})

	r.Get("/api/snapshot/current", func(w http.ResponseWriter, req *http.Request) {
		snap, err := box.Current(req.Context())
		if err != nil {
			writeError(w, 500, err)
			return
		}
		if snap == nil {
			writeError(w, 404, fmt.Errorf("nothing captured yet"))
			return
		}
		writeJSON(w, 200, snap)
	})

	return r
}

// registry maps hosted context IDs to their page URLs. Contexts arrive
// from the config file or from capture requests.
type registry struct {
	mu   sync.RWMutex
	urls map[string]string
}

func newRegistry() *registry {
	return &registry{urls: make(map[string]string)}
}

func (r *registry) set(contextID, url string) {
	r.mu.Lock()
	r.urls[contextID] = url
	r.mu.Unlock()
}

func (r *registry) get(contextID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.urls[contextID]
}

// watchSet starts one extractor watch loop per context, once.
type watchSet struct {
	ctx   context.Context
	agent *extract.Agent
	load  extract.Loader

	mu      sync.Mutex
	running map[string]bool
}

func newWatchSet(ctx context.Context, agent *extract.Agent, load extract.Loader) *watchSet {
	return &watchSet{ctx: ctx, agent: agent, load: load, running: make(map[string]bool)}
}

func (ws *watchSet) ensure(contextID string) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.running[contextID] {
		return
	}
	ws.running[contextID] = true
	go ws.agent.Watch(ws.ctx, contextID, ws.load)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
