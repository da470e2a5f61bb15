// Command lens-relay starts the lens pairing relay.
//
// It supports three modes:
//  1. "server" (default) – runs the HTTP server exposing the WebSocket relay, the read-only REST API, /metrics and an /mcp HTTP endpoint
//  2. "stdio-mcp" – runs an MCP stdio server against a running relay, or spins up an internal one if none is available
//  3. "check-config" – validates the config file and flags and prints the result
//
// Flags control host/port, session expiry, allowed origins, debug logging,
// and optional ngrok tunneling so a headset on another network can reach a
// development relay.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
	"github.com/urfave/cli/v3"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"

	"github.com/wricardo/lens-relay/api"
	"github.com/wricardo/lens-relay/relay/config"
	"github.com/wricardo/lens-relay/relay/metrics"
	"github.com/wricardo/lens-relay/relay/protocol"
	"github.com/wricardo/lens-relay/relay/session"
	"github.com/wricardo/lens-relay/relay/telemetry"
	"github.com/wricardo/lens-relay/transport/mcp"
	"github.com/wricardo/lens-relay/transport/websocket"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "Lens Relay"
)

// main loads .env, parses flags and runs the selected mode.
func main() {
	// Load .env file if it exists (ignore error if not found)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			log.Printf("Warning: Error loading .env file: %v", err)
		}
	} else {
		log.Println("Loaded environment variables from .env file")
	}

	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

// newCommand builds the CLI. Flags are shared by every mode.
func newCommand() *cli.Command {
	return &cli.Command{
		Name:    "lens-relay",
		Usage:   "pair AR glasses hosts with browser face trackers",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "JSON config file (optional)",
				Sources: cli.EnvVars("LENS_RELAY_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "host",
				Value:   "0.0.0.0",
				Usage:   "HTTP server host",
				Sources: cli.EnvVars("LENS_RELAY_HOST"),
			},
			&cli.IntFlag{
				Name:    "port",
				Value:   8080,
				Usage:   "HTTP server port",
				Sources: cli.EnvVars("PORT", "LENS_RELAY_PORT"),
			},
			&cli.DurationFlag{
				Name:    "max-idle",
				Value:   2 * time.Hour,
				Usage:   "end sessions idle for longer than this",
				Sources: cli.EnvVars("LENS_RELAY_MAX_IDLE"),
			},
			&cli.DurationFlag{
				Name:    "sweep-interval",
				Value:   60 * time.Second,
				Usage:   "how often idle sessions are swept",
				Sources: cli.EnvVars("LENS_RELAY_SWEEP_INTERVAL"),
			},
			&cli.StringSliceFlag{
				Name:    "allowed-origin",
				Usage:   "accepted websocket Origin (repeatable, empty allows all)",
				Sources: cli.EnvVars("LENS_RELAY_ALLOWED_ORIGINS"),
			},
			&cli.BoolFlag{
				Name:    "no-mcp",
				Usage:   "disable the /mcp endpoint",
				Sources: cli.EnvVars("LENS_RELAY_NO_MCP"),
			},
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   "Enable debug logging",
				Sources: cli.EnvVars("LENS_RELAY_DEBUG"),
			},
			&cli.BoolFlag{
				Name:    "ngrok",
				Usage:   "Enable ngrok tunnel",
				Sources: cli.EnvVars("NGROK_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "ngrok-auth",
				Usage:   "Ngrok auth token",
				Sources: cli.EnvVars("NGROK_AUTHTOKEN", "NGROK_AUTH_TOKEN"),
			},
			&cli.StringFlag{
				Name:    "ngrok-domain",
				Usage:   "Custom ngrok domain (optional)",
				Sources: cli.EnvVars("NGROK_DOMAIN"),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			setupLogging(cfg)
			log.Printf("Starting %s v%s (mode: server)", AppName, Version)
			return runHTTPServer(ctx, cfg)
		},
		Commands: []*cli.Command{
			{
				Name:  "check-config",
				Usage: "validate the config file and flags, then print the effective config",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, err := loadConfig(cmd)
					if err != nil {
						return err
					}
					return printConfig(cmd.Root().Writer, cfg)
				},
			},
			{
				Name:    "stdio-mcp",
				Aliases: []string{"mcp-stdio", "mcp"},
				Usage:   "run an MCP stdio server against the relay API",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, err := loadConfig(cmd)
					if err != nil {
						return err
					}
					setupLogging(cfg)
					log.Printf("Starting %s v%s (mode: stdio-mcp)", AppName, Version)
					return runStdioMCP(cfg)
				},
			},
		},
	}
}

// loadConfig reads the optional config file and applies explicitly set flags
// on top of it.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}

	if cmd.IsSet("host") {
		cfg.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Port = cmd.Int("port")
	}
	if cmd.IsSet("max-idle") {
		cfg.MaxIdle = config.Duration(cmd.Duration("max-idle"))
	}
	if cmd.IsSet("sweep-interval") {
		cfg.SweepInterval = config.Duration(cmd.Duration("sweep-interval"))
	}
	if origins := cmd.StringSlice("allowed-origin"); len(origins) > 0 {
		cfg.AllowedOrigins = origins
	}
	if cmd.Bool("no-mcp") {
		cfg.EnableMCP = false
	}
	if cmd.Bool("debug") {
		cfg.Debug = true
	}
	if cmd.Bool("ngrok") {
		cfg.Ngrok.Enabled = true
	}
	cfg.Ngrok.AuthToken = cmd.String("ngrok-auth")
	if domain := cmd.String("ngrok-domain"); domain != "" {
		cfg.Ngrok.Domain = domain
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// printConfig writes cfg as indented JSON. The ngrok token is never printed.
func printConfig(w io.Writer, cfg *config.Config) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}

func setupLogging(cfg *config.Config) {
	if cfg.Debug {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	} else {
		log.SetFlags(log.LstdFlags)
	}
}

// relay holds the wired components shared by both modes.
type relay struct {
	cfg      *config.Config
	sessions *session.Manager
	metrics  *metrics.Metrics
	hub      *websocket.Hub
}

// newRelay wires the registry, metrics, telemetry router and websocket hub.
// The hub is not running until Run is called on it.
func newRelay(cfg *config.Config) *relay {
	var sessions *session.Manager
	m := metrics.New(func() session.Stats { return sessions.Stats() })
	sessions = session.NewManager(session.WithEndedHook(m.SessionEnded))

	router := telemetry.NewRouter(sessions, m, nil)
	hub := websocket.NewHub(sessions, router, m, websocket.Options{
		MaxMessageSize: cfg.MaxMessageSize,
		SendBuffer:     cfg.SendBuffer,
		CheckOrigin:    cfg.OriginAllowed,
		Debug:          cfg.Debug,
	})

	return &relay{cfg: cfg, sessions: sessions, metrics: m, hub: hub}
}

// handler combines the API server with the optional /mcp endpoint.
func (r *relay) handler(baseURL string) http.Handler {
	apiServer := api.NewServer(r.sessions, r.hub, r.metrics)
	if !r.cfg.EnableMCP {
		return apiServer
	}

	mcpClient := mcp.NewClient(baseURL)

	mainRouter := http.NewServeMux()
	mainRouter.Handle("/", apiServer)
	mainRouter.HandleFunc("/mcp", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != "POST" {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(req.Body)
		if err != nil {
			http.Error(w, "Failed to read request", http.StatusBadRequest)
			return
		}
		defer req.Body.Close()

		response := mcpClient.GetMCPServer().HandleMessage(req.Context(), body)

		w.Header().Set("Content-Type", "application/json")
		responseData, err := json.Marshal(response)
		if err != nil {
			http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
			return
		}
		w.Write(responseData)
	})
	return mainRouter
}

// sweepRoutine ends sessions idle for longer than maxIdle until ctx is done.
func sweepRoutine(ctx context.Context, sessions *session.Manager, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if removed := sessions.SweepExpired(now, maxIdle); removed > 0 {
				log.Printf("Swept %d idle sessions", removed)
			}
		}
	}
}

// loopbackURL is the address the in-process MCP client uses to reach the API.
func loopbackURL(cfg *config.Config) string {
	host := cfg.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s", net.JoinHostPort(host, fmt.Sprint(cfg.Port)))
}

// runHTTPServer serves the relay until SIGINT or SIGTERM. If ngrok is enabled
// it also provisions a public tunnel.
func runHTTPServer(parent context.Context, cfg *config.Config) error {
	r := newRelay(cfg)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	go r.hub.Run(ctx)
	go sweepRoutine(ctx, r.sessions, time.Duration(cfg.SweepInterval), time.Duration(cfg.MaxIdle))

	addr := cfg.Addr()
	mainRouter := r.handler(loopbackURL(cfg))

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      mainRouter,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Handle shutdown signals
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	serveErr := make(chan error, 1)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()

		log.Printf("HTTP server listening on %s", addr)
		log.Printf("WebSocket: ws://%s/ws", addr)
		log.Printf("REST API: http://%s/api", addr)
		if cfg.EnableMCP {
			log.Printf("MCP endpoint: http://%s/mcp", addr)
		}

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	if cfg.Ngrok.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runNgrok(ctx, cfg.Ngrok, mainRouter)
		}()
	}

	var err error
	select {
	case sig := <-stop:
		log.Printf("Received signal: %v. Shutting down...", sig)
	case err = <-serveErr:
		log.Printf("HTTP server failed: %v", err)
	}

	if n := r.sessions.CloseAll(protocol.ReasonShutdown); n > 0 {
		log.Printf("Ended %d sessions on shutdown", n)
	}
	cancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Printf("HTTP server shutdown error: %v", shutdownErr)
	}

	wg.Wait()
	log.Println("Server stopped")
	return err
}

// runNgrok serves handler through an ngrok tunnel until ctx is done.
func runNgrok(ctx context.Context, cfg config.NgrokConfig, handler http.Handler) {
	if cfg.AuthToken == "" {
		log.Println("WARNING: Ngrok enabled but no auth token provided (use --ngrok-auth, NGROK_AUTHTOKEN, or NGROK_AUTH_TOKEN env var)")
		return
	}

	log.Println("Starting ngrok tunnel...")

	var tunnel ngrokConfig.Tunnel
	if cfg.Domain != "" {
		tunnel = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(cfg.Domain))
		log.Printf("Using custom ngrok domain: %s", cfg.Domain)
	} else {
		tunnel = ngrokConfig.HTTPEndpoint()
	}

	tun, err := ngrok.Listen(ctx,
		tunnel,
		ngrok.WithAuthtoken(cfg.AuthToken),
	)
	if err != nil {
		log.Printf("Failed to start ngrok tunnel: %v", err)
		return
	}

	go func() {
		<-ctx.Done()
		if err := tun.Close(); err != nil {
			log.Printf("Failed to close ngrok tunnel: %v", err)
		}
	}()

	ngrokURL := tun.URL()
	log.Printf("Ngrok tunnel established: %s", ngrokURL)
	log.Printf("  WebSocket (ngrok): %s/ws", ngrokURL)
	log.Printf("  REST API (ngrok): %s/api", ngrokURL)

	if err := http.Serve(tun, handler); err != nil && err != http.ErrServerClosed && ctx.Err() == nil {
		log.Printf("Ngrok server error: %v", err)
	}
	log.Println("Ngrok tunnel closed")
}

// runStdioMCP runs an MCP stdio server. It reuses a relay already listening
// on the configured port; otherwise it starts an internal relay on a random
// loopback port and targets that.
func runStdioMCP(cfg *config.Config) error {
	baseURL := loopbackURL(cfg)
	log.Printf("Checking for relay at %s...", baseURL)

	testClient := &http.Client{Timeout: 2 * time.Second}
	resp, err := testClient.Get(baseURL + "/health")
	if err == nil && resp.StatusCode == http.StatusOK {
		resp.Body.Close()
		log.Printf("Relay found at %s, using it for MCP", baseURL)
	} else {
		if resp != nil {
			resp.Body.Close()
		}
		log.Printf("No relay found, starting internal HTTP server")

		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return fmt.Errorf("failed to get available port: %w", err)
		}
		baseURL = fmt.Sprintf("http://%s", listener.Addr().String())

		internal := *cfg
		internal.EnableMCP = false
		r := newRelay(&internal)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go r.hub.Run(ctx)
		go sweepRoutine(ctx, r.sessions, time.Duration(cfg.SweepInterval), time.Duration(cfg.MaxIdle))

		httpServer := &http.Server{Handler: r.handler(baseURL)}
		go func() {
			if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
				log.Printf("Internal HTTP server error: %v", err)
			}
		}()
		defer httpServer.Close()

		log.Printf("Internal relay listening on %s", listener.Addr())
	}

	mcpClient := mcp.NewClient(baseURL)
	log.Println("MCP stdio server ready")

	if err := server.ServeStdio(mcpClient.GetMCPServer()); err != nil {
		return fmt.Errorf("MCP stdio server error: %w", err)
	}
	return nil
}
