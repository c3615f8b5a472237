package main

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/MegaGrindStone/go-mcp"
	"gopkg.in/yaml.v3"

	hearth "github.com/tarwood/hearth"
	"github.com/tarwood/hearth/internal/agent"
	"github.com/tarwood/hearth/internal/handlers"
	"github.com/tarwood/hearth/internal/services"
	"github.com/tarwood/hearth/internal/tools"
)

func main() {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		log.Fatal(fmt.Errorf("error getting user config dir: %w", err))
	}
	cfgPath := filepath.Join(cfgDir, "hearth")
	if err := os.MkdirAll(cfgPath, 0755); err != nil {
		log.Fatal(fmt.Errorf("error creating config directory: %w", err))
	}

	cfgFilePath := filepath.Join(cfgPath, "config.yaml")
	cfgFile, err := os.Open(cfgFilePath)
	if err != nil {
		log.Fatal(fmt.Errorf("error opening config file: %w", err))
	}
	defer cfgFile.Close()

	cfg := config{}
	if err := yaml.NewDecoder(cfgFile).Decode(&cfg); err != nil {
		panic(fmt.Errorf("error decoding config file: %w", err))
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	llm, err := cfg.LLM.provider(cfg.SystemPrompt, logger)
	if err != nil {
		panic(err)
	}

	dbPath := filepath.Join(cfgPath, "store.db")
	boltDB, err := services.NewBoltDB(dbPath)
	if err != nil {
		panic(err)
	}
	defer boltDB.Close()

	toolbox := tools.NewToolbox(logger)
	tools.RegisterRollDice(toolbox)
	tools.NewScraper(logger).Register(toolbox)
	if cfg.SearxURL != "" {
		tools.NewSearx(cfg.SearxURL, logger).Register(toolbox)
	}

	mcpClientInfo := mcp.Info{
		Name:    "hearth",
		Version: "0.1.0",
	}
	mcpClients, stdIOCmds := populateMCPClients(cfg, mcpClientInfo)

	var mcpCancels []context.CancelFunc
	for i, cli := range mcpClients {
		log.Printf("Connecting to MCP server at index %d", i)

		connectCtx, connectCancel := context.WithCancel(context.Background())
		mcpCancels = append(mcpCancels, connectCancel)

		ready := make(chan struct{})
		errs := make(chan error, 1)

		go func() {
			if err := cli.Connect(connectCtx, ready); err != nil {
				errs <- err
			}
		}()

		select {
		case err := <-errs:
			panic(err)
		case <-ready:
		}

		log.Printf("Connected to MCP server %s", cli.ServerInfo().Name)

		if err := tools.RegisterMCPClient(context.Background(), toolbox, cli, logger); err != nil {
			panic(err)
		}
	}

	runner := agent.New(llm, toolbox, logger)

	m, err := handlers.NewMain(runner, llm, boltDB, llm, logger)
	if err != nil {
		panic(err)
	}

	staticFS, err := fs.Sub(hearth.StaticFS, "static")
	if err != nil {
		panic(err)
	}
	fileServer := http.FileServer(http.FS(staticFS))

	mux := http.NewServeMux()
	mux.Handle("/static/", http.StripPrefix("/static/", fileServer))
	mux.HandleFunc("GET /", m.HandleHome)
	mux.HandleFunc("POST /api/chat", m.HandleChat)
	mux.HandleFunc("GET /api/conversations", m.HandleConversations)
	mux.HandleFunc("GET /api/conversations/{thread_id}", m.HandleConversation)
	mux.HandleFunc("DELETE /api/conversations/{thread_id}", m.HandleDeleteConversation)
	mux.HandleFunc("GET /api/health", m.HandleHealth)
	mux.Handle("/sse/chats", m.SSEHandler())

	port := cfg.Port
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.RegisterOnShutdown(func() {
		for _, cancel := range mcpCancels {
			cancel()
		}
		for _, stdIOCmd := range stdIOCmds {
			if err := stdIOCmd.Wait(); err != nil {
				log.Printf("Failed to wait for stdIO command: %v", err)
			}
		}

		if err := m.Shutdown(context.Background()); err != nil {
			log.Printf("Failed to shutdown sse server: %v", err)
		}
	})

	serverErrors := make(chan error, 1)

	go func() {
		log.Println("Server starting on :" + port)
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Printf("Server error: %v", err)

	case sig := <-shutdown:
		log.Printf("Start shutdown, signal: %v", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Graceful shutdown failed: %v", err)
			if err := srv.Close(); err != nil {
				log.Printf("Forcing server close: %v", err)
			}
		}
	}
}

func populateMCPClients(cfg config, mcpClientInfo mcp.Info) ([]*mcp.Client, []*exec.Cmd) {
	var mcpClients []*mcp.Client

	for _, sseServerConfig := range cfg.MCPSSEServers {
		sseClient := mcp.NewSSEClient(sseServerConfig.URL, nil)
		cli := mcp.NewClient(mcpClientInfo, sseClient)
		mcpClients = append(mcpClients, cli)
	}

	var stdIOCmds []*exec.Cmd
	for _, stdIOServerConfig := range cfg.MCPStdIOServers {
		cmd := exec.Command(stdIOServerConfig.Command, stdIOServerConfig.Args...)
		stdIOCmds = append(stdIOCmds, cmd)

		in, err := cmd.StdinPipe()
		if err != nil {
			panic(err)
		}
		out, err := cmd.StdoutPipe()
		if err != nil {
			panic(err)
		}
		if err := cmd.Start(); err != nil {
			panic(err)
		}

		cliStdIO := mcp.NewStdIO(out, in)

		cli := mcp.NewClient(mcpClientInfo, cliStdIO)
		mcpClients = append(mcpClients, cli)
	}

	return mcpClients, stdIOCmds
}
