package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matchgate/matchgate/internal/core/engine"
	"github.com/matchgate/matchgate/internal/core/observability/log"
	"github.com/matchgate/matchgate/internal/core/token"
	"github.com/matchgate/matchgate/internal/core/transport"
	"github.com/matchgate/matchgate/internal/core/transport/websocket"
	"github.com/matchgate/matchgate/internal/games/tictactoe"
)

type appConfig struct {
	LogLevel  string           `yaml:"log_level"`
	Engine    engine.Config    `yaml:"engine"`
	Transport transport.Config `yaml:"transport"`
	Token     token.Config     `yaml:"token"`
}

func defaultAppConfig() appConfig {
	cfg := appConfig{
		LogLevel:  "info",
		Engine:    engine.DefaultConfig(),
		Transport: transport.DefaultConfig(),
		Token:     token.DefaultConfig(),
	}
	cfg.Transport.Port = 9091
	cfg.Token.Secret = "secret"
	cfg.Token.Issuer = "tic_tac_toe_matchmaker"
	return cfg
}

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg := defaultAppConfig()
	if *configPath != "" {
		if err := engine.LoadConfig(*configPath, &cfg); err != nil {
			fmt.Println("Error loading config:", err)
			os.Exit(1)
		}
	}

	logger := log.New(logLevel(cfg.LogLevel))

	codec, err := token.NewHMACCodec(cfg.Token)
	if err != nil {
		fmt.Println("Error creating token codec:", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := engine.NewMatchmaker(cfg.Engine, codec, tictactoe.NewMatcher(1), logger)
	ws, err := websocket.NewServer(cfg.Transport, srv, logger)
	if err != nil {
		fmt.Println("Error creating transport:", err)
		os.Exit(1)
	}

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	if err := srv.Start(ctx); err != nil {
		fmt.Println("Error starting matchmaker:", err)
		os.Exit(1)
	}
	if err := ws.Start(); err != nil {
		fmt.Println("Error starting transport:", err)
		os.Exit(1)
	}

	<-stopCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := ws.Stop(shutdownCtx); err != nil {
		fmt.Println("Error stopping transport:", err)
	}
	if err := srv.Stop(); err != nil {
		fmt.Println("Error stopping matchmaker:", err)
	}
}

func logLevel(name string) log.Level {
	switch name {
	case "debug":
		return log.LevelDebug
	case "warn":
		return log.LevelWarn
	case "error":
		return log.LevelError
	default:
		return log.LevelInfo
	}
}
