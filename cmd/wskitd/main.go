// Command wskitd is a demonstration server binary wiring together the
// router core and the example adapters: a gorilla/websocket transport,
// an optional bcrypt token auth gate, an optional SQLite lifecycle
// audit sink, and an optional MQTT broker for distributed fan-out. Flag
// parsing, subcommand dispatch, and config-path resolution follow
// cmd/thane/main.go's shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wskit/wskit"
	"github.com/wskit/wskit/examples/config"
	"github.com/wskit/wskit/examples/gorillaws"
	"github.com/wskit/wskit/examples/mqttbroker"
	"github.com/wskit/wskit/examples/sqliteaudit"
	"github.com/wskit/wskit/examples/tokenauth"
)

func main() {
	configPath := flag.String("config", "", "path to deployment config file")
	addr := flag.String("addr", ":8080", "listen address")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if flag.NArg() > 0 {
		switch flag.Arg(0) {
		case "serve":
			runServe(logger, *configPath, *addr)
			return
		case "version":
			fmt.Println("wskitd (development build)")
			return
		default:
			fmt.Fprintf(os.Stderr, "unknown command: %s\n", flag.Arg(0))
			os.Exit(1)
		}
	}

	fmt.Println("wskitd - WS-Kit demonstration server")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve    Start the WebSocket server")
	fmt.Println("  version  Show version")
	fmt.Println()
	fmt.Println("Flags:")
	flag.PrintDefaults()
}

func runServe(logger *slog.Logger, configPath, addr string) {
	deployment, err := config.Load(configPath)
	if err != nil {
		logger.Warn("no deployment config found, using defaults", "error", err)
		deployment = config.DefaultDeployment()
	}

	routerOpts := []wskit.RouterOption{wskit.WithLogger(logger)}

	var broker *mqttbroker.Adapter
	if deployment.Broker.Enabled {
		broker = mqttbroker.New(mqttbroker.Config{
			BrokerURL: deployment.Broker.URL,
			RootTopic: deployment.Broker.RootTopic,
			Logger:    logger,
		})
		routerOpts = append(routerOpts, wskit.WithPubSub(broker), wskit.WithBrokerConsumer(broker))
	}

	router := wskit.NewRouter(deployment.Options, routerOpts...)

	var audit *sqliteaudit.Sink
	if deployment.Audit.Enabled {
		audit, err = sqliteaudit.Open(deployment.Audit.DBPath)
		if err != nil {
			logger.Error("failed to open audit sink", "error", err)
			os.Exit(1)
		}
		defer audit.Close()
		_ = router.OnOpen(audit.OnOpen)
		_ = router.OnClose(audit.OnClose)
		_ = router.OnError(audit.OnError)
	}

	if deployment.Auth.Enabled {
		verifier := tokenauth.NewVerifier()
		for principal, hash := range deployment.Auth.Tokens {
			verifier.AddToken(principal, hash)
		}
		_ = router.OnAuth(verifier.Authenticate)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if broker != nil {
		if err := router.StartBrokerConsumer(ctx); err != nil {
			logger.Error("failed to start broker consumer", "error", err)
			os.Exit(1)
		}
		defer router.StopBrokerConsumer()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gorillaws.Handler(router, gorillaws.Config{Logger: logger}))

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("wskitd listening", "addr", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
