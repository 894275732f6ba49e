package main

import (
	"encoding/json"
	"net/http"
	"os"
	"os/signal"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/5stackgg/realtime/internal/devserver"
	"github.com/5stackgg/realtime/internal/socket"
)

type config struct {
	WSHost     string `env:"WS_HOST" envDefault:"ws://localhost:8080/ws"`
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`
	ServeStub  bool   `env:"SERVE_STUB" envDefault:"true"`
}

func main() {
	_ = godotenv.Load()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		panic(err)
	}

	log, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if cfg.ServeStub {
		srv := devserver.New(log.Named("devserver"))
		go func() {
			log.Info("stub server listening", zap.String("addr", cfg.ListenAddr))
			if err := http.ListenAndServe(cfg.ListenAddr, srv.Router()); err != nil {
				log.Fatal("stub server", zap.Error(err))
			}
		}()
	}

	c := socket.New(socket.Config{URL: cfg.WSHost, Logger: log.Named("socket")})
	c.Listen("players-online", func(data json.RawMessage) {
		log.Info("players online", zap.ByteString("count", data))
	})
	c.Connect()

	lobby := c.JoinLobby(uuid.NewString(), "match", "1")
	lobby.On("messages", func(data json.RawMessage) {
		log.Info("lobby history", zap.ByteString("messages", data))
	})
	c.Chat("match", "1", "hello from the demo client")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	<-sig

	lobby.Leave()
	c.Close()
}
