package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/gommon/log"

	"github.com/vultisig/vultisig-gather/config"
	"github.com/vultisig/vultisig-gather/interaction"
	"github.com/vultisig/vultisig-gather/sender"
	"github.com/vultisig/vultisig-gather/server"
	"github.com/vultisig/vultisig-gather/storage"
)

func main() {
	var cfgFile string
	flag.StringVar(&cfgFile, "config", "config.json", "config file")
	flag.Parse()

	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		panic(err)
	}
	log.SetLevel(cfg.LogLvl())

	opts := storage.Options{
		SessionExpiration: cfg.Engine.SessionExpiration.Duration,
		ValueExpiration:   cfg.Engine.ValueExpiration.Duration,
	}
	var store storage.Storage
	switch cfg.Storage {
	case "memory":
		store = storage.NewMemoryStorage(opts)
	default:
		store, err = storage.NewRedisStorage(cfg.RedisServer, opts)
		if err != nil {
			panic(err)
		}
	}

	dispatcher := sender.NewDispatcher(sender.NewRelay(store, sender.RelayOptions{
		MaxBodyLength: cfg.Relay.MaxBodyLength,
		NativeChoices: cfg.Relay.NativeChoices,
	}), "")
	s := server.NewServer(cfg.Port, store, interaction.NewRegistry(), dispatcher, cfg.Engine)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Info("shutting down")
		if err := s.StopServer(); err != nil {
			log.Error(err)
		}
	}()
	if err := s.StartServer(); err != nil {
		log.Info(err)
	}

	dispatcher.Close()
	err = store.Close()
	if err != nil {
		panic(err)
	}
}
