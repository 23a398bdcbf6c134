// Command server runs the vramgate gateway: an OpenAI-compatible front door
// that routes inference traffic to co-located model backends and manages
// their container lifecycle under the GPU memory budget.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vramgate/vramgate/internal/api"
	"github.com/vramgate/vramgate/internal/api/handlers"
	"github.com/vramgate/vramgate/internal/backend"
	"github.com/vramgate/vramgate/internal/config"
	"github.com/vramgate/vramgate/internal/container"
	"github.com/vramgate/vramgate/internal/gpu"
	"github.com/vramgate/vramgate/internal/logging"
	"github.com/vramgate/vramgate/internal/registry"
	"github.com/vramgate/vramgate/internal/status"
	"github.com/vramgate/vramgate/internal/switchengine"
	"github.com/vramgate/vramgate/internal/watcher"
)

func init() {
	logging.SetupBaseLogger()
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Configure File Path")
	flag.Parse()

	if configPath == "" {
		wd, errGetwd := os.Getwd()
		if errGetwd != nil {
			log.Fatalf("failed to get working directory: %v", errGetwd)
		}
		configPath = path.Join(wd, "config.yaml")
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logging.SetLogLevel(cfg)
	if errLogOutput := logging.ConfigureLogOutput(cfg); errLogOutput != nil {
		log.Fatalf("failed to configure log output: %v", errLogOutput)
	}

	reg, err := registry.New(cfg)
	if err != nil {
		log.Fatalf("failed to build model registry: %v", err)
	}
	log.Infof("registered %d models: %v", len(reg.List()), reg.IDs())

	runtime, err := container.NewDockerRuntime()
	if err != nil {
		log.Fatalf("failed to connect to container runtime: %v", err)
	}

	sampler := &gpu.NvidiaSMI{}
	states := backend.NewStateTable(reg.IDs())
	prober := backend.NewProber(time.Duration(cfg.ProbeTTLSeconds) * time.Second)
	aggregator := status.NewAggregator(reg, runtime, prober, sampler, states,
		time.Duration(cfg.StuckThresholdSeconds)*time.Second)
	engine := switchengine.NewEngine(reg, runtime, sampler, aggregator, prober, states)
	client := backend.NewClient(time.Duration(cfg.BackendTimeoutSeconds) * time.Second)

	base := handlers.NewBaseHandler(cfg, reg, client, states, aggregator, engine)
	apiServer := api.NewServer(cfg, base)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	configWatcher, err := watcher.NewWatcher(configPath, cfg, func(newCfg *config.Config) {
		apiServer.UpdateAuth(newCfg)
	})
	if err != nil {
		log.Fatalf("failed to create config watcher: %v", err)
	}
	if errWatch := configWatcher.Start(ctx); errWatch != nil {
		log.Fatalf("failed to start config watcher: %v", errWatch)
	}
	defer func() {
		_ = configWatcher.Stop()
	}()

	go func() {
		if errStart := apiServer.Start(); errStart != nil {
			log.Fatalf("API server failed to start: %v", errStart)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("received shutdown signal, cleaning up...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if errStop := apiServer.Stop(shutdownCtx); errStop != nil {
		log.Errorf("error stopping API server: %v", errStop)
	}
	log.Info("cleanup completed, exiting")
}
