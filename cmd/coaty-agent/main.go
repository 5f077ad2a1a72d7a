// coaty-agent is a minimal Coaty agent: it resolves a container with a
// discovery-answering controller and runs until interrupted.
//
// It serves as the reference wiring of config → container → controllers;
// real agents replace the example controller with their own.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coatyio/coaty-go/com"
	"github.com/coatyio/coaty-go/logging"
	"github.com/coatyio/coaty-go/runtime"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
)

// Default configuration file path
const defaultConfigPath = "configs/agent.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for
// testability.
func run(ctx context.Context) error {
	log := logging.Default()

	configPath := getConfigPath()
	log.Info("loading configuration", "path", configPath)
	cfg, err := runtime.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Reinitialise logger with config settings
	log = logging.New(cfg.Identity.Name, cfg.Logging.Level, cfg.Logging.Format,
		logging.Output(cfg.Logging.Output))
	log.Info("starting Coaty agent",
		"version", version,
		"broker", cfg.BrokerURL,
	)

	container, err := runtime.Resolve(cfg, log, newDiscoveryController())
	if err != nil {
		return fmt.Errorf("resolving container: %w", err)
	}
	defer container.Shutdown()

	if !cfg.ShouldAutoStart {
		if err := container.Manager().Start(); err != nil {
			log.Warn("manager start failed, retrying in background", "error", err)
		}
	}

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

// getConfigPath returns the config file path from args or the default.
func getConfigPath() string {
	if len(os.Args) > 1 {
		return os.Args[1]
	}
	if v := os.Getenv("COATY_CONFIG"); v != "" {
		return v
	}
	return defaultConfigPath
}

// discoveryController answers Discover requests for its own component,
// making the agent visible to peers.
type discoveryController struct {
	runtime.ControllerBase

	sub *com.Subscription
}

func newDiscoveryController() *discoveryController {
	return &discoveryController{ControllerBase: runtime.NewControllerBase("DiscoveryController")}
}

// OnCommunicationManagerStarting registers the Discover observer.
// Observers are re-registered on every (re)start.
func (c *discoveryController) OnCommunicationManagerStarting() {
	manager := c.Container().Manager()
	sub, err := manager.ObserveDiscover()
	if err != nil {
		c.Logger().Error("observe discover failed", "error", err)
		return
	}
	c.sub = sub

	go func() {
		for event := range sub.Events() {
			data := event.Data().(*com.DiscoverEventData)
			if !c.matches(data) {
				continue
			}
			err := event.Resolve(&com.ResolveEventData{Object: &c.Identity().Object})
			if err != nil {
				c.Logger().Warn("resolve failed", "error", err)
			}
		}
	}()
}

// matches reports whether a Discover request targets this controller.
func (c *discoveryController) matches(data *com.DiscoverEventData) bool {
	if data.ObjectID == c.Identity().ObjectID {
		return true
	}
	for _, t := range data.CoreTypes {
		if t == c.Identity().CoreType {
			return true
		}
	}
	for _, t := range data.ObjectTypes {
		if t == c.Identity().ObjectType {
			return true
		}
	}
	return false
}

// OnCommunicationManagerStopping cancels the Discover observer.
func (c *discoveryController) OnCommunicationManagerStopping() {
	if c.sub != nil {
		c.sub.Cancel()
		c.sub = nil
	}
}
