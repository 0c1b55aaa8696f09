// Package registry provides the packdock binary's command surface: the
// serve command wires configuration, the storage driver and the HTTP
// application together into a running server.
package registry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/packdock/packdock/configuration"
	"github.com/packdock/packdock/internal/dcontext"
	"github.com/packdock/packdock/registry/handlers"
	"github.com/packdock/packdock/version"
)

// shutdownTimeout bounds how long in-flight requests may run after a
// termination signal.
const shutdownTimeout = 10 * time.Second

// ServeCmd is a cobra command for running the registry.
var ServeCmd = &cobra.Command{
	Use:   "serve <config>",
	Short: "`serve` stores and distributes npm packages",
	Long:  "`serve` stores and distributes npm packages",
	Run: func(cmd *cobra.Command, args []string) {
		config, err := resolveConfiguration(args)
		if err != nil {
			fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
			// nolint:errcheck
			cmd.Usage()
			os.Exit(1)
		}

		registry, err := NewRegistry(context.Background(), config)
		if err != nil {
			logrus.Fatalln(err)
		}
		if err := registry.ListenAndServe(); err != nil {
			logrus.Fatalln(err)
		}
	},
}

// A Registry represents a complete instance of the packdock registry.
type Registry struct {
	config  *configuration.Configuration
	app     *handlers.App
	server  *http.Server
	debugLn net.Listener
}

// NewRegistry creates a new registry from a context and configuration struct.
func NewRegistry(ctx context.Context, config *configuration.Configuration) (*Registry, error) {
	app, err := handlers.NewApp(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("configuring application: %w", err)
	}

	registry := &Registry{
		config: config,
		app:    app,
		server: &http.Server{
			Addr:    config.HTTP.Addr,
			Handler: app.Handler(),
		},
	}

	if config.HTTP.Debug.Addr != "" {
		registry.debugLn, err = net.Listen("tcp", config.HTTP.Debug.Addr)
		if err != nil {
			return nil, fmt.Errorf("listening on debug interface: %w", err)
		}
	}

	return registry, nil
}

// ListenAndServe runs the registry's HTTP server until it fails or a
// termination signal arrives.
func (registry *Registry) ListenAndServe() error {
	config := registry.config
	log := dcontext.GetLogger(registry.app)

	ln, err := net.Listen("tcp", config.HTTP.Addr)
	if err != nil {
		return err
	}

	if registry.debugLn != nil {
		log.Infof("debug server listening on %s", config.HTTP.Debug.Addr)
		go func() {
			// nolint:errcheck
			http.Serve(registry.debugLn, debugMux())
		}()
	}

	log.Infof("%s listening on %s", version.Version(), ln.Addr())

	errCh := make(chan error, 1)
	go func() {
		errCh <- registry.server.Serve(ln)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case sig := <-quit:
		log.Infof("received %v, gracefully shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if registry.debugLn != nil {
			// nolint:errcheck
			registry.debugLn.Close()
		}
		return registry.server.Shutdown(ctx)
	}
}

// debugMux serves the operational endpoints: prometheus metrics and the
// pprof profiles.
func debugMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

// resolveConfiguration loads the configuration from the path given as the
// first argument, falling back to $PACKDOCK_CONFIGURATION_PATH.
func resolveConfiguration(args []string) (*configuration.Configuration, error) {
	var configurationPath string

	if len(args) > 0 {
		configurationPath = args[0]
	} else if os.Getenv("PACKDOCK_CONFIGURATION_PATH") != "" {
		configurationPath = os.Getenv("PACKDOCK_CONFIGURATION_PATH")
	}

	if configurationPath == "" {
		return nil, fmt.Errorf("configuration path unspecified")
	}

	fp, err := os.Open(configurationPath)
	if err != nil {
		return nil, err
	}
	defer fp.Close()

	config, err := configuration.Parse(fp)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", configurationPath, err)
	}

	return config, nil
}
