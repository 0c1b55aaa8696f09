// Package handlers implements the npm-compatible HTTP surface over the
// federated store.
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"

	gorillahandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/packdock/packdock/configuration"
	"github.com/packdock/packdock/internal/dcontext"
	"github.com/packdock/packdock/internal/requestutil"
	"github.com/packdock/packdock/registry/federation"
	"github.com/packdock/packdock/registry/storage"
	storagedriver "github.com/packdock/packdock/registry/storage/driver"
	"github.com/packdock/packdock/registry/storage/driver/factory"
	tokenredis "github.com/packdock/packdock/registry/tokens/redis"
	"github.com/packdock/packdock/registry/uplink"
)

// App is a global registry application object. Shared resources can be
// placed on this object that will be accessible from all requests.
type App struct {
	context.Context
	Config *configuration.Configuration

	router *mux.Router
	driver storagedriver.Driver
	store  *federation.Store
	tokens storagedriver.TokenStore
}

// NewApp takes a configuration and returns a configured app, ready to serve
// requests.
func NewApp(ctx context.Context, config *configuration.Configuration) (*App, error) {
	driver, err := factory.Create(config.Storage.Type(), config.Storage.Parameters())
	if err != nil {
		return nil, fmt.Errorf("creating storage driver: %w", err)
	}

	var storeOpts []storage.StoreOption
	if config.Debug {
		storeOpts = append(storeOpts, storage.SkipRevisionBump())
	}
	local := storage.NewStore(driver, storeOpts...)

	// Sorted names keep the merge precedence deterministic; yaml maps
	// carry no declaration order.
	names := make([]string, 0, len(config.Uplinks))
	for name := range config.Uplinks {
		names = append(names, name)
	}
	sort.Strings(names)

	uplinks := make([]*uplink.Uplink, 0, len(names))
	for _, name := range names {
		upConfig := config.Uplinks[name]
		u, err := uplink.New(name, uplink.Config{
			URL:        upConfig.URL,
			Cache:      upConfig.Cache,
			Timeout:    upConfig.Timeout,
			MaxFails:   upConfig.MaxFails,
			FailWindow: upConfig.FailWindow,
			MaxRetries: upConfig.MaxRetries,
		})
		if err != nil {
			return nil, err
		}
		uplinks = append(uplinks, u)
	}

	var fedOpts []federation.Option
	if len(config.Packages) > 0 {
		fedOpts = append(fedOpts, federation.WithPolicy(config.Packages))
	}
	if config.HTTP.Prefix != "" {
		fedOpts = append(fedOpts, federation.WithURLPrefix(config.HTTP.Prefix))
	}

	app := &App{
		Context: ctx,
		Config:  config,
		driver:  driver,
		store:   federation.NewStore(local, uplinks, fedOpts...),
	}

	if config.Redis.Addr != "" {
		app.tokens = tokenredis.New(tokenredis.Config{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		})
	} else if ts, ok := driver.(storagedriver.TokenStore); ok {
		app.tokens = ts
	}

	app.configureLogging()
	app.registerRoutes()
	return app, nil
}

// Store exposes the federated store, mainly for tests.
func (app *App) Store() *federation.Store {
	return app.store
}

func (app *App) configureLogging() {
	level, err := logrus.ParseLevel(string(app.Config.Log.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	log := logrus.New()
	log.SetLevel(level)
	if app.Config.Log.Formatter == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	entry := logrus.NewEntry(log)
	if len(app.Config.Log.Fields) > 0 {
		fields := make(logrus.Fields, len(app.Config.Log.Fields))
		for k, v := range app.Config.Log.Fields {
			fields[k] = v
		}
		entry = entry.WithFields(fields)
	}
	app.Context = dcontext.WithLogger(app.Context, entry)
}

// ServeHTTP dispatches the request through the router after stitching the
// app context and a request-scoped logger onto it.
func (app *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := dcontext.WithLogger(r.Context(), dcontext.GetLoggerWithFields(app.Context, map[string]any{
		"http.request.method": r.Method,
		"http.request.uri":    r.RequestURI,
		"http.request.remote": requestutil.RemoteAddr(r),
	}))
	app.router.ServeHTTP(w, r.WithContext(ctx))
}

// Handler wraps the app with access logging.
func (app *App) Handler() http.Handler {
	return gorillahandlers.CombinedLoggingHandler(os.Stdout, app)
}

// requestOptions derives the client-facing address for dist URL rewriting.
func (app *App) requestOptions(r *http.Request) federation.RequestOptions {
	host := app.Config.HTTP.Host
	if host == "" {
		host = requestutil.Host(r)
	}
	return federation.RequestOptions{
		Protocol: requestutil.Scheme(r),
		Host:     host,
	}
}
