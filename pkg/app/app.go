package app

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dstanziola/copypoint-scanner/pkg/barcode"
	"github.com/dstanziola/copypoint-scanner/pkg/config"
	"github.com/dstanziola/copypoint-scanner/pkg/device"
	"github.com/dstanziola/copypoint-scanner/pkg/events"
	"github.com/dstanziola/copypoint-scanner/pkg/lookup"
)

// Application is the composition root of the scanner daemon: it builds the
// registry, coordinator and optional services from configuration and
// manages their lifecycle.
type Application struct {
	config   *config.Config
	logger   *logrus.Logger
	version  string
	services *ServiceManager
	handlers *EventHandlers

	registry    *device.Registry
	coordinator *barcode.Coordinator
}

func NewApplication(cfg *config.Config, logger *logrus.Logger, version string) *Application {
	return &Application{
		config:   cfg,
		logger:   logger,
		version:  version,
		services: NewServiceManager(logger),
	}
}

func (app *Application) Initialize() error {
	app.logger.Info("Initializing application components...")

	app.registry = NewRegistry(app.config, app.logger)

	var productLookup barcode.ProductLookup
	if app.config.Lookup.ProductsFile != "" {
		catalog, err := lookup.LoadCatalog(app.config.Lookup.ProductsFile, app.logger)
		if err != nil {
			return err
		}
		productLookup = catalog
	}

	app.coordinator = barcode.NewCoordinator(app.registry, productLookup, barcode.Config{
		ReadTimeout:      app.config.Scanner.ReadTimeout(),
		InterCharTimeout: app.config.Scanner.InterCharTimeout(),
		Terminators:      app.config.Serial.TerminatorBytes(),
	}, app.logger)

	var publisher *events.Publisher
	if app.config.MQTT.Enabled {
		publisher = events.NewPublisher(&app.config.MQTT, app.logger)
		app.services.Register("events", publisher)
	}

	app.handlers = NewEventHandlers(app.logger, app.coordinator, publisher, app.config.Scanner.AutoReconnectEnabled())

	app.services.Register("watcher", newWatcherService(app.registry, app.handlers, app.config.Scanner.WatchInterval()))

	return nil
}

func (app *Application) Start() error {
	if err := app.services.StartAll(); err != nil {
		return err
	}
	app.handlers.StartAutoListen()
	app.logger.Infof("copypoint-scanner v%s ready", app.version)
	return nil
}

func (app *Application) Stop() error {
	app.coordinator.StopAll()
	err := app.services.StopAll()
	app.registry.DisconnectAll()
	return err
}

// Coordinator exposes the scan façade to embedding callers.
func (app *Application) Coordinator() *barcode.Coordinator {
	return app.coordinator
}

// Registry exposes device discovery to embedding callers.
func (app *Application) Registry() *device.Registry {
	return app.registry
}

// NewRegistry builds the device registry with the configured platforms.
// Shared with the CLI's one-shot commands.
func NewRegistry(cfg *config.Config, logger *logrus.Logger) *device.Registry {
	return device.NewRegistry(logger,
		device.Options{ReadTimeout: cfg.Scanner.ReadTimeout()},
		device.NewHIDPlatform(cfg.Scanner.VendorAllowList),
		device.NewSerialPlatform(cfg.Scanner.VendorAllowList, cfg.Serial.BaudRate),
	)
}

// watcherService runs the registry's plug-and-play watch and feeds its
// events to the handlers.
type watcherService struct {
	registry *device.Registry
	handlers *EventHandlers
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

func newWatcherService(registry *device.Registry, handlers *EventHandlers, interval time.Duration) *watcherService {
	return &watcherService{
		registry: registry,
		handlers: handlers,
		interval: interval,
	}
}

func (w *watcherService) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})

	eventsCh := w.registry.Watch(ctx, w.interval)
	go func() {
		defer close(w.done)
		for ev := range eventsCh {
			w.handlers.HandleDeviceEvent(ev)
		}
	}()
	return nil
}

func (w *watcherService) Stop() error {
	if w.cancel != nil {
		w.cancel()
		<-w.done
	}
	return nil
}
