package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	"github.com/dstanziola/copypoint-scanner/pkg/app"
	"github.com/dstanziola/copypoint-scanner/pkg/barcode"
	"github.com/dstanziola/copypoint-scanner/pkg/common"
	"github.com/dstanziola/copypoint-scanner/pkg/config"
	"github.com/dstanziola/copypoint-scanner/pkg/device"
)

const AppName = "copypoint-scanner"

type CLI struct {
	app    *app.Application
	logger *logrus.Logger
}

func NewCLI() *CLI {
	return &CLI{}
}

func (c *CLI) Run(args []string) error {
	cmd := &cli.Command{
		Name:    AppName,
		Usage:   "Barcode scanner hardware integration for the Copypoint POS",
		Version: common.GetVersion(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
				Value:   "config.yaml",
			},
			&cli.BoolFlag{
				Name:  "list-devices",
				Usage: "List scanning devices visible on this machine",
			},
			&cli.BoolFlag{
				Name:  "scan-once",
				Usage: "Auto-connect a scanner, wait for one code, print it and exit",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Set log level (debug, info, warn, error)",
				Value: "info",
			},
		},
		Action: c.runApp,
	}

	return cmd.Run(context.Background(), args)
}

func (c *CLI) runApp(_ context.Context, cmd *cli.Command) error {
	c.logger = c.setupLogger(cmd)

	cfg, err := c.loadConfig(cmd)
	if err != nil {
		return err
	}
	c.applyConfigLogging(cmd, cfg)

	if cmd.Bool("list-devices") {
		return c.listDevices(cfg)
	}
	if cmd.Bool("scan-once") {
		return c.scanOnce(cfg)
	}

	c.logger.Infof("Starting %s %s", AppName, common.GetBuildInfo())

	c.app = app.NewApplication(cfg, c.logger, common.GetVersion())
	if err := c.app.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	shutdownCh := c.setupSignalHandling()

	if err := c.app.Start(); err != nil {
		return err
	}

	<-shutdownCh

	return c.app.Stop()
}

// loadConfig reads the config file; a missing file at the default location
// is not an error, the built-in defaults apply.
func (c *CLI) loadConfig(cmd *cli.Command) (*config.Config, error) {
	configPath := cmd.String("config")
	if !cmd.IsSet("config") {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			c.logger.Debug("No config file found, using defaults")
			return config.Default(), nil
		}
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

func (c *CLI) setupLogger(cmd *cli.Command) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if level, err := logrus.ParseLevel(cmd.String("log-level")); err == nil {
		logger.SetLevel(level)
	}

	return logger
}

func (c *CLI) applyConfigLogging(cmd *cli.Command, cfg *config.Config) {
	if !cmd.IsSet("log-level") {
		if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
			c.logger.SetLevel(level)
		}
	}
	if cfg.Logging.Format == "json" {
		c.logger.SetFormatter(&logrus.JSONFormatter{})
	}
}

func (c *CLI) setupSignalHandling() <-chan struct{} {
	shutdownCh := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		c.logger.Infof("Received signal: %v", sig)
		close(shutdownCh)
	}()

	return shutdownCh
}

func (c *CLI) listDevices(cfg *config.Config) error {
	registry := app.NewRegistry(cfg, c.logger)
	devices, err := registry.Discover()
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("No scanning devices found - check permissions or udev rules")
		return nil
	}

	fmt.Printf("Found %d scanning device(s):\n\n", len(devices))
	for i, d := range devices {
		fmt.Printf("%d. %s (%s)\n", i+1, d.Product, d.Manufacturer)
		fmt.Printf("   ID: %s\n", d.ID)
		fmt.Printf("   Kind: %s\n", d.Kind)
		fmt.Printf("   VID:PID: %04x:%04x\n", d.VendorID, d.ProductID)
		if d.Serial != "" {
			fmt.Printf("   Serial: %s\n", d.Serial)
		}
		fmt.Printf("   Path: %s\n", d.Path)
		fmt.Println("")
	}

	stats := registry.Stats()
	fmt.Printf("Total: %d detected, %d connected\n", stats.TotalDetected, stats.TotalConnected)
	return nil
}

// scanOnce connects the first available scanner, waits for one code and
// prints it together with the resolved product when a catalog is
// configured. Ctrl-C aborts the wait.
func (c *CLI) scanOnce(cfg *config.Config) error {
	application := app.NewApplication(cfg, c.logger, common.GetVersion())
	if err := application.Initialize(); err != nil {
		return err
	}
	coordinator := application.Coordinator()

	d, err := coordinator.AutoConnect()
	if err != nil {
		return err
	}
	defer application.Registry().DisconnectAll()

	fmt.Printf("Waiting for a scan on %s...\n", d.Product)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	code, product, err := coordinator.ReadAndResolve(ctx, d.ID, 60*time.Second)
	switch {
	case err == nil:
		fmt.Printf("%s (%s) -> %s\n", code.Normalized, code.Format, product.Name)
	case errors.Is(err, barcode.ErrNoLookup), errors.Is(err, barcode.ErrProductNotFound):
		fmt.Printf("%s (%s)\n", code.Normalized, code.Format)
	case errors.Is(err, device.ErrReadTimeout):
		return fmt.Errorf("no code scanned within the wait window")
	default:
		return err
	}
	return nil
}
