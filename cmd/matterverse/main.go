// Matterverse Core - Matter to MQTT bridging hub
//
// This is the main entry point for the Matterverse Core application.
// It commissions Matter devices through a chip-tool gateway, mirrors
// their attributes onto an MQTT broker using the Homie convention, and
// exposes the device tree over REST and WebSocket sessions.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/matterverse/matterverse-core/migrations"

	"github.com/matterverse/matterverse-core/internal/api"
	"github.com/matterverse/matterverse-core/internal/bus"
	"github.com/matterverse/matterverse-core/internal/chiptool"
	"github.com/matterverse/matterverse-core/internal/commissioning"
	"github.com/matterverse/matterverse-core/internal/datamodel"
	"github.com/matterverse/matterverse-core/internal/device"
	"github.com/matterverse/matterverse-core/internal/dispatch"
	"github.com/matterverse/matterverse-core/internal/infrastructure/config"
	"github.com/matterverse/matterverse-core/internal/infrastructure/database"
	"github.com/matterverse/matterverse-core/internal/infrastructure/influxdb"
	"github.com/matterverse/matterverse-core/internal/infrastructure/logging"
	"github.com/matterverse/matterverse-core/internal/infrastructure/mqtt"
	"github.com/matterverse/matterverse-core/internal/notify"
	"github.com/matterverse/matterverse-core/internal/poller"
	"github.com/matterverse/matterverse-core/internal/process"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Matterverse Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Load the data model dictionary
	dict, err := datamodel.Load(cfg.DataModel.ClusterDir, cfg.DataModel.DeviceTypeDir, log)
	if err != nil {
		return fmt.Errorf("loading data model: %w", err)
	}
	log.Info("data model loaded",
		"clusters", len(dict.Clusters()),
		"device_types", len(dict.DeviceTypes()),
	)

	// Initialise device registry
	deviceRepo := device.NewSQLiteRepository(db.DB)
	deviceRegistry := device.NewRegistry(deviceRepo)
	deviceRegistry.SetLogger(log)

	if refreshErr := deviceRegistry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	log.Info("device registry initialised", "devices", deviceRegistry.GetDeviceCount())

	// History journal retention sweep
	if cfg.Database.HistoryRetentionDays > 0 {
		retention := time.Duration(cfg.Database.HistoryRetentionDays) * 24 * time.Hour
		go func() {
			ticker := time.NewTicker(time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					removed, pruneErr := deviceRepo.PruneHistory(ctx, time.Now().Add(-retention))
					if pruneErr != nil {
						log.Warn("history prune failed", "error", pruneErr)
					} else if removed > 0 {
						log.Debug("history pruned", "rows", removed)
					}
				}
			}
		}()
	}

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// chip-tool control channel. The trust store and storage flags go
	// on every invocation, before the command tokens.
	var baseArgs []string
	if cfg.ChipTool.PAATrustStorePath != "" {
		baseArgs = append(baseArgs, "--paa-trust-store-path", cfg.ChipTool.PAATrustStorePath)
	}
	if cfg.ChipTool.StorageDirectory != "" {
		baseArgs = append(baseArgs, "--storage-directory", cfg.ChipTool.StorageDirectory)
	}
	runner := process.NewRunner(process.Config{
		Name:     "chip-tool",
		Binary:   cfg.ChipTool.Binary,
		BaseArgs: baseArgs,
		Timeout:  cfg.GetCommandTimeout(),
	})
	runner.SetLogger(log)

	gateway := chiptool.NewGateway(runner, chiptool.Config{
		MaxConcurrent: cfg.ChipTool.MaxConcurrent,
	})
	gateway.SetLogger(log)
	defer gateway.Close()
	log.Info("chip-tool gateway ready",
		"binary", cfg.ChipTool.Binary,
		"max_concurrent", cfg.ChipTool.MaxConcurrent,
	)

	// Homie publisher mirrors the registry onto the broker; the
	// notifier fans registry events out to it and to WebSocket sessions.
	publisher := bus.NewPublisher(mqttClient, deviceRegistry, dict)
	publisher.SetLogger(log)

	notifier := notify.New(publisher)
	notifier.SetLogger(log)

	// Command dispatcher
	dispatcher := dispatch.New(gateway, deviceRegistry, dict)
	dispatcher.SetLogger(log)
	dispatcher.SetNotifier(notifier)
	if influxClient != nil {
		dispatcher.SetRecorder(influxClient)
	}

	// Inbound bus normaliser routes settable-topic writes through the
	// dispatcher, so bus commands get the same validation as API ones,
	// and fans applied value changes out through the notifier.
	normalizer := bus.NewNormalizer(mqttClient, deviceRegistry, dispatcher)
	normalizer.SetLogger(log)
	normalizer.SetNotifier(notifier)
	if startErr := normalizer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting bus normaliser: %w", startErr)
	}
	log.Info("bus normaliser subscribed")

	// Advertise the known device tree before accepting traffic
	if advErr := publisher.AdvertiseAll(ctx); advErr != nil {
		return fmt.Errorf("advertising devices: %w", advErr)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		publisher.Shutdown(shutdownCtx)
	}()

	// Attribute poller
	devicePoller := poller.New(gateway, deviceRegistry, poller.Config{
		Interval:          cfg.GetPollingInterval(),
		Budget:            cfg.Polling.MaxConcurrentDevices,
		FailureThreshold:  cfg.Polling.FailureThreshold,
		BackoffMax:        time.Duration(cfg.Polling.BackoffMax) * time.Second,
		DiscoveryInterval: cfg.GetDiscoveryInterval(),
	})
	devicePoller.SetLogger(log)
	devicePoller.SetNotifier(notifier)
	if influxClient != nil {
		devicePoller.SetRecorder(influxClient)
	}
	if startErr := devicePoller.Start(ctx); startErr != nil {
		return fmt.Errorf("starting poller: %w", startErr)
	}
	defer func() {
		log.Info("stopping poller")
		if stopErr := devicePoller.Stop(); stopErr != nil {
			log.Error("error stopping poller", "error", stopErr)
		}
	}()
	log.Info("poller started", "interval", cfg.GetPollingInterval())

	// Commissioning registrar
	registrar := commissioning.NewRegistrar(gateway, deviceRegistry, dict)
	registrar.SetLogger(log)

	// API server
	apiServer, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Security:   cfg.Security,
		Logger:     log,
		Registry:   deviceRegistry,
		Dictionary: dict,
		Dispatcher: dispatcher,
		Registrar:  registrar,
		Notifier:   notifier,
		Poller:     devicePoller,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. Poller
	// 3. Publisher (Homie $state goodbye)
	// 4. chip-tool gateway
	// 5. InfluxDB (if enabled)
	// 6. MQTT
	// 7. Database

	log.Info("Matterverse Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses MATTERVERSE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("MATTERVERSE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
