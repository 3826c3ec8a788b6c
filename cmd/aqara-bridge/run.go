package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-aqara/internal/accessory"
	"github.com/nerrad567/gray-logic-aqara/internal/api"
	"github.com/nerrad567/gray-logic-aqara/internal/audit"
	"github.com/nerrad567/gray-logic-aqara/internal/bridges/aqara"
	"github.com/nerrad567/gray-logic-aqara/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-aqara/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-aqara/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-aqara/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-aqara/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-aqara/migrations"
)

// run is the bridge process, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: Process config file
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configPath string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Aqara bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if !cfg.Protocols.Aqara.Enabled {
		return fmt.Errorf("aqara protocol is disabled in %s", configPath)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	bridgeCfg, err := aqara.LoadConfig(cfg.Protocols.Aqara.ConfigFile)
	if err != nil {
		return fmt.Errorf("loading aqara config: %w", err)
	}
	log.Info("aqara config loaded",
		"path", cfg.Protocols.Aqara.ConfigFile,
		"bridge_id", bridgeCfg.Bridge.ID,
		"gateways", len(bridgeCfg.Gateways),
	)

	// Accessory cache
	db, err := database.Open(ctx, database.Config{
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
	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	// Reading history (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// The health topic's will must be registered before connecting.
	lwt, err := json.Marshal(aqara.NewLWTMessage(bridgeCfg.Bridge.ID))
	if err != nil {
		return fmt.Errorf("encoding LWT: %w", err)
	}
	mqttClient, err := mqtt.Connect(ctx, cfg.MQTT,
		mqtt.WithWill(aqara.HealthTopic(), lwt),
		mqtt.WithLogger(log),
		mqtt.WithConnectionHooks(
			func() { log.Info("MQTT reconnected") },
			func(err error) { log.Warn("MQTT disconnected", "error", err) },
		),
	)
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

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	auditRepo := audit.NewSQLiteRepository(db.DB)
	managerOpts := accessory.ManagerOptions{
		Store:     accessory.NewSQLiteStore(db.DB),
		Publisher: mqttClient,
		Audit:     auditRepo,
		Logger:    log.Component("accessory"),
	}
	if influxClient != nil {
		managerOpts.Metrics = influxClient
	}
	manager := accessory.NewManager(managerOpts)

	restored, err := manager.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restoring accessories: %w", err)
	}
	log.Info("accessories restored", "devices", len(restored))

	transport, err := aqara.ListenUDP(bridgeCfg.ToUDPConfig())
	if err != nil {
		return fmt.Errorf("opening gateway socket: %w", err)
	}
	defer func() {
		if closeErr := transport.Close(); closeErr != nil {
			log.Error("error closing gateway socket", "error", closeErr)
		}
	}()
	transport.SetLogger(log.Component("aqara-transport"))

	bridge, err := aqara.NewBridge(aqara.BridgeOptions{
		Config:      bridgeCfg,
		Transport:   transport,
		Accessories: manager,
		Publisher:   mqttClient,
		Metrics:     aqara.NewMetrics(registry),
		Logger:      log.Component("aqara"),
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating aqara bridge: %w", err)
	}
	bridge.Restore(restored)
	manager.SetChannels(bridge)

	// The manager outlives the signal context so Stop can drain queued writes.
	if startErr := manager.Start(context.WithoutCancel(ctx)); startErr != nil {
		return fmt.Errorf("starting accessory manager: %w", startErr)
	}
	defer manager.Stop()

	if startErr := bridge.Start(ctx); startErr != nil {
		return fmt.Errorf("starting aqara bridge: %w", startErr)
	}
	defer func() {
		log.Info("stopping aqara bridge")
		bridge.Stop()
	}()
	log.Info("aqara bridge started", "listen", transport.LocalAddr().String())

	if cfg.API.Enabled {
		server, apiErr := api.New(api.Deps{
			Config:      cfg.API,
			Logger:      log,
			Bridge:      bridge,
			Accessories: manager,
			Audit:       auditRepo,
			MQTT:        mqttClient,
			Gatherer:    registry,
			Version:     version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if apiErr = server.Start(ctx); apiErr != nil {
			return fmt.Errorf("starting API server: %w", apiErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	g, gctx := errgroup.WithContext(ctx)
	if influxClient != nil {
		g.Go(func() error {
			recordBridgeStats(gctx, bridgeCfg.Bridge.ID, bridgeCfg.GetHealthInterval(), bridge, influxClient)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	// Deferred calls run in reverse: API, bridge, manager, socket, MQTT,
	// InfluxDB, database.
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// statsWriter is the slice of the InfluxDB client used for bridge counters.
type statsWriter interface {
	WriteBridgeStats(s influxdb.BridgeStats)
}

// statsSource provides bridge counters.
type statsSource interface {
	GetMetrics() aqara.BridgeMetrics
}

// recordBridgeStats writes bridge counters every interval until ctx ends.
func recordBridgeStats(ctx context.Context, bridgeID string, interval time.Duration, src statsSource, w statsWriter) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m := src.GetMetrics()
			w.WriteBridgeStats(influxdb.BridgeStats{
				BridgeID: bridgeID,
				Received: m.PacketsRx,
				Sent:     m.PacketsTx,
				Errors:   m.Errors,
				Devices:  m.Devices,
				Gateways: m.Gateways,
			})
		}
	}
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
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
