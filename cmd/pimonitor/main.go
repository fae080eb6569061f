// PI Monitor Core
//
// This is the main entry point for the monitor. It keeps a live registry of
// eye-tracking phones, supervises one status socket per phone, runs
// recording actions on request and serves the local API that tablets and
// dashboards use to watch and operate the devices.
//
// Usage:
//
//	pimonitor [-config path] [-host ip[:port]]
//	pimonitor token [-config path] [-role operator|viewer] [-subject name] [-ttl 12h]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/pimonitor/pimonitor-core/internal/action"
	"github.com/pimonitor/pimonitor-core/internal/api"
	"github.com/pimonitor/pimonitor-core/internal/auth"
	"github.com/pimonitor/pimonitor-core/internal/device"
	"github.com/pimonitor/pimonitor-core/internal/discovery"
	"github.com/pimonitor/pimonitor-core/internal/infrastructure/config"
	"github.com/pimonitor/pimonitor-core/internal/infrastructure/database"
	"github.com/pimonitor/pimonitor-core/internal/infrastructure/influxdb"
	"github.com/pimonitor/pimonitor-core/internal/infrastructure/logging"
	"github.com/pimonitor/pimonitor-core/internal/infrastructure/mqtt"
	"github.com/pimonitor/pimonitor-core/internal/preset"
	"github.com/pimonitor/pimonitor-core/internal/supervisor"
	"github.com/pimonitor/pimonitor-core/internal/telemetry"
	"github.com/pimonitor/pimonitor-core/internal/transport"
	"github.com/pimonitor/pimonitor-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// historyRetention is how long recording history is kept.
const historyRetention = 30 * 24 * time.Hour

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := dispatch(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options are the command-line settings of the serve command.
type options struct {
	configPath string
	host       string
}

// dispatch picks the subcommand. Without one the monitor is started.
func dispatch(ctx context.Context, args []string, out io.Writer) error {
	if len(args) > 0 && args[0] == "token" {
		return runToken(args[1:], out)
	}

	fs := flag.NewFlagSet("pimonitor", flag.ContinueOnError)
	fs.SetOutput(out)
	opts := options{}
	fs.StringVar(&opts.configPath, "config", getConfigPath(), "path to the YAML configuration file")
	fs.StringVar(&opts.host, "host", "", "phone to bootstrap from, as ip or ip:port (overrides discovery.host)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return run(ctx, opts)
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context, opts options) error {
	log := logging.Default()
	log.Info("starting PI Monitor Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if opts.host != "" {
		cfg.Discovery.Host = opts.host
	}
	log.Info("configuration loaded", "path", opts.configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(ctx, cfg.Database)
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

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	registry := device.NewRegistry()
	registry.SetLogger(log.With("component", "registry"))

	historyRepo := device.NewSQLiteHistoryRepository(db.DB)
	if pruned, pruneErr := historyRepo.Prune(ctx, historyRetention); pruneErr != nil {
		log.Warn("pruning recording history", "error", pruneErr)
	} else if pruned > 0 {
		log.Info("pruned recording history", "rows", pruned)
	}
	registry.Subscribe(device.NewHistoryRecorder(historyRepo, log.With("component", "history")).Observe)

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = connectMQTT(cfg, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	} else {
		log.Info("MQTT disabled")
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB, cfg.Site.ID)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
			stats := influxClient.Stats()
			log.Info("InfluxDB closed", "written", stats.Written, "dropped", stats.Dropped, "failed", stats.Failed)
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})

		registry.Subscribe(telemetry.NewWriter(influxClient).Observe)
	} else {
		log.Info("InfluxDB disabled")
	}

	presets, err := startPresets(ctx, cfg, db, mqttClient, log)
	if err != nil {
		return err
	}

	var publisher *telemetry.Publisher
	if mqttClient != nil {
		publisher = telemetry.NewPublisher(mqttClient)
		publisher.SetLogger(log.With("component", "publisher"))
		registry.Subscribe(publisher.Observe)
		go publisher.Run(ctx)
	}

	tr := transport.NewReconnecting(transport.Config{
		InitialDelay: cfg.Supervisor.Reconnect.InitialDelay,
		MaxDelay:     cfg.Supervisor.Reconnect.MaxDelay,
		PingInterval: cfg.Supervisor.PingInterval,
		PongTimeout:  cfg.Supervisor.PongTimeout,
	})
	tr.SetLogger(log.With("component", "transport"))

	supervisors := supervisor.NewManager(registry, tr)
	supervisors.SetLogger(log.With("component", "supervisor"))
	defer func() {
		log.Info("stopping device supervisors", "count", supervisors.Len())
		supervisors.StopAll()
	}()

	disc := discovery.New(registry, supervisors, &http.Client{})
	disc.SetLogger(log.With("component", "discovery"))
	disc.Start(ctx)
	defer disc.Stop()

	if cfg.Discovery.DemoDevice {
		registry.SeedDemoDevice()
		log.Info("demo device added", "host_id", device.DemoHostID)
	}
	bootstrap(ctx, cfg.Discovery, disc, registry, log)

	coordinator := action.NewCoordinator(registry, action.HTTPClients(&http.Client{}), action.Timeouts{
		Start:  cfg.Actions.StartTimeout,
		Stop:   cfg.Actions.StopTimeout,
		Cancel: cfg.Actions.CancelTimeout,
		Event:  cfg.Actions.EventTimeout,
	})
	coordinator.SetLogger(log.With("component", "actions"))

	deps := api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log,
		Registry: registry,
		Actions:  coordinator,
		Presets:  presets,
		History:  historyRepo,
		Version:  version,
	}
	if mqttClient != nil {
		deps.MQTT = mqttClient
	}
	if influxClient != nil {
		deps.InfluxDB = influxClient
	}
	apiServer, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	if publisher != nil {
		<-publisher.Done()
	}

	log.Info("PI Monitor Core stopped")
	return nil
}

func getConfigPath() string {
	if path := os.Getenv("PIMONITOR_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

func connectMQTT(cfg *config.Config, log *logging.Logger) (*mqtt.Client, error) {
	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log.With("component", "mqtt"))
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	return client, nil
}

// startPresets loads the preset labels and, with a broker, shares edits
// with other monitors.
func startPresets(ctx context.Context, cfg *config.Config, db *database.DB, mqttClient *mqtt.Client, log *logging.Logger) (*preset.Store, error) {
	store := preset.NewStore(preset.NewSQLiteKV(db.DB), cfg.Presets.Slots)
	store.SetLogger(log.With("component", "presets"))
	if err := store.Load(ctx); err != nil {
		return nil, fmt.Errorf("loading presets: %w", err)
	}
	log.Info("presets loaded", "slots", store.Slots())

	if mqttClient == nil {
		return store, nil
	}
	origin := cfg.Site.ID + "-" + uuid.NewString()
	presetSync := preset.NewSync(store, mqttClient, cfg.Presets.SyncTopic, origin)
	presetSync.SetLogger(log.With("component", "preset-sync"))
	if err := presetSync.Start(); err != nil {
		return nil, fmt.Errorf("starting preset sync: %w", err)
	}
	log.Info("preset sync started", "origin", origin)
	return store, nil
}

// bootstrap seeds the registry from the configured host. When the host
// does not answer it is still registered, so its supervisor keeps trying.
func bootstrap(ctx context.Context, cfg config.DiscoveryConfig, disc *discovery.Discovery, registry *device.Registry, log *logging.Logger) {
	if cfg.Host == "" {
		return
	}
	bctx, cancel := context.WithTimeout(ctx, cfg.BootstrapTimeout)
	defer cancel()

	n, err := disc.Bootstrap(bctx, cfg.Host)
	if err == nil && n > 0 {
		return
	}
	if err != nil {
		log.Warn("bootstrap failed, supervising host until it answers", "host", cfg.Host, "error", err)
	}
	ip, port := device.SplitHost(cfg.Host)
	registry.UpsertFromDiscovery(device.HostID(ip, port), device.APIURL(ip, port))
}

func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// runToken prints a signed API token for an operator tablet or a viewer.
func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("pimonitor token", flag.ContinueOnError)
	fs.SetOutput(out)
	configPath := fs.String("config", getConfigPath(), "path to the YAML configuration file")
	role := fs.String("role", string(auth.RoleOperator), "token role: operator or viewer")
	subject := fs.String("subject", "operator", "name recorded in the token subject")
	ttl := fs.Duration("ttl", 0, "token lifetime (default security.jwt.access_token_ttl)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	lifetime := *ttl
	if lifetime <= 0 {
		lifetime = time.Duration(cfg.Security.JWT.AccessTokenTTL) * time.Minute
	}

	token, err := auth.GenerateAccessToken(*subject, auth.Role(*role), cfg.Security.JWT.Secret, lifetime)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	fmt.Fprintln(out, token)
	return nil
}
