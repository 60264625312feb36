// CTHz Fleet Core - sensor fleet orchestration
//
// This is the main entry point for the CTHz Fleet Core application.
// The core coordinates a hierarchy of terahertz scanning devices:
//   - Event-driven pipeline (detections, heartbeats, scan results)
//   - Policy engine dispatching automated responses
//   - Hierarchical health aggregation (device -> station -> group)
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/cthz/cthz-core/migrations"

	"github.com/cthz/cthz-core/internal/alert"
	"github.com/cthz/cthz-core/internal/api"
	"github.com/cthz/cthz-core/internal/correlation"
	"github.com/cthz/cthz-core/internal/dispatch"
	"github.com/cthz/cthz-core/internal/event"
	"github.com/cthz/cthz-core/internal/fleet"
	"github.com/cthz/cthz-core/internal/infrastructure/config"
	"github.com/cthz/cthz-core/internal/infrastructure/database"
	"github.com/cthz/cthz-core/internal/infrastructure/influxdb"
	"github.com/cthz/cthz-core/internal/infrastructure/logging"
	"github.com/cthz/cthz-core/internal/infrastructure/metrics"
	"github.com/cthz/cthz-core/internal/infrastructure/mqtt"
	"github.com/cthz/cthz-core/internal/pipeline"
	"github.com/cthz/cthz-core/internal/policy"
	"github.com/cthz/cthz-core/internal/status"
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
	log.Info("starting CTHz Fleet Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

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
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Fleet registry: the authoritative group/station/device hierarchy.
	fleetReg := fleet.NewRegistry(fleet.NewSQLiteRepository(db.DB))
	fleetReg.SetLogger(log)
	if refreshErr := fleetReg.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading fleet registry: %w", refreshErr)
	}
	log.Info("fleet registry initialised",
		"devices", fleetReg.DeviceCount(),
		"stations", fleetReg.StationCount(),
		"groups", fleetReg.GroupCount(),
	)

	// Policy registry.
	policyReg := policy.NewRegistry(policy.NewSQLiteRepository(db.DB), log)
	if refreshErr := policyReg.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading policy registry: %w", refreshErr)
	}
	log.Info("policy registry initialised", "policies", policyReg.PolicyCount())

	// Connect to MQTT broker (device transport)
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

	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional status/detection history)
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

	// Prometheus metric registry. Exposed on the API under /metrics.
	m := metrics.New()

	qos := byte(cfg.MQTT.QoS)
	topics := mqtt.Topics{}

	// The tracker and the monitor feed synthesized events back into the
	// pipeline, but the pipeline needs both to exist first. The proxy breaks
	// the cycle; its target is set before anything starts.
	ingress := &submitterProxy{}

	// Correlation tracker: pairs scan/calibration commands with results.
	tracker := correlation.NewTracker(
		correlation.NewSQLiteRepository(db.DB),
		fleetReg,
		&mqttCommandTransport{client: mqttClient, topics: topics, qos: qos},
		ingress,
		time.Duration(cfg.Fleet.RequestTimeout)*time.Second,
		time.Duration(cfg.Fleet.SweepInterval)*time.Second,
		log,
	)
	tracker.SetInstruments(&trackerInstruments{m: m})

	// Alert manager with dedup window.
	alerts := alert.NewManager(
		alert.NewSQLiteRepository(db.DB),
		time.Duration(cfg.Alerts.DedupWindow)*time.Second,
		log,
	)
	alerts.SetInstruments(&alertInstruments{m: m})

	// Action dispatcher: executes policy actions with retry.
	results := dispatch.NewSQLiteResultRepository(db.DB)
	dispatcher := dispatch.NewDispatcher(
		alerts,
		&scanIssuer{tracker: tracker},
		dispatch.NewWebhookSink("external_event", cfg.Sinks.ExternalEvent),
		dispatch.NewWebhookSink("notify", cfg.Sinks.Notify),
		results,
		dispatch.RetryConfig{
			MaxAttempts:  cfg.Dispatch.RetryAttempts,
			InitialDelay: time.Duration(cfg.Dispatch.RetryBase) * time.Second,
			MaxDelay:     time.Duration(cfg.Dispatch.RetryMax) * time.Second,
			Multiplier:   2.0,
			AddJitter:    true,
		},
		log,
	)
	dispatcher.SetInstruments(&dispatchInstruments{m: m})
	if influxClient != nil {
		dispatcher.SetRecorder(influxClient)
	}

	// Status aggregator: folds health events into the hierarchy.
	aggregator := status.NewAggregator(fleetReg, cfg.Fleet.StationQuorum, log)

	// Event pipeline: sharded, serialized per entity hierarchy.
	pipe := pipeline.New(fleetReg, aggregator, tracker, policyReg, dispatcher,
		cfg.Pipeline.Shards, cfg.Pipeline.QueueDepth, log)
	pipe.SetInstruments(&pipelineInstruments{m: m})
	ingress.target = pipe

	// Heartbeat monitor: synthesizes expiry events for silent devices.
	monitor := status.NewMonitor(fleetReg, ingress,
		cfg.Fleet.HeartbeatExpiry(),
		time.Duration(cfg.Fleet.HeartbeatInterval)*time.Second,
		log,
	)

	// HTTP API server.
	server, err := api.New(api.Deps{
		Config:   cfg.API,
		Logger:   log,
		Fleet:    fleetReg,
		Policies: policyReg,
		Alerts:   alerts,
		Tracker:  tracker,
		Results:  results,
		Pipeline: ingress,
		Metrics:  m.Handler(),
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	// Fan status transitions out to InfluxDB, the retained MQTT status
	// topics and the WebSocket hub.
	aggregator.SetRecorder(&statusFanout{
		influx: influxClient,
		mqtt:   mqttClient,
		topics: topics,
		hub:    server.Hub(),
		log:    log,
	})

	// Fan raised alerts out to the WebSocket hub and the MQTT alert topic.
	alerts.SetBroadcaster(&alertFanout{
		mqtt:   mqttClient,
		topics: topics,
		qos:    qos,
		hub:    server.Hub(),
		log:    log,
	})

	// Start the processing stages before opening the inbound surfaces.
	pipe.Start(ctx)
	defer func() {
		log.Info("stopping pipeline")
		pipe.Stop()
	}()

	dispatcher.Start(ctx, cfg.Dispatch.Workers)
	defer func() {
		log.Info("stopping dispatcher")
		dispatcher.Stop()
	}()

	tracker.Start(ctx)
	defer func() {
		log.Info("stopping correlation tracker")
		tracker.Stop()
	}()

	monitor.Start(ctx)
	defer func() {
		log.Info("stopping heartbeat monitor")
		monitor.Stop()
	}()

	// Inbound device traffic: events and request results.
	if err := subscribeDeviceTraffic(mqttClient, topics, qos, ingress); err != nil {
		return fmt.Errorf("subscribing to device topics: %w", err)
	}
	log.Info("device subscriptions active",
		"events", topics.AllDeviceEvents(),
		"results", topics.AllDeviceResults(),
	)

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started",
		"address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port))

	// Announce the core itself on the system status topic.
	if err := mqttClient.PublishRetained(topics.SystemStatus(), []byte(`{"status":"online"}`)); err != nil {
		log.Warn("publishing system status failed", "error", err)
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	if err := mqttClient.PublishRetained(topics.SystemStatus(), []byte(`{"status":"offline"}`)); err != nil {
		log.Warn("publishing system status failed", "error", err)
	}

	// Deferred shutdowns run in reverse order: API first (stop inbound),
	// then monitor, tracker, dispatcher, pipeline, and finally the
	// infrastructure connections.

	log.Info("CTHz Fleet Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses CTHZ_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("CTHZ_CONFIG"); path != "" {
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

// subscribeDeviceTraffic routes device MQTT traffic into the pipeline.
//
// Event topics carry raw device events; the device ID in the topic is
// authoritative and overrides whatever the payload claims, so a misbehaving
// device cannot impersonate another. Result topics carry request results
// which are normalised into events tagged with their correlation ID.
func subscribeDeviceTraffic(client *mqtt.Client, topics mqtt.Topics, qos byte,
	ingress *submitterProxy) error {

	err := client.Subscribe(topics.AllDeviceEvents(), qos, func(topic string, payload []byte) error {
		deviceID := mqtt.DeviceIDFromTopic(topic)
		if deviceID == "" {
			return fmt.Errorf("unroutable event topic %q", topic)
		}

		var ev event.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("parsing event from %s: %w", deviceID, err)
		}
		ev.SourceType = event.SourceDevice
		ev.SourceID = deviceID
		if ev.OccurredAt.IsZero() {
			ev.OccurredAt = time.Now().UTC()
		}

		return ingress.Submit(ev)
	})
	if err != nil {
		return err
	}

	return client.Subscribe(topics.AllDeviceResults(), qos, func(topic string, payload []byte) error {
		deviceID := mqtt.DeviceIDFromTopic(topic)
		if deviceID == "" {
			return fmt.Errorf("unroutable result topic %q", topic)
		}

		var msg resultMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return fmt.Errorf("parsing result from %s: %w", deviceID, err)
		}
		if msg.CorrelationID == "" {
			return fmt.Errorf("result from %s has no correlation id", deviceID)
		}
		if msg.Type == "" {
			msg.Type = "scan_result"
		}

		ev := event.New(event.SourceDevice, deviceID, msg.Type, msg.Data)
		ev.CorrelationID = msg.CorrelationID
		return ingress.Submit(ev)
	})
}

// resultMessage is the wire payload devices publish on cthz/result/{device_id}.
type resultMessage struct {
	CorrelationID string         `json:"correlation_id"`
	Type          string         `json:"type"`
	Data          map[string]any `json:"data"`
}

// submitterProxy defers pipeline resolution until wiring is complete. The
// tracker and monitor are constructed before the pipeline but never submit
// before everything has started.
type submitterProxy struct {
	target *pipeline.Pipeline
}

func (p *submitterProxy) Submit(ev event.Event) error {
	if p.target == nil {
		return pipeline.ErrStopped
	}
	return p.target.Submit(ev)
}

// mqttCommandTransport sends correlation commands to devices over MQTT.
// Satisfies correlation.Transport.
type mqttCommandTransport struct {
	client *mqtt.Client
	topics mqtt.Topics
	qos    byte
}

func (t *mqttCommandTransport) SendCommand(deviceID string, payload []byte) error {
	return t.client.Publish(t.topics.DeviceCommand(deviceID), payload, t.qos, false)
}

// scanIssuer adapts the correlation tracker to the dispatcher's trigger_scan
// action. Satisfies dispatch.ScanIssuer.
type scanIssuer struct {
	tracker *correlation.Tracker
}

func (s *scanIssuer) IssueScan(ctx context.Context, deviceID string, params map[string]any) (string, error) {
	return s.tracker.Issue(ctx, deviceID, correlation.RequestScan, params, 0)
}

// statusFanout distributes status transitions to every interested consumer:
// InfluxDB history, the retained MQTT status topic, and WebSocket clients.
// Satisfies status.TransitionRecorder.
type statusFanout struct {
	influx *influxdb.Client
	mqtt   *mqtt.Client
	topics mqtt.Topics
	hub    *api.Hub
	log    *logging.Logger
}

func (f *statusFanout) WriteStatusTransition(sourceType, sourceID, from, to string) {
	if f.influx != nil {
		f.influx.WriteStatusTransition(sourceType, sourceID, from, to)
	}

	payload := map[string]any{
		"source_type": sourceType,
		"source_id":   sourceID,
		"from":        from,
		"to":          to,
		"at":          time.Now().UTC().Format(time.RFC3339),
	}

	data, err := json.Marshal(payload)
	if err != nil {
		f.log.Error("marshaling status transition", "error", err)
		return
	}
	if err := f.mqtt.PublishRetained(f.topics.CoreStatus(sourceType, sourceID), data); err != nil {
		f.log.Warn("publishing status transition failed",
			"source_type", sourceType, "source_id", sourceID, "error", err)
	}

	if f.hub != nil {
		f.hub.Broadcast(api.ChannelStatus, payload)
	}
}

// alertFanout pushes raised and merged alerts to WebSocket clients and the
// MQTT alert topic. Satisfies alert.Broadcaster.
type alertFanout struct {
	mqtt   *mqtt.Client
	topics mqtt.Topics
	qos    byte
	hub    *api.Hub
	log    *logging.Logger
}

func (f *alertFanout) BroadcastAlert(a alert.Alert) {
	if f.hub != nil {
		f.hub.BroadcastAlert(a)
	}

	data, err := json.Marshal(a)
	if err != nil {
		f.log.Error("marshaling alert", "alert_id", a.ID, "error", err)
		return
	}
	if err := f.mqtt.Publish(f.topics.CoreAlert(a.ID), data, f.qos, false); err != nil {
		f.log.Warn("publishing alert failed", "alert_id", a.ID, "error", err)
	}
}

// pipelineInstruments maps pipeline counters onto Prometheus metrics.
type pipelineInstruments struct {
	m *metrics.Metrics
}

func (i *pipelineInstruments) EventIngested(eventType string) {
	i.m.EventsIngested.WithLabelValues(eventType).Inc()
}

func (i *pipelineInstruments) EventRejected(reason string) {
	i.m.EventsRejected.WithLabelValues(reason).Inc()
}

func (i *pipelineInstruments) PolicyMatched(policyID string) {
	i.m.PoliciesMatched.WithLabelValues(policyID).Inc()
}

func (i *pipelineInstruments) SetQueueDepth(shard string, depth int) {
	i.m.QueueDepth.WithLabelValues(shard).Set(float64(depth))
}

// dispatchInstruments maps dispatcher counters onto Prometheus metrics.
type dispatchInstruments struct {
	m *metrics.Metrics
}

func (i *dispatchInstruments) ActionCompleted(actionType, status string, duration time.Duration) {
	i.m.ActionsTotal.WithLabelValues(actionType, status).Inc()
	i.m.DispatchSeconds.WithLabelValues(actionType).Observe(duration.Seconds())
}

func (i *dispatchInstruments) ActionRetried() {
	i.m.ActionRetries.Inc()
}

// trackerInstruments maps correlation counters onto Prometheus metrics.
type trackerInstruments struct {
	m *metrics.Metrics
}

func (i *trackerInstruments) RequestIssued() {
	i.m.RequestsPending.Inc()
}

func (i *trackerInstruments) RequestSettled() {
	i.m.RequestsPending.Dec()
}

func (i *trackerInstruments) RequestTimedOut() {
	i.m.RequestsPending.Dec()
	i.m.RequestsTimedOut.Inc()
}

// alertInstruments maps alert counters onto Prometheus metrics.
type alertInstruments struct {
	m *metrics.Metrics
}

func (i *alertInstruments) AlertRaised(severity string) {
	i.m.AlertsRaised.WithLabelValues(severity).Inc()
}

func (i *alertInstruments) AlertDeduped() {
	i.m.AlertsDeduped.Inc()
}
