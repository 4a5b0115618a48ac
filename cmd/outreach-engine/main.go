// cmd/outreach-engine/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"outreach-engine/internal/abtest"
	"outreach-engine/internal/campaign"
	"outreach-engine/internal/common/aws"
	"outreach-engine/internal/common/config"
	"outreach-engine/internal/common/database"
	"outreach-engine/internal/common/logger"
	"outreach-engine/internal/common/observability"
	"outreach-engine/internal/consent"
	"outreach-engine/internal/contacts"
	"outreach-engine/internal/dispatch"
	"outreach-engine/internal/events"
	"outreach-engine/internal/followup"
	"outreach-engine/internal/gateway"
	"outreach-engine/internal/models"
	"outreach-engine/internal/monitor"
	"outreach-engine/internal/notify"
	"outreach-engine/internal/segmentation"
	"outreach-engine/internal/store"
	"outreach-engine/internal/workflow"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	zapLog := logger.New("info", "console")
	defer zapLog.Sync()

	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting outreach engine...")

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	obs := observability.New("outreach-engine")
	defer obs.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Elasticsearch with retry ---
	var esClient *database.ElasticsearchClient
	err = retryWithBackoff(func() error {
		var err error
		esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			return err
		}
		return esClient.Ping()
	}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
	if err != nil {
		zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
	}
	zapLog.Info("Elasticsearch connected successfully")

	// --- Init Redis with retry ---
	var redis *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		redis, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return redis.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redis.Close()
	zapLog.Info("Redis connected successfully")

	// --- Optional workflow trigger (Zeebe) ---
	var trigger *workflow.Trigger
	if cfg.Workflow.Enabled {
		var wfClient *workflow.Client
		err = retryWithBackoff(func() error {
			var err error
			wfClient, err = workflow.NewClient(cfg.Workflow.BrokerAddress)
			return err
		}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
		if err != nil {
			zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
		}
		defer wfClient.Close()
		trigger = workflow.NewTrigger(wfClient, log)
		zapLog.Info("Workflow trigger connected successfully")
	}

	// --- Core collaborators ---
	bus := events.NewBus(log)
	pgStore := store.NewPostgresStore(pg.DB, log)

	gw, err := buildGateway(ctx, cfg, log)
	if err != nil {
		zapLog.Fatal("gateway initialization failed", zap.Error(err))
	}
	zapLog.Info("Gateway initialized", zap.String("mode", cfg.Gateway.Mode))

	templates := gateway.Templates(cfg.Templates)
	jobSender := gateway.NewJobSender(gw, templates, pgStore)
	requestSender := gateway.NewRequestSender(gw)

	gate := consent.NewGate(pgStore, requestSender, redis.Client, bus, consent.GateConfig{
		MaxPerDay:         cfg.Consent.MaxPerDay,
		MaxPerWeek:        cfg.Consent.MaxPerWeek,
		RetentionDays:     cfg.Consent.RetentionDays,
		RequestTemplateID: cfg.Consent.RequestTemplateID,
	}, log)

	abEngine := abtest.NewEngine(pgStore, time.Duration(cfg.ABTest.MinDurationHours)*time.Hour, log)

	dispatcher := dispatch.NewDispatcher(dispatch.Config{
		BatchSize:       cfg.Dispatch.BatchSize,
		Stagger:         config.GetDuration(cfg.Dispatch.StaggerMs),
		InterBatchPause: config.GetDuration(cfg.Dispatch.InterBatchPauseMs),
		MaxWorkers:      cfg.Dispatch.MaxConcurrentWorkers,
		MaxRetries:      cfg.Dispatch.MaxRetries,
		RetryBackoff:    config.GetDuration(cfg.Dispatch.RetryBackoffMs),
		Limits: dispatch.LimitConfig{
			PerMinute: cfg.Dispatch.RateLimits.PerMinute,
			PerHour:   cfg.Dispatch.RateLimits.PerHour,
			PerDay:    cfg.Dispatch.RateLimits.PerDay,
		},
	}, jobSender, gate, pgStore, bus, log)

	scheduler := followup.NewScheduler(
		models.DefaultPolicies(),
		pgStore,
		gate,
		dispatcher,
		followUpSelector(cfg),
		pgStore,
		bus,
		followup.Config{
			SweepInterval:      config.GetSecDuration(cfg.FollowUp.SweepIntervalSec),
			SweepJitter:        config.GetSecDuration(cfg.FollowUp.SweepJitterSec),
			InactivityDays:     cfg.FollowUp.InactivityDays,
			ResponseCheckDelay: time.Duration(cfg.FollowUp.ResponseCheckDelayHrs) * time.Hour,
		},
		log,
	)

	auditSink := store.NewElasticAuditSink(
		esClient,
		cfg.Database.Elasticsearch.AuditIndex+"-snapshots",
		cfg.Database.Elasticsearch.AuditIndex+"-alerts",
		log,
	)

	var notifier monitor.Notifier
	if cfg.Notifications.Email.Enabled {
		sesClient, err := aws.NewSESClient(ctx, cfg.Notifications.AWS.Region)
		if err != nil {
			zapLog.Fatal("ses client failed", zap.Error(err))
		}
		notifier = notify.NewEmailNotifier(
			sesClient,
			cfg.Notifications.Email.FromEmail,
			cfg.Notifications.Email.Operators,
			log,
		)
	}

	mon := monitor.NewMonitor(dispatcher, auditSink, gw, dispatcher, notifier, trigger, bus, monitor.Config{
		CheckInterval:      config.GetSecDuration(cfg.Monitor.CheckIntervalSec),
		SnapshotInterval:   config.GetSecDuration(cfg.Monitor.SnapshotIntervalSec),
		ErrorRateThreshold: cfg.Monitor.ErrorRateThreshold,
		DeliveryRateFloor:  cfg.Monitor.DeliveryRateFloor,
		ResponseRateFloor:  cfg.Monitor.ResponseRateFloor,
		SnapshotRetention:  time.Duration(cfg.Monitor.SnapshotRetentionD) * 24 * time.Hour,
		AlertRetention:     time.Duration(cfg.Monitor.AlertRetentionD) * 24 * time.Hour,
	}, log)

	source := buildContactSource(cfg, pgStore, log)

	manager := campaign.NewManager(
		segmentation.NewClassifier(log),
		abEngine,
		pgStore,
		source,
		gate,
		dispatcher,
		scheduler,
		mon,
		trigger,
		bus,
		log,
	)
	gw.OnIncoming(manager.HandleIncoming)
	gw.OnDelivered(manager.HandleDelivered)

	zapLog.Info("All components wired")

	if restored, err := scheduler.Restore(ctx); err != nil {
		zapLog.Warn("follow-up sequence restore failed", zap.Error(err))
	} else if restored > 0 {
		zapLog.Info("Follow-up sequences restored", zap.Int("count", restored))
	}

	// --- Background loops ---
	go dispatcher.Run(ctx)
	go scheduler.Run(ctx)
	go mon.Run(ctx)
	go manager.Run(ctx, time.Minute)

	// --- Auto-launch ---
	if cfg.Campaign.AutoLaunch {
		summary, err := manager.Launch(ctx, campaign.LaunchSpec{
			Name:      cfg.Campaign.Name,
			Segments:  parseSegments(cfg.Campaign.Segments),
			Templates: parseSegmentTemplates(cfg.Campaign.SegmentTemplates),
			Criteria:  contacts.Criteria{ExcludeOptOut: true},
		})
		if err != nil {
			zapLog.Fatal("campaign launch failed", zap.Error(err))
		}
		zapLog.Info("Campaign launched",
			zap.String("campaignId", summary.CampaignID),
			zap.Int("loaded", summary.Loaded),
			zap.Int("consentRequested", summary.ConsentRequested),
		)
	}

	// --- Health, metrics and webhook server ---
	go func() {
		http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "healthy",
				"time":   time.Now().Format(time.RFC3339),
			})
		})
		http.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "ready",
				"time":   time.Now().Format(time.RFC3339),
			})
		})
		http.Handle("/metrics", promhttp.Handler())
		if hg, ok := gw.(*gateway.HTTPGateway); ok {
			http.Handle("/webhook", hg.WebhookHandler())
		}
		zapLog.Info("Health/Metrics server listening on :8080")
		if err := http.ListenAndServe(":8080", nil); err != nil {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping engine...")
	cancel()

	// let in-flight sends finish before the deferred closes run
	time.Sleep(2 * time.Second)

	zapLog.Info("Outreach engine stopped gracefully")
}

func buildGateway(ctx context.Context, cfg *config.Config, log logger.Logger) (gateway.MessagingGateway, error) {
	switch cfg.Gateway.Mode {
	case "http":
		return gateway.NewHTTPGateway(gateway.HTTPConfig{
			BaseURL: cfg.Gateway.HTTP.BaseURL,
			APIKey:  cfg.Gateway.HTTP.APIKey,
			Session: cfg.Gateway.HTTP.Session,
			Timeout: config.GetDuration(cfg.Gateway.HTTP.Timeout),
		}, log), nil
	case "sns":
		snsClient, err := aws.NewSNSClient(ctx, cfg.Gateway.SNS.Region)
		if err != nil {
			return nil, err
		}
		return gateway.NewSNSGateway(snsClient, cfg.Gateway.SNS.SenderID, log), nil
	case "null":
		return gateway.NewNullGateway(log), nil
	}
	return nil, fmt.Errorf("unknown gateway mode %q", cfg.Gateway.Mode)
}

func buildContactSource(cfg *config.Config, pgStore *store.PostgresStore, log logger.Logger) contacts.Source {
	switch cfg.Contacts.Source {
	case "csv":
		return contacts.NewCSVSource(cfg.Contacts.CSVPath, log)
	case "store":
		return contacts.NewStoreSource(pgStore, log)
	}
	return contacts.NewStaticSource()
}

func followUpSelector(cfg *config.Config) followup.TemplateSelector {
	selector := followup.StaticSelector{}
	for seg, tmpl := range parseSegmentTemplates(cfg.Campaign.FollowUpTemplates) {
		selector[seg] = tmpl
	}
	for _, seg := range models.SegmentOrder {
		if _, ok := selector[seg]; !ok {
			selector[seg] = "followup_default"
		}
	}
	return selector
}

func parseSegments(names []string) []models.Segment {
	out := make([]models.Segment, 0, len(names))
	for _, name := range names {
		out = append(out, models.Segment(name))
	}
	return out
}

func parseSegmentTemplates(in map[string]string) map[models.Segment]string {
	out := make(map[models.Segment]string, len(in))
	for name, tmpl := range in {
		out[models.Segment(name)] = tmpl
	}
	return out
}
