package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/golang-migrate/migrate/v4"
	pgmigrate "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/voxcare/concierge/internal/booking"
	"github.com/voxcare/concierge/internal/calls"
	appconfig "github.com/voxcare/concierge/internal/config"
	"github.com/voxcare/concierge/internal/events"
	"github.com/voxcare/concierge/internal/feedback"
	"github.com/voxcare/concierge/internal/messaging"
	"github.com/voxcare/concierge/internal/messaging/telnyxclient"
	"github.com/voxcare/concierge/internal/observability/metrics"
	"github.com/voxcare/concierge/internal/practice"
	"github.com/voxcare/concierge/internal/reminders"
	"github.com/voxcare/concierge/internal/schedule"
	"github.com/voxcare/concierge/internal/slots"
	"github.com/voxcare/concierge/internal/smsrouter"
	"github.com/voxcare/concierge/internal/tools"
	"github.com/voxcare/concierge/internal/waitlist"
	"github.com/voxcare/concierge/internal/webhook"
	"github.com/voxcare/concierge/migrations"
	"github.com/voxcare/concierge/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting concierge API server", "env", cfg.Env, "port", cfg.Port)

	if issues := cfg.SMSProviderIssues(); len(issues) > 0 {
		for _, issue := range issues {
			logger.Error("sms provider misconfiguration", "issue", issue)
		}
		logger.Error("voice-to-sms acknowledgements will not work until this is fixed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := connectPostgres(ctx, cfg.DatabaseURL, logger)
	defer pool.Close()
	runAutoMigrate(stdlib.OpenDBFromPool(pool), logger)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer redisClient.Close()

	reg := prometheus.NewRegistry()
	bookingMetrics := metrics.NewBookingMetrics(reg)
	reminderMetrics := metrics.NewReminderMetrics(reg)
	webhookMetrics := metrics.NewWebhookMetrics(reg)
	metrics.NewMessagingMetrics(reg)

	deps := wireDependencies(ctx, cfg, pool, redisClient, bookingMetrics, reminderMetrics, webhookMetrics, logger)

	go deps.remindersWorker.Start(ctx)
	go deps.waitlistWorker.Start(ctx)
	go deps.outboxDeliverer.Start(ctx)

	mux := http.NewServeMux()
	mux.Handle("/webhooks/voice", deps.dispatcher)
	mux.HandleFunc("/webhooks/sms", smsReplyHandler(deps, logger))
	mux.HandleFunc("/internal/training/run", trainingRunHandler(deps, logger))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped unexpectedly", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

// wiring bundles everything main needs after construction, so the
// dependency graph lives in one function instead of scattered across
// package-level globals.
type wiring struct {
	dispatcher      *webhook.Dispatcher
	smsRouter       *smsrouter.Router
	practiceStore   *practice.Store
	waitlistAdapter *practice.WaitlistAdapter
	trainer         *feedback.Trainer
	remindersWorker *reminders.Worker
	waitlistWorker  *waitlist.Worker
	outboxDeliverer *events.Deliverer
}

func wireDependencies(ctx context.Context, cfg *appconfig.Config, pool *pgxpool.Pool, redisClient *redis.Client,
	bookingMetrics *metrics.BookingMetrics, reminderMetrics *metrics.ReminderMetrics, webhookMetrics *metrics.WebhookMetrics,
	logger *logging.Logger) *wiring {

	practiceStore := practice.NewStore(pool)
	configCache := practice.NewConfigCache(redisClient)
	scheduleAdapter := practice.NewScheduleAdapter(practiceStore)
	bookingAdapter := practice.NewBookingAdapter(practiceStore, configCache)
	remindersAdapter := practice.NewRemindersAdapter(practiceStore, configCache)
	waitlistAdapter := practice.NewWaitlistAdapter(practiceStore, configCache)

	resolver := schedule.NewResolver(scheduleAdapter, scheduleAdapter, scheduleAdapter)
	bookingStore := booking.NewStore(pool)
	generator := slots.NewGenerator(resolver, bookingStore)

	sender := wireSender(logger)

	remindersStore := reminders.NewStore(pool)
	remindersScheduler := reminders.NewScheduler(remindersStore, remindersAdapter, logger)

	waitlistStore := waitlist.NewStore(pool)
	waitlistEngine := waitlist.NewEngine(waitlistStore, waitlistAdapter, sender, logger)
	waitlistWorker := waitlist.NewWorker(waitlistStore, logger)

	outboxStore := events.NewOutboxStore(pool)
	outboxDispatcher := booking.NewOutboxDispatcher(bookingStore, remindersScheduler, logger)
	outboxDeliverer := events.NewDeliverer(outboxStore, outboxDispatcher, logger)

	bookingEngine := booking.NewEngine(bookingStore, generator, bookingAdapter, bookingAdapter,
		outboxStore, waitlistEngine, bookingMetrics, logger)

	remindersWorker := reminders.NewWorker(remindersStore, remindersScheduler, bookingStore, remindersAdapter, sender, reminderMetrics, logger)

	processedStore := events.NewProcessedStore(pool)
	callStore := calls.NewStore(pool)

	llm := wireLLM(ctx, cfg, logger)
	feedbackStore := feedback.NewStore(pool)
	analyzer := feedback.NewAnalyzer(feedbackStore, callStore, llm, logger)
	archiver := wireArchiver(ctx, cfg, logger)
	trainer := feedback.NewTrainer(analyzer, feedbackStore, callStore, nil, archiver, logger)
	feedbackQueue := wireFeedbackQueue(ctx, cfg, logger)

	eligibility := newUnconfiguredEligibilityChecker()

	toolsStore := tools.NewStore(pool)
	registry := tools.NewRegistry(&tools.Deps{
		Practice:    practiceStore,
		Config:      configCache,
		Booking:     bookingEngine,
		Slots:       generator,
		Schedule:    resolver,
		Waitlist:    waitlistEngine,
		Calls:       callStore,
		Store:       toolsStore,
		Eligibility: eligibility,
		Logger:      logger,
	})

	smsRouter := smsrouter.NewRouter(remindersWorker, bookingEngine, waitlistEngine, practiceStore, logger)

	dispatcher := webhook.NewDispatcher(webhook.DispatcherConfig{
		Practice:      practiceStore,
		Calls:         callStore,
		Tools:         registry,
		Feedback:      analyzer,
		FeedbackQueue: feedbackQueue,
		Processed:     processedStore,
		Secret:        cfg.VoiceWebhookSecret,
		Production:    cfg.Env == "production",
		Metrics:       webhookMetrics,
		Logger:        logger,
	})

	return &wiring{
		dispatcher:      dispatcher,
		smsRouter:       smsRouter,
		practiceStore:   practiceStore,
		waitlistAdapter: waitlistAdapter,
		trainer:         trainer,
		remindersWorker: remindersWorker,
		waitlistWorker:  waitlistWorker,
		outboxDeliverer: outboxDeliverer,
	}
}

// wireSender builds a credential-aware Sender backed by the Telnyx ACL
// client. A ClientCache-backed Sender is used unconditionally rather than a
// single global-credential TelnyxSender so per-practice credential
// overrides (spec §5/§9) are exercised from day one.
func wireSender(logger *logging.Logger) messaging.Sender {
	build := func(apiKey, webhookSecret string) (*telnyxclient.Client, error) {
		return telnyxclient.New(telnyxclient.Config{
			APIKey:        apiKey,
			WebhookSecret: webhookSecret,
		})
	}
	cache := messaging.NewClientCache(build, 16, logger)
	return messaging.NewCachingSender(cache)
}

// wireLLM builds the §4.K scoring chain: Bedrock primary, with an optional
// Gemini fallback when LLM_FALLBACK_ENABLED is set.
func wireLLM(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) feedback.LLMClient {
	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("feedback: failed to load aws config, analysis disabled", "error", err)
		return nil
	}
	bedrockClient := bedrockruntime.NewFromConfig(awsCfg)
	primary := feedback.NewBedrockLLMClient(bedrockClient)

	if !cfg.LLMFallbackEnabled || cfg.GeminiAPIKey == "" {
		return primary
	}
	gemini, err := feedback.NewGeminiLLMClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
	if err != nil {
		logger.Error("feedback: gemini fallback unavailable, using bedrock only", "error", err)
		return primary
	}
	return feedback.NewFallbackLLMClient(primary, gemini, logger)
}

func loadAWSConfig(ctx context.Context, cfg *appconfig.Config) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.AWSRegion)}
	if cfg.AWSAccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, "",
		)))
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}

// wireArchiver builds the recording archiver used by the training pipeline
// (spec §4.L). Archival is optional: with no bucket configured, Archive is
// a no-op per feedback.S3Archiver's own doc comment.
func wireArchiver(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) feedback.Archiver {
	if cfg.S3ArchiveBucket == "" {
		return nil
	}
	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("feedback: s3 archiver disabled, aws config load failed", "error", err)
		return nil
	}
	client := s3.NewFromConfig(awsCfg)
	return feedback.NewS3Archiver(client, cfg.S3ArchiveBucket, cfg.S3ArchiveKMSKey, nil)
}

// wireFeedbackQueue builds the optional SQS fan-out for §4.K call analysis
// jobs. With no queue URL configured, Enqueue is a no-op and the dispatcher
// falls back to its in-process retry loop.
func wireFeedbackQueue(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) *feedback.AnalysisQueue {
	if cfg.FeedbackAnalysisQueueURL == "" {
		return feedback.NewAnalysisQueue(nil, "", nil)
	}
	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("feedback: analysis queue disabled, aws config load failed", "error", err)
		return feedback.NewAnalysisQueue(nil, "", nil)
	}
	client := sqs.NewFromConfig(awsCfg)
	return feedback.NewAnalysisQueue(client, cfg.FeedbackAnalysisQueueURL, nil)
}

// unconfiguredEligibilityChecker rejects every eligibility lookup. Wiring a
// real 270/271 clearinghouse client is explicitly out of scope (spec §1);
// this keeps tool #8 present and safely inert until one is configured.
type unconfiguredEligibilityChecker struct{}

func newUnconfiguredEligibilityChecker() *unconfiguredEligibilityChecker {
	return &unconfiguredEligibilityChecker{}
}

func (unconfiguredEligibilityChecker) CheckEligibility(ctx context.Context, practiceID uuid.UUID, insuranceCarrier, memberID string) (bool, error) {
	return false, fmt.Errorf("eligibility verification is not configured for this deployment")
}

func connectPostgres(ctx context.Context, dbURL string, logger *logging.Logger) *pgxpool.Pool {
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Error("failed to ping postgres", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to postgres")
	return pool
}

func runAutoMigrate(db *sql.DB, logger *logging.Logger) {
	srcDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		logger.Error("auto-migrate: failed to open migrations source", "error", err)
		return
	}
	dbDriver, err := pgmigrate.WithInstance(db, &pgmigrate.Config{})
	if err != nil {
		logger.Error("auto-migrate: failed to create db driver", "error", err)
		return
	}
	m, err := migrate.NewWithInstance("iofs", srcDriver, "postgres", dbDriver)
	if err != nil {
		logger.Error("auto-migrate: failed to create migrator", "error", err)
		return
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Error("auto-migrate: migration failed", "error", err)
		return
	}
	logger.Info("auto-migrate: database migrations applied")
}

// smsReplyHandler adapts the inbound SMS webhook (spec §6) to
// smsrouter.Router.Route: verify the provider's signature, resolve the
// practice from the dialed number, route the reply, and wrap the
// plain-text response in the TwiML-style envelope the SMS provider expects
// back.
func smsReplyHandler(deps *wiring, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(io.LimitReader(r.Body, webhook.MaxBodyBytes+1))
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(raw))
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form body", http.StatusBadRequest)
			return
		}
		dialed := r.FormValue("To")
		from := r.FormValue("From")
		body := r.FormValue("Body")

		ctx := r.Context()
		p, err := deps.practiceStore.GetPracticeByDialedNumber(ctx, dialed)
		if err != nil || p == nil {
			logger.Warn("sms webhook: unresolved practice for dialed number", "to", dialed)
			w.WriteHeader(http.StatusOK)
			return
		}

		creds, err := deps.waitlistAdapter.Credentials(ctx, p.ID)
		if err != nil || creds.WebhookSecret == "" {
			logger.Warn("sms webhook: no webhook secret configured", "practice_id", p.ID)
			w.WriteHeader(http.StatusOK)
			return
		}
		if err := webhook.VerifySignature(creds.WebhookSecret, raw, r.Header.Get("X-Signature")); err != nil {
			logger.Warn("sms webhook: signature verification failed", "practice_id", p.ID)
			w.WriteHeader(http.StatusOK)
			return
		}

		result, err := deps.smsRouter.Route(ctx, p.ID, from, body)
		if err != nil {
			logger.Error("sms webhook: route failed", "error", err, "practice_id", p.ID)
		}

		writeTwiMLReply(w, result.ReplyText)
	}
}

// twiMLMessage mirrors the minimal <Response><Message> envelope described
// in spec §6; encoding/xml handles escaping so a reply containing "&" or
// "<" never breaks the document.
type twiMLMessage struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message"`
}

func writeTwiMLReply(w http.ResponseWriter, reply string) {
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(xml.Header))
	_ = xml.NewEncoder(w).Encode(twiMLMessage{Message: reply})
}

// trainingRunHandler triggers one on-demand training session (spec §4.L):
// POST practice_id plus a comma-separated list of external call ids, and
// get back the aggregated insights and draft prompt for review.
func trainingRunHandler(deps *wiring, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		practiceID, err := uuid.Parse(r.FormValue("practice_id"))
		if err != nil {
			http.Error(w, "invalid practice_id", http.StatusBadRequest)
			return
		}
		callIDs := strings.Split(r.FormValue("call_ids"), ",")

		session, err := deps.trainer.Run(r.Context(), practiceID, callIDs)
		if err != nil {
			logger.Error("training run failed", "error", err, "practice_id", practiceID)
			http.Error(w, "training run failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, `{"session_id":%q,"insight_count":%d,"draft_prompt":%q}`,
			session.ID, len(session.Insights), session.DraftPrompt)
	}
}
