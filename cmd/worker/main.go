package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxcare/concierge/internal/booking"
	"github.com/voxcare/concierge/internal/calls"
	"github.com/voxcare/concierge/internal/events"
	"github.com/voxcare/concierge/internal/feedback"
	"github.com/voxcare/concierge/internal/messaging"
	"github.com/voxcare/concierge/internal/messaging/telnyxclient"
	"github.com/voxcare/concierge/internal/observability/metrics"
	"github.com/voxcare/concierge/internal/practice"
	"github.com/voxcare/concierge/internal/reminders"
	"github.com/voxcare/concierge/internal/waitlist"

	appconfig "github.com/voxcare/concierge/internal/config"
	"github.com/voxcare/concierge/pkg/logging"
)

// worker hosts the two singleton background loops described in spec §5:
// the reminder send ticker (§4.E) and the waitlist expirer (§4.F). cmd/api
// also starts these inline for single-instance deployments; this binary
// lets a multi-instance fleet run them in one dedicated process instead.
// Neither binary takes a lock or elects a leader: every process started
// with these loops runs them.
func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting concierge background worker", "env", cfg.Env)

	if cfg.DatabaseURL == "" {
		logger.Error("worker requires DATABASE_URL")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Error("failed to ping postgres", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer redisClient.Close()

	reg := prometheus.NewRegistry()
	reminderMetrics := metrics.NewReminderMetrics(reg)

	practiceStore := practice.NewStore(pool)
	configCache := practice.NewConfigCache(redisClient)
	remindersAdapter := practice.NewRemindersAdapter(practiceStore, configCache)

	sender := wireSender(logger)

	remindersStore := reminders.NewStore(pool)
	remindersScheduler := reminders.NewScheduler(remindersStore, remindersAdapter, logger)
	bookingStore := booking.NewStore(pool)
	remindersWorker := reminders.NewWorker(remindersStore, remindersScheduler, bookingStore, remindersAdapter, sender, reminderMetrics, logger)

	waitlistStore := waitlist.NewStore(pool)
	waitlistWorker := waitlist.NewWorker(waitlistStore, logger)

	outboxStore := events.NewOutboxStore(pool)
	outboxDispatcher := booking.NewOutboxDispatcher(bookingStore, remindersScheduler, logger)
	outboxDeliverer := events.NewDeliverer(outboxStore, outboxDispatcher, logger)

	go remindersWorker.Start(ctx)
	go waitlistWorker.Start(ctx)
	go outboxDeliverer.Start(ctx)

	if cfg.FeedbackAnalysisQueueURL != "" {
		if queueWorker := wireFeedbackQueueWorker(ctx, cfg, pool, logger); queueWorker != nil {
			go queueWorker.Start(ctx)
		}
	}

	logger.Info("background worker running")
	<-ctx.Done()
	logger.Info("background worker shutting down")
}

// wireSender builds the credential-aware Sender used to deliver reminder and
// waitlist SMS, identical in shape to cmd/api's wireSender.
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

// wireFeedbackQueueWorker builds the consumer side of the optional §4.K
// analysis fan-out queue: a Bedrock-backed Analyzer draining AnalysisQueue.
// Runs only when FEEDBACK_ANALYSIS_QUEUE_URL is set; returns nil (and logs)
// on any wiring failure so a misconfigured queue never blocks the reminder
// and waitlist loops this process exists to run.
func wireFeedbackQueueWorker(ctx context.Context, cfg *appconfig.Config, pool *pgxpool.Pool, logger *logging.Logger) *feedback.QueueWorker {
	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("feedback: queue worker disabled, aws config load failed", "error", err)
		return nil
	}
	sqsClient := sqs.NewFromConfig(awsCfg)
	queue := feedback.NewAnalysisQueue(sqsClient, cfg.FeedbackAnalysisQueueURL, nil)

	bedrockClient := bedrockruntime.NewFromConfig(awsCfg)
	llm := feedback.LLMClient(feedback.NewBedrockLLMClient(bedrockClient))
	if cfg.LLMFallbackEnabled && cfg.GeminiAPIKey != "" {
		gemini, err := feedback.NewGeminiLLMClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			logger.Error("feedback: gemini fallback unavailable, using bedrock only", "error", err)
		} else {
			llm = feedback.NewFallbackLLMClient(llm, gemini, logger)
		}
	}

	feedbackStore := feedback.NewStore(pool)
	callStore := calls.NewStore(pool)
	analyzer := feedback.NewAnalyzer(feedbackStore, callStore, llm, logger)
	return feedback.NewQueueWorker(queue, analyzer)
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
