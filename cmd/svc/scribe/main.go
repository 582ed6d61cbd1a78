package main

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"github.com/samuel/go-metrics/metrics"
	"github.com/samuel/go-metrics/reporter"
	"github.com/sprucehealth/go-proxy-protocol/proxyproto"
	"github.com/voxrelay/backend/boot"
	"github.com/voxrelay/backend/cmd/svc/scribe/internal/handlers"
	"github.com/voxrelay/backend/cmd/svc/scribe/internal/jobstore"
	"github.com/voxrelay/backend/cmd/svc/scribe/internal/notify"
	"github.com/voxrelay/backend/cmd/svc/scribe/internal/provider"
	"github.com/voxrelay/backend/cmd/svc/scribe/internal/server"
	"github.com/voxrelay/backend/libs/golog"
	"github.com/voxrelay/backend/libs/httputil"
	"github.com/voxrelay/backend/libs/retryhttp"
)

var config struct {
	httpAddr      string
	proxyProtocol bool
	apiDomain     string
	env           string
	debug         bool
	jsonLogs      bool
	behindProxy   bool

	// Storage
	mediaStorageURL  string
	resultStorageURL string

	// Transcription provider
	transcribeEndpoint string
	transcribeToken    string

	// Diarization provider (enabled when the endpoint is set)
	diarizeEndpoint string
	diarizeToken    string
	diarizeVersion  string

	// Provider dispatch retry policy
	providerAttempts   int
	providerRetryDelay time.Duration

	// Multi-tenancy
	multiTenant bool

	// Notifications
	slackWebhookURL string
	slackChannel    string
	slackUsername   string

	// Archival handoff
	archiveEndpoint string

	// AWS config
	awsRegion    string
	awsAccessKey string
	awsSecretKey string
	awsToken     string

	// Metrics
	metricsSource   string
	libratoUsername string
	libratoToken    string

	// CORS
	corsAllowAll bool
}

func init() {
	flag.StringVar(&config.httpAddr, "http", "0.0.0.0:8000", "listen for http on `host:port`")
	flag.BoolVar(&config.proxyProtocol, "proxyproto", false, "enabled proxy protocol")
	flag.StringVar(&config.apiDomain, "api.domain", "", "The api domain used for media link and callback URL generation")
	flag.StringVar(&config.env, "env", "undefined", "`Environment`")
	flag.BoolVar(&config.debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&config.jsonLogs, "json.logs", false, "Emit logs as JSON")
	flag.BoolVar(&config.behindProxy, "behind.proxy", false, "Set when the service runs behind a load balancer")

	// Storage
	flag.StringVar(&config.mediaStorageURL, "media.storage", "file:///tmp/scribe/media", "Storage `URL` for uploaded audio (file://, s3://bucket/prefix, memory://)")
	flag.StringVar(&config.resultStorageURL, "results.storage", "file:///tmp/scribe/results", "Storage `URL` for job records and results")

	// Providers
	flag.StringVar(&config.transcribeEndpoint, "transcribe.endpoint", "", "Run `URL` of the transcription endpoint")
	flag.StringVar(&config.transcribeToken, "transcribe.token", "", "Bearer `token` for the transcription endpoint")
	flag.StringVar(&config.diarizeEndpoint, "diarize.endpoint", "", "Prediction `URL` of the diarization endpoint (empty disables diarization)")
	flag.StringVar(&config.diarizeToken, "diarize.token", "", "API `token` for the diarization endpoint")
	flag.StringVar(&config.diarizeVersion, "diarize.version", "", "Model `version` to run for diarization")
	flag.IntVar(&config.providerAttempts, "provider.attempts", retryhttp.DefaultAttempts, "Dispatch attempts per provider call")
	flag.DurationVar(&config.providerRetryDelay, "provider.retry.delay", retryhttp.DefaultBaseDelay, "Backoff unit between dispatch attempts")

	// Multi-tenancy
	flag.BoolVar(&config.multiTenant, "multitenant", false, "Require client_id and item_id on uploads and scope storage by them")

	// Notifications
	flag.StringVar(&config.slackWebhookURL, "slack.webhook.url", "", "Slack incoming webhook `URL` for job notifications")
	flag.StringVar(&config.slackChannel, "slack.channel", "", "Slack `channel` override for notifications")
	flag.StringVar(&config.slackUsername, "slack.username", "scribe", "Slack `username` for notifications")

	// Archival
	flag.StringVar(&config.archiveEndpoint, "archive.endpoint", "", "`URL` of the archival handoff endpoint (empty disables archival)")

	// AWS
	flag.StringVar(&config.awsRegion, "aws.region", "us-east-1", "AWS `region`")
	flag.StringVar(&config.awsAccessKey, "aws.access.key", "", "Access `key` for AWS")
	flag.StringVar(&config.awsSecretKey, "aws.secret.key", "", "Secret `key` for AWS")
	flag.StringVar(&config.awsToken, "aws.token", "", "Temporary access `token` for AWS")

	// Metrics
	flag.StringVar(&config.metricsSource, "metrics.source", "", "`Source` for metrics")
	flag.StringVar(&config.libratoUsername, "librato.username", "", "Librato metrics `username`")
	flag.StringVar(&config.libratoToken, "librato.token", "", "Librato metrics auth `token`")

	// CORS
	flag.BoolVar(&config.corsAllowAll, "cors.allow.all", true, "Allow all origins for CORS")
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		golog.Warningf("Failed to load .env: %s", err)
	}
	boot.ParseFlags("SCRIBE_")

	if config.debug {
		golog.Default().SetLevel(golog.DEBUG)
	}
	if config.jsonLogs {
		// A single stream keeps JSON log lines ordered for shippers.
		golog.Default().SetHandler(golog.WriterHandler(os.Stdout, golog.JSONFormatter()))
	}
	if config.apiDomain == "" {
		golog.Fatalf("api.domain required")
	}
	config.apiDomain = strings.TrimRight(config.apiDomain, "/")

	metricsRegistry := metrics.NewRegistry()
	handler := setupRouter(metricsRegistry)

	if config.metricsSource == "" {
		hostname, err := os.Hostname()
		if err == nil {
			config.metricsSource = fmt.Sprintf("%s-%s-%s", config.env, "scribe", hostname)
		} else {
			config.metricsSource = "scribe"
			golog.Warningf("Unable to get local hostname: %s", err)
		}
	}
	metricsRegistry.Add("runtime", metrics.RuntimeMetrics)
	if config.libratoUsername != "" && config.libratoToken != "" {
		statsReporter := reporter.NewLibratoReporter(
			metricsRegistry, time.Minute, true, config.libratoUsername,
			config.libratoToken, config.metricsSource)
		statsReporter.Start()
		defer statsReporter.Stop()
	}

	serve(handler)
}

func setupRouter(metricsRegistry metrics.Registry) http.Handler {
	aws := &boot.AWS{
		Region:    config.awsRegion,
		AccessKey: config.awsAccessKey,
		SecretKey: config.awsSecretKey,
		Token:     config.awsToken,
	}
	mediaStore, err := boot.StoreFromURL(config.mediaStorageURL, aws)
	if err != nil {
		golog.Fatalf("Failed to init media storage: %s", err)
	}
	resultStore, err := boot.StoreFromURL(config.resultStorageURL, aws)
	if err != nil {
		golog.Fatalf("Failed to init result storage: %s", err)
	}

	retryClient := &retryhttp.Client{
		Attempts:  config.providerAttempts,
		BaseDelay: config.providerRetryDelay,
	}
	if config.transcribeEndpoint == "" {
		golog.Fatalf("transcribe.endpoint required")
	}
	providers := []provider.Provider{
		&provider.Transcriber{
			Endpoint: config.transcribeEndpoint,
			Token:    config.transcribeToken,
			Client:   retryClient,
		},
	}
	if config.diarizeEndpoint != "" {
		providers = append(providers, &provider.Diarizer{
			Endpoint: config.diarizeEndpoint,
			Token:    config.diarizeToken,
			Version:  config.diarizeVersion,
			Client:   retryClient,
		})
	}

	var notifier notify.Notifier
	if config.slackWebhookURL != "" {
		notifier = &notify.Slack{
			WebhookURL: config.slackWebhookURL,
			Channel:    config.slackChannel,
			Username:   config.slackUsername,
		}
	} else {
		golog.Warningf("Slack webhook URL not set, logging notifications instead")
		notifier = notify.Log{}
	}

	var archiver *notify.Archiver
	if config.archiveEndpoint != "" {
		archiver = &notify.Archiver{Endpoint: config.archiveEndpoint}
	}

	svc := server.New(server.Params{
		MediaStore:      mediaStore,
		ResultStore:     resultStore,
		Jobs:            jobstore.New(resultStore),
		Providers:       providers,
		Notifier:        notifier,
		Archiver:        archiver,
		APIDomain:       config.apiDomain,
		MultiTenant:     config.multiTenant,
		MetricsRegistry: metricsRegistry.Scope("scribe"),
	})

	router := mux.NewRouter().StrictSlash(true)
	router.Handle("/", handlers.NewUpload(svc))
	router.Handle("/webhook/{jobID}", handlers.NewWebhook(svc))
	router.Handle("/download/{path:.+}", handlers.NewDownload(mediaStore))
	router.Handle("/download-result/{path:.+}", handlers.NewDownload(resultStore))
	router.HandleFunc("/health-check", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	h := httputil.LoggingHandler(router, "scribe", config.behindProxy, nil)
	h = httputil.MetricsHandler(h, metricsRegistry.Scope("scribeapi"))
	h = httputil.RequestIDHandler(h)

	if config.corsAllowAll {
		h = cors.New(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"DELETE", "GET", "OPTIONS", "PATCH", "POST", "PUT"},
			AllowCredentials: true,
			AllowedHeaders:   []string{"*"},
		}).Handler(h)
	}
	return h
}

func serve(handler http.Handler) {
	listener, err := net.Listen("tcp", config.httpAddr)
	if err != nil {
		golog.Fatalf(err.Error())
	}
	if config.proxyProtocol {
		listener = &proxyproto.Listener{Listener: listener}
	}
	s := &http.Server{
		Handler: handler,
		// Uploads can be large so the read timeout is generous.
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	golog.Infof("Starting listener on %s...", config.httpAddr)
	go func() {
		golog.Fatalf(s.Serve(listener).Error())
	}()
	boot.WaitForTermination()
}
