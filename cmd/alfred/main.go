package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/wayneworks/alfred/internal/api"
	"github.com/wayneworks/alfred/internal/auth"
	"github.com/wayneworks/alfred/internal/drafter"
	"github.com/wayneworks/alfred/internal/flow"
	"github.com/wayneworks/alfred/internal/genai"
	"github.com/wayneworks/alfred/internal/gmail"
	"github.com/wayneworks/alfred/internal/intent"
	"github.com/wayneworks/alfred/internal/lockfile"
	"github.com/wayneworks/alfred/internal/messaging"
	"github.com/wayneworks/alfred/internal/models"
	"github.com/wayneworks/alfred/internal/reminder"
	"github.com/wayneworks/alfred/internal/session"
	"github.com/wayneworks/alfred/internal/store"
	"github.com/wayneworks/alfred/internal/twiliowhatsapp"
	"github.com/wayneworks/alfred/internal/util"
	"github.com/wayneworks/alfred/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for Alfred state data
	DefaultStateDir = "/var/lib/alfred"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "alfred.db"
	// DefaultWhatsmeowDBFileName is the default whatsmeow session database filename
	DefaultWhatsmeowDBFileName = "whatsmeow.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	if err := run(flags); err != nil {
		slog.Error("Alfred failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Alfred exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL string
	WhatsAppDSN string
	StateDir    string
	OpenAIKey   string
	APIAddr     string
	PublicURL   string
	TwilioSID   string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput  *string
	numeric   *bool
	stateDir  *string
	dbDSN     *string
	waDSN     *string
	openaiKey *string
	apiAddr   *string
	publicURL *string
	useTwilio *bool
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		WhatsAppDSN: os.Getenv("WHATSAPP_DB_DSN"),
		StateDir:    os.Getenv("ALFRED_STATE_DIR"),
		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		APIAddr:     os.Getenv("API_ADDR"),
		PublicURL:   os.Getenv("PUBLIC_URL"),
		TwilioSID:   os.Getenv("TWILIO_ACCOUNT_SID"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No ALFRED_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = filepath.Join(config.StateDir, DefaultWhatsmeowDBFileName)
		slog.Debug("No WHATSAPP_DB_DSN provided, defaulting to SQLite", "sqlite_path", config.WhatsAppDSN)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDSN != "",
		"ALFRED_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"PUBLIC_URL", config.PublicURL,
		"TWILIO_ACCOUNT_SID_SET", config.TwilioSID != "")

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:  flag.String("qr-output", "", "path to write login QR code"),
		numeric:   flag.Bool("numeric-code", util.ParseBoolEnv("WHATSAPP_NUMERIC_CODE", false), "use numeric login code instead of QR code (overrides $WHATSAPP_NUMERIC_CODE)"),
		stateDir:  flag.String("state-dir", config.StateDir, "state directory for Alfred data (overrides $ALFRED_STATE_DIR)"),
		dbDSN:     flag.String("db-dsn", config.DatabaseURL, "database DSN for the application store (overrides $DATABASE_URL)"),
		waDSN:     flag.String("whatsapp-db-dsn", config.WhatsAppDSN, "database DSN for the whatsmeow session store (overrides $WHATSAPP_DB_DSN)"),
		openaiKey: flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:   flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		publicURL: flag.String("public-url", config.PublicURL, "externally reachable base URL for OAuth links (overrides $PUBLIC_URL)"),
		useTwilio: flag.Bool("twilio", util.ParseBoolEnv("USE_TWILIO", config.TwilioSID != ""), "use the Twilio WhatsApp transport instead of whatsmeow (overrides $USE_TWILIO)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"waDSN_set", *flags.waDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"publicURL", *flags.publicURL,
		"useTwilio", *flags.useTwilio)

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	for _, dsn := range []string{*flags.dbDSN, *flags.waDSN} {
		if strings.Contains(dsn, "postgres://") || strings.Contains(dsn, "host=") {
			continue
		}
		stateDir := filepath.Dir(dsn)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}
	return nil
}

// buildStore constructs the application store from the configured DSN.
func buildStore(flags Flags) (store.Store, error) {
	dsn := *flags.dbDSN
	if dsn == "" {
		slog.Debug("No database DSN provided, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithPostgresDSN(dsn))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", dsn)
	return store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
}

// buildTransport constructs the messaging transport. With -twilio the Twilio
// REST client backs it and inbound traffic arrives on the webhook route;
// otherwise whatsmeow connects directly and may require pairing on first run.
func buildTransport(flags Flags) (messaging.Service, api.WebhookHandler, error) {
	if *flags.useTwilio {
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, nil, err
		}
		svc := messaging.NewTwilioService(client)
		return svc, svc, nil
	}

	waOpts := []whatsapp.Option{whatsapp.WithDBDSN(*flags.waDSN)}
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	client, err := whatsapp.NewClient(waOpts...)
	if err != nil {
		return nil, nil, err
	}
	return messaging.NewWhatsAppService(client), nil, nil
}

// userDirectory adapts the store to the lookup surface the engine needs.
type userDirectory struct {
	st store.Store
}

func (d userDirectory) FindUserByWhatsAppNumber(_ context.Context, number string) (*models.User, error) {
	return d.st.GetUserByWhatsAppNumber(number)
}

// run wires the modules together and blocks until shutdown.
func run(flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := buildStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	completer, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return err
	}

	authSvc, err := auth.NewService(st)
	if err != nil {
		return err
	}
	emailSvc := gmail.NewService(st, authSvc)
	draftSvc := drafter.New(completer)
	classifier := intent.NewClassifier(completer)

	transport, webhook, err := buildTransport(flags)
	if err != nil {
		return err
	}
	if err := transport.Start(ctx); err != nil {
		return err
	}
	defer transport.Stop()

	reminders := reminder.NewScheduler(transport)
	defer reminders.Stop()

	var engineOpts []flow.Option
	if *flags.publicURL != "" {
		engineOpts = append(engineOpts, flow.WithAuthURL(strings.TrimRight(*flags.publicURL, "/")+"/auth"))
	}
	engine := flow.NewEngine(session.NewStore(), userDirectory{st: st}, draftSvc, emailSvc, completer, reminders, engineOpts...)

	router := messaging.NewRouter(transport, engine, st)
	router.Start(ctx)

	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	server := api.NewServer(authSvc, st, completer, draftSvc, emailSvc, classifier, webhook, apiOpts...)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Run() }()
	slog.Info("Alfred is at your service")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
		return server.Shutdown(context.Background())
	}
}
