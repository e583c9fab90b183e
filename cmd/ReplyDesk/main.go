package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BTreeMap/ReplyDesk/internal/api"
	"github.com/BTreeMap/ReplyDesk/internal/genai"
	"github.com/BTreeMap/ReplyDesk/internal/lockfile"
	"github.com/BTreeMap/ReplyDesk/internal/store"
	"github.com/BTreeMap/ReplyDesk/internal/twiliomsg"
	"github.com/BTreeMap/ReplyDesk/internal/util"
	"github.com/BTreeMap/ReplyDesk/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for ReplyDesk state data
	DefaultStateDir = "/var/lib/replydesk"
	// DefaultAppDBFileName is the default SQLite filename for the exchange log
	DefaultAppDBFileName = "replydesk.db"
	// DefaultWhatsAppDBFileName is the default SQLite filename for the whatsmeow session store
	DefaultWhatsAppDBFileName = "whatsmeow.db"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// One instance per state directory; a second start would answer
	// customers twice.
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire instance lock", "error", err, "state_dir", *flags.stateDir)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// Build module options
	waOpts := buildWhatsAppOptions(flags)
	storeOpts := buildStoreOptions(flags)
	genaiOpts := buildGenAIOptions(flags)
	apiOpts := buildAPIOptions(flags)
	// Twilio credentials come from the environment only
	var twilioOpts []twiliomsg.Option

	// Start the service
	slog.Info("Bootstrapping ReplyDesk with configured modules")
	slog.Debug("Module options counts", "whatsapp", len(waOpts), "store", len(storeOpts), "genai", len(genaiOpts), "api", len(apiOpts))
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "app_dsn_set", *flags.appDBDSN != "", "api_addr", *flags.apiAddr)
	runErr := api.Run(storeOpts, genaiOpts, twilioOpts, waOpts, apiOpts)
	if err := lock.Release(); err != nil {
		slog.Warn("Failed to release instance lock", "error", err)
	}
	if runErr != nil {
		slog.Error("ReplyDesk failed to run", "error", runErr)
		os.Exit(1)
	}
	slog.Info("ReplyDesk exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir         string
	WhatsAppDBDSN    string
	ApplicationDBDSN string
	OpenAIKey        string
	OpenAIModel      string
	APIAddr          string
	DashToken        string
	DigestCron       string
	WhatsAppEnabled  bool
}

// Flags holds command line flag values
type Flags struct {
	qrOutput      *string
	numeric       *bool
	whatsapp      *bool
	stateDir      *string
	whatsappDBDSN *string
	appDBDSN      *string
	openaiKey     *string
	openaiModel   *string
	apiAddr       *string
	dashToken     *string
	digestCron    *string
}

// initializeLogger sets up structured logging. DEBUG raises the level
// to debug.
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// defaultWhatsAppDSN returns the SQLite DSN for the whatsmeow session
// store under the given state directory. Foreign keys must be on or
// whatsmeow corrupts its session tables.
func defaultWhatsAppDSN(stateDir string) string {
	return "file:" + filepath.Join(stateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:         os.Getenv("REPLYDESK_STATE_DIR"),
		WhatsAppDBDSN:    os.Getenv("WHATSAPP_DB_DSN"),
		ApplicationDBDSN: os.Getenv("DATABASE_DSN"),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:      os.Getenv("OPENAI_MODEL"),
		APIAddr:          os.Getenv("API_ADDR"),
		DashToken:        os.Getenv("DASH_TOKEN"),
		DigestCron:       os.Getenv("REPLYDESK_DIGEST_CRON"),
		WhatsAppEnabled:  util.ParseBoolEnv("REPLYDESK_WHATSAPP_ENABLED", false),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No REPLYDESK_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("REPLYDESK_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	// Fall back to the legacy DATABASE_URL name for the exchange log
	if config.ApplicationDBDSN == "" {
		if legacy := os.Getenv("DATABASE_URL"); legacy != "" {
			config.ApplicationDBDSN = legacy
			slog.Debug("Using DATABASE_URL as DATABASE_DSN", "dsn_set", true)
		}
	}

	// If no DSNs are provided, default to SQLite in the state directory
	if config.ApplicationDBDSN == "" {
		config.ApplicationDBDSN = filepath.Join(config.StateDir, DefaultAppDBFileName)
		slog.Debug("No application DSN provided, defaulting to SQLite", "sqlite_path", config.ApplicationDBDSN)
	}
	if config.WhatsAppDBDSN == "" {
		config.WhatsAppDBDSN = defaultWhatsAppDSN(config.StateDir)
		slog.Debug("No WhatsApp DSN provided, defaulting to SQLite", "sqlite_path", config.WhatsAppDBDSN)
	}

	slog.Debug("environment variables loaded",
		"REPLYDESK_STATE_DIR", config.StateDir,
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDBDSN != "",
		"DATABASE_DSN_SET", config.ApplicationDBDSN != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"DASH_TOKEN_SET", config.DashToken != "",
		"REPLYDESK_DIGEST_CRON", config.DigestCron,
		"REPLYDESK_WHATSAPP_ENABLED", config.WhatsAppEnabled)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:      flag.String("qr-output", "", "path to write WhatsApp login QR code"),
		numeric:       flag.Bool("numeric-code", false, "use numeric WhatsApp login code instead of QR code"),
		whatsapp:      flag.Bool("whatsapp", config.WhatsAppEnabled, "enable the WhatsApp relay (overrides $REPLYDESK_WHATSAPP_ENABLED)"),
		stateDir:      flag.String("state-dir", config.StateDir, "state directory for ReplyDesk data (overrides $REPLYDESK_STATE_DIR)"),
		whatsappDBDSN: flag.String("whatsapp-db-dsn", config.WhatsAppDBDSN, "database DSN for the WhatsApp session store (overrides $WHATSAPP_DB_DSN)"),
		appDBDSN:      flag.String("db-dsn", config.ApplicationDBDSN, "database DSN for the exchange log (overrides $DATABASE_DSN or $DATABASE_URL)"),
		openaiKey:     flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key for the generative fallback (overrides $OPENAI_API_KEY)"),
		openaiModel:   flag.String("openai-model", config.OpenAIModel, "OpenAI model for the generative fallback (overrides $OPENAI_MODEL)"),
		apiAddr:       flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		dashToken:     flag.String("dash-token", config.DashToken, "token for the exchange log viewer (overrides $DASH_TOKEN)"),
		digestCron:    flag.String("digest-cron", config.DigestCron, "cron schedule for the handoff digest (overrides $REPLYDESK_DIGEST_CRON)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"whatsapp", *flags.whatsapp,
		"stateDir", *flags.stateDir,
		"whatsappDBDSN_set", *flags.whatsappDBDSN != "",
		"appDBDSN_set", *flags.appDBDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"digestCron", *flags.digestCron)

	applyStateDirOverride(flags, config)

	return flags
}

// applyStateDirOverride re-derives the default database DSNs when the
// state directory flag moved but the DSN flags kept their defaults.
func applyStateDirOverride(flags Flags, config Config) {
	if *flags.stateDir == config.StateDir {
		return
	}
	if *flags.appDBDSN == config.ApplicationDBDSN && config.ApplicationDBDSN == filepath.Join(config.StateDir, DefaultAppDBFileName) {
		*flags.appDBDSN = filepath.Join(*flags.stateDir, DefaultAppDBFileName)
		slog.Debug("Updated application DSN based on state directory", "app_dsn", *flags.appDBDSN)
	}
	if *flags.whatsappDBDSN == config.WhatsAppDBDSN && config.WhatsAppDBDSN == defaultWhatsAppDSN(config.StateDir) {
		*flags.whatsappDBDSN = defaultWhatsAppDSN(*flags.stateDir)
		slog.Debug("Updated WhatsApp DSN based on state directory", "whatsapp_dsn", *flags.whatsappDBDSN)
	}
}

// sqliteFilePath strips the file: scheme and query parameters from a
// SQLite DSN, leaving the filesystem path.
func sqliteFilePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return path
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	// The instance lock lives in the state directory, so it must exist
	// even when both stores are PostgreSQL.
	dirs := []string{*flags.stateDir}
	if store.DetectDSNType(*flags.appDBDSN) != "postgres" {
		dirs = append(dirs, filepath.Dir(sqliteFilePath(*flags.appDBDSN)))
	}
	if store.DetectDSNType(*flags.whatsappDBDSN) != "postgres" {
		dirs = append(dirs, filepath.Dir(sqliteFilePath(*flags.whatsappDBDSN)))
	}
	for _, dir := range dirs {
		slog.Debug("Ensuring directory exists", "dir", dir)
		if err := os.MkdirAll(dir, 0755); err != nil {
			slog.Error("Failed to create directory", "error", err, "dir", dir)
			return err
		}
	}
	return nil
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if *flags.whatsappDBDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.whatsappDBDSN))
	}
	return waOpts
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.appDBDSN != "" {
		slog.Debug("Configuring exchange log store", "dsn_type", store.DetectDSNType(*flags.appDBDSN), "dsn_set", true)
		storeOpts = append(storeOpts, store.WithDSN(*flags.appDBDSN))
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if *flags.openaiModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(*flags.openaiModel))
	}
	return genaiOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	apiOpts := []api.Option{api.WithWhatsApp(*flags.whatsapp)}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.dashToken != "" {
		apiOpts = append(apiOpts, api.WithDashToken(*flags.dashToken))
	}
	if *flags.digestCron != "" {
		apiOpts = append(apiOpts, api.WithDigestCron(*flags.digestCron))
	}
	return apiOpts
}
