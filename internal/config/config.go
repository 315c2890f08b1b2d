package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/adhocore/gronx"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// ErrMissingCredential is returned when a credential required at startup is absent.
var ErrMissingCredential = errors.New("missing credential")

// Config is the root configuration for guestmail.
type Config struct {
	General    GeneralConfig    `json:"general"`
	Mail       MailConfig       `json:"mail"`
	Generation GenerationConfig `json:"generation"`
	Providers  ProvidersConfig  `json:"providers"`
	Knowledge  KnowledgeConfig  `json:"knowledge"`
	Listings   ListingsConfig   `json:"listings"`
	Links      LinksConfig      `json:"links"`
	Filter     FilterConfig     `json:"filter"`
	Poll       PollConfig       `json:"poll"`
	Ledger     LedgerConfig     `json:"ledger"`
	Metrics    MetricsConfig    `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel" env:"GUESTMAIL_LOG_LEVEL"`
	LogFile  string `json:"logFile,omitempty" env:"GUESTMAIL_LOG_FILE"` // optional log file path
}

// MailConfig holds the mailbox account used for both retrieval and delivery.
type MailConfig struct {
	Address  string `json:"address" env:"EMAIL_ADDRESS"`
	Password string `json:"password,omitempty" env:"EMAIL_PASSWORD"`
	FromName string `json:"fromName,omitempty" env:"GUESTMAIL_FROM_NAME"`
	IMAPAddr string `json:"imapAddr" env:"GUESTMAIL_IMAP_ADDR"` // implicit TLS
	SMTPAddr string `json:"smtpAddr" env:"GUESTMAIL_SMTP_ADDR"` // STARTTLS
	Mailbox  string `json:"mailbox" env:"GUESTMAIL_MAILBOX"`
}

type GenerationConfig struct {
	Provider      string   `json:"provider" env:"GUESTMAIL_PROVIDER"`
	FailoverChain []string `json:"failoverChain,omitempty"` // providers tried after the primary, in order
	Model         string   `json:"model" env:"GUESTMAIL_MODEL"`
	Temperature   float64  `json:"temperature"`
	MaxTokens     int      `json:"maxTokens"`
	SystemPrompt  string   `json:"systemPrompt,omitempty"` // replaces the built-in persona when set

	RequestsPerMinute float64 `json:"requestsPerMinute,omitempty"` // 0 = unthrottled
	RequestBurst      int     `json:"requestBurst,omitempty"`
}

type ProvidersConfig struct {
	OpenAI ProviderConfig `json:"openai" envPrefix:"OPENAI_"`
	Claude ProviderConfig `json:"claude" envPrefix:"ANTHROPIC_"`
}

type ProviderConfig struct {
	APIKey         string `json:"apiKey,omitempty" env:"API_KEY"`
	APIBase        string `json:"apiBase,omitempty" env:"BASE_URL"`
	DefaultModel   string `json:"defaultModel,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty"`
}

// KnowledgeConfig configures the persisted embedding index.
type KnowledgeConfig struct {
	IndexPath      string `json:"indexPath" env:"GUESTMAIL_INDEX_PATH"`
	TopK           int    `json:"topK"`
	EmbeddingModel string `json:"embeddingModel"`
	ChunkSize      int    `json:"chunkSize"`    // words per chunk
	ChunkOverlap   int    `json:"chunkOverlap"` // overlapping words
	BatchSize      int    `json:"batchSize"`    // chunks per embedding request
}

type ListingsConfig struct {
	CatalogPath     string `json:"catalogPath" env:"GUESTMAIL_CATALOG_PATH"`
	City            string `json:"city"`
	MinGuests       int    `json:"minGuests"`
	MaxMatches      int    `json:"maxMatches"`
	FallbackBaseURL string `json:"fallbackBaseUrl"`
}

// LinksConfig configures the neighborhood search deep links.
type LinksConfig struct {
	SearchBaseURL      string   `json:"searchBaseUrl"`
	City               string   `json:"city"`
	Areas              []string `json:"areas"`
	CheckinOffsetDays  int      `json:"checkinOffsetDays"`
	CheckoutOffsetDays int      `json:"checkoutOffsetDays"`
	Adults             int      `json:"adults"`
	Children           int      `json:"children"`
	Infants            int      `json:"infants"`
	Pets               int      `json:"pets"`
}

// FilterConfig screens out mail that must not get an automatic reply.
type FilterConfig struct {
	IgnoreSenders    []string `json:"ignoreSenders"` // /regex/ or plain substring
	AllowSenders     []string `json:"allowSenders,omitempty"`
	ReplyToAutomated bool     `json:"replyToAutomated"`
}

type PollConfig struct {
	IntervalSeconds   int    `json:"intervalSeconds" env:"GUESTMAIL_POLL_INTERVAL_SECONDS"`
	JitterSeconds     int    `json:"jitterSeconds"`
	Cron              string `json:"cron,omitempty" env:"GUESTMAIL_POLL_CRON"` // overrides the interval when set
	MaxBackoffSeconds int    `json:"maxBackoffSeconds"`
	Workers           int    `json:"workers"`
	MaxAttempts       int    `json:"maxAttempts"` // 0 = retry forever
}

type LedgerConfig struct {
	DBPath string `json:"dbPath" env:"GUESTMAIL_LEDGER_PATH"`
}

type MetricsConfig struct {
	TextfilePath string `json:"textfilePath,omitempty" env:"GUESTMAIL_METRICS_TEXTFILE"`
}

// DefaultConfigDir returns the default config directory (~/.guestmail).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".guestmail"
	}
	return filepath.Join(home, ".guestmail")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// LoadDotEnv loads KEY=value pairs from the given files (".env" when none)
// without overriding variables already present in the environment.
// Missing files are not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	return finish(cfg)
}

// LoadOrDefaults behaves like Load but falls back to Defaults plus the
// environment overlay when the file does not exist.
func LoadOrDefaults(path string) (*Config, error) {
	if _, err := os.Stat(ExpandPath(path)); errors.Is(err, fs.ErrNotExist) {
		return finish(Defaults())
	}
	return Load(path)
}

func finish(cfg *Config) (*Config, error) {
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("environment overlay: %w", err)
	}

	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Knowledge.IndexPath = ExpandPath(cfg.Knowledge.IndexPath)
	cfg.Listings.CatalogPath = ExpandPath(cfg.Listings.CatalogPath)
	cfg.Ledger.DBPath = ExpandPath(cfg.Ledger.DBPath)
	cfg.Metrics.TextfilePath = ExpandPath(cfg.Metrics.TextfilePath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Mail.IMAPAddr == "" {
		errs = append(errs, "mail.imapAddr is required")
	}
	if cfg.Mail.SMTPAddr == "" {
		errs = append(errs, "mail.smtpAddr is required")
	}

	if !knownProvider(cfg.Generation.Provider) {
		errs = append(errs, fmt.Sprintf("generation.provider must be one of: %s", strings.Join(ProviderNames, ", ")))
	}
	for _, name := range cfg.Generation.FailoverChain {
		if !knownProvider(name) {
			errs = append(errs, fmt.Sprintf("generation.failoverChain references unknown provider: %s", name))
		}
	}
	if cfg.Generation.Temperature < 0 || cfg.Generation.Temperature > 2 {
		errs = append(errs, "generation.temperature must be between 0 and 2")
	}
	if cfg.Generation.MaxTokens < 1 {
		errs = append(errs, "generation.maxTokens must be >= 1")
	}
	if cfg.Generation.RequestsPerMinute < 0 || cfg.Generation.RequestBurst < 0 {
		errs = append(errs, "generation.requestsPerMinute and requestBurst must be >= 0")
	}

	if cfg.Knowledge.IndexPath == "" {
		errs = append(errs, "knowledge.indexPath is required")
	}
	if cfg.Knowledge.TopK < 1 {
		errs = append(errs, "knowledge.topK must be >= 1")
	}
	if cfg.Knowledge.ChunkSize < 1 {
		errs = append(errs, "knowledge.chunkSize must be >= 1")
	}
	if cfg.Knowledge.ChunkOverlap < 0 || cfg.Knowledge.ChunkOverlap >= cfg.Knowledge.ChunkSize {
		errs = append(errs, "knowledge.chunkOverlap must be >= 0 and smaller than chunkSize")
	}

	if cfg.Listings.CatalogPath == "" {
		errs = append(errs, "listings.catalogPath is required")
	}
	if cfg.Listings.MaxMatches < 1 {
		errs = append(errs, "listings.maxMatches must be >= 1")
	}
	if cfg.Listings.MinGuests < 0 {
		errs = append(errs, "listings.minGuests must be >= 0")
	}

	if len(cfg.Links.Areas) == 0 {
		errs = append(errs, "links.areas must not be empty")
	}
	if cfg.Links.CheckinOffsetDays < 0 || cfg.Links.CheckoutOffsetDays <= cfg.Links.CheckinOffsetDays {
		errs = append(errs, "links.checkoutOffsetDays must be greater than checkinOffsetDays >= 0")
	}

	if cfg.Poll.Cron != "" {
		if !gronx.New().IsValid(cfg.Poll.Cron) {
			errs = append(errs, fmt.Sprintf("poll.cron is not a valid cron expression: %q", cfg.Poll.Cron))
		}
	} else if cfg.Poll.IntervalSeconds < 1 {
		errs = append(errs, "poll.intervalSeconds must be >= 1")
	}
	if cfg.Poll.JitterSeconds < 0 {
		errs = append(errs, "poll.jitterSeconds must be >= 0")
	}
	if cfg.Poll.MaxBackoffSeconds < cfg.Poll.IntervalSeconds {
		errs = append(errs, "poll.maxBackoffSeconds must be >= poll.intervalSeconds")
	}
	if cfg.Poll.Workers < 1 || cfg.Poll.Workers > 32 {
		errs = append(errs, "poll.workers must be between 1 and 32")
	}
	if cfg.Poll.MaxAttempts < 0 {
		errs = append(errs, "poll.maxAttempts must be >= 0")
	}

	if cfg.Ledger.DBPath == "" {
		errs = append(errs, "ledger.dbPath is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ProviderNames lists the generation backends that can be configured.
var ProviderNames = []string{"openai", "claude"}

func knownProvider(name string) bool {
	for _, n := range ProviderNames {
		if n == name {
			return true
		}
	}
	return false
}

// RequireCredentials reports the credentials that must be present before the
// poller may start. The OpenAI key is always required because the knowledge
// index is queried through OpenAI embeddings.
func RequireCredentials(cfg *Config) error {
	var missing []string
	if cfg.Providers.OpenAI.APIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if usesProvider(cfg, "claude") && cfg.Providers.Claude.APIKey == "" {
		missing = append(missing, "ANTHROPIC_API_KEY")
	}
	if cfg.Mail.Address == "" {
		missing = append(missing, "EMAIL_ADDRESS")
	}
	if cfg.Mail.Password == "" {
		missing = append(missing, "EMAIL_PASSWORD")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingCredential, strings.Join(missing, ", "))
	}
	return nil
}

func usesProvider(cfg *Config, name string) bool {
	if cfg.Generation.Provider == name {
		return true
	}
	for _, n := range cfg.Generation.FailoverChain {
		if n == name {
			return true
		}
	}
	return false
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
