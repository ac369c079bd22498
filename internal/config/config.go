package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/emperorhan/wallet-sentinel/internal/chain/solana/rpc"
)

// maxNumberedEndpoints is the highest N read from RPC_URL<N>.
const maxNumberedEndpoints = 10

type Config struct {
	Endpoints []EndpointConfig
	Router    RouterConfig
	RPC       RPCConfig
	Watcher   WatcherConfig
	Forwarder ForwarderConfig
	Alert     AlertConfig
	Analyzer  AnalyzerConfig
	Redis     RedisConfig
	Server    ServerConfig
	Tracing   TracingConfig
	Log       LogConfig
}

// EndpointConfig is one upstream provider. URL is always http(s); WSURL is
// derived from it unless set explicitly.
type EndpointConfig struct {
	Name  string `yaml:"name"`
	URL   string `yaml:"url"`
	WSURL string `yaml:"ws_url"`
}

type RouterConfig struct {
	MaxErrors   int
	ErrorWindow time.Duration
	WarningCap  int
	RetryBudget int
}

type RPCConfig struct {
	RequestTimeout     time.Duration
	HealthProbeTimeout time.Duration
	RPS                float64
	Burst              int
	SubscriptionMode   string
	PollInterval       time.Duration
	Commitment         string
}

type WatcherConfig struct {
	WatchedAddresses []string
	ResubscribeDelay time.Duration
}

type ForwarderConfig struct {
	Destination        string
	FeeLamports        uint64
	MinForwardLamports uint64
	SignerURL          string
	SignerToken        string
	SignerTimeout      time.Duration
	ExplorerURL        string
}

type AlertConfig struct {
	TelegramBotToken string
	TelegramChatID   string
	SlackWebhookURL  string
	WebhookURL       string
	Cooldown         time.Duration
	DispatchTimeout  time.Duration
}

type AnalyzerConfig struct {
	Addresses     []string
	ProgramID     string
	PointsPerSOL  decimal.Decimal
	PageSize      int
	BatchSize     int
	Concurrency   int
	MaxSignatures int
	CacheTTL      time.Duration
}

type RedisConfig struct {
	URL string
}

type ServerConfig struct {
	HealthPort int
	AdminToken string
}

type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

type LogConfig struct {
	Level string
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first if present; real environment variables win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var errs []string
	fail := func(err error) {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	cfg := &Config{
		Router: RouterConfig{
			MaxErrors:   getEnvInt("MAX_ERRORS", 5),
			ErrorWindow: getEnvMillis("ERROR_WINDOW", 60*time.Second),
			WarningCap:  getEnvInt("WARNING_CAP", 2),
			RetryBudget: getEnvInt("RPC_RETRY_BUDGET", 0),
		},
		RPC: RPCConfig{
			RequestTimeout:     getEnvDuration("RPC_REQUEST_TIMEOUT", 15*time.Second),
			HealthProbeTimeout: getEnvDuration("HEALTH_PROBE_TIMEOUT", 3*time.Second),
			RPS:                getEnvFloat("RPC_RPS", 10),
			Burst:              getEnvInt("RPC_BURST", 20),
			SubscriptionMode:   strings.ToLower(getEnv("SUBSCRIPTION_MODE", "ws")),
			PollInterval:       getEnvDuration("POLL_INTERVAL", 5*time.Second),
			Commitment:         getEnv("COMMITMENT", "confirmed"),
		},
		Watcher: WatcherConfig{
			WatchedAddresses: splitList(getEnv("WATCHED_ADDRESSES", "")),
			ResubscribeDelay: getEnvDuration("RESUBSCRIBE_DELAY", 5*time.Second),
		},
		Forwarder: ForwarderConfig{
			Destination:        getEnv("TARGET_ADDRESS", ""),
			FeeLamports:        getEnvUint64("TRANSFER_FEE_LAMPORTS", 5000),
			MinForwardLamports: getEnvUint64("MIN_FORWARD_LAMPORTS", 0),
			SignerURL:          getEnv("SIGNER_URL", ""),
			SignerToken:        getEnv("SIGNER_TOKEN", ""),
			SignerTimeout:      getEnvDuration("SIGNER_TIMEOUT", 10*time.Second),
			ExplorerURL:        getEnv("EXPLORER_URL", "https://solscan.io/tx/"),
		},
		Alert: AlertConfig{
			TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
			TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
			SlackWebhookURL:  getEnv("SLACK_WEBHOOK_URL", ""),
			WebhookURL:       getEnv("ALERT_WEBHOOK_URL", ""),
			Cooldown:         getEnvDuration("ALERT_COOLDOWN", 30*time.Minute),
			DispatchTimeout:  getEnvDuration("ALERT_DISPATCH_TIMEOUT", 15*time.Second),
		},
		Analyzer: AnalyzerConfig{
			Addresses:     splitList(getEnv("ANALYZE_ADDRESSES", "")),
			ProgramID:     getEnv("PROGRAM_ID", ""),
			PageSize:      getEnvInt("ANALYZER_PAGE_SIZE", 1000),
			BatchSize:     getEnvInt("ANALYZER_BATCH_SIZE", 100),
			Concurrency:   getEnvInt("ANALYZER_CONCURRENCY", 4),
			MaxSignatures: getEnvInt("ANALYZER_MAX_SIGNATURES", 0),
			CacheTTL:      getEnvDuration("ANALYZER_CACHE_TTL", 30*24*time.Hour),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		Server: ServerConfig{
			HealthPort: getEnvInt("HEALTH_PORT", 8080),
			AdminToken: getEnv("ADMIN_TOKEN", ""),
		},
		Tracing: TracingConfig{
			Enabled:     getEnvBool("OTEL_TRACING_ENABLED", false),
			Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			SampleRatio: getEnvFloat("OTEL_TRACES_SAMPLER_RATIO", 1),
		},
		Log: LogConfig{
			Level: strings.ToLower(getEnv("LOG_LEVEL", "info")),
		},
	}

	points, err := decimal.NewFromString(getEnv("POINTS_PER_SOL", "1"))
	if err != nil {
		fail(fmt.Errorf("POINTS_PER_SOL: %w", err))
	}
	cfg.Analyzer.PointsPerSOL = points

	if path := getEnv("ENDPOINTS_FILE", ""); path != "" {
		cfg.Endpoints, err = loadEndpointsFile(path)
		fail(err)
	} else {
		cfg.Endpoints = endpointsFromEnv()
	}

	fail(cfg.validate())
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

type endpointsFile struct {
	Endpoints []EndpointConfig `yaml:"endpoints"`
}

func loadEndpointsFile(path string) ([]EndpointConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ENDPOINTS_FILE: %w", err)
	}
	var f endpointsFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &f); err != nil {
		return nil, fmt.Errorf("parse ENDPOINTS_FILE: %w", err)
	}
	out := make([]EndpointConfig, 0, len(f.Endpoints))
	for i, ep := range f.Endpoints {
		out = append(out, normalizeEndpoint(ep, i))
	}
	return out, nil
}

// endpointsFromEnv reads RPC_URL, RPC_URL2 ... RPC_URL10 in order. Gaps are
// skipped so the resulting ids stay dense.
func endpointsFromEnv() []EndpointConfig {
	var out []EndpointConfig
	for n := 1; n <= maxNumberedEndpoints; n++ {
		key := "RPC_URL"
		if n > 1 {
			key += strconv.Itoa(n)
		}
		raw := strings.TrimSpace(os.Getenv(key))
		if raw == "" {
			continue
		}
		out = append(out, normalizeEndpoint(EndpointConfig{URL: raw}, len(out)))
	}
	return out
}

// normalizeEndpoint accepts http(s) or ws(s) URLs. JSON-RPC always goes over
// http(s); subscriptions use the ws(s) form.
func normalizeEndpoint(ep EndpointConfig, idx int) EndpointConfig {
	ep.URL = strings.TrimSpace(ep.URL)
	if strings.HasPrefix(ep.URL, "ws://") || strings.HasPrefix(ep.URL, "wss://") {
		if ep.WSURL == "" {
			ep.WSURL = ep.URL
		}
		ep.URL = rpc.WSToHTTP(ep.URL)
	}
	if ep.WSURL == "" {
		ep.WSURL = rpc.HTTPToWS(ep.URL)
	}
	if ep.Name == "" {
		ep.Name = "rpc-" + strconv.Itoa(idx+1)
	}
	return ep
}

func (c *Config) validate() error {
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("at least one endpoint is required (RPC_URL or ENDPOINTS_FILE)")
	}
	names := make(map[string]bool, len(c.Endpoints))
	for i, ep := range c.Endpoints {
		if !strings.HasPrefix(ep.URL, "http://") && !strings.HasPrefix(ep.URL, "https://") {
			return fmt.Errorf("endpoint %d: unsupported url scheme", i+1)
		}
		if names[ep.Name] {
			return fmt.Errorf("duplicate endpoint name %q", ep.Name)
		}
		names[ep.Name] = true
	}
	if c.Router.MaxErrors <= 0 {
		return fmt.Errorf("MAX_ERRORS must be positive")
	}
	if c.RPC.SubscriptionMode != "ws" && c.RPC.SubscriptionMode != "poll" {
		return fmt.Errorf("SUBSCRIPTION_MODE must be ws or poll, got %q", c.RPC.SubscriptionMode)
	}
	if c.RPC.RPS < 0 {
		return fmt.Errorf("RPC_RPS must not be negative")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("OTEL_TRACES_SAMPLER_RATIO must be within [0,1]")
	}
	if (c.Alert.TelegramBotToken == "") != (c.Alert.TelegramChatID == "") {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set together")
	}
	return nil
}

// ValidateSentinel checks the settings the monitoring service needs.
func (c *Config) ValidateSentinel() error {
	if c.Forwarder.Destination == "" {
		return fmt.Errorf("TARGET_ADDRESS is required")
	}
	if c.Forwarder.SignerURL == "" {
		return fmt.Errorf("SIGNER_URL is required")
	}
	if len(c.Watcher.WatchedAddresses) > len(c.Endpoints) {
		return fmt.Errorf("WATCHED_ADDRESSES has %d wallets but only %d endpoints are configured",
			len(c.Watcher.WatchedAddresses), len(c.Endpoints))
	}
	for _, addr := range c.Watcher.WatchedAddresses {
		if addr == c.Forwarder.Destination {
			return fmt.Errorf("TARGET_ADDRESS must not be a watched wallet")
		}
	}
	return nil
}

// ValidateAnalyzer checks the settings the analyzer needs.
func (c *Config) ValidateAnalyzer() error {
	if c.Analyzer.ProgramID == "" {
		return fmt.Errorf("PROGRAM_ID is required")
	}
	if c.Analyzer.PointsPerSOL.IsNegative() {
		return fmt.Errorf("POINTS_PER_SOL must not be negative")
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvUint64(key string, fallback uint64) uint64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseUint(v, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("90s") or a bare number of
// seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

// getEnvMillis is getEnvDuration for keys whose bare numbers are
// milliseconds, such as ERROR_WINDOW=60000.
func getEnvMillis(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}
