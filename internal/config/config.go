package config

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultExternalHTTPTimeout = 90 * time.Second
const defaultExternalHTTPTimeoutSeconds = int(defaultExternalHTTPTimeout / time.Second)

type Config struct {
	ChatProvider string `yaml:"chat_provider"` // googlechat or slack

	GoogleChatCredentialsFile string   `yaml:"google_chat_credentials_file"`
	GoogleChatSpaces          []string `yaml:"google_chat_spaces"`
	GoogleChatBotName         string   `yaml:"google_chat_bot_name"`
	GoogleChatAPIURL          string   `yaml:"google_chat_api_url"`

	SlackBotToken   string   `yaml:"slack_bot_token"`
	SlackAppToken   string   `yaml:"slack_app_token"`
	SlackChannelIDs []string `yaml:"slack_channel_ids"`
	SlackBotUserID  string   `yaml:"slack_bot_user_id"`

	TicketStore             string `yaml:"ticket_store"` // servicenow, sqlite, postgres or memory
	ServiceNowInstanceURL   string `yaml:"servicenow_instance_url"`
	ServiceNowUsername      string `yaml:"servicenow_username"`
	ServiceNowPassword      string `yaml:"servicenow_password"`
	ServiceNowClientID      string `yaml:"servicenow_client_id"`
	ServiceNowClientSecret  string `yaml:"servicenow_client_secret"`
	ServiceNowDefaultCaller string `yaml:"servicenow_default_caller"`

	DBPath      string `yaml:"db_path"`
	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`

	Oracle               string  `yaml:"oracle"` // rules or llm
	LLMProvider          string  `yaml:"llm_provider"`
	LLMModel             string  `yaml:"llm_model"`
	AnthropicAPIKey      string  `yaml:"anthropic_api_key"`
	OpenAIAPIKey         string  `yaml:"openai_api_key"`
	LLMMaxConcurrency    int     `yaml:"llm_max_concurrency"`
	LLMRequestsPerMinute int     `yaml:"llm_requests_per_minute"`
	ClassifyConfidence   float64 `yaml:"classify_confidence_threshold"`
	AllowUnmentioned     bool    `yaml:"allow_unmentioned"`
	SemanticDedup        bool    `yaml:"semantic_dedup_enabled"`

	PollSchedule          string `yaml:"poll_schedule"`
	PollLookbackMinutes   int    `yaml:"poll_lookback_minutes"`
	DuplicateWindowHours  int    `yaml:"duplicate_window_hours"`
	DuplicateMaxCandidate int    `yaml:"duplicate_max_candidates"`
	ClaimTTLSeconds       int    `yaml:"claim_ttl_seconds"`
	CleanupSchedule       string `yaml:"cleanup_schedule"`
	LinkCacheTTLHours     int    `yaml:"link_cache_ttl_hours"`
	DigestSchedule        string `yaml:"digest_schedule"`
	DigestChannel         string `yaml:"digest_channel"`

	WebhookPort       int    `yaml:"webhook_port"`
	WebhookSecret     string `yaml:"webhook_secret"`
	WebhookAckEnabled bool   `yaml:"webhook_ack_enabled"`

	FilterRulesPath            string `yaml:"filter_rules_path"`
	ExternalHTTPTimeoutSeconds int    `yaml:"external_http_timeout_seconds"`
	Timezone                   string `yaml:"timezone"`

	Location *time.Location `yaml:"-"` // computed from Timezone, not from YAML
}

// LoadConfig reads CONFIG_PATH (default config.yaml), applies env overrides
// and defaults, and exits on invalid configuration.
func LoadConfig() Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("%v", err)
	}
	return cfg
}

// Load is LoadConfig without the exit, for check-config and tests.
func Load() (Config, error) {
	var cfg Config

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
			return cfg, fmt.Errorf("error parsing %s: %w", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	var errs []error
	envOverride(&cfg.ChatProvider, "CHAT_PROVIDER")
	envOverride(&cfg.GoogleChatCredentialsFile, "GOOGLE_CHAT_CREDENTIALS_FILE")
	envOverrideList(&cfg.GoogleChatSpaces, "GOOGLE_CHAT_SPACES")
	envOverride(&cfg.GoogleChatBotName, "GOOGLE_CHAT_BOT_NAME")
	envOverride(&cfg.GoogleChatAPIURL, "GOOGLE_CHAT_API_URL")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackAppToken, "SLACK_APP_TOKEN")
	envOverrideList(&cfg.SlackChannelIDs, "SLACK_CHANNEL_IDS")
	envOverride(&cfg.SlackBotUserID, "SLACK_BOT_USER_ID")
	envOverride(&cfg.TicketStore, "TICKET_STORE")
	envOverride(&cfg.ServiceNowInstanceURL, "SERVICENOW_INSTANCE_URL")
	envOverride(&cfg.ServiceNowUsername, "SERVICENOW_USERNAME")
	envOverride(&cfg.ServiceNowPassword, "SERVICENOW_PASSWORD")
	envOverride(&cfg.ServiceNowClientID, "SERVICENOW_CLIENT_ID")
	envOverride(&cfg.ServiceNowClientSecret, "SERVICENOW_CLIENT_SECRET")
	envOverrideAllowEmpty(&cfg.ServiceNowDefaultCaller, "SERVICENOW_DEFAULT_CALLER")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.DatabaseURL, "DATABASE_URL")
	envOverrideAllowEmpty(&cfg.RedisURL, "REDIS_URL")
	envOverride(&cfg.Oracle, "ORACLE")
	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	errs = append(errs,
		envOverrideInt(&cfg.LLMMaxConcurrency, "LLM_MAX_CONCURRENCY"),
		envOverrideInt(&cfg.LLMRequestsPerMinute, "LLM_REQUESTS_PER_MINUTE"),
		envOverrideFloat(&cfg.ClassifyConfidence, "CLASSIFY_CONFIDENCE_THRESHOLD"),
	)
	envOverrideBool(&cfg.AllowUnmentioned, "ALLOW_UNMENTIONED")
	envOverrideBool(&cfg.SemanticDedup, "SEMANTIC_DEDUP_ENABLED")
	envOverride(&cfg.PollSchedule, "POLL_SCHEDULE")
	errs = append(errs,
		envOverrideInt(&cfg.PollLookbackMinutes, "POLL_LOOKBACK_MINUTES"),
		envOverrideInt(&cfg.DuplicateWindowHours, "DUPLICATE_WINDOW_HOURS"),
		envOverrideInt(&cfg.DuplicateMaxCandidate, "DUPLICATE_MAX_CANDIDATES"),
		envOverrideInt(&cfg.ClaimTTLSeconds, "CLAIM_TTL_SECONDS"),
		envOverrideInt(&cfg.LinkCacheTTLHours, "LINK_CACHE_TTL_HOURS"),
		envOverrideInt(&cfg.WebhookPort, "WEBHOOK_PORT"),
		envOverrideInt(&cfg.ExternalHTTPTimeoutSeconds, "EXTERNAL_HTTP_TIMEOUT_SECONDS"),
	)
	envOverride(&cfg.CleanupSchedule, "CLEANUP_SCHEDULE")
	envOverrideAllowEmpty(&cfg.DigestSchedule, "DIGEST_SCHEDULE")
	envOverrideAllowEmpty(&cfg.DigestChannel, "DIGEST_CHANNEL")
	envOverrideAllowEmpty(&cfg.WebhookSecret, "WEBHOOK_SECRET")
	envOverrideBool(&cfg.WebhookAckEnabled, "WEBHOOK_ACK_ENABLED")
	envOverride(&cfg.FilterRulesPath, "FILTER_RULES_PATH")
	envOverride(&cfg.Timezone, "TIMEZONE")
	return errors.Join(errs...)
}

func applyDefaults(cfg *Config) {
	if cfg.ChatProvider == "" {
		cfg.ChatProvider = "googlechat"
	}
	if cfg.GoogleChatBotName == "" {
		cfg.GoogleChatBotName = "Support Ticket Automation"
	}
	if cfg.GoogleChatAPIURL == "" {
		cfg.GoogleChatAPIURL = "https://chat.googleapis.com/v1"
	}
	if cfg.TicketStore == "" {
		cfg.TicketStore = "servicenow"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./ticketbot.db"
	}
	if cfg.Oracle == "" {
		cfg.Oracle = "rules"
	}
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = "anthropic"
	}
	if cfg.LLMMaxConcurrency == 0 {
		cfg.LLMMaxConcurrency = 4
	}
	if cfg.LLMRequestsPerMinute == 0 {
		cfg.LLMRequestsPerMinute = 60
	}
	if cfg.ClassifyConfidence == 0 {
		cfg.ClassifyConfidence = 0.5
	}
	if cfg.PollSchedule == "" {
		cfg.PollSchedule = "@every 1m"
	}
	if cfg.PollLookbackMinutes == 0 {
		cfg.PollLookbackMinutes = 24 * 60
	}
	if cfg.DuplicateWindowHours == 0 {
		cfg.DuplicateWindowHours = 24
	}
	if cfg.DuplicateMaxCandidate == 0 {
		cfg.DuplicateMaxCandidate = 5
	}
	if cfg.ClaimTTLSeconds == 0 {
		cfg.ClaimTTLSeconds = 120
	}
	if cfg.CleanupSchedule == "" {
		cfg.CleanupSchedule = "@hourly"
	}
	if cfg.DigestSchedule == "" {
		cfg.DigestSchedule = "0 9 * * *"
	}
	if cfg.LinkCacheTTLHours == 0 {
		cfg.LinkCacheTTLHours = 72
	}
	if cfg.WebhookPort == 0 {
		cfg.WebhookPort = 8080
	}
	if cfg.ExternalHTTPTimeoutSeconds == 0 {
		cfg.ExternalHTTPTimeoutSeconds = defaultExternalHTTPTimeoutSeconds
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}
}

// Validate checks required keys for the selected providers and resolves Location.
func (c *Config) Validate() error {
	switch c.ChatProvider {
	case "googlechat":
		if c.GoogleChatCredentialsFile == "" {
			return fmt.Errorf("google_chat_credentials_file is required when chat_provider=googlechat")
		}
	case "slack":
		if c.SlackBotToken == "" || c.SlackAppToken == "" {
			return fmt.Errorf("slack_bot_token and slack_app_token are required when chat_provider=slack")
		}
		if c.SlackBotUserID == "" && c.RequireMention() {
			return fmt.Errorf("slack_bot_user_id is required when chat_provider=slack unless allow_unmentioned is set")
		}
	default:
		return fmt.Errorf("chat_provider must be 'googlechat' or 'slack', got '%s'", c.ChatProvider)
	}

	switch c.TicketStore {
	case "servicenow":
		if c.ServiceNowInstanceURL == "" {
			return fmt.Errorf("servicenow_instance_url is required when ticket_store=servicenow")
		}
		if _, err := url.ParseRequestURI(c.ServiceNowInstanceURL); err != nil {
			return fmt.Errorf("invalid servicenow_instance_url '%s': %v", c.ServiceNowInstanceURL, err)
		}
		if c.ServiceNowUsername == "" || c.ServiceNowPassword == "" {
			return fmt.Errorf("servicenow_username and servicenow_password are required when ticket_store=servicenow")
		}
		if (c.ServiceNowClientID == "") != (c.ServiceNowClientSecret == "") {
			return fmt.Errorf("servicenow_client_id and servicenow_client_secret must be set together")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("database_url is required when ticket_store=postgres")
		}
	case "sqlite", "memory":
	default:
		return fmt.Errorf("ticket_store must be one of servicenow, sqlite, postgres, memory; got '%s'", c.TicketStore)
	}

	switch c.Oracle {
	case "rules":
	case "llm":
		switch c.LLMProvider {
		case "anthropic":
			if c.AnthropicAPIKey == "" {
				return fmt.Errorf("anthropic_api_key is required when llm_provider=anthropic")
			}
		case "openai":
			if c.OpenAIAPIKey == "" {
				return fmt.Errorf("openai_api_key is required when llm_provider=openai")
			}
		default:
			return fmt.Errorf("llm_provider must be 'anthropic' or 'openai', got '%s'", c.LLMProvider)
		}
	default:
		return fmt.Errorf("oracle must be 'rules' or 'llm', got '%s'", c.Oracle)
	}

	if strings.EqualFold(c.Timezone, "Local") {
		c.Location = time.Local
	} else {
		loc, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return fmt.Errorf("invalid timezone '%s': %v", c.Timezone, err)
		}
		c.Location = loc
	}

	if c.ClassifyConfidence < 0 || c.ClassifyConfidence > 1 {
		return fmt.Errorf("invalid classify_confidence_threshold '%f': must be between 0 and 1", c.ClassifyConfidence)
	}
	if c.LLMMaxConcurrency < 1 {
		return fmt.Errorf("invalid llm_max_concurrency '%d': must be >= 1", c.LLMMaxConcurrency)
	}
	if c.LLMRequestsPerMinute < 1 {
		return fmt.Errorf("invalid llm_requests_per_minute '%d': must be >= 1", c.LLMRequestsPerMinute)
	}
	if c.PollLookbackMinutes < 1 {
		return fmt.Errorf("invalid poll_lookback_minutes '%d': must be >= 1", c.PollLookbackMinutes)
	}
	if c.DuplicateWindowHours < 1 {
		return fmt.Errorf("invalid duplicate_window_hours '%d': must be >= 1", c.DuplicateWindowHours)
	}
	if c.DuplicateMaxCandidate < 1 || c.DuplicateMaxCandidate > 20 {
		return fmt.Errorf("invalid duplicate_max_candidates '%d': must be between 1 and 20", c.DuplicateMaxCandidate)
	}
	if c.WebhookPort < 1 || c.WebhookPort > 65535 {
		return fmt.Errorf("invalid webhook_port '%d'", c.WebhookPort)
	}
	if c.ExternalHTTPTimeoutSeconds < 5 {
		return fmt.Errorf("invalid external_http_timeout_seconds '%d': must be >= 5", c.ExternalHTTPTimeoutSeconds)
	}
	if c.FilterRulesPath != "" {
		if _, err := os.Stat(c.FilterRulesPath); err != nil {
			return fmt.Errorf("invalid filter_rules_path '%s': %v", c.FilterRulesPath, err)
		}
	}
	return nil
}

func (c Config) PollLookback() time.Duration {
	return time.Duration(c.PollLookbackMinutes) * time.Minute
}

func (c Config) DuplicateWindow() time.Duration {
	return time.Duration(c.DuplicateWindowHours) * time.Hour
}

func (c Config) ClaimTTL() time.Duration {
	return time.Duration(c.ClaimTTLSeconds) * time.Second
}

func (c Config) LinkCacheTTL() time.Duration {
	return time.Duration(c.LinkCacheTTLHours) * time.Hour
}

// RequireMention reports whether only messages addressing the bot enter the
// pipeline. On unless allow_unmentioned is set.
func (c Config) RequireMention() bool {
	return !c.AllowUnmentioned
}

// MentionMarkers lists the text forms that address the bot in a message.
func (c Config) MentionMarkers() []string {
	markers := []string{"@" + c.GoogleChatBotName, c.GoogleChatBotName}
	if c.SlackBotUserID != "" {
		markers = append(markers, "<@"+c.SlackBotUserID+">")
	}
	return markers
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideAllowEmpty(field *string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		*field = val
	}
}

func envOverrideList(field *[]string, envKey string) {
	raw := os.Getenv(envKey)
	if raw == "" {
		return
	}
	*field = nil
	for _, v := range strings.Split(raw, ",") {
		v = strings.TrimSpace(v)
		if v != "" {
			*field = append(*field, v)
		}
	}
}

func envOverrideInt(field *int, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}

func envOverrideBool(field *bool, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = strings.EqualFold(val, "true") || val == "1"
	}
}

func envOverrideFloat(field *float64, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}
