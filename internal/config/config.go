package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Mail      MailConfig      `yaml:"mail"`
	Gmail     GmailConfig     `yaml:"gmail"`
	Outlook   OutlookConfig   `yaml:"outlook"`
	LLM       LLMConfig       `yaml:"llm"`
	Cache     CacheConfig     `yaml:"cache"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Render    RenderConfig    `yaml:"render"`
}

// ServerConfig holds HTTP API server settings
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// GetHost returns the host, defaulting to localhost
func (c ServerConfig) GetHost() string {
	if c.Host == "" {
		return "localhost"
	}
	return c.Host
}

// MailConfig holds mailbox scan settings shared across sources
type MailConfig struct {
	Source         string `yaml:"source"` // "gmail", "outlook", "sample", "csv"
	Email          string `yaml:"email"`
	TokenDir       string `yaml:"token_dir"`
	MaxMessages    int    `yaml:"max_messages"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	CSVPath        string `yaml:"csv_path"`
}

// Timeout returns the per-call mail fetch timeout as a duration
func (c MailConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// GmailConfig holds Gmail API settings
type GmailConfig struct {
	CredentialsPath string `yaml:"credentials_path"`
	QueryMode       string `yaml:"query_mode"` // "strict" or "broad"
}

// OutlookConfig holds Microsoft Graph settings
type OutlookConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	TenantID     string `yaml:"tenant_id"`
}

// LLMConfig holds classification model settings. Enabled defaults to true
// and acts as a kill switch: when false, AI classification is refused even
// if a CLI flag or API request asks for it.
type LLMConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Provider       string `yaml:"provider"` // "openai" or "bedrock"
	Model          string `yaml:"model"`
	BaseURL        string `yaml:"base_url"`
	APIKeyEnv      string `yaml:"api_key_env"`
	Region         string `yaml:"region"` // bedrock only
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxBodyChars   int    `yaml:"max_body_chars"`
	Concurrency    int    `yaml:"concurrency"`
}

// Timeout returns the per-call LLM timeout as a duration
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CacheConfig holds verdict/metadata cache settings
type CacheConfig struct {
	Type          string `yaml:"type"` // "none", "local", "redis"
	LocalPath     string `yaml:"local_path"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	TTLHours      int    `yaml:"ttl_hours"`
}

// TTL returns the cache entry lifetime as a duration
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// ArtifactsConfig holds run output settings
type ArtifactsConfig struct {
	OutDir     string `yaml:"out_dir"`
	S3Enabled  bool   `yaml:"s3_enabled"`
	S3Bucket   string `yaml:"s3_bucket"`
	S3Region   string `yaml:"s3_region"`
	S3Prefix   string `yaml:"s3_prefix"`
	AWSProfile string `yaml:"aws_profile"` // Empty string uses default credential chain (IAM role on ECS)
}

// GetAWSProfile returns the AWS profile, with environment variable override
func (c ArtifactsConfig) GetAWSProfile() string {
	if envProfile := os.Getenv("AWS_PROFILE_OVERRIDE"); envProfile != "" {
		if envProfile == "none" || envProfile == "iam" {
			return "" // Use default credential chain (IAM role)
		}
		return envProfile
	}
	// On ECS/Lambda, don't use a profile - use IAM role
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return ""
	}
	return c.AWSProfile
}

// RenderConfig holds diagram rendering settings
type RenderConfig struct {
	Title     string `yaml:"title"`
	Watermark string `yaml:"watermark"`
}

// Default returns a configuration with all defaults applied and no file read.
// The CLI uses this when no config file is given.
func Default() *Config {
	var cfg Config
	cfg.LLM.Enabled = true
	setDefaults(&cfg)
	return &cfg
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Booleans that default to true are pre-set so a file that omits them
	// keeps the default while an explicit `false` sticks.
	var cfg Config
	cfg.LLM.Enabled = true
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	setDefaults(&cfg)
	return &cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Mail.Source == "" {
		cfg.Mail.Source = "sample"
	}
	if cfg.Mail.TokenDir == "" {
		cfg.Mail.TokenDir = ".tokens"
	}
	if cfg.Mail.MaxMessages == 0 {
		cfg.Mail.MaxMessages = 2000
	}
	if cfg.Mail.TimeoutSeconds == 0 {
		cfg.Mail.TimeoutSeconds = 20
	}
	if cfg.Gmail.CredentialsPath == "" {
		cfg.Gmail.CredentialsPath = "credentials.json"
	}
	if cfg.Gmail.QueryMode == "" {
		cfg.Gmail.QueryMode = "strict"
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "openai"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4.1-mini"
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.LLM.APIKeyEnv == "" {
		cfg.LLM.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.LLM.Region == "" {
		cfg.LLM.Region = "us-east-1"
	}
	if cfg.LLM.TimeoutSeconds == 0 {
		cfg.LLM.TimeoutSeconds = 60
	}
	if cfg.LLM.MaxBodyChars == 0 {
		cfg.LLM.MaxBodyChars = 7000
	}
	if cfg.LLM.Concurrency == 0 {
		cfg.LLM.Concurrency = 8
	}
	if cfg.Cache.Type == "" {
		cfg.Cache.Type = "none"
	}
	if cfg.Cache.LocalPath == "" {
		cfg.Cache.LocalPath = "output/verdict_cache.json"
	}
	if cfg.Cache.TTLHours == 0 {
		cfg.Cache.TTLHours = 168
	}
	if cfg.Artifacts.OutDir == "" {
		cfg.Artifacts.OutDir = "output"
	}
	if cfg.Artifacts.S3Region == "" {
		cfg.Artifacts.S3Region = "us-east-1"
	}
	if cfg.Render.Title == "" {
		cfg.Render.Title = "Job Search Summary"
	}
	if cfg.Render.Watermark == "" {
		cfg.Render.Watermark = "Generated by OfferTracker"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in deployment.
// An empty path skips the file and starts from defaults.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	var cfg *Config
	if path == "" {
		cfg = Default()
	} else {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	// Override with environment variables if present
	if v := os.Getenv("MAIL_SOURCE"); v != "" {
		cfg.Mail.Source = v
	}
	if v := os.Getenv("MAIL_EMAIL"); v != "" {
		cfg.Mail.Email = v
	}
	if v := os.Getenv("TOKEN_DIR"); v != "" {
		cfg.Mail.TokenDir = v
	}
	if v := os.Getenv("GOOGLE_CREDENTIALS_PATH"); v != "" {
		cfg.Gmail.CredentialsPath = v
	}

	// Microsoft Graph credentials. AZURE_* aliases and the historical
	// MS_CLENT_SECRET misspelling are honored because deployed .env files
	// still carry them.
	if v := firstEnv("MS_CLIENT_ID", "AZURE_CLIENT_ID"); v != "" {
		cfg.Outlook.ClientID = v
	}
	if v := firstEnv("MS_CLIENT_SECRET", "AZURE_CLIENT_SECRET", "MS_CLENT_SECRET"); v != "" {
		cfg.Outlook.ClientSecret = v
	}
	if v := firstEnv("MS_TENANT_ID", "AZURE_TENANT_ID"); v != "" {
		cfg.Outlook.TenantID = v
	}

	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.LLM.Region = v
		cfg.Artifacts.S3Region = v
	}
	if v := os.Getenv("DISABLE_LLM"); v == "1" || v == "true" {
		cfg.LLM.Enabled = false
	}

	// Redis override enables the redis cache backend when an address appears
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
		if cfg.Cache.Type == "none" || cfg.Cache.Type == "" {
			cfg.Cache.Type = "redis"
		}
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Cache.RedisPassword = v
	}

	if v := os.Getenv("OUTPUT_DIR"); v != "" {
		cfg.Artifacts.OutDir = v
	}
	if v := os.Getenv("ARTIFACTS_S3_BUCKET"); v != "" {
		cfg.Artifacts.S3Bucket = v
		cfg.Artifacts.S3Enabled = true
	}

	return cfg, nil
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}
