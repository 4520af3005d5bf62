package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App        AppConfig
	DB         DBConfig
	Redis      RedisConfig
	Auth       AuthConfig
	Twilio     TwilioConfig
	Ingestion  IngestionDefaults
	OpenAI     OpenAIConfig
	ElevenLabs ElevenLabsConfig
	Pipeline   PipelineConfig
	Media      MediaConfig
}

type AppConfig struct {
	Env  string
	Port int

	// PublicBaseURL is the externally reachable base of this service.
	// Used for telephony callbacks and locally served media links.
	PublicBaseURL string

	// TrustedProxies may set X-Forwarded-For. Empty means the socket peer
	// address is the client address.
	TrustedProxies []string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string

	// Pool sizing; zero means the pool default.
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type TwilioConfig struct {
	AccountSID        string
	AuthToken         string
	ValidateSignature bool

	DefaultDepartment string
	// DepartmentNumbers maps a dialed number to the department that owns it.
	DepartmentNumbers map[string]string
	// DepartmentForward maps a department to the number or SIP URI inbound
	// calls are dialed to. Departments without an entry record a voicemail.
	DepartmentForward map[string]string
}

// IngestionDefaults seed the ingestion configuration the first time it is read
// and no stored configuration exists.
type IngestionDefaults struct {
	Mode   string
	Active bool

	SocketPort       int
	SocketAllowedIPs []string

	HTTPPath       string
	HTTPUsername   string
	HTTPPassword   string
	HTTPAllowedIPs []string
}

type OpenAIConfig struct {
	APIKey    string
	BaseURL   string
	STTModel  string
	ChatModel string
	Timeout   time.Duration
}

type ElevenLabsConfig struct {
	APIKey  string
	BaseURL string
	VoiceID string
	Model   string
	Timeout time.Duration
}

type PipelineConfig struct {
	Workers     int
	QueueSize   int
	MaxAttempts int
	BaseDelay   time.Duration
	LockTTL     time.Duration

	DefaultLanguage  string
	FallbackLanguage string
	CompanyContext   string
	PromptsFile      string
}

type MediaConfig struct {
	Dir    string
	Bucket string
	// GCSCredentialsJSON is a service account key; empty uses application default credentials.
	GCSCredentialsJSON string
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.App.PublicBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL")), "/")
	c.App.TrustedProxies = parseList(os.Getenv("TRUSTED_PROXIES"))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))
	{
		n, err := optionalInt("DB_MAX_OPEN_CONNS")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.MaxOpenConns = n
	}
	{
		n, err := optionalInt("DB_MAX_IDLE_CONNS")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.MaxIdleConns = n
	}

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.ValidateSignature = optionalBool("TWILIO_VALIDATE_SIGNATURE", false)
	c.Twilio.DefaultDepartment = strings.TrimSpace(os.Getenv("DEFAULT_DEPARTMENT"))
	c.Twilio.DepartmentNumbers = parsePairs(os.Getenv("DEPARTMENT_NUMBERS"))
	c.Twilio.DepartmentForward = parsePairs(os.Getenv("DEPARTMENT_FORWARD"))

	c.Ingestion.Mode = strings.ToLower(strings.TrimSpace(os.Getenv("CDR_INGEST_MODE")))
	c.Ingestion.Active = optionalBool("CDR_INGEST_ACTIVE", true)
	{
		n, err := optionalInt("CDR_SOCKET_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Ingestion.SocketPort = n
	}
	c.Ingestion.SocketAllowedIPs = parseList(os.Getenv("CDR_SOCKET_ALLOWED_IPS"))
	c.Ingestion.HTTPPath = strings.TrimSpace(os.Getenv("CDR_HTTP_PATH"))
	c.Ingestion.HTTPUsername = strings.TrimSpace(os.Getenv("CDR_HTTP_USERNAME"))
	c.Ingestion.HTTPPassword = os.Getenv("CDR_HTTP_PASSWORD")
	c.Ingestion.HTTPAllowedIPs = parseList(os.Getenv("CDR_HTTP_ALLOWED_IPS"))

	c.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	c.OpenAI.BaseURL = strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
	c.OpenAI.STTModel = strings.TrimSpace(os.Getenv("OPENAI_STT_MODEL"))
	c.OpenAI.ChatModel = strings.TrimSpace(os.Getenv("OPENAI_CHAT_MODEL"))
	c.OpenAI.Timeout = mustDuration("COLLABORATOR_TIMEOUT")

	c.ElevenLabs.APIKey = os.Getenv("ELEVENLABS_API_KEY")
	c.ElevenLabs.BaseURL = strings.TrimSpace(os.Getenv("ELEVENLABS_BASE_URL"))
	c.ElevenLabs.VoiceID = strings.TrimSpace(os.Getenv("ELEVENLABS_VOICE_ID"))
	c.ElevenLabs.Model = strings.TrimSpace(os.Getenv("ELEVENLABS_MODEL"))
	c.ElevenLabs.Timeout = c.OpenAI.Timeout

	{
		n, err := optionalInt("PIPELINE_WORKERS")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Pipeline.Workers = n
	}
	{
		n, err := optionalInt("PIPELINE_QUEUE_SIZE")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Pipeline.QueueSize = n
	}
	{
		n, err := optionalInt("PIPELINE_MAX_ATTEMPTS")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Pipeline.MaxAttempts = n
	}
	c.Pipeline.BaseDelay = mustDuration("PIPELINE_BASE_DELAY")
	c.Pipeline.LockTTL = mustDuration("PIPELINE_LOCK_TTL")
	c.Pipeline.DefaultLanguage = strings.TrimSpace(os.Getenv("DEFAULT_LANGUAGE"))
	c.Pipeline.FallbackLanguage = strings.TrimSpace(os.Getenv("FALLBACK_LANGUAGE"))
	c.Pipeline.CompanyContext = strings.TrimSpace(os.Getenv("COMPANY_CONTEXT"))
	c.Pipeline.PromptsFile = strings.TrimSpace(os.Getenv("PROMPTS_FILE"))

	c.Media.Dir = strings.TrimSpace(os.Getenv("MEDIA_DIR"))
	c.Media.Bucket = strings.TrimSpace(os.Getenv("MEDIA_BUCKET"))
	c.Media.GCSCredentialsJSON = os.Getenv("GCS_CREDENTIALS_JSON")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Twilio.ValidateSignature && c.Twilio.AuthToken == "" {
		errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required when TWILIO_VALIDATE_SIGNATURE is set"))
	}
	if c.Twilio.DefaultDepartment == "" {
		c.Twilio.DefaultDepartment = "support"
	}

	if c.Ingestion.Mode == "" {
		c.Ingestion.Mode = "http"
	}
	if c.Ingestion.Mode != "socket" && c.Ingestion.Mode != "http" {
		errs = append(errs, fmt.Errorf("CDR_INGEST_MODE must be one of socket, http, got %q", c.Ingestion.Mode))
	}
	if c.Ingestion.SocketPort == 0 {
		c.Ingestion.SocketPort = 5001
	}
	if c.Ingestion.SocketPort < 0 || c.Ingestion.SocketPort > 65535 {
		errs = append(errs, fmt.Errorf("CDR_SOCKET_PORT must be a valid port, got %d", c.Ingestion.SocketPort))
	}
	if c.Ingestion.HTTPPath == "" {
		c.Ingestion.HTTPPath = "/api/cdr/ingest"
	}
	if !strings.HasPrefix(c.Ingestion.HTTPPath, "/") {
		errs = append(errs, fmt.Errorf("CDR_HTTP_PATH must start with /, got %q", c.Ingestion.HTTPPath))
	}
	if c.IsProduction() && c.Ingestion.Mode == "http" && (c.Ingestion.HTTPUsername == "" || c.Ingestion.HTTPPassword == "") {
		errs = append(errs, errors.New("CDR_HTTP_USERNAME and CDR_HTTP_PASSWORD are required in production http mode"))
	}

	if c.OpenAI.BaseURL == "" {
		c.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	if c.OpenAI.STTModel == "" {
		c.OpenAI.STTModel = "whisper-1"
	}
	if c.OpenAI.ChatModel == "" {
		c.OpenAI.ChatModel = "gpt-4o-mini"
	}
	if c.OpenAI.Timeout <= 0 {
		c.OpenAI.Timeout = 60 * time.Second
	}
	if c.ElevenLabs.BaseURL == "" {
		c.ElevenLabs.BaseURL = "https://api.elevenlabs.io/v1"
	}
	if c.ElevenLabs.VoiceID == "" {
		c.ElevenLabs.VoiceID = "21m00Tcm4TlvDq8ikWAM"
	}
	if c.ElevenLabs.Model == "" {
		c.ElevenLabs.Model = "eleven_multilingual_v2"
	}
	if c.ElevenLabs.Timeout <= 0 {
		c.ElevenLabs.Timeout = c.OpenAI.Timeout
	}

	if c.Pipeline.Workers <= 0 {
		c.Pipeline.Workers = 4
	}
	if c.Pipeline.QueueSize <= 0 {
		c.Pipeline.QueueSize = 256
	}
	if c.Pipeline.MaxAttempts <= 0 {
		c.Pipeline.MaxAttempts = 3
	}
	if c.Pipeline.BaseDelay <= 0 {
		c.Pipeline.BaseDelay = 2 * time.Second
	}
	if c.Pipeline.LockTTL <= 0 {
		c.Pipeline.LockTTL = 15 * time.Minute
	}
	if c.Pipeline.DefaultLanguage == "" {
		c.Pipeline.DefaultLanguage = "auto"
	}
	if c.Pipeline.FallbackLanguage == "" {
		c.Pipeline.FallbackLanguage = "en"
	}

	if c.Media.Dir == "" {
		c.Media.Dir = "./media"
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func parseList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parsePairs reads "k1=v1,k2=v2".
func parsePairs(v string) map[string]string {
	out := map[string]string{}
	for _, p := range parseList(v) {
		k, val, ok := strings.Cut(p, "=")
		if !ok {
			continue
		}
		k, val = strings.TrimSpace(k), strings.TrimSpace(val)
		if k != "" && val != "" {
			out[k] = val
		}
	}
	return out
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
