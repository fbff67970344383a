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
	App   AppConfig
	DB    DBConfig
	Redis RedisConfig
	Auth  AuthConfig
	Agora AgoraConfig
	Push  PushConfig
	Calls CallsConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	// Driver is postgres (production) or sqlite (local runs).
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string

	SQLitePath string
}

// RedisConfig is optional outside production. Without it the process uses
// in-memory change feeds and no cross-instance guards.
type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	// Mode is firebase (Firebase ID tokens verified by the Admin SDK) or
	// local (HS256 tokens signed with JWTSecret, for dev and tests).
	Mode              string
	FirebaseProjectID string

	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
}

type AgoraConfig struct {
	AppID          string
	AppCertificate string
	TokenTTL       time.Duration
}

type PushConfig struct {
	// Provider is fcm or mqtt.
	Provider           string
	FCMCredentialsFile string

	MQTTBrokerURL   string
	MQTTClientID    string
	MQTTUsername    string
	MQTTPassword    string
	MQTTTopicPrefix string

	Timeout time.Duration
}

type CallsConfig struct {
	InitialStatus   string
	StepTimeout     time.Duration
	Retention       time.Duration
	JanitorInterval time.Duration
	// InFlightTTL bounds the per-deal initiate guard if a process dies holding it.
	InFlightTTL time.Duration
}

const (
	AuthModeFirebase = "firebase"
	AuthModeLocal    = "local"

	PushProviderFCM  = "fcm"
	PushProviderMQTT = "mqtt"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Driver = strings.ToLower(strings.TrimSpace(os.Getenv("DB_DRIVER")))
	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := optionalInt("DB_PORT", 5432)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))
	c.DB.SQLitePath = strings.TrimSpace(os.Getenv("DB_SQLITE_PATH"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := optionalInt("REDIS_PORT", 6379)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.Mode = strings.ToLower(strings.TrimSpace(os.Getenv("AUTH_MODE")))
	c.Auth.FirebaseProjectID = strings.TrimSpace(os.Getenv("FIREBASE_PROJECT_ID"))
	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))

	c.Agora.AppID = strings.TrimSpace(os.Getenv("AGORA_APP_ID"))
	c.Agora.AppCertificate = strings.TrimSpace(os.Getenv("AGORA_APP_CERTIFICATE"))

	c.Push.Provider = strings.ToLower(strings.TrimSpace(os.Getenv("PUSH_PROVIDER")))
	c.Push.FCMCredentialsFile = strings.TrimSpace(os.Getenv("FCM_CREDENTIALS_FILE"))
	c.Push.MQTTBrokerURL = strings.TrimSpace(os.Getenv("MQTT_BROKER_URL"))
	c.Push.MQTTClientID = strings.TrimSpace(os.Getenv("MQTT_CLIENT_ID"))
	c.Push.MQTTUsername = strings.TrimSpace(os.Getenv("MQTT_USERNAME"))
	c.Push.MQTTPassword = os.Getenv("MQTT_PASSWORD")
	c.Push.MQTTTopicPrefix = strings.TrimSpace(os.Getenv("MQTT_TOPIC_PREFIX"))

	c.Calls.InitialStatus = strings.ToLower(strings.TrimSpace(os.Getenv("CALLS_INITIAL_STATUS")))

	// Duration env vars are optional; defaults applied in Validate() based on env.
	// Retention keeps an explicit 0 ("never purge"), so it gets its default here.
	durations := []struct {
		key string
		dst *time.Duration
		def time.Duration
	}{
		{"AGORA_TOKEN_TTL", &c.Agora.TokenTTL, 0},
		{"PUSH_TIMEOUT", &c.Push.Timeout, 0},
		{"CALLS_STEP_TIMEOUT", &c.Calls.StepTimeout, 0},
		{"CALLS_RETENTION", &c.Calls.Retention, 720 * time.Hour},
		{"CALLS_JANITOR_INTERVAL", &c.Calls.JanitorInterval, 0},
		{"CALLS_INFLIGHT_TTL", &c.Calls.InFlightTTL, 0},
	}
	for _, d := range durations {
		v, err := optionalDuration(d.key, d.def)
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		*d.dst = v
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the configuration and fills in environment-dependent
// defaults.
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

	errs = append(errs, c.validateDB()...)
	errs = append(errs, c.validateRedis()...)
	errs = append(errs, c.validateAuth()...)
	errs = append(errs, c.validateAgora()...)
	errs = append(errs, c.validatePush()...)
	errs = append(errs, c.validateCalls()...)

	return joinErrors(errs)
}

func (c *Config) validateDB() []error {
	var errs []error
	if c.DB.Driver == "" {
		c.DB.Driver = DriverPostgres
	}
	switch c.DB.Driver {
	case DriverSQLite:
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_DRIVER=sqlite is not allowed in production"))
		}
		if c.DB.SQLitePath == "" {
			c.DB.SQLitePath = "calls.db"
		}
		return errs
	case DriverPostgres:
	default:
		return append(errs, fmt.Errorf("DB_DRIVER must be one of postgres, sqlite, got %q", c.DB.Driver))
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
	return errs
}

func (c *Config) validateRedis() []error {
	var errs []error
	if c.Redis.Host == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("REDIS_HOST is required in production"))
		}
		return errs
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}
	return errs
}

func (c *Config) validateAuth() []error {
	var errs []error
	if c.Auth.Mode == "" {
		c.Auth.Mode = AuthModeFirebase
	}
	switch c.Auth.Mode {
	case AuthModeFirebase:
		if c.Auth.FirebaseProjectID == "" {
			errs = append(errs, errors.New("FIREBASE_PROJECT_ID is required when AUTH_MODE=firebase"))
		}
	case AuthModeLocal:
		if c.IsProduction() {
			errs = append(errs, errors.New("AUTH_MODE=local is not allowed in production"))
		}
		if c.Auth.JWTSecret == "" {
			errs = append(errs, errors.New("JWT_SECRET is required when AUTH_MODE=local"))
		}
	default:
		errs = append(errs, fmt.Errorf("AUTH_MODE must be one of firebase, local, got %q", c.Auth.Mode))
	}
	return errs
}

func (c *Config) validateAgora() []error {
	var errs []error
	if c.Agora.AppID == "" {
		errs = append(errs, errors.New("AGORA_APP_ID is required"))
	}
	if c.Agora.AppCertificate == "" {
		errs = append(errs, errors.New("AGORA_APP_CERTIFICATE is required"))
	}
	if c.Agora.TokenTTL < 0 {
		errs = append(errs, errors.New("AGORA_TOKEN_TTL must be positive"))
	} else if c.Agora.TokenTTL == 0 {
		c.Agora.TokenTTL = time.Hour
	}
	return errs
}

func (c *Config) validatePush() []error {
	var errs []error
	if c.Push.Provider == "" {
		c.Push.Provider = PushProviderFCM
	}
	switch c.Push.Provider {
	case PushProviderFCM:
		if c.Auth.FirebaseProjectID == "" && c.Push.FCMCredentialsFile == "" {
			errs = append(errs, errors.New("FCM needs FIREBASE_PROJECT_ID or FCM_CREDENTIALS_FILE"))
		}
	case PushProviderMQTT:
		if c.Push.MQTTBrokerURL == "" {
			errs = append(errs, errors.New("MQTT_BROKER_URL is required when PUSH_PROVIDER=mqtt"))
		}
	default:
		errs = append(errs, fmt.Errorf("PUSH_PROVIDER must be one of fcm, mqtt, got %q", c.Push.Provider))
	}
	if c.Push.Timeout <= 0 {
		c.Push.Timeout = 10 * time.Second
	}
	return errs
}

func (c *Config) validateCalls() []error {
	var errs []error
	switch c.Calls.InitialStatus {
	case "":
		c.Calls.InitialStatus = "ringing"
	case "ringing", "calling":
	default:
		errs = append(errs, fmt.Errorf("CALLS_INITIAL_STATUS must be one of ringing, calling, got %q", c.Calls.InitialStatus))
	}
	if c.Calls.StepTimeout <= 0 {
		c.Calls.StepTimeout = 10 * time.Second
	}
	if c.Calls.Retention < 0 {
		errs = append(errs, errors.New("CALLS_RETENTION must not be negative"))
	}
	if c.Calls.JanitorInterval <= 0 {
		c.Calls.JanitorInterval = time.Hour
	}
	if c.Calls.InFlightTTL <= 0 {
		c.Calls.InFlightTTL = 30 * time.Second
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) IsLocal() bool {
	return c.App.Env == "local" || c.App.Env == "dev"
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

func (c Config) HasRedis() bool {
	return c.Redis.Host != ""
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

func optionalInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration, got %q", key, v)
	}
	return d, nil
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
