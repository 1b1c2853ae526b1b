package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// EnvPrefix is prepended to every environment variable override,
// e.g. DEVSERVE_SERVE_PORT.
const EnvPrefix = "DEVSERVE"

// FlagKeys maps command-line flag names to configuration keys.
var FlagKeys = map[string]string{
	"address":        "serve.address",
	"port":           "serve.port",
	"open":           "serve.open",
	"no-autoreload":  "serve.no_autoreload",
	"tls-cert":       "serve.tls.cert_path",
	"tls-key":        "serve.tls.key_path",
	"dist":           "build.dist",
	"public-url":     "build.public_url",
	"build-command":  "build.command",
	"proxy-backend":  "proxy.backend",
	"proxy-rewrite":  "proxy.rewrite",
	"proxy-ws":       "proxy.ws",
	"proxy-insecure": "proxy.insecure",
	"log-level":      "logging.level",
}

var absolutePath = regexp.MustCompile(`^/`)

type TLSConfig struct {
	CertPath string `mapstructure:"cert_path"`
	KeyPath  string `mapstructure:"key_path"`
}

type ServeConfig struct {
	Address        string    `mapstructure:"address"`
	Port           int       `mapstructure:"port"`
	Open           bool      `mapstructure:"open"`
	NoAutoreload   bool      `mapstructure:"no_autoreload"`
	TLS            TLSConfig `mapstructure:"tls"`
	HealthInterval string    `mapstructure:"health_interval"`
}

type BuildConfig struct {
	Dist      string `mapstructure:"dist"`
	PublicURL string `mapstructure:"public_url"`
	Command   string `mapstructure:"command"`
}

type WatchConfig struct {
	Paths    []string `mapstructure:"paths"`
	Ignore   []string `mapstructure:"ignore"`
	Debounce string   `mapstructure:"debounce"`
}

// ProxyConfig describes one reverse-proxy route.
type ProxyConfig struct {
	Backend  string `mapstructure:"backend"`
	Rewrite  string `mapstructure:"rewrite"`
	WS       bool   `mapstructure:"ws"`
	Insecure bool   `mapstructure:"insecure"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Environment string `mapstructure:"environment"`
}

type Config struct {
	Serve   ServeConfig   `mapstructure:"serve"`
	Build   BuildConfig   `mapstructure:"build"`
	Watch   WatchConfig   `mapstructure:"watch"`
	Proxy   ProxyConfig   `mapstructure:"proxy"`
	Proxies []ProxyConfig `mapstructure:"proxies"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// Load reads configuration. An explicit configFile must exist; otherwise
// devserve.yaml is looked up in ./config and the working directory and may be
// absent. Flags that were set override file and environment values.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("devserve")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindFlags(v, flags); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Debug("config file not found, using defaults, environment and flags")
	} else {
		slog.Debug("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("serve.address", "127.0.0.1")
	v.SetDefault("serve.port", 8080)
	v.SetDefault("serve.open", false)
	v.SetDefault("serve.no_autoreload", false)
	v.SetDefault("serve.tls.cert_path", "")
	v.SetDefault("serve.tls.key_path", "")
	v.SetDefault("serve.health_interval", "5s")
	v.SetDefault("build.dist", "dist")
	v.SetDefault("build.public_url", "/")
	v.SetDefault("build.command", "")
	v.SetDefault("watch.paths", []string{"."})
	v.SetDefault("watch.ignore", []string{})
	v.SetDefault("watch.debounce", "100ms")
	v.SetDefault("proxy.backend", "")
	v.SetDefault("proxy.rewrite", "")
	v.SetDefault("proxy.ws", false)
	v.SetDefault("proxy.insecure", false)
	v.SetDefault("logging.level", LogLevelInfo)
	v.SetDefault("logging.environment", EnvDev)
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	if flags == nil {
		return nil
	}

	for name, key := range FlagKeys {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag %q: %w", name, err)
		}
	}

	return nil
}

// SingleProxy returns the single-entry proxy form when it names a backend.
func (c *Config) SingleProxy() (ProxyConfig, bool) {
	return c.Proxy, c.Proxy.Backend != ""
}

// Scheme is https when TLS material is configured.
func (c *Config) Scheme() string {
	if c.Serve.TLS.Enabled() {
		return "https"
	}
	return "http"
}

// Enabled reports whether TLS material is configured.
func (t TLSConfig) Enabled() bool {
	return t.CertPath != "" && t.KeyPath != ""
}

// HealthEvery parses the probe interval; zero disables probes.
func (s ServeConfig) HealthEvery() time.Duration {
	d, err := time.ParseDuration(s.HealthInterval)
	if err != nil {
		return 0
	}
	return d
}

// DebounceEvery parses the debounce window.
func (w WatchConfig) DebounceEvery() time.Duration {
	d, err := time.ParseDuration(w.Debounce)
	if err != nil {
		return 0
	}
	return d
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Serve),
		validation.Field(&c.Build),
		validation.Field(&c.Watch),
		validation.Field(&c.Proxy,
			validation.When(c.Proxy.Backend != "", validation.By(validateProxyConfig)),
		),
		validation.Field(&c.Proxies, validation.Each(validation.By(validateProxyConfig))),
		validation.Field(&c.Logging,
			validation.Required,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
					validation.Field(&lc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
				)
			}),
		),
	)
}

func (s ServeConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Address, validation.Required, is.Host),
		validation.Field(&s.Port, validation.Min(0), validation.Max(65535)),
		validation.Field(&s.HealthInterval, validation.Required, validation.By(validateDuration)),
		validation.Field(&s.TLS),
	)
}

func (t TLSConfig) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.CertPath,
			validation.When(t.KeyPath != "", validation.Required.Error("is required when key_path is set")),
		),
		validation.Field(&t.KeyPath,
			validation.When(t.CertPath != "", validation.Required.Error("is required when cert_path is set")),
		),
	)
}

func (b BuildConfig) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.Dist, validation.Required),
		validation.Field(&b.PublicURL,
			validation.Required,
			validation.Match(absolutePath).Error("must start with /"),
		),
	)
}

func (w WatchConfig) Validate() error {
	return validation.ValidateStruct(&w,
		validation.Field(&w.Paths, validation.Each(validation.Required)),
		validation.Field(&w.Debounce, validation.Required, validation.By(validateDuration)),
	)
}

func validateProxyConfig(value interface{}) error {
	p, ok := value.(ProxyConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a ProxyConfig")
	}

	return validation.ValidateStruct(&p,
		validation.Field(&p.Backend, validation.Required, validation.By(validateBackendURL)),
		validation.Field(&p.Rewrite, validation.Match(absolutePath).Error("must start with /")),
	)
}

func validateDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if _, err := time.ParseDuration(durationStr); err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 100ms, 5s)")
	}

	return nil
}

func validateBackendURL(value interface{}) error {
	backendURL, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if backendURL == "" {
		return validation.NewError("validation_empty_url", "backend URL cannot be empty")
	}

	parsedURL, err := url.Parse(backendURL)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	switch parsedURL.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme (ws or wss for websockets)")
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	return nil
}
