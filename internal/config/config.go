package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Environment   string `mapstructure:"environment"`
	DevModeBypass bool   `mapstructure:"dev_mode_bypass"`
	Log           struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
	DB struct {
		Driver   string `mapstructure:"driver"` // postgres or memory
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`
	Auth struct {
		OktaDomain      string `mapstructure:"okta_domain"`
		ClientID        string `mapstructure:"client_id"`
		ClientSecret    string `mapstructure:"client_secret"`
		RedirectURL     string `mapstructure:"redirect_url"`
		SwaggerClientID string `mapstructure:"swagger_client_id"`
	} `mapstructure:"auth"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
	Server struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"server"`
	Signing struct {
		LinkBaseURL string        `mapstructure:"link_base_url"`
		TokenTTL    time.Duration `mapstructure:"token_ttl"`
	} `mapstructure:"signing"`
	Reminders struct {
		ExpirySweep time.Duration `mapstructure:"expiry_sweep"`
	} `mapstructure:"reminders"`
	Queue struct {
		Workers int `mapstructure:"workers"`
		Buffer  int `mapstructure:"buffer"`
	} `mapstructure:"queue"`
	Notifier struct {
		Driver        string  `mapstructure:"driver"` // http or log
		URL           string  `mapstructure:"url"`
		RatePerSecond float64 `mapstructure:"rate_per_second"`
		Burst         int     `mapstructure:"burst"`
	} `mapstructure:"notifier"`
	Storage struct {
		Root string `mapstructure:"root"`
	} `mapstructure:"storage"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "PROD")
	v.SetDefault("dev_mode_bypass", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "signflow")
	v.SetDefault("db.sslmode", "disable")
	for _, key := range []string{"okta_domain", "client_id", "client_secret", "redirect_url", "swagger_client_id"} {
		v.SetDefault("auth."+key, "")
	}
	v.SetDefault("tls.enable", false)
	v.SetDefault("tls.cert_file", "")
	v.SetDefault("tls.key_file", "")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("signing.link_base_url", "http://localhost:8080/sign")
	v.SetDefault("signing.token_ttl", 60*time.Minute)
	v.SetDefault("reminders.expiry_sweep", time.Hour)
	v.SetDefault("queue.workers", 4)
	v.SetDefault("queue.buffer", 256)
	v.SetDefault("notifier.driver", "log")
	v.SetDefault("notifier.url", "")
	v.SetDefault("notifier.rate_per_second", 5.0)
	v.SetDefault("notifier.burst", 10)
	v.SetDefault("storage.root", "./data/files")
}

// LoadConfig loads the configuration from a file and the environment. When
// configFile is empty, config.yaml is searched in . and ./config; a missing
// file is not an error because every setting has a default or an env override.
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SIGNFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configFile != "" {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// normalize OKTA issuer url (strip trailing slash if any)
	config.Auth.OktaDomain = normalizeOktaIssuer(config.Auth.OktaDomain)
	config.Signing.LinkBaseURL = strings.TrimRight(strings.TrimSpace(config.Signing.LinkBaseURL), "/")

	return &config, nil
}

// normalizeOktaIssuer ensures the provided Okta issuer string is in a
// predictable form. It removes any trailing slash and leaves the scheme and
// path intact.
func normalizeOktaIssuer(input string) string {
	return strings.TrimRight(strings.TrimSpace(input), "/")
}
