package config

import (
	"os"
	"time"

	"github.com/go-yaml/yaml"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/pkg/errors"

	"github.com/totegamma/domainbay/internal/domain"
)

type Config struct {
	API    API    `yaml:"api"`
	Cache  Cache  `yaml:"cache"`
	Server Server `yaml:"server"`
	Log    Log    `yaml:"log"`
}

type API struct {
	GraphQLEndpoint   string        `yaml:"graphqlEndpoint" env:"DOMAINBAY_GRAPHQL_ENDPOINT"`
	MessagingEndpoint string        `yaml:"messagingEndpoint" env:"DOMAINBAY_MESSAGING_ENDPOINT"`
	RealtimeURL       string        `yaml:"realtimeURL" env:"DOMAINBAY_REALTIME_URL"` // ws(s):// for websocket, empty for redis
	WatchlistEndpoint string        `yaml:"watchlistEndpoint" env:"DOMAINBAY_WATCHLIST_ENDPOINT"`
	UserAgent         string        `yaml:"userAgent" env:"DOMAINBAY_USER_AGENT" env-default:"domainbay"`
	Timeout           time.Duration `yaml:"timeout" env:"DOMAINBAY_API_TIMEOUT" env-default:"15s"`
}

type Cache struct {
	StaleAfter    time.Duration `yaml:"staleAfter" env:"DOMAINBAY_STALE_AFTER"`
	LookupTimeout time.Duration `yaml:"lookupTimeout" env:"DOMAINBAY_LOOKUP_TIMEOUT" env-default:"10s"`
	TypingTimeout time.Duration `yaml:"typingTimeout" env:"DOMAINBAY_TYPING_TIMEOUT" env-default:"5s"`
	RecordTTL     time.Duration `yaml:"recordTTL" env:"DOMAINBAY_RECORD_TTL" env-default:"24h"`
}

type Server struct {
	Listen        string `yaml:"listen" env:"DOMAINBAY_LISTEN" env-default:":8000"`
	Environment   string `yaml:"environment" env:"DOMAINBAY_ENV"`
	PostgresDsn   string `yaml:"postgresDsn" env:"DOMAINBAY_POSTGRES_DSN"`
	RedisAddr     string `yaml:"redisAddr" env:"DOMAINBAY_REDIS_ADDR"`
	RedisPassword string `yaml:"redisPassword" env:"DOMAINBAY_REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redisDB" env:"DOMAINBAY_REDIS_DB"`
	MemcachedAddr string `yaml:"memcachedAddr" env:"DOMAINBAY_MEMCACHED_ADDR"`
	EnableTrace   bool   `yaml:"enableTrace" env:"DOMAINBAY_ENABLE_TRACE"`
	TraceEndpoint string `yaml:"traceEndpoint" env:"DOMAINBAY_TRACE_ENDPOINT"`
}

type Log struct {
	Level  string `yaml:"level" env:"DOMAINBAY_LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"DOMAINBAY_LOG_FORMAT" env-default:"json"` // json or text
}

// Load reads the YAML file at path, then applies environment overrides and
// defaults. An empty path configures from the environment alone.
func Load(path string) (Config, error) {
	var config Config

	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return Config{}, errors.Wrap(err, "open config")
		}
		defer file.Close()

		err = yaml.NewDecoder(file).Decode(&config)
		if err != nil {
			return Config{}, errors.Wrap(err, "decode config")
		}
	}

	// environment wins over the file; defaults only fill what is still zero
	if err := cleanenv.ReadEnv(&config); err != nil {
		return Config{}, errors.Wrap(err, "read environment")
	}

	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c Config) Validate() error {
	if c.API.GraphQLEndpoint == "" {
		return domain.ValidationError{Field: "api.graphqlEndpoint", Message: "required"}
	}
	if c.API.Timeout < 0 || c.Cache.StaleAfter < 0 || c.Cache.LookupTimeout < 0 || c.Cache.TypingTimeout < 0 {
		return domain.ValidationError{Field: "timeouts", Message: "must not be negative"}
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return domain.ValidationError{Field: "log.format", Message: "must be json or text"}
	}
	if c.Server.EnableTrace && c.Server.TraceEndpoint == "" {
		return domain.ValidationError{Field: "server.traceEndpoint", Message: "required when tracing is enabled"}
	}
	return nil
}

func (c Config) Runtime(version string) domain.Runtime {
	return domain.Runtime{
		Environment: domain.ParseEnvironment(c.Server.Environment),
		Version:     version,
	}
}
