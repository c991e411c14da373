package config

import (
	"errors"
	"net"
	"os"
	"time"

	pkgerrors "github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	StorageEngineBadger = "badger"
	StorageEngineBolt   = "bolt"

	OracleKindFS   = "fs"
	OracleKindHTTP = "http"

	LogFormatJSON   = "json"
	LogFormatText   = "text"
	LogFormatPretty = "pretty"
)

type TLS struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

type Logging struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text, pretty
}

type Storage struct {
	Engine         string `yaml:"engine"`
	InMemory       bool   `yaml:"inMemory"` // badger only, nothing survives a restart
	BadgerLogLevel string `yaml:"badgerLogLevel"`
}

type Replication struct {
	DefaultReplicas int `yaml:"defaultReplicas"`
	Shards          int `yaml:"shards"` // fixed for the lifetime of a data directory
}

type Oracle struct {
	Kind       string        `yaml:"kind"`
	BlobDir    string        `yaml:"blobDir,omitempty"`
	URL        string        `yaml:"url,omitempty"`
	Timeout    time.Duration `yaml:"timeout,omitempty"`
	HintHeader string        `yaml:"hintHeader,omitempty"`
}

type RateLimiterConfig struct {
	Limit float64 `yaml:"limit"` // Requests per second
	Burst int     `yaml:"burst"` // Burst size
}

type RateLimiters struct {
	Nodes  RateLimiterConfig `yaml:"nodes"`
	Files  RateLimiterConfig `yaml:"files"`
	System RateLimiterConfig `yaml:"system"`
}

type Fleet struct {
	InstanceID     string       `yaml:"instanceId"`
	HttpBinding    string       `yaml:"httpBinding"`
	DataDir        string       `yaml:"dataDir"`
	InstanceSecret string       `yaml:"instanceSecret"` // when set, clients must present the derived bearer token
	TLS            TLS          `yaml:"tls"`
	Logging        Logging      `yaml:"logging"`
	Storage        Storage      `yaml:"storage"`
	Replication    Replication  `yaml:"replication"`
	Oracle         Oracle       `yaml:"oracle"`
	RateLimiters   RateLimiters `yaml:"rateLimiters"`

	// TrustedProxies are peer IPs whose X-Forwarded-For header picks the
	// rate limit bucket.
	TrustedProxies []string `yaml:"trustedProxies,omitempty"`
}

var (
	ErrConfigFileUnreadable           = errors.New("config file is unreadable")
	ErrConfigFileUnmarshallable       = errors.New("config file is unmarshallable")
	ErrInstanceIDMissing              = errors.New("instanceId is missing in config")
	ErrHttpBindingMissing             = errors.New("httpBinding is missing in config")
	ErrDataDirMissing                 = errors.New("dataDir is missing in config and is required unless storage.inMemory is set")
	ErrTLSMissing                     = errors.New("TLS configuration incomplete: both cert and key must be provided if one is specified")
	ErrStorageEngineUnknown           = errors.New("storage.engine must be badger or bolt")
	ErrInMemoryRequiresBadger         = errors.New("storage.inMemory is only supported by the badger engine")
	ErrDefaultReplicasInvalid         = errors.New("replication.defaultReplicas must be at least 1")
	ErrShardsInvalid                  = errors.New("replication.shards must be at least 1")
	ErrOracleKindUnknown              = errors.New("oracle.kind must be fs or http")
	ErrOracleBlobDirMissing           = errors.New("oracle.blobDir is required for the fs oracle")
	ErrOracleURLMissing               = errors.New("oracle.url is required for the http oracle")
	ErrLogFormatUnknown               = errors.New("logging.format must be json, text or pretty")
	ErrRateLimitersNodesLimitMissing  = errors.New("rateLimiters.nodes.limit is missing in config")
	ErrRateLimitersFilesLimitMissing  = errors.New("rateLimiters.files.limit is missing in config")
	ErrRateLimitersSystemLimitMissing = errors.New("rateLimiters.system.limit is missing in config")
	ErrRateLimitersBurstInvalid       = errors.New("rateLimiters burst must be at least 1")
	ErrTrustedProxyInvalid            = errors.New("trustedProxies entries must be IP addresses")
)

func LoadConfig(configFile string) (*Fleet, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, pkgerrors.Wrap(ErrConfigFileUnreadable, err.Error())
	}

	var cfg Fleet
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, pkgerrors.Wrap(ErrConfigFileUnmarshallable, err.Error())
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills optional fields that older config files may not carry.
func applyDefaults(cfg *Fleet) {
	if cfg.Storage.Engine == "" {
		cfg.Storage.Engine = StorageEngineBadger
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = LogFormatJSON
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Replication.Shards == 0 {
		cfg.Replication.Shards = 1
	}
	if cfg.Replication.DefaultReplicas == 0 {
		cfg.Replication.DefaultReplicas = 2
	}
	if cfg.Oracle.Kind == "" {
		cfg.Oracle.Kind = OracleKindFS
	}
}

func (cfg *Fleet) Validate() error {
	if cfg.InstanceID == "" {
		return ErrInstanceIDMissing
	}
	if cfg.HttpBinding == "" {
		return ErrHttpBindingMissing
	}

	switch cfg.Storage.Engine {
	case StorageEngineBadger, StorageEngineBolt:
	default:
		return ErrStorageEngineUnknown
	}
	if cfg.Storage.InMemory && cfg.Storage.Engine != StorageEngineBadger {
		return ErrInMemoryRequiresBadger
	}
	if cfg.DataDir == "" && !cfg.Storage.InMemory {
		return ErrDataDirMissing
	}

	if cfg.TLS.Cert != "" && cfg.TLS.Key == "" ||
		cfg.TLS.Cert == "" && cfg.TLS.Key != "" {
		return ErrTLSMissing
	}

	switch cfg.Logging.Format {
	case LogFormatJSON, LogFormatText, LogFormatPretty:
	default:
		return ErrLogFormatUnknown
	}

	if cfg.Replication.DefaultReplicas < 1 {
		return ErrDefaultReplicasInvalid
	}
	if cfg.Replication.Shards < 1 {
		return ErrShardsInvalid
	}

	switch cfg.Oracle.Kind {
	case OracleKindFS:
		if cfg.Oracle.BlobDir == "" {
			return ErrOracleBlobDirMissing
		}
	case OracleKindHTTP:
		if cfg.Oracle.URL == "" {
			return ErrOracleURLMissing
		}
	default:
		return ErrOracleKindUnknown
	}

	if cfg.RateLimiters.Nodes.Limit == 0 {
		return ErrRateLimitersNodesLimitMissing
	}
	if cfg.RateLimiters.Files.Limit == 0 {
		return ErrRateLimitersFilesLimitMissing
	}
	if cfg.RateLimiters.System.Limit == 0 {
		return ErrRateLimitersSystemLimitMissing
	}
	for _, rl := range []RateLimiterConfig{cfg.RateLimiters.Nodes, cfg.RateLimiters.Files, cfg.RateLimiters.System} {
		if rl.Burst < 1 {
			return ErrRateLimitersBurstInvalid
		}
	}
	for _, proxy := range cfg.TrustedProxies {
		if net.ParseIP(proxy) == nil {
			return ErrTrustedProxyInvalid
		}
	}
	return nil
}

// GenerateConfig returns a single-instance config with working defaults. The
// runtime writes it out for --new-cfg.
func GenerateConfig() *Fleet {
	return &Fleet{
		InstanceID:     "fleet0",
		HttpBinding:    "127.0.0.1:7400",
		DataDir:        "data/fleet",
		InstanceSecret: "please_change_this_secret_in_production_!!!",
		Logging: Logging{
			Level:  "info",
			Format: LogFormatJSON,
		},
		Storage: Storage{
			Engine:         StorageEngineBadger,
			BadgerLogLevel: "error",
		},
		Replication: Replication{
			DefaultReplicas: 2,
			Shards:          4,
		},
		Oracle: Oracle{
			Kind:    OracleKindFS,
			BlobDir: "data/blobs",
			Timeout: 5 * time.Second,
		},
		RateLimiters: RateLimiters{
			Nodes:  RateLimiterConfig{Limit: 100.0, Burst: 200},
			Files:  RateLimiterConfig{Limit: 200.0, Burst: 400},
			System: RateLimiterConfig{Limit: 50.0, Burst: 100},
		},
	}
}
