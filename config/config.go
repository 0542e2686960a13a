package config

import (
	"database/sql"
	_ "github.com/lib/pq"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/viper"
	"strings"
	"time"
)

type Config struct {
	MinIOBucket string        `yaml:"minio_bucket"`
	SQLitePath  string        `yaml:"sqlite_path"`
	App         App           `yaml:"app"`
	DB          *sql.DB       `yaml:"db"`
	Queue       *RabbitMQ     `yaml:"rabbitmq"`
	Storage     *minio.Client `yaml:"storage"`
	Server      Server        `yaml:"server"`
	Provider    Provider      `yaml:"provider"`
	Pipeline    Pipeline      `yaml:"pipeline"`
}

type App struct {
	Environment string `yaml:"environment"`
	Host        string `yaml:"host"`
	Protocol    string `yaml:"protocol"`
}

type Server struct {
	HttpPort       string   `yaml:"http_port"`
	Workers        int      `yaml:"workers"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type RabbitMQ struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Pass         string `json:"pass"`
	ExchangeName string `json:"exchange_name"`
	Kind         string `json:"kind"`
}

// Provider configures the speech-to-text endpoint.
type Provider struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Prompt  string        `yaml:"prompt"`
	Timeout time.Duration `yaml:"timeout"`
}

// Pipeline holds chunking, retry and merge tuning.
type Pipeline struct {
	ChunkDuration    time.Duration `yaml:"chunk_duration"`
	OverlapDuration  time.Duration `yaml:"overlap_duration"`
	MaxRetries       int           `yaml:"max_retries"`
	BackoffBase      time.Duration `yaml:"backoff_base"`
	BackoffFactor    float64       `yaml:"backoff_factor"`
	BackoffCap       time.Duration `yaml:"backoff_cap"`
	BackoffJitter    float64       `yaml:"backoff_jitter"`
	FailureThreshold float64       `yaml:"failure_threshold"`
	MergeTimeout     time.Duration `yaml:"merge_timeout"`
	MergeRetryAfter  time.Duration `yaml:"merge_retry_after"`
	CancelGrace      time.Duration `yaml:"cancel_grace"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	MaxAssetBytes    int64         `yaml:"max_asset_bytes"`
	TempDir          string        `yaml:"temp_dir"`
}

// DefaultPipeline returns the tuning used when config.yaml leaves a key unset.
func DefaultPipeline() Pipeline {
	return Pipeline{
		ChunkDuration:    60 * time.Second,
		OverlapDuration:  2 * time.Second,
		MaxRetries:       3,
		BackoffBase:      4 * time.Second,
		BackoffFactor:    2,
		BackoffCap:       60 * time.Second,
		BackoffJitter:    0.2,
		FailureThreshold: 0.2,
		MergeTimeout:     2 * time.Hour,
		MergeRetryAfter:  10 * time.Minute,
		CancelGrace:      2 * time.Minute,
		SweepInterval:    30 * time.Second,
		MaxAssetBytes:    512 << 20,
	}
}

func setDefaults(v *viper.Viper) {
	d := DefaultPipeline()
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.workers", 4)
	v.SetDefault("rabbitmq_kind", "direct")
	v.SetDefault("provider.base_url", "https://api.openai.com/v1")
	v.SetDefault("provider.model", "whisper-1")
	v.SetDefault("provider.timeout", 45*time.Second)
	v.SetDefault("pipeline.chunk_duration", d.ChunkDuration)
	v.SetDefault("pipeline.overlap_duration", d.OverlapDuration)
	v.SetDefault("pipeline.max_retries", d.MaxRetries)
	v.SetDefault("pipeline.backoff_base", d.BackoffBase)
	v.SetDefault("pipeline.backoff_factor", d.BackoffFactor)
	v.SetDefault("pipeline.backoff_cap", d.BackoffCap)
	v.SetDefault("pipeline.backoff_jitter", d.BackoffJitter)
	v.SetDefault("pipeline.failure_threshold", d.FailureThreshold)
	v.SetDefault("pipeline.merge_timeout", d.MergeTimeout)
	v.SetDefault("pipeline.merge_retry_after", d.MergeRetryAfter)
	v.SetDefault("pipeline.cancel_grace", d.CancelGrace)
	v.SetDefault("pipeline.sweep_interval", d.SweepInterval)
	v.SetDefault("pipeline.max_asset_bytes", d.MaxAssetBytes)
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvPrefix("transcribe")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	err := v.ReadInConfig()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", v.GetString("postgresql_host"))
	if err != nil {
		return nil, err
	}

	rabbitmq := &RabbitMQ{
		Host:         v.GetString("rabbitmq_host"),
		Port:         v.GetInt("rabbitmq_port"),
		User:         v.GetString("rabbitmq_user"),
		Pass:         v.GetString("rabbitmq_pass"),
		ExchangeName: v.GetString("rabbitmq_exchange"),
		Kind:         v.GetString("rabbitmq_kind"),
	}

	minioClient, err := minio.New(v.GetString("minio.url"), &minio.Options{
		Creds:  credentials.NewStaticV4(v.GetString("minio.access_id"), v.GetString("minio.secret_access_key"), ""),
		Secure: v.GetBool("minio.secure"),
	})
	if err != nil {
		return nil, err
	}

	return &Config{
		MinIOBucket: v.GetString("minio.bucket"),
		SQLitePath:  v.GetString("sqlite_path"),
		App: App{
			Environment: v.GetString("app.environment"),
			Host:        v.GetString("app.host"),
			Protocol:    v.GetString("app.protocol"),
		},
		Server: Server{
			HttpPort:       v.GetString("server.port"),
			Workers:        v.GetInt("server.workers"),
			AllowedOrigins: v.GetStringSlice("server.allowed_origins"),
		},
		Provider: Provider{
			BaseURL: v.GetString("provider.base_url"),
			APIKey:  v.GetString("provider.api_key"),
			Model:   v.GetString("provider.model"),
			Prompt:  v.GetString("provider.prompt"),
			Timeout: v.GetDuration("provider.timeout"),
		},
		Pipeline: Pipeline{
			ChunkDuration:    v.GetDuration("pipeline.chunk_duration"),
			OverlapDuration:  v.GetDuration("pipeline.overlap_duration"),
			MaxRetries:       v.GetInt("pipeline.max_retries"),
			BackoffBase:      v.GetDuration("pipeline.backoff_base"),
			BackoffFactor:    v.GetFloat64("pipeline.backoff_factor"),
			BackoffCap:       v.GetDuration("pipeline.backoff_cap"),
			BackoffJitter:    v.GetFloat64("pipeline.backoff_jitter"),
			FailureThreshold: v.GetFloat64("pipeline.failure_threshold"),
			MergeTimeout:     v.GetDuration("pipeline.merge_timeout"),
			MergeRetryAfter:  v.GetDuration("pipeline.merge_retry_after"),
			CancelGrace:      v.GetDuration("pipeline.cancel_grace"),
			SweepInterval:    v.GetDuration("pipeline.sweep_interval"),
			MaxAssetBytes:    v.GetInt64("pipeline.max_asset_bytes"),
			TempDir:          v.GetString("pipeline.temp_dir"),
		},
		DB:      db,
		Queue:   rabbitmq,
		Storage: minioClient,
	}, nil
}
