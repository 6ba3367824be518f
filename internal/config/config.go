package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for devenv.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Bootstrap BootstrapConfig `mapstructure:"bootstrap"`
	Tests     TestsConfig     `mapstructure:"tests"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure"`
	ServiceName  string `mapstructure:"service_name"`
	LogLevel     string `mapstructure:"log_level"`
}

// BootstrapConfig drives the setup sequence. WorkDir is the backend checkout;
// relative paths elsewhere in the tree are resolved against it.
type BootstrapConfig struct {
	WorkDir     string            `mapstructure:"work_dir"`
	Timeout     time.Duration     `mapstructure:"timeout"`
	Environment EnvironmentConfig `mapstructure:"environment"`
	Runtime     RuntimeConfig     `mapstructure:"runtime"`
	Provisioner ProvisionerConfig `mapstructure:"provisioner"`
	Readiness   ReadinessConfig   `mapstructure:"readiness"`
	Postgres    PostgresConfig    `mapstructure:"postgres"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Migrate     MigrateConfig     `mapstructure:"migrate"`
	Smoke       SmokeConfig       `mapstructure:"smoke"`
}

type EnvironmentConfig struct {
	Template string   `mapstructure:"template"`
	Target   string   `mapstructure:"target"`
	Dirs     []string `mapstructure:"dirs"`
}

type RuntimeConfig struct {
	Interpreter string `mapstructure:"interpreter"`
	MinVersion  string `mapstructure:"min_version"`
	VenvDir     string `mapstructure:"venv_dir"`
	Manifest    string `mapstructure:"manifest"`
}

type ProvisionerConfig struct {
	// Driver is "compose" or "containers".
	Driver      string `mapstructure:"driver"`
	ComposeFile string `mapstructure:"compose_file"`
	Project     string `mapstructure:"project"`
}

type ReadinessConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	Parallel       bool          `mapstructure:"parallel"`
	BreakerTimeout time.Duration `mapstructure:"breaker_timeout"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DB       string `mapstructure:"db"`
	SSLMode  string `mapstructure:"ssl_mode"`
	MaxConns int32  `mapstructure:"max_conns"`
	Image    string `mapstructure:"image"`
	Service  string `mapstructure:"service"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Image    string `mapstructure:"image"`
	Service  string `mapstructure:"service"`
}

type MigrateConfig struct {
	// Driver is "alembic" or "sql".
	Driver  string `mapstructure:"driver"`
	Message string `mapstructure:"message"`
	Dir     string `mapstructure:"dir"`
}

type SmokeConfig struct {
	Command        []string      `mapstructure:"command"`
	BaseURL        string        `mapstructure:"base_url"`
	HealthPath     string        `mapstructure:"health_path"`
	HealthMarker   string        `mapstructure:"health_marker"`
	HealthAttempts int           `mapstructure:"health_attempts"`
	HealthInterval time.Duration `mapstructure:"health_interval"`
	Register       bool          `mapstructure:"register"`
	RegisterPath   string        `mapstructure:"register_path"`
	SuccessMarker  string        `mapstructure:"success_marker"`
	UniqueUser     bool          `mapstructure:"unique_user"`
	SettleDelay    time.Duration `mapstructure:"settle_delay"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	StopTimeout    time.Duration `mapstructure:"stop_timeout"`
}

type TestsConfig struct {
	Module   string `mapstructure:"module"`
	Coverage string `mapstructure:"coverage"`
	// Database is created on the provisioned Postgres server before pytest runs.
	Database  string `mapstructure:"database"`
	FailUnder int    `mapstructure:"fail_under"`
}

// Load reads config from the optional YAML file at path, then overlays
// environment variables with the DEVENV_ prefix
// (e.g. DEVENV_BOOTSTRAP_READINESS_MAX_ATTEMPTS).
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("DEVENV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	r := c.Bootstrap.Readiness
	if r.MaxAttempts < 1 {
		return fmt.Errorf("bootstrap.readiness.max_attempts must be at least 1, got %d", r.MaxAttempts)
	}
	if r.Interval < 0 {
		return fmt.Errorf("bootstrap.readiness.interval must not be negative")
	}
	// An open breaker must half-open before the next poll, otherwise attempts
	// are spent without probing.
	if r.BreakerTimeout > r.Interval {
		return fmt.Errorf("bootstrap.readiness.breaker_timeout (%s) must not exceed interval (%s)", r.BreakerTimeout, r.Interval)
	}
	switch c.Bootstrap.Provisioner.Driver {
	case "compose", "containers":
	default:
		return fmt.Errorf("unknown provisioner driver %q", c.Bootstrap.Provisioner.Driver)
	}
	switch c.Bootstrap.Migrate.Driver {
	case "alembic", "sql":
	default:
		return fmt.Errorf("unknown migrate driver %q", c.Bootstrap.Migrate.Driver)
	}
	if len(c.Bootstrap.Smoke.Command) == 0 {
		return fmt.Errorf("bootstrap.smoke.command must not be empty")
	}
	if c.Tests.FailUnder < 0 || c.Tests.FailUnder > 100 {
		return fmt.Errorf("tests.fail_under must be between 0 and 100, got %d", c.Tests.FailUnder)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8081)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.otlp_insecure", true)
	v.SetDefault("telemetry.service_name", "studysprint-devenv")
	v.SetDefault("telemetry.log_level", "info")

	v.SetDefault("bootstrap.work_dir", "backend")
	v.SetDefault("bootstrap.timeout", 15*time.Minute)

	v.SetDefault("bootstrap.environment.template", ".env.example")
	v.SetDefault("bootstrap.environment.target", ".env")
	v.SetDefault("bootstrap.environment.dirs", []string{"uploads"})

	v.SetDefault("bootstrap.runtime.interpreter", "python3")
	v.SetDefault("bootstrap.runtime.min_version", "3.11")
	v.SetDefault("bootstrap.runtime.venv_dir", "venv")
	v.SetDefault("bootstrap.runtime.manifest", "requirements.txt")

	v.SetDefault("bootstrap.provisioner.driver", "compose")
	v.SetDefault("bootstrap.provisioner.compose_file", "docker-compose.yml")
	v.SetDefault("bootstrap.provisioner.project", "studysprint")

	v.SetDefault("bootstrap.readiness.interval", 2*time.Second)
	v.SetDefault("bootstrap.readiness.max_attempts", 30)
	v.SetDefault("bootstrap.readiness.parallel", false)
	v.SetDefault("bootstrap.readiness.breaker_timeout", 2*time.Second)

	v.SetDefault("bootstrap.postgres.host", "localhost")
	v.SetDefault("bootstrap.postgres.port", 5432)
	v.SetDefault("bootstrap.postgres.user", "studysprint")
	v.SetDefault("bootstrap.postgres.password", "studysprint")
	v.SetDefault("bootstrap.postgres.db", "studysprint3")
	v.SetDefault("bootstrap.postgres.ssl_mode", "disable")
	v.SetDefault("bootstrap.postgres.max_conns", 4)
	v.SetDefault("bootstrap.postgres.image", "postgres:15-alpine")
	v.SetDefault("bootstrap.postgres.service", "postgres")

	v.SetDefault("bootstrap.redis.host", "localhost")
	v.SetDefault("bootstrap.redis.port", 6379)
	v.SetDefault("bootstrap.redis.db", 0)
	v.SetDefault("bootstrap.redis.image", "redis:7-alpine")
	v.SetDefault("bootstrap.redis.service", "redis")

	v.SetDefault("bootstrap.migrate.driver", "alembic")
	v.SetDefault("bootstrap.migrate.message", "devenv bootstrap")
	v.SetDefault("bootstrap.migrate.dir", "migrations")

	v.SetDefault("bootstrap.smoke.command", []string{"uvicorn", "main:app", "--host", "127.0.0.1", "--port", "8000"})
	v.SetDefault("bootstrap.smoke.base_url", "http://127.0.0.1:8000")
	v.SetDefault("bootstrap.smoke.health_path", "/api/health")
	v.SetDefault("bootstrap.smoke.health_marker", "healthy")
	v.SetDefault("bootstrap.smoke.health_attempts", 5)
	v.SetDefault("bootstrap.smoke.health_interval", time.Second)
	v.SetDefault("bootstrap.smoke.register", true)
	v.SetDefault("bootstrap.smoke.register_path", "/api/v1/auth/register")
	v.SetDefault("bootstrap.smoke.success_marker", "success")
	v.SetDefault("bootstrap.smoke.unique_user", false)
	v.SetDefault("bootstrap.smoke.settle_delay", 5*time.Second)
	v.SetDefault("bootstrap.smoke.request_timeout", 10*time.Second)
	v.SetDefault("bootstrap.smoke.stop_timeout", 5*time.Second)

	v.SetDefault("tests.module", "modules/users/tests/")
	v.SetDefault("tests.coverage", "modules.users")
	v.SetDefault("tests.database", "studysprint3_test")
	v.SetDefault("tests.fail_under", 90)
}
