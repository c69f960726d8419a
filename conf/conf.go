// Package conf loads the service configuration from an optional YAML file and
// AGENTPAY_* environment variables, on top of built-in defaults.
package conf

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"
	"go.uber.org/fx"

	"github.com/looplj/agentpay/internal/chain"
	"github.com/looplj/agentpay/internal/log"
	"github.com/looplj/agentpay/internal/metrics"
	"github.com/looplj/agentpay/internal/pkg/keylock"
	"github.com/looplj/agentpay/internal/pkg/xtime"
	"github.com/looplj/agentpay/internal/server"
	"github.com/looplj/agentpay/internal/server/biz"
	"github.com/looplj/agentpay/internal/server/db"
	"github.com/looplj/agentpay/internal/server/reconcile"
)

const envPrefix = "AGENTPAY"

// Config is the whole configuration. As an fx.Out it hands each section to the
// component that consumes it.
type Config struct {
	fx.Out `yaml:"-" json:"-"`

	APIServer   server.Config         `conf:"server" yaml:"server" json:"server"`
	Log         log.Config            `conf:"log" yaml:"log" json:"log"`
	DB          db.Config             `conf:"db" yaml:"db" json:"db"`
	Metrics     metrics.Config        `conf:"metrics" yaml:"metrics" json:"metrics"`
	Lock        keylock.Config        `conf:"lock" yaml:"lock" json:"lock"`
	Chain       chain.Config          `conf:"chain" yaml:"chain" json:"chain"`
	Auth        biz.AuthConfig        `conf:"auth" yaml:"auth" json:"auth"`
	Grant       biz.GrantConfig       `conf:"grant" yaml:"grant" json:"grant"`
	Ledger      biz.LedgerConfig      `conf:"ledger" yaml:"ledger" json:"ledger"`
	Signer      biz.SignerConfig      `conf:"signer" yaml:"signer" json:"signer"`
	Coordinator biz.CoordinatorConfig `conf:"coordinator" yaml:"coordinator" json:"coordinator"`
	Reconcile   reconcile.Config      `conf:"reconcile" yaml:"reconcile" json:"reconcile"`
}

// Load reads the configuration. The file is AGENTPAY_CONFIG when set, otherwise the first
// config.yml found in ., ./conf or /etc/agentpay; no file at all is fine.
func Load() (Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv(envPrefix + "_CONFIG"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yml")
		v.AddConfigPath(".")
		v.AddConfigPath("./conf")
		v.AddConfigPath("/etc/agentpay")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config

	err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "conf"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	})
	if err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

// Validate reports every problem at once; the server refuses to start on any of them.
func (c Config) Validate() error {
	var result *multierror.Error

	if c.APIServer.Port <= 0 || c.APIServer.Port > 65535 {
		result = multierror.Append(result, errors.New("server.port must be between 1 and 65535"))
	}

	if c.APIServer.CORS.Enabled && len(c.APIServer.CORS.AllowedOrigins) == 0 {
		result = multierror.Append(result, errors.New("server.cors.allowed_origins cannot be empty when CORS is enabled"))
	}

	if c.DB.DSN == "" {
		result = multierror.Append(result, errors.New("db.dsn cannot be empty"))
	}

	if c.Log.Name == "" {
		result = multierror.Append(result, errors.New("log.name cannot be empty"))
	}

	if c.Auth.JWTSecret == "" {
		result = multierror.Append(result, errors.New("auth.jwt_secret cannot be empty"))
	}

	if c.Chain.RPCURL == "" {
		result = multierror.Append(result, errors.New("chain.rpc_url cannot be empty"))
	}

	switch c.Lock.Mode {
	case "", keylock.ModeMemory:
	case keylock.ModeRedis:
		if !c.Lock.Redis.Enabled() {
			result = multierror.Append(result, errors.New("lock.redis must be configured in redis mode"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("lock.mode %q is not memory or redis", c.Lock.Mode))
	}

	if _, err := xtime.LoadLocation(c.Ledger.Timezone); err != nil {
		result = multierror.Append(result, fmt.Errorf("ledger.timezone: %w", err))
	}

	if c.Grant.MaxExpiryDays < 0 {
		result = multierror.Append(result, errors.New("grant.max_expiry_days cannot be negative"))
	}

	if c.Reconcile.StaleAfter > 0 && c.Reconcile.StaleAfter < c.Reconcile.MinAge {
		result = multierror.Append(result, errors.New("reconcile.stale_after must not be shorter than reconcile.min_age"))
	}

	return result.ErrorOrNil()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.name", "agentpay")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.execute_timeout", 2*time.Minute)
	v.SetDefault("server.trace.trace_header", "AP-Trace-Id")
	v.SetDefault("server.debug", false)
	v.SetDefault("server.cors.enabled", false)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("server.cors.allowed_methods", []string{"GET", "POST", "PUT", "OPTIONS"})
	v.SetDefault("server.cors.allowed_headers", []string{"Content-Type", "Authorization", "AP-Trace-Id"})
	v.SetDefault("server.cors.exposed_headers", []string{"AP-Trace-Id", "AP-Request-Id"})
	v.SetDefault("server.cors.allow_credentials", false)
	v.SetDefault("server.cors.max_age", 12*time.Hour)

	v.SetDefault("log.name", "agentpay")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
	v.SetDefault("log.output", "stdio")
	v.SetDefault("log.debug", false)
	v.SetDefault("log.file.path", "logs/agentpay.log")
	v.SetDefault("log.file.max_size", 100)
	v.SetDefault("log.file.max_age", 30)
	v.SetDefault("log.file.max_backups", 10)
	v.SetDefault("log.file.local_time", false)

	v.SetDefault("db.dialect", "sqlite")
	v.SetDefault("db.dsn", "file:agentpay.db?_fk=1&_busy_timeout=5000")
	v.SetDefault("db.debug", false)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", time.Hour)
	v.SetDefault("db.slow_threshold", 500*time.Millisecond)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.service_name", "agentpay")
	v.SetDefault("metrics.exporter.type", "stdout")
	v.SetDefault("metrics.exporter.endpoint", "")
	v.SetDefault("metrics.exporter.insecure", false)
	v.SetDefault("metrics.interval", 30*time.Second)

	v.SetDefault("lock.mode", keylock.ModeMemory)
	v.SetDefault("lock.ttl", 2*time.Minute)
	v.SetDefault("lock.retry_interval", 50*time.Millisecond)
	v.SetDefault("lock.prefix", "agentpay:lock:")
	v.SetDefault("lock.redis.addr", "")
	v.SetDefault("lock.redis.url", "")
	v.SetDefault("lock.redis.username", "")
	v.SetDefault("lock.redis.password", "")

	v.SetDefault("chain.rpc_url", "")
	v.SetDefault("chain.chain_id", 0)
	v.SetDefault("chain.dial_timeout", 10*time.Second)
	v.SetDefault("chain.token_gas_limit", 100000)
	v.SetDefault("chain.session_manager.address", "")
	v.SetDefault("chain.session_manager.operator_key", "")
	v.SetDefault("chain.session_manager.limit_decimals", 6)
	v.SetDefault("chain.session_manager.revoke_gas_limit", 120000)
	v.SetDefault("chain.token_cache.mode", "memory")
	v.SetDefault("chain.token_cache.memory.expiration", 24*time.Hour)
	v.SetDefault("chain.token_cache.memory.cleanup_interval", time.Hour)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)

	v.SetDefault("grant.max_expiry_days", 30)
	v.SetDefault("grant.proof_max_age", 10*time.Minute)

	v.SetDefault("ledger.timezone", "UTC")
	v.SetDefault("ledger.max_cas_attempts", 10)

	v.SetDefault("signer.broadcast_timeout", 15*time.Second)
	v.SetDefault("signer.rebroadcast_max_tries", 3)
	v.SetDefault("signer.rebroadcast_interval", 2*time.Second)
	v.SetDefault("signer.wait_for_receipt", true)
	v.SetDefault("signer.receipt_timeout", 60*time.Second)
	v.SetDefault("signer.receipt_poll_interval", 2*time.Second)
	v.SetDefault("signer.token_transfer_gas_limit", 100000)

	v.SetDefault("coordinator.max_retries", 2)
	v.SetDefault("coordinator.retry_initial_interval", 500*time.Millisecond)
	v.SetDefault("coordinator.lock_timeout", 10*time.Second)
	v.SetDefault("coordinator.attempt_timeout", 5*time.Minute)
	v.SetDefault("coordinator.settle_timeout", 10*time.Second)

	v.SetDefault("reconcile.cron", "*/1 * * * *")
	v.SetDefault("reconcile.min_age", 2*time.Minute)
	v.SetDefault("reconcile.stale_after", 30*time.Minute)
	v.SetDefault("reconcile.batch_size", 200)
	v.SetDefault("reconcile.concurrency", 8)
	v.SetDefault("reconcile.lock_timeout", 5*time.Second)
}
