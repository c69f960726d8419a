package biz

import "time"

type GrantConfig struct {
	MaxExpiryDays int `conf:"max_expiry_days" yaml:"max_expiry_days" json:"max_expiry_days"`

	// ProofMaxAge bounds how far the owner's signed IssuedAt may be from now, either way.
	ProofMaxAge time.Duration `conf:"proof_max_age" yaml:"proof_max_age" json:"proof_max_age"`
}

type LedgerConfig struct {
	// Timezone is the IANA zone whose calendar days and hours bound usage windows.
	Timezone       string `conf:"timezone" yaml:"timezone" json:"timezone"`
	MaxCASAttempts int    `conf:"max_cas_attempts" yaml:"max_cas_attempts" json:"max_cas_attempts"`
}

type SignerConfig struct {
	BroadcastTimeout      time.Duration `conf:"broadcast_timeout" yaml:"broadcast_timeout" json:"broadcast_timeout"`
	RebroadcastMaxTries   uint          `conf:"rebroadcast_max_tries" yaml:"rebroadcast_max_tries" json:"rebroadcast_max_tries"`
	RebroadcastInterval   time.Duration `conf:"rebroadcast_interval" yaml:"rebroadcast_interval" json:"rebroadcast_interval"`
	WaitForReceipt        bool          `conf:"wait_for_receipt" yaml:"wait_for_receipt" json:"wait_for_receipt"`
	ReceiptTimeout        time.Duration `conf:"receipt_timeout" yaml:"receipt_timeout" json:"receipt_timeout"`
	ReceiptPollInterval   time.Duration `conf:"receipt_poll_interval" yaml:"receipt_poll_interval" json:"receipt_poll_interval"`
	TokenTransferGasLimit uint64        `conf:"token_transfer_gas_limit" yaml:"token_transfer_gas_limit" json:"token_transfer_gas_limit"`
}

type CoordinatorConfig struct {
	MaxRetries           uint          `conf:"max_retries" yaml:"max_retries" json:"max_retries"`
	RetryInitialInterval time.Duration `conf:"retry_initial_interval" yaml:"retry_initial_interval" json:"retry_initial_interval"`
	LockTimeout          time.Duration `conf:"lock_timeout" yaml:"lock_timeout" json:"lock_timeout"`

	// AttemptTimeout bounds one locked attempt, which no longer follows the caller's context.
	AttemptTimeout time.Duration `conf:"attempt_timeout" yaml:"attempt_timeout" json:"attempt_timeout"`

	// SettleTimeout bounds the record write and rollback that end an attempt.
	SettleTimeout time.Duration `conf:"settle_timeout" yaml:"settle_timeout" json:"settle_timeout"`
}

type AuthConfig struct {
	// JWTSecret verifies HS256 bearer tokens issued by the account service.
	JWTSecret string        `conf:"jwt_secret" yaml:"-" json:"-"`
	Issuer    string        `conf:"issuer" yaml:"issuer" json:"issuer"`
	TokenTTL  time.Duration `conf:"token_ttl" yaml:"token_ttl" json:"token_ttl"`
}

func (c GrantConfig) withDefaults() GrantConfig {
	if c.MaxExpiryDays <= 0 {
		c.MaxExpiryDays = 30
	}

	if c.ProofMaxAge <= 0 {
		c.ProofMaxAge = 10 * time.Minute
	}

	return c
}

func (c LedgerConfig) withDefaults() LedgerConfig {
	if c.MaxCASAttempts <= 0 {
		c.MaxCASAttempts = 5
	}

	return c
}

func (c SignerConfig) withDefaults() SignerConfig {
	if c.BroadcastTimeout <= 0 {
		c.BroadcastTimeout = 30 * time.Second
	}

	if c.RebroadcastMaxTries == 0 {
		c.RebroadcastMaxTries = 3
	}

	if c.RebroadcastInterval <= 0 {
		c.RebroadcastInterval = 500 * time.Millisecond
	}

	if c.ReceiptTimeout <= 0 {
		c.ReceiptTimeout = 2 * time.Minute
	}

	if c.ReceiptPollInterval <= 0 {
		c.ReceiptPollInterval = 2 * time.Second
	}

	if c.TokenTransferGasLimit == 0 {
		c.TokenTransferGasLimit = 100000
	}

	return c
}

func (c CoordinatorConfig) withDefaults() CoordinatorConfig {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}

	if c.RetryInitialInterval <= 0 {
		c.RetryInitialInterval = 200 * time.Millisecond
	}

	if c.LockTimeout <= 0 {
		c.LockTimeout = 10 * time.Second
	}

	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 5 * time.Minute
	}

	if c.SettleTimeout <= 0 {
		c.SettleTimeout = 10 * time.Second
	}

	return c
}
