package session

import "time"

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// SecurityMode selects how strict transport validation is.
type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

// TLSConfig configures the optional TLS layer of stream transports.
type TLSConfig struct {
	Enabled            bool
	Mutual             bool
	InsecureSkipVerify bool
	ServerName         string
	CAFile             string
	CertFile           string
	KeyFile            string
}

// Config defines transport/session reliability defaults.
type Config struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	PollInterval   time.Duration
	HealthInterval time.Duration
	// PingInterval of zero disables runner pings.
	PingInterval time.Duration
	// MaxErrorReports caps LogError forwarding per transport generation.
	MaxErrorReports int
	LogCapacity     int
	// Debug re-sends missing-echo reports instead of latching them.
	Debug        bool
	Backoff      BackoffConfig
	SecurityMode SecurityMode
	TLS          TLSConfig
}

// DefaultConfig returns the client defaults.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:  10 * time.Second,
		ReadTimeout:     0,
		WriteTimeout:    15 * time.Second,
		PollInterval:    50 * time.Millisecond,
		HealthInterval:  5 * time.Second,
		PingInterval:    0,
		MaxErrorReports: 5,
		LogCapacity:     50,
		Debug:           false,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
		SecurityMode: SecurityModeDevelopment,
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = d.HealthInterval
	}
	if c.MaxErrorReports <= 0 {
		c.MaxErrorReports = d.MaxErrorReports
	}
	if c.LogCapacity <= 0 {
		c.LogCapacity = d.LogCapacity
	}
	if c.Backoff.InitialDelay <= 0 && c.Backoff.MaxDelay <= 0 {
		c.Backoff = d.Backoff
	}
	c.SecurityMode = NormalizeSecurityMode(c.SecurityMode)
	return c
}
