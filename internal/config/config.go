package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/boardlink/internal/protocol/session"
	"github.com/danmuck/boardlink/internal/transport"
	"github.com/pelletier/go-toml/v2"
)

// ClientConfig is the boardlink.toml layout read by `linkctl connect`.
type ClientConfig struct {
	ClientID string         `toml:"client_id"`
	Server   ServerConfig   `toml:"server"`
	Identity IdentityConfig `toml:"identity"`
	Session  SessionConfig  `toml:"session"`
	Status   StatusConfig   `toml:"status"`
	Log      LogConfig      `toml:"log"`
}

type ServerConfig struct {
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Transport     string `toml:"transport"`
	WebSocketPath string `toml:"websocket_path"`
}

type IdentityConfig struct {
	Session    int    `toml:"session"`
	Username   string `toml:"username"`
	UserID     string `toml:"user_id"`
	ServerKey  string `toml:"server_key"`
	Password   string `toml:"password"`
	BannerMode string `toml:"banner_mode"`
}

// SessionConfig holds durations as strings ("250ms", "5s").
type SessionConfig struct {
	ConnectTimeout  string    `toml:"connect_timeout"`
	ReadTimeout     string    `toml:"read_timeout"`
	WriteTimeout    string    `toml:"write_timeout"`
	PollInterval    string    `toml:"poll_interval"`
	HealthInterval  string    `toml:"health_interval"`
	PingInterval    string    `toml:"ping_interval"`
	MaxErrorReports int       `toml:"max_error_reports"`
	LogCapacity     int       `toml:"log_capacity"`
	Debug           bool      `toml:"debug"`
	SecurityMode    string    `toml:"security_mode"`
	QueueLength     int       `toml:"queue_length"`
	StallTimeout    string    `toml:"stall_timeout"`
	TLS             TLSConfig `toml:"tls"`
}

type TLSConfig struct {
	Enabled            bool   `toml:"enabled"`
	Mutual             bool   `toml:"mutual"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
	ServerName         string `toml:"server_name"`
	CAFile             string `toml:"ca_file"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
}

// StatusConfig enables the local status API when Addr is set.
type StatusConfig struct {
	Addr        string   `toml:"addr"`
	Token       string   `toml:"token"`
	CorsOrigins []string `toml:"cors_origins"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// FakeServerConfig is the layout read by `linkctl fake-server`.
type FakeServerConfig struct {
	Addr           string    `toml:"addr"`
	Transport      string    `toml:"transport"`
	FeatureVersion int       `toml:"feature_version"`
	SessionKey     string    `toml:"session_key"`
	Obfuscate      bool      `toml:"obfuscate"`
	BufferSize     int       `toml:"buffer_size"`
	Silent         bool      `toml:"silent"`
	TLS            TLSConfig `toml:"tls"`
}

// DefaultFakeServerConfig is a local plain-TCP server with obfuscation on.
func DefaultFakeServerConfig() FakeServerConfig {
	cfg := FakeServerConfig{Obfuscate: true}
	cfg.applyDefaults()
	return cfg
}

func LoadClientConfig(path string) (ClientConfig, error) {
	var cfg ClientConfig
	if err := loadToml(path, &cfg); err != nil {
		return ClientConfig{}, err
	}
	cfg.applyDefaults()
	if err := ValidateClientConfig(cfg); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func LoadFakeServerConfig(path string) (FakeServerConfig, error) {
	var cfg FakeServerConfig
	if err := loadToml(path, &cfg); err != nil {
		return FakeServerConfig{}, err
	}
	cfg.applyDefaults()
	if err := ValidateFakeServerConfig(cfg); err != nil {
		return FakeServerConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func (c *ClientConfig) applyDefaults() {
	if strings.TrimSpace(c.ClientID) == "" {
		c.ClientID = "linkctl"
	}
	if strings.TrimSpace(c.Server.Transport) == "" {
		c.Server.Transport = string(transport.KindTCP)
	}
	if strings.TrimSpace(c.Log.Level) == "" {
		c.Log.Level = "info"
	}
}

func (c *FakeServerConfig) applyDefaults() {
	if strings.TrimSpace(c.Addr) == "" {
		c.Addr = "127.0.0.1:2255"
	}
	if strings.TrimSpace(c.Transport) == "" {
		c.Transport = string(transport.KindTCP)
	}
	if c.FeatureVersion == 0 {
		c.FeatureVersion = session.FeatureMoveTimes
	}
	if strings.TrimSpace(c.SessionKey) == "" {
		c.SessionKey = "11.22.33.44"
	}
	if c.BufferSize == 0 {
		c.BufferSize = 65536
	}
}

func ValidateClientConfig(cfg ClientConfig) error {
	if strings.TrimSpace(cfg.Server.Host) == "" {
		return fmt.Errorf("client config missing server.host")
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("client config server.port out of range: %d", cfg.Server.Port)
	}
	if err := validateTransport(cfg.Server.Transport); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Identity.Username) == "" {
		return fmt.Errorf("client config missing identity.username")
	}
	if strings.TrimSpace(cfg.Identity.UserID) == "" {
		return fmt.Errorf("client config missing identity.user_id")
	}
	for _, field := range []string{cfg.Identity.Username, cfg.Identity.UserID, cfg.Identity.ServerKey, cfg.Identity.Password} {
		if strings.ContainsAny(field, " \t\r\n") {
			return fmt.Errorf("client config identity fields may not contain whitespace: %q", field)
		}
	}
	if _, err := cfg.SessionConfig(); err != nil {
		return err
	}
	return nil
}

func ValidateFakeServerConfig(cfg FakeServerConfig) error {
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("fake server config missing addr")
	}
	if err := validateTransport(cfg.Transport); err != nil {
		return err
	}
	if cfg.TLS.Enabled && (strings.TrimSpace(cfg.TLS.CertFile) == "" || strings.TrimSpace(cfg.TLS.KeyFile) == "") {
		return fmt.Errorf("fake server tls requires cert_file and key_file")
	}
	return nil
}

func validateTransport(kind string) error {
	switch transport.Kind(strings.ToLower(strings.TrimSpace(kind))) {
	case transport.KindTCP, transport.KindWebSocket:
		return nil
	default:
		return fmt.Errorf("unknown transport %q (want tcp or websocket)", kind)
	}
}

// SessionConfig converts the file layout into session settings. Unset
// fields keep their session defaults.
func (c ClientConfig) SessionConfig() (session.Config, error) {
	out := session.DefaultConfig()
	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"session.connect_timeout", c.Session.ConnectTimeout, &out.ConnectTimeout},
		{"session.read_timeout", c.Session.ReadTimeout, &out.ReadTimeout},
		{"session.write_timeout", c.Session.WriteTimeout, &out.WriteTimeout},
		{"session.poll_interval", c.Session.PollInterval, &out.PollInterval},
		{"session.health_interval", c.Session.HealthInterval, &out.HealthInterval},
		{"session.ping_interval", c.Session.PingInterval, &out.PingInterval},
	}
	for _, d := range durations {
		if strings.TrimSpace(d.raw) == "" {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return session.Config{}, fmt.Errorf("parse %s: %w", d.name, err)
		}
		*d.dst = v
	}
	if c.Session.MaxErrorReports > 0 {
		out.MaxErrorReports = c.Session.MaxErrorReports
	}
	if c.Session.LogCapacity > 0 {
		out.LogCapacity = c.Session.LogCapacity
	}
	out.Debug = c.Session.Debug
	if strings.TrimSpace(c.Session.SecurityMode) != "" {
		out.SecurityMode = session.SecurityMode(c.Session.SecurityMode)
	}
	out.TLS = c.Session.TLS.session()
	out = out.WithDefaults()
	if err := out.ValidateClientTransport(); err != nil {
		return session.Config{}, err
	}
	return out, nil
}

// TransportOptions builds the transport factory options.
func (c ClientConfig) TransportOptions() (transport.Options, error) {
	sessionCfg, err := c.SessionConfig()
	if err != nil {
		return transport.Options{}, err
	}
	opts := transport.DefaultOptions()
	opts.Session = sessionCfg
	if c.Session.QueueLength > 0 {
		opts.QueueLength = c.Session.QueueLength
	}
	if raw := strings.TrimSpace(c.Session.StallTimeout); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return transport.Options{}, fmt.Errorf("parse session.stall_timeout: %w", err)
		}
		opts.StallTimeout = d
	}
	if strings.TrimSpace(c.Server.WebSocketPath) != "" {
		opts.WebSocketPath = c.Server.WebSocketPath
	}
	return opts.WithDefaults(), nil
}

func (c ClientConfig) TransportKind() transport.Kind {
	return transport.Kind(strings.ToLower(strings.TrimSpace(c.Server.Transport)))
}

func (c ClientConfig) SessionIdentity() session.Identity {
	return session.Identity{
		Session:    c.Identity.Session,
		Username:   c.Identity.Username,
		UserID:     c.Identity.UserID,
		ServerKey:  c.Identity.ServerKey,
		Password:   c.Identity.Password,
		BannerMode: c.Identity.BannerMode,
	}
}

func (t TLSConfig) session() session.TLSConfig {
	return session.TLSConfig{
		Enabled:            t.Enabled,
		Mutual:             t.Mutual,
		InsecureSkipVerify: t.InsecureSkipVerify,
		ServerName:         t.ServerName,
		CAFile:             t.CAFile,
		CertFile:           t.CertFile,
		KeyFile:            t.KeyFile,
	}
}

// Handshake renders the acknowledgement the fake server sends.
func (c FakeServerConfig) Handshake(now time.Time) session.Handshake {
	serverTime := now.Unix() &^ 1
	if c.Obfuscate {
		serverTime |= 1
	}
	return session.Handshake{
		SessionID:         1,
		ChannelID:         1,
		FeatureVersion:    c.FeatureVersion,
		SessionKey:        c.SessionKey,
		ServerIP:          "127.0.0.1",
		ServerTime:        serverTime,
		BufferSize:        c.BufferSize,
		InitialPopulation: 1,
	}
}

func (c FakeServerConfig) TransportKind() transport.Kind {
	return transport.Kind(strings.ToLower(strings.TrimSpace(c.Transport)))
}

func (c FakeServerConfig) SessionTLS() session.TLSConfig {
	return c.TLS.session()
}
