// Package config loads the connector and mock bank TOML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/mkadit/iso8583/v2"
	"github.com/mkadit/iso8583/v2/internal/logging"
	"github.com/mkadit/iso8583/v2/internal/respcode"
	"github.com/mkadit/iso8583/v2/internal/storage"
)

// DE49 is n3 and DE32 is n..11.
var (
	currencyCode = regexp.MustCompile(`^[0-9]{3}$`)
	acquirerID   = regexp.MustCompile(`^[0-9]{0,11}$`)
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ISOCONN_"

// Duration wraps time.Duration to decode strings such as "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the full runtime configuration.
type Config struct {
	Service       string            `toml:"service"`
	Environment   string            `toml:"environment"`
	Connector     ConnectorConfig   `toml:"connector"`
	Packager      PackagerConfig    `toml:"packager"`
	Transport     TransportConfig   `toml:"transport"`
	MockBank      MockBankConfig    `toml:"mockbank"`
	Admin         AdminConfig       `toml:"admin"`
	Security      SecurityConfig    `toml:"security"`
	Database      storage.Config    `toml:"database"`
	Logging       logging.Config    `toml:"logging"`
	ResponseCodes map[string]string `toml:"response_codes"`
}

// ConnectorConfig drives the transaction orchestrator.
type ConnectorConfig struct {
	// Dispatcher is "tcp" to talk to a remote switch or "mock" to use the
	// in-process mock bank.
	Dispatcher      string   `toml:"dispatcher"`
	ResponseTimeout Duration `toml:"response_timeout"`
	ReversalTimeout Duration `toml:"reversal_timeout"`
	Currency        string   `toml:"currency"`
	AcquirerID      string   `toml:"acquirer_id"`
	Timezone        string   `toml:"timezone"`
	SweepInterval   Duration `toml:"sweep_interval"`
	SweepAge        Duration `toml:"sweep_age"`
	SweepBatch      int      `toml:"sweep_batch"`
}

// PackagerConfig selects the field table and wire options. When
// FieldsFile is set it is authoritative and the other keys are ignored.
type PackagerConfig struct {
	FieldsFile            string                      `toml:"fields_file"`
	MTIEncoding           iso8583.MTIEncoding         `toml:"mti_encoding"`
	LengthIndicator       iso8583.LengthIndicatorType `toml:"length_indicator"`
	LengthIndicatorLength int                         `toml:"length_indicator_length"`
}

type TransportConfig struct {
	Address            string   `toml:"address"`
	DialTimeout        Duration `toml:"dial_timeout"`
	WriteTimeout       Duration `toml:"write_timeout"`
	BreakerMaxFailures uint32   `toml:"breaker_max_failures"`
	BreakerOpenTimeout Duration `toml:"breaker_open_timeout"`
	Concurrency        int      `toml:"concurrency"`
}

type MockBankConfig struct {
	Listen       string   `toml:"listen"`
	ApprovalRate float64  `toml:"approval_rate"`
	MinDelay     Duration `toml:"min_delay"`
	MaxDelay     Duration `toml:"max_delay"`
	// DeclineCodes replaces the codes picked for random declines.
	DeclineCodes []string `toml:"decline_codes"`
}

type AdminConfig struct {
	Listen            string   `toml:"listen"`
	RequestsPerMinute float64  `toml:"requests_per_minute"`
	Burst             int      `toml:"burst"`
	ReadTimeout       Duration `toml:"read_timeout"`
	WriteTimeout      Duration `toml:"write_timeout"`
}

type SecurityConfig struct {
	// MACKey is a hex HMAC key. Messages are not signed when empty.
	MACKey string `toml:"mac_key"`
}

// Default returns a configuration that runs against the in-process mock
// bank with an in-memory database.
func Default() *Config {
	return &Config{
		Service:     "iso8583-connector",
		Environment: "development",
		Connector: ConnectorConfig{
			Dispatcher:      "mock",
			ResponseTimeout: Duration{30 * time.Second},
			ReversalTimeout: Duration{30 * time.Second},
			Currency:        "704",
			Timezone:        "Local",
			SweepInterval:   Duration{time.Minute},
			SweepAge:        Duration{2 * time.Minute},
			SweepBatch:      50,
		},
		Packager: PackagerConfig{
			MTIEncoding:           iso8583.MTIEncodingBCD,
			LengthIndicator:       iso8583.LengthIndicatorBinary,
			LengthIndicatorLength: 2,
		},
		Transport: TransportConfig{
			Address:            "127.0.0.1:8583",
			DialTimeout:        Duration{5 * time.Second},
			WriteTimeout:       Duration{5 * time.Second},
			BreakerMaxFailures: 5,
			BreakerOpenTimeout: Duration{30 * time.Second},
			Concurrency:        4,
		},
		MockBank: MockBankConfig{
			Listen:       "127.0.0.1:8583",
			ApprovalRate: 0.9,
			MinDelay:     Duration{100 * time.Millisecond},
			MaxDelay:     Duration{2 * time.Second},
		},
		Admin: AdminConfig{
			Listen:            "127.0.0.1:8080",
			RequestsPerMinute: 600,
			Burst:             20,
			ReadTimeout:       Duration{10 * time.Second},
			WriteTimeout:      Duration{45 * time.Second},
		},
		Database: storage.Config{
			Driver:      "sqlite",
			DSN:         "file:isoconn.db?cache=shared",
			AutoMigrate: true,
		},
		Logging: logging.Config{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %s has unknown keys: %v", path, undecoded)
		}
		if cfg.Packager.FieldsFile != "" && !filepath.IsAbs(cfg.Packager.FieldsFile) {
			cfg.Packager.FieldsFile = filepath.Join(filepath.Dir(path), cfg.Packager.FieldsFile)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	dur := func(key string, dst *Duration) error {
		if v, ok := lookup(EnvPrefix + key); ok {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
		}
		return nil
	}

	str("ENVIRONMENT", &c.Environment)
	str("DISPATCHER", &c.Connector.Dispatcher)
	str("TRANSPORT_ADDRESS", &c.Transport.Address)
	str("MOCKBANK_LISTEN", &c.MockBank.Listen)
	str("ADMIN_LISTEN", &c.Admin.Listen)
	str("DATABASE_DRIVER", &c.Database.Driver)
	str("DATABASE_DSN", &c.Database.DSN)
	str("MAC_KEY", &c.Security.MACKey)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FILE", &c.Logging.File)

	if err := dur("RESPONSE_TIMEOUT", &c.Connector.ResponseTimeout); err != nil {
		return err
	}
	if err := dur("REVERSAL_TIMEOUT", &c.Connector.ReversalTimeout); err != nil {
		return err
	}
	if v, ok := lookup(EnvPrefix + "APPROVAL_RATE"); ok {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%sAPPROVAL_RATE: %w", EnvPrefix, err)
		}
		c.MockBank.ApprovalRate = rate
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	switch c.Connector.Dispatcher {
	case "tcp", "mock":
	default:
		errs = append(errs, fmt.Errorf("connector.dispatcher must be tcp or mock, got %q", c.Connector.Dispatcher))
	}
	if c.Connector.ResponseTimeout.Duration <= 0 {
		errs = append(errs, errors.New("connector.response_timeout must be positive"))
	}
	if c.Connector.ReversalTimeout.Duration <= 0 {
		errs = append(errs, errors.New("connector.reversal_timeout must be positive"))
	}
	if !currencyCode.MatchString(c.Connector.Currency) {
		errs = append(errs, fmt.Errorf("connector.currency must be a 3 digit ISO 4217 code, got %q", c.Connector.Currency))
	}
	if !acquirerID.MatchString(c.Connector.AcquirerID) {
		errs = append(errs, fmt.Errorf("connector.acquirer_id must be at most 11 digits, got %q", c.Connector.AcquirerID))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("connector.timezone: %w", err))
	}
	if c.Connector.Dispatcher == "tcp" {
		if c.Transport.Address == "" {
			errs = append(errs, errors.New("transport.address is required for the tcp dispatcher"))
		}
		if c.Packager.FieldsFile == "" && c.Packager.LengthIndicator == iso8583.LengthIndicatorNone {
			errs = append(errs, errors.New("packager.length_indicator is required for the tcp dispatcher"))
		}
	}
	if c.MockBank.ApprovalRate < 0 || c.MockBank.ApprovalRate > 1 {
		errs = append(errs, fmt.Errorf("mockbank.approval_rate must be within [0,1], got %v", c.MockBank.ApprovalRate))
	}
	if c.MockBank.MaxDelay.Duration < c.MockBank.MinDelay.Duration {
		errs = append(errs, errors.New("mockbank.max_delay must not be below min_delay"))
	}
	for _, code := range c.MockBank.DeclineCodes {
		if len(code) != 2 || code == respcode.Approved {
			errs = append(errs, fmt.Errorf("mockbank.decline_codes: %q is not a 2 character decline code", code))
		}
	}
	for code := range c.ResponseCodes {
		if len(strings.TrimSpace(code)) != 2 {
			errs = append(errs, fmt.Errorf("response_codes: code %q must be 2 characters", code))
		}
	}
	return errors.Join(errs...)
}

// Location resolves the timezone used for transaction keys and STAN
// resets.
func (c *Config) Location() (*time.Location, error) {
	switch c.Connector.Timezone {
	case "", "Local":
		return time.Local, nil
	}
	return time.LoadLocation(c.Connector.Timezone)
}

// LoadPackager builds the packager from FieldsFile or from the built-in
// field table.
func (c *Config) LoadPackager() (*iso8583.CompiledPackager, error) {
	if c.Packager.FieldsFile == "" {
		return iso8583.NewCompiledPackager(iso8583.NewPackagerConfig(
			iso8583.WithMTIEncodingOption(c.Packager.MTIEncoding),
			iso8583.WithLengthIndicator(iso8583.LengthIndicatorConfig{
				Type:   c.Packager.LengthIndicator,
				Length: c.Packager.LengthIndicatorLength,
			}),
		)), nil
	}

	data, err := os.ReadFile(c.Packager.FieldsFile)
	if err != nil {
		return nil, fmt.Errorf("read field table: %w", err)
	}
	switch strings.ToLower(filepath.Ext(c.Packager.FieldsFile)) {
	case ".yaml", ".yml":
		return iso8583.LoadPackagerFromYAML(data)
	case ".json":
		return iso8583.LoadPackagerFromJSON(data)
	default:
		return nil, fmt.Errorf("unsupported field table format %q", filepath.Ext(c.Packager.FieldsFile))
	}
}
