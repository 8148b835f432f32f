// Package config provides the Kyberium engine configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"

	"github.com/TheusHen/kyberium/kyberium/kdf"
	"github.com/TheusHen/kyberium/kyberium/primitive"
	"github.com/TheusHen/kyberium/kyberium/ratchet"
)

const (
	defaultLogLevel    = "info"
	defaultIdleTimeout = 30 * time.Minute
	maxSkippedKeysCap  = 1 << 16
)

var defaultLogging = Logging{
	Disable: false,
	Level:   defaultLogLevel,
}

// Logging is the logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// Level specifies the log level, one of the logrus level names.
	Level string
}

func (lCfg *Logging) validate() error {
	if _, err := logrus.ParseLevel(lCfg.Level); err != nil {
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	return nil
}

// Config is the top level Kyberium engine configuration.
type Config struct {
	// KEM, Signature, AEAD and KDF name the primitives. Empty selects the
	// defaults: ML-KEM-1024, ML-DSA-65, AES-256-GCM and HKDF-SHA3-256.
	KEM       string
	Signature string
	AEAD      string
	KDF       string

	// MaxSkippedKeys bounds the skipped-key cache of each receiving chain
	// and the largest gap a single message may open.
	MaxSkippedKeys int

	// IdleTimeout is how long a session may go unused before SweepIdle
	// destroys it, as a Go duration string. "0" disables sweeping.
	IdleTimeout string

	Logging *Logging

	idleTimeout time.Duration
}

// Default returns the default configuration.
func Default() *Config {
	cfg := new(Config)
	if err := cfg.FixupAndValidate(); err != nil {
		panic(err)
	}
	return cfg
}

// FixupAndValidate applies defaults to config entries and validates the
// supplied configuration.  Most people should call one of the Load variants
// instead.
func (cfg *Config) FixupAndValidate() error {
	if cfg.KEM == "" {
		cfg.KEM = primitive.DefaultKEM
	}
	if cfg.Signature == "" {
		cfg.Signature = primitive.DefaultSignature
	}
	if cfg.AEAD == "" {
		cfg.AEAD = primitive.DefaultAEAD
	}
	if cfg.KDF == "" {
		cfg.KDF = kdf.Default
	}
	if cfg.MaxSkippedKeys == 0 {
		cfg.MaxSkippedKeys = ratchet.DefaultMaxSkip
	}
	if cfg.IdleTimeout == "" {
		cfg.IdleTimeout = defaultIdleTimeout.String()
	}
	if cfg.Logging == nil {
		l := defaultLogging
		cfg.Logging = &l
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaultLogLevel
	}

	if _, err := primitive.NewProvider(cfg.KEM, cfg.Signature, cfg.AEAD); err != nil {
		return fmt.Errorf("config: %v", err)
	}
	if _, err := kdf.New(cfg.KDF); err != nil {
		return fmt.Errorf("config: %v", err)
	}
	if cfg.MaxSkippedKeys < 0 || cfg.MaxSkippedKeys > maxSkippedKeysCap {
		return fmt.Errorf("config: MaxSkippedKeys %d out of range (1..%d)", cfg.MaxSkippedKeys, maxSkippedKeysCap)
	}
	d, err := time.ParseDuration(cfg.IdleTimeout)
	if err != nil {
		return fmt.Errorf("config: IdleTimeout: %v", err)
	}
	if d < 0 {
		return errors.New("config: IdleTimeout is negative")
	}
	cfg.idleTimeout = d
	return cfg.Logging.validate()
}

// Provider builds the primitive provider the configuration names.
func (cfg *Config) Provider() (*primitive.Provider, error) {
	return primitive.NewProvider(cfg.KEM, cfg.Signature, cfg.AEAD)
}

// KDFInstance builds the configured key derivation function.
func (cfg *Config) KDFInstance() (*kdf.KDF, error) {
	return kdf.New(cfg.KDF)
}

// Idle returns the parsed IdleTimeout.
func (cfg *Config) Idle() time.Duration {
	return cfg.idleTimeout
}

// ApplyLogging configures logger per the Logging section.
func (cfg *Config) ApplyLogging(logger *logrus.Logger) {
	if cfg.Logging.Disable {
		logger.SetOutput(io.Discard)
		return
	}
	lvl, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
}

// Load parses and validates the provided buffer b as a config file body and
// returns the Config.
func Load(b []byte) (*Config, error) {
	if b == nil {
		return nil, errors.New("config: no nil buffer as config file")
	}

	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: undecoded keys in config file: %v", undecoded)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses and validates the provided file and returns the
// Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}
