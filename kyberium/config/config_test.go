package config

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheusHen/kyberium/kyberium/kdf"
	"github.com/TheusHen/kyberium/kyberium/primitive"
	"github.com/TheusHen/kyberium/kyberium/ratchet"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, primitive.MLKEM1024, cfg.KEM)
	assert.Equal(t, primitive.MLDSA65, cfg.Signature)
	assert.Equal(t, primitive.AES256GCM, cfg.AEAD)
	assert.Equal(t, kdf.HKDFSHA3, cfg.KDF)
	assert.Equal(t, ratchet.DefaultMaxSkip, cfg.MaxSkippedKeys)
	assert.Equal(t, 30*time.Minute, cfg.Idle())
	assert.Equal(t, "info", cfg.Logging.Level)

	p, err := cfg.Provider()
	require.NoError(t, err)
	assert.Equal(t, primitive.MLKEM1024, p.KEM.Name())
	k, err := cfg.KDFInstance()
	require.NoError(t, err)
	assert.Equal(t, kdf.HKDFSHA3, k.Name())
}

func TestLoadFile(t *testing.T) {
	cfg, err := LoadFile(filepath.Join("testdata", "kyberium.toml"))
	require.NoError(t, err)
	assert.Equal(t, primitive.MLKEM768, cfg.KEM)
	assert.Equal(t, primitive.MLDSA87, cfg.Signature)
	assert.Equal(t, primitive.ChaCha20Poly1305, cfg.AEAD)
	assert.Equal(t, kdf.SHAKE256, cfg.KDF)
	assert.Equal(t, 250, cfg.MaxSkippedKeys)
	assert.Equal(t, 5*time.Minute, cfg.Idle())
	assert.Equal(t, "debug", cfg.Logging.Level)

	p, err := cfg.Provider()
	require.NoError(t, err)
	assert.Equal(t, primitive.ChaCha20Poly1305, p.AEAD.Name())
}

func TestLoadRejects(t *testing.T) {
	for name, body := range map[string]string{
		"unknown kem":    `KEM = "RSA-2048"`,
		"unknown kdf":    `KDF = "MD5"`,
		"bad timeout":    `IdleTimeout = "soon"`,
		"negative":       `IdleTimeout = "-1s"`,
		"skip range":     `MaxSkippedKeys = -3`,
		"bad level":      "[Logging]\nLevel = \"loud\"",
		"unknown key":    `Cipher = "AES"`,
		"malformed toml": `KEM = `,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load([]byte(body))
			assert.Error(t, err)
		})
	}
	_, err := Load(nil)
	assert.Error(t, err)
	_, err = LoadFile(filepath.Join("testdata", "missing.toml"))
	assert.Error(t, err)
}

func TestIdleTimeoutDisabled(t *testing.T) {
	cfg, err := Load([]byte(`IdleTimeout = "0s"`))
	require.NoError(t, err)
	assert.Zero(t, cfg.Idle())
}

func TestApplyLogging(t *testing.T) {
	cfg, err := Load([]byte("[Logging]\nLevel = \"warning\""))
	require.NoError(t, err)

	logger := logrus.New()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	cfg.ApplyLogging(logger)
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())

	logger.Info("hidden")
	assert.Zero(t, buf.Len())
	logger.Warn("shown")
	assert.Contains(t, buf.String(), "shown")

	cfg.Logging.Disable = true
	cfg.ApplyLogging(logger)
	buf.Reset()
	logger.Warn("discarded")
	assert.Zero(t, buf.Len())
}
