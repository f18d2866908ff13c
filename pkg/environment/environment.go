package environment

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/spf13/afero"
)

// EnvFileName is the dotenv file looked up in the working directory and in the
// XDG config directory.
const EnvFileName = ".env"

// AppName is the config subdirectory under the XDG config home.
const AppName = "imagemin"

// Environment holds the service configuration loaded from the OS environment,
// optional .env files and defaults.
type Environment struct {
	Pwd  string `env:"PWD"`
	Host string `env:"HOST"`
	Port string `env:"PORT,default=3000"`

	// Upload size cap in bytes; zero or negative means unlimited.
	MaxFileSizeBytes int  `env:"MAX_FILE_SIZE,default=-1"`
	VerifyContent    bool `env:"VERIFY_CONTENT,default=true"`

	CacheCapacity   int `env:"CACHE_CAPACITY,default=20"`
	RetentionSec    int `env:"RETENTION_SEC,default=300"`
	SlotTTLSec      int `env:"SLOT_TTL_SEC,default=1800"`
	ShutdownTimeout int `env:"SHUTDOWN_TIMEOUT_SEC,default=10"`

	PublicDir string `env:"PUBLIC_DIR,default=public"`

	CodecConcurrency     int    `env:"CODEC_CONCURRENCY,default=2"`
	JpegtranBin          string `env:"JPEGTRAN_BIN,default=jpegtran"`
	PngquantBin          string `env:"PNGQUANT_BIN,default=pngquant"`
	GifsicleBin          string `env:"GIFSICLE_BIN,default=gifsicle"`
	JpegProgressive      bool   `env:"JPEG_PROGRESSIVE,default=false"`
	PngQuality           string `env:"PNG_QUALITY,default=65-80"`
	PngDither            string `env:"PNG_DITHER,default=0.5"`
	GifOptimizationLevel int    `env:"GIF_OPTIMIZATION_LEVEL,default=1"`
	GifInterlaced        bool   `env:"GIF_INTERLACED,default=false"`

	CORSAllowOrigins string `env:"CORS_ALLOW_ORIGINS"`
	TrustedProxies   string `env:"TRUSTED_PROXIES"`

	Debug  string `env:"DEBUG,default=0"`
	Extras env.EnvSet
}

// NewEnvironment initializes and returns a new Environment. When environ is
// non-nil it is normalized and returned without reading the process
// environment; otherwise .env files are applied and the OS environment parsed.
func NewEnvironment(fs afero.Fs, environ *Environment) (*Environment, error) {
	if environ != nil {
		out := *environ
		applyDefaults(&out)
		return &out, nil
	}

	pwd, _ := os.Getwd()
	candidates := []string{
		filepath.Join(pwd, EnvFileName),
		filepath.Join(xdg.ConfigHome, AppName, EnvFileName),
	}
	for _, path := range candidates {
		if err := loadEnvFile(fs, path); err != nil {
			return nil, err
		}
	}

	environment := &Environment{}
	extras, err := env.UnmarshalFromEnviron(environment)
	if err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	environment.Extras = extras
	applyDefaults(environment)

	return environment, nil
}

// loadEnvFile applies key/value pairs from a dotenv file to the process
// environment. Variables already set in the environment are left untouched.
// A missing file is not an error.
func loadEnvFile(fs afero.Fs, path string) error {
	exists, err := afero.Exists(fs, path)
	if err != nil || !exists {
		return nil
	}

	content, err := afero.ReadFile(fs, path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	envMap, err := godotenv.Parse(bytes.NewReader(content))
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	for key, value := range envMap {
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
	}
	return nil
}

func applyDefaults(e *Environment) {
	if e.Port == "" {
		e.Port = "3000"
	}
	if e.CacheCapacity <= 0 {
		e.CacheCapacity = 20
	}
	if e.RetentionSec <= 0 {
		e.RetentionSec = 300
	}
	if e.SlotTTLSec < 0 {
		e.SlotTTLSec = 0
	}
	if e.ShutdownTimeout <= 0 {
		e.ShutdownTimeout = 10
	}
	if e.CodecConcurrency <= 0 {
		e.CodecConcurrency = 1
	}
	if e.JpegtranBin == "" {
		e.JpegtranBin = "jpegtran"
	}
	if e.PngquantBin == "" {
		e.PngquantBin = "pngquant"
	}
	if e.GifsicleBin == "" {
		e.GifsicleBin = "gifsicle"
	}
	if e.PngQuality == "" {
		e.PngQuality = "65-80"
	}
	if e.PngDither == "" {
		e.PngDither = "0.5"
	}
	if e.GifOptimizationLevel < 1 || e.GifOptimizationLevel > 3 {
		e.GifOptimizationLevel = 1
	}
}

// ListenAddr returns the host:port the HTTP server binds to.
func (e *Environment) ListenAddr() string {
	return net.JoinHostPort(e.Host, e.Port)
}

// MaxFileSize returns the upload cap in bytes, or -1 when unlimited.
func (e *Environment) MaxFileSize() int64 {
	if e.MaxFileSizeBytes <= 0 {
		return -1
	}
	return int64(e.MaxFileSizeBytes)
}

// Retention is how long a stored result stays downloadable.
func (e *Environment) Retention() time.Duration {
	return time.Duration(e.RetentionSec) * time.Second
}

// SlotTTL is how long an issued, unused upload slot stays valid. Zero disables
// slot expiry.
func (e *Environment) SlotTTL() time.Duration {
	return time.Duration(e.SlotTTLSec) * time.Second
}

// ShutdownGrace bounds graceful shutdown of the HTTP server.
func (e *Environment) ShutdownGrace() time.Duration {
	return time.Duration(e.ShutdownTimeout) * time.Second
}

// CORSOrigins returns the configured allowed origins.
func (e *Environment) CORSOrigins() []string {
	return splitList(e.CORSAllowOrigins)
}

// TrustedProxyList returns the configured trusted proxies.
func (e *Environment) TrustedProxyList() []string {
	return splitList(e.TrustedProxies)
}

// DebugEnabled reports whether DEBUG=1.
func (e *Environment) DebugEnabled() bool {
	return e.Debug == "1"
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
