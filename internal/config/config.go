package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// Config represents the main configuration for the shareit server.
type Config struct {
	ListenAddr string           `toml:"listen_addr" validate:"required"`
	BaseDir    string           `toml:"base_dir" validate:"required"`
	LogDir     string           `toml:"log_dir" validate:"required"`
	Server     ServerConfig     `toml:"server"`
	Blob       BlobConfig       `toml:"blob"`
	Database   DatabaseConfig   `toml:"database"`
	Accounts   AccountsConfig   `toml:"accounts"`
	Encryption EncryptionConfig `toml:"encryption"`
	Password   PasswordConfig   `toml:"password"`
}

// ServerConfig bounds the connection acceptor.
type ServerConfig struct {
	MaxConnections int      `toml:"max_connections" validate:"gte=0"` // 0 means unlimited
	IdleTimeout    Duration `toml:"idle_timeout"`                     // wait for the next command; 0 disables
	IOTimeout      Duration `toml:"io_timeout"`                       // per chunk while streaming; 0 disables
}

// BlobConfig selects where file content is stored.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type BlobConfig struct {
	Type string `toml:"type" validate:"oneof=memory filesystem s3"`

	// Filesystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty" validate:"required_if=Type filesystem"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty" validate:"required_if=Type s3"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"` // S3-compatible servers; enables path-style addressing
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`
}

// DatabaseConfig represents configuration for the transfer journal database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type" validate:"oneof=sqlite memory"`
	DataDir string `toml:"data_dir,omitempty" validate:"required_if=Type sqlite"` // only used for type=sqlite
}

// AccountsConfig selects how the account table is persisted.
type AccountsConfig struct {
	Type                string `toml:"type" validate:"oneof=file sqlite"`                        // "file" (CBOR snapshot) or "sqlite"
	SnapshotPath        string `toml:"snapshot_path,omitempty" validate:"required_if=Type file"` // only used for type=file
	Encrypted           bool   `toml:"encrypted"`                                                // age-encrypt the file snapshot
	DefaultStorageLimit int64  `toml:"default_storage_limit" validate:"gte=0"`                   // bytes; 0 selects 100 MiB
}

// EncryptionConfig holds paths to the age key pair used for the account snapshot.
type EncryptionConfig struct {
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// PasswordConfig selects the password digest algorithm.
type PasswordConfig struct {
	Type       string `toml:"type" validate:"oneof=bcrypt sha256"`
	BcryptCost int    `toml:"bcrypt_cost,omitempty" validate:"omitempty,min=4,max=31"`
}

// Duration is a time.Duration written as a Go duration string ("30s", "2m").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// NewConfig creates a new Config rooted at baseDir with default settings.
func NewConfig(baseDir string) *Config {
	return &Config{
		ListenAddr: ":8080",
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
		Server: ServerConfig{
			MaxConnections: 256,
			IdleTimeout:    Duration{30 * time.Minute},
			IOTimeout:      Duration{2 * time.Minute},
		},
		Blob: BlobConfig{
			Type:   "filesystem",
			FSRoot: filepath.Join(baseDir, "shared_files"),
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Accounts: AccountsConfig{
			Type:                "file",
			SnapshotPath:        filepath.Join(baseDir, "users", "accounts.cbor"),
			DefaultStorageLimit: 100 * 1024 * 1024,
		},
		Encryption: EncryptionConfig{
			PublicKeyPath:  filepath.Join(baseDir, "keys", "shareit.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "shareit.key"),
		},
		Password: PasswordConfig{
			Type:       "bcrypt",
			BcryptCost: 10,
		},
	}
}

// Validate checks field constraints and the cross-section rules the
// struct tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Accounts.Type == "file" && c.Accounts.Encrypted {
		if c.Encryption.PublicKeyPath == "" || c.Encryption.PrivateKeyPath == "" {
			return fmt.Errorf("invalid config: encrypted account snapshot requires encryption key paths")
		}
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads and validates a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
