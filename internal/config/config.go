// Package config resolves the tracker configuration once at startup from
// built-in defaults, layered YAML files and TUBETRACK_* environment
// variables. The resulting Config is passed explicitly to constructors.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"tubetrack/internal/scanner"
	"tubetrack/pkg/domain"
	"tubetrack/pkg/gridpos"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TUBETRACK_"

// DefaultUsername is used when no username is configured.
const DefaultUsername = "Default"

// Storage drivers.
const (
	StorageMemory   = "memory"
	StorageCSV      = "csv"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Blob drivers. BlobNone disables the scan archive.
const (
	BlobNone       = "none"
	BlobFilesystem = "fs"
	BlobS3         = "s3"
	BlobMemory     = "memory"
)

// Config is the complete tracker configuration.
type Config struct {
	Username  string          `yaml:"username"`
	Storage   StorageConfig   `yaml:"storage"`
	Blob      BlobConfig      `yaml:"blob"`
	Scanner   ScannerConfig   `yaml:"scanner"`
	Positions PositionsConfig `yaml:"positions"`
	Tracker   TrackerConfig   `yaml:"tracker"`
}

// StorageConfig selects the table store.
type StorageConfig struct {
	Driver      string `yaml:"driver"` // memory, csv, sqlite, postgres
	CSVRoot     string `yaml:"csv_root"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
	// Autoflush writes every table change through to durable storage.
	Autoflush bool `yaml:"autoflush"`
}

// BlobConfig selects where decoded scans are archived.
type BlobConfig struct {
	Driver string   `yaml:"driver"` // none, fs, s3, memory
	FSRoot string   `yaml:"fs_root"`
	S3     S3Config `yaml:"s3"`
}

// S3Config holds the bucket parameters for the s3 blob driver.
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	PathStyle       bool   `yaml:"path_style"`
	Prefix          string `yaml:"prefix"`
}

// ScannerConfig describes where the box grid sits in camera images.
type ScannerConfig struct {
	Rows   int     `yaml:"rows"`
	Cols   int     `yaml:"cols"`
	Top    *Margin `yaml:"top"`
	Bottom *Margin `yaml:"bottom"`
	Left   *Margin `yaml:"left"`
	Right  *Margin `yaml:"right"`
}

// PositionsConfig controls how grid cells are named and parsed.
type PositionsConfig struct {
	gridpos.Format `yaml:",inline"`
	Pattern        string `yaml:"pattern"`
	Transpose      bool   `yaml:"transpose"`
}

// TrackerConfig holds reconciliation sentinels and table naming.
type TrackerConfig struct {
	RemovedBoxName    string `yaml:"removed_boxname"`
	RemovedPosition   string `yaml:"removed_position"`
	CheckedOutBoxName string `yaml:"checked_out_boxname"`
	// Table name formats; {user} is replaced by the username.
	TubesTable string `yaml:"tubes_table"`
	BoxesTable string `yaml:"boxes_table"`
}

// SystemConfigPath is the lowest-priority configuration file.
const SystemConfigPath = "/etc/tubetrack/config.yaml"

// SearchPaths returns the configuration files in priority order: the user
// file under os.UserConfigDir, then SystemConfigPath.
func SearchPaths() []string {
	var paths []string
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "tubetrack", "config.yaml"))
	}
	return append(paths, SystemConfigPath)
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Username: DefaultUsername,
		Storage: StorageConfig{
			Driver:     StorageCSV,
			CSVRoot:    "./tubetrack-data",
			SQLitePath: "./tubetrack.db",
			Autoflush:  true,
		},
		Blob: BlobConfig{Driver: BlobNone, FSRoot: "./tubetrack-scans"},
		Scanner: ScannerConfig{
			Rows:   10,
			Cols:   10,
			Top:    AbsoluteMargin(10),
			Bottom: AbsoluteMargin(-10),
			Left:   AbsoluteMargin(10),
			Right:  AbsoluteMargin(-10),
		},
		Positions: PositionsConfig{Format: gridpos.DefaultFormat(), Pattern: gridpos.DefaultPattern},
		Tracker: TrackerConfig{
			RemovedBoxName:    domain.BoxMissing,
			RemovedPosition:   domain.PositionNA,
			CheckedOutBoxName: domain.BoxCheckedOut,
			TubesTable:        "{user}_tubes",
			BoxesTable:        "{user}_boxes",
		},
	}
}

// Load builds a Config from the defaults and the YAML files at paths, given
// in priority order: a key set in an earlier file wins over later files.
// Missing files are skipped. Environment overrides are applied last and the
// result is validated.
func Load(paths ...string) (Config, error) {
	cfg := Default()
	for i := len(paths) - 1; i >= 0; i-- {
		data, err := os.ReadFile(paths[i])
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", paths[i], err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from TUBETRACK_* variables found by lookup.
//
//	TUBETRACK_USERNAME
//	TUBETRACK_STORAGE_DRIVER: memory|csv|sqlite|postgres
//	TUBETRACK_CSV_ROOT, TUBETRACK_SQLITE_PATH, TUBETRACK_POSTGRES_DSN
//	TUBETRACK_BLOB_DRIVER: none|fs|s3|memory
//	TUBETRACK_BLOB_FS_ROOT
//	TUBETRACK_BLOB_S3_BUCKET, _REGION, _ENDPOINT, _PREFIX, _PATH_STYLE
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"USERNAME":           &c.Username,
		"STORAGE_DRIVER":     &c.Storage.Driver,
		"CSV_ROOT":           &c.Storage.CSVRoot,
		"SQLITE_PATH":        &c.Storage.SQLitePath,
		"POSTGRES_DSN":       &c.Storage.PostgresDSN,
		"BLOB_DRIVER":        &c.Blob.Driver,
		"BLOB_FS_ROOT":       &c.Blob.FSRoot,
		"BLOB_S3_BUCKET":     &c.Blob.S3.Bucket,
		"BLOB_S3_REGION":     &c.Blob.S3.Region,
		"BLOB_S3_ENDPOINT":   &c.Blob.S3.Endpoint,
		"BLOB_S3_PREFIX":     &c.Blob.S3.Prefix,
		"BLOB_S3_ACCESS_KEY": &c.Blob.S3.AccessKeyID,
		"BLOB_S3_SECRET_KEY": &c.Blob.S3.SecretAccessKey,
	}
	for name, dst := range strs {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	bools := map[string]*bool{
		"BLOB_S3_PATH_STYLE": &c.Blob.S3.PathStyle,
		"STORAGE_AUTOFLUSH":  &c.Storage.Autoflush,
	}
	for name, dst := range bools {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return domain.ConfigurationError{Field: EnvPrefix + name, Reason: fmt.Sprintf("%q is not a boolean", v)}
		}
		*dst = b
	}
	return nil
}

// Validate reports the first invalid setting as a domain.ConfigurationError.
func (c Config) Validate() error {
	if err := c.Positions.Format.Validate(); err != nil {
		return err
	}
	if _, err := gridpos.NewParser(c.Positions.Pattern); err != nil {
		return err
	}
	if err := c.Geometry().Validate(); err != nil {
		return err
	}
	switch c.Storage.Driver {
	case StorageMemory, StorageCSV, StorageSQLite, StoragePostgres:
	default:
		return domain.ConfigurationError{Field: "storage.driver", Reason: fmt.Sprintf("unknown driver %q", c.Storage.Driver)}
	}
	switch c.Blob.Driver {
	case BlobNone, BlobFilesystem, BlobS3, BlobMemory:
	default:
		return domain.ConfigurationError{Field: "blob.driver", Reason: fmt.Sprintf("unknown driver %q", c.Blob.Driver)}
	}
	if c.Blob.Driver == BlobS3 && c.Blob.S3.Bucket == "" {
		return domain.ConfigurationError{Field: "blob.s3.bucket", Reason: "required for the s3 driver"}
	}
	for field, format := range map[string]string{"tracker.tubes_table": c.Tracker.TubesTable, "tracker.boxes_table": c.Tracker.BoxesTable} {
		if strings.TrimSpace(format) == "" {
			return domain.ConfigurationError{Field: field, Reason: "must not be empty"}
		}
	}
	if c.TubesTableName() == c.BoxesTableName() {
		return domain.ConfigurationError{Field: "tracker.boxes_table", Reason: "must differ from the tubes table"}
	}
	return nil
}

func tableName(format, user string) string {
	return strings.ReplaceAll(format, "{user}", user)
}

// TubesTableName returns the tubes table name for the configured user.
func (c Config) TubesTableName() string { return tableName(c.Tracker.TubesTable, c.Username) }

// BoxesTableName returns the boxes table name for the configured user.
func (c Config) BoxesTableName() string { return tableName(c.Tracker.BoxesTable, c.Username) }

// Geometry returns the scanner grid geometry.
func (c Config) Geometry() scanner.GridGeometry {
	s := c.Scanner
	return scanner.GridGeometry{
		Top:    s.Top.ScannerMargin(),
		Bottom: s.Bottom.ScannerMargin(),
		Left:   s.Left.ScannerMargin(),
		Right:  s.Right.ScannerMargin(),
		Rows:   s.Rows,
		Cols:   s.Cols,
	}
}

// Parser compiles the configured position pattern.
func (c Config) Parser() (*gridpos.Parser, error) {
	return gridpos.NewParser(c.Positions.Pattern)
}

// GridOptions returns the grid conversion options for the configured format.
func (c Config) GridOptions() gridpos.Options {
	opts := gridpos.DefaultOptions()
	opts.Format = c.Positions.Format
	opts.Transpose = c.Positions.Transpose
	return opts
}
