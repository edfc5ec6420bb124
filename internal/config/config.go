package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"cardscan/internal/features"
	"cardscan/internal/identify"
	"cardscan/internal/scheduler"
	"cardscan/internal/verify"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains file and directory locations.
type Paths struct {
	CatalogDB string `toml:"catalog_db"`
	ImagesDir string `toml:"images_dir"`
	Manifest  string `toml:"manifest"`
	LogDir    string `toml:"log_dir"`
}

// Store selects the SQLite driver backing the catalog database.
type Store struct {
	Driver string `toml:"driver"`
}

// Extractor contains keypoint detector and hash settings.
type Extractor struct {
	MaxFeatures   int     `toml:"max_features"`
	FastThreshold int     `toml:"fast_threshold"`
	Octaves       int     `toml:"octaves"`
	ScaleFactor   float64 `toml:"scale_factor"`
	MinKeypoints  int     `toml:"min_keypoints"`
	WorkingSize   int     `toml:"working_size"`
	BlurKernel    int     `toml:"blur_kernel"`
	HashGrid      int     `toml:"hash_grid"`
	LocateOutline bool    `toml:"locate_outline"`
}

// Filter contains candidate shortlist settings.
type Filter struct {
	TopK            int `toml:"top_k"`
	MaxHashDistance int `toml:"max_hash_distance"`
}

// Verifier contains geometric verification thresholds.
type Verifier struct {
	RatioMargin        float64 `toml:"ratio_margin"`
	MinMatches         int     `toml:"min_matches"`
	MinInliers         int     `toml:"min_inliers"`
	ConfidentInliers   int     `toml:"confident_inliers"`
	ReprojThreshold    float64 `toml:"reproj_threshold"`
	RANSACIterations   int     `toml:"ransac_iterations"`
	Seed               int64   `toml:"seed"`
	MaxHammingDistance int     `toml:"max_hamming_distance"`
	MinOutlineArea     float64 `toml:"min_outline_area"`
}

// Pipeline contains per-invocation limits.
type Pipeline struct {
	BudgetMS int `toml:"budget_ms"`
}

// Scheduler contains worker pool sizing. Zero values pick defaults from GOMAXPROCS.
type Scheduler struct {
	Workers   int `toml:"workers"`
	QueueSize int `toml:"queue_size"`
}

// Watcher contains catalog hot-reload settings.
type Watcher struct {
	Enabled     bool `toml:"enabled"`
	PollSeconds int  `toml:"poll_seconds"`
}

// Ingest contains catalog build settings.
type Ingest struct {
	Concurrency int `toml:"concurrency"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for cardscan.
//
// Configuration sections by subsystem:
//   - Paths: catalog database, card images, manifest, logs
//   - Store: SQLite driver selection
//   - Extractor: keypoint detection and similarity hash
//   - Filter: hash shortlist size and cutoff
//   - Verifier: descriptor matching and homography thresholds
//   - Pipeline: per-frame time budget
//   - Scheduler: concurrent frame workers and queue depth
//   - Watcher: catalog hot reload
//   - Ingest: manifest ingest parallelism
//   - Logging: log format and level
type Config struct {
	Paths     Paths     `toml:"paths"`
	Store     Store     `toml:"store"`
	Extractor Extractor `toml:"extractor"`
	Filter    Filter    `toml:"filter"`
	Verifier  Verifier  `toml:"verifier"`
	Pipeline  Pipeline  `toml:"pipeline"`
	Scheduler Scheduler `toml:"scheduler"`
	Watcher   Watcher   `toml:"watcher"`
	Ingest    Ingest    `toml:"ingest"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("cardscan.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories the catalog database and logs live in.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{filepath.Dir(c.Paths.CatalogDB), c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// ExtractorParams returns the feature extractor settings.
func (c *Config) ExtractorParams() features.Params {
	p := features.DefaultParams()
	p.MaxFeatures = c.Extractor.MaxFeatures
	p.FastThreshold = c.Extractor.FastThreshold
	p.Octaves = c.Extractor.Octaves
	p.ScaleFactor = float32(c.Extractor.ScaleFactor)
	p.MinKeypoints = c.Extractor.MinKeypoints
	p.WorkingSize = c.Extractor.WorkingSize
	p.BlurKernel = c.Extractor.BlurKernel
	p.HashGrid = c.Extractor.HashGrid
	p.SkipOutline = !c.Extractor.LocateOutline
	return p
}

// VerifierParams returns the geometric verifier settings.
func (c *Config) VerifierParams() verify.Params {
	v := c.Verifier
	return verify.Params{
		RatioMargin:        v.RatioMargin,
		MinMatches:         v.MinMatches,
		MinInliers:         v.MinInliers,
		ConfidentInliers:   v.ConfidentInliers,
		ReprojThreshold:    v.ReprojThreshold,
		RANSACIterations:   v.RANSACIterations,
		Seed:               v.Seed,
		MaxHammingDistance: v.MaxHammingDistance,
		MinOutlineArea:     v.MinOutlineArea,
	}
}

// PipelineParams returns the identification pipeline settings.
func (c *Config) PipelineParams() identify.Params {
	return identify.Params{
		TopK:            c.Filter.TopK,
		MaxHashDistance: c.Filter.MaxHashDistance,
		Budget:          time.Duration(c.Pipeline.BudgetMS) * time.Millisecond,
	}
}

// SchedulerParams returns the worker pool settings.
func (c *Config) SchedulerParams() scheduler.Params {
	return scheduler.Params{Workers: c.Scheduler.Workers, QueueSize: c.Scheduler.QueueSize}
}

// PollInterval returns the catalog watcher poll period.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Watcher.PollSeconds) * time.Second
}
