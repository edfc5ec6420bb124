package config

import (
	"cardscan/internal/features"
	"cardscan/internal/identify"
	"cardscan/internal/ingest"
	"cardscan/internal/store"
	"cardscan/internal/verify"
)

const (
	defaultConfigPath  = "~/.config/cardscan/config.toml"
	defaultCatalogDB   = "~/.local/share/cardscan/catalog.db"
	defaultImagesDir   = "~/.local/share/cardscan/images"
	defaultLogDir      = "~/.local/share/cardscan/logs"
	defaultLogFormat   = "console"
	defaultLogLevel    = "info"
	defaultPollSeconds = 5
	catalogEnvVar      = "CARDSCAN_CATALOG"
	imagesEnvVar       = "CARDSCAN_IMAGES"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	fp := features.DefaultParams()
	vp := verify.DefaultParams()
	ip := identify.DefaultParams()
	return Config{
		Paths: Paths{
			CatalogDB: defaultCatalogDB,
			ImagesDir: defaultImagesDir,
			LogDir:    defaultLogDir,
		},
		Store: Store{Driver: store.DriverModernc},
		Extractor: Extractor{
			MaxFeatures:   fp.MaxFeatures,
			FastThreshold: fp.FastThreshold,
			Octaves:       fp.Octaves,
			ScaleFactor:   float64(fp.ScaleFactor),
			MinKeypoints:  fp.MinKeypoints,
			WorkingSize:   fp.WorkingSize,
			BlurKernel:    fp.BlurKernel,
			HashGrid:      fp.HashGrid,
			LocateOutline: !fp.SkipOutline,
		},
		Filter: Filter{
			TopK:            ip.TopK,
			MaxHashDistance: ip.MaxHashDistance,
		},
		Verifier: Verifier{
			RatioMargin:        vp.RatioMargin,
			MinMatches:         vp.MinMatches,
			MinInliers:         vp.MinInliers,
			ConfidentInliers:   vp.ConfidentInliers,
			ReprojThreshold:    vp.ReprojThreshold,
			RANSACIterations:   vp.RANSACIterations,
			Seed:               vp.Seed,
			MaxHammingDistance: vp.MaxHammingDistance,
			MinOutlineArea:     vp.MinOutlineArea,
		},
		Pipeline: Pipeline{BudgetMS: int(ip.Budget.Milliseconds())},
		Watcher: Watcher{
			Enabled:     true,
			PollSeconds: defaultPollSeconds,
		},
		Ingest: Ingest{Concurrency: ingest.DefaultConcurrency},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
