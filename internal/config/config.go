package config

import (
	"fmt"
	"math"
	"runtime"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/grazing-cli/internal/classify"
)

// Config holds the full application configuration.
type Config struct {
	Paths      PathsConfig      `yaml:"paths" mapstructure:"paths"`
	Thresholds ThresholdsConfig `yaml:"thresholds" mapstructure:"thresholds"`
	LandCover  LandCoverConfig  `yaml:"land_cover" mapstructure:"land_cover"`
	Consensus  ConsensusConfig  `yaml:"consensus" mapstructure:"consensus"`
	Vectorize  VectorizeConfig  `yaml:"vectorize" mapstructure:"vectorize"`
	Pool       PoolConfig       `yaml:"pool" mapstructure:"pool"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`

	// File is the config file that was read, empty when none was found.
	File string `yaml:"-" mapstructure:"-"`
}

// PathsConfig locates every input and output of the pipeline.
type PathsConfig struct {
	WorkDir   string             `yaml:"work_dir" mapstructure:"work_dir"`
	Indices   IndexPaths         `yaml:"indices" mapstructure:"indices"`
	DEM       DEMPaths           `yaml:"dem" mapstructure:"dem"`
	LandCover LandCoverPaths     `yaml:"land_cover" mapstructure:"land_cover"`
	Farms     FarmPaths          `yaml:"farms" mapstructure:"farms"`
	Mosaics   MosaicPaths        `yaml:"mosaics" mapstructure:"mosaics"`
	Vectors   VectorOutputConfig `yaml:"vectors" mapstructure:"vectors"`
}

// IndexPaths holds the vegetation index directories.
type IndexPaths struct {
	NDVIDir       string `yaml:"ndvi_dir" mapstructure:"ndvi_dir"`
	SAVIDir       string `yaml:"savi_dir" mapstructure:"savi_dir"`
	NDVIActiveDir string `yaml:"ndvi_active_dir" mapstructure:"ndvi_active_dir"`
	SAVIActiveDir string `yaml:"savi_active_dir" mapstructure:"savi_active_dir"`
	FinalMaskDir  string `yaml:"final_mask_dir" mapstructure:"final_mask_dir"`
}

// DEMPaths holds the slope rasters.
type DEMPaths struct {
	SlopeDeg     string `yaml:"slope_deg" mapstructure:"slope_deg"`
	SlopeReclass string `yaml:"slope_reclass" mapstructure:"slope_reclass"`
}

// LandCoverPaths holds the land-cover rasters. Raw is optional; when it is
// empty Mask must already hold class codes.
type LandCoverPaths struct {
	Raw  string `yaml:"raw" mapstructure:"raw"`
	Mask string `yaml:"mask" mapstructure:"mask"`
}

// FarmPaths holds the farm boundary input and its rasterized form.
type FarmPaths struct {
	Shapefile string `yaml:"farm_shp" mapstructure:"farm_shp"`
	Mask      string `yaml:"farm_mask" mapstructure:"farm_mask"`
}

// MosaicPaths holds the assembled grazing masks.
type MosaicPaths struct {
	Grazing          string `yaml:"grazing_mosaic" mapstructure:"grazing_mosaic"`
	GrazingWithFarms string `yaml:"grazing_with_farms" mapstructure:"grazing_with_farms"`
}

// VectorOutputConfig holds the vectorizer outputs.
type VectorOutputConfig struct {
	Shapefile string `yaml:"shapefile" mapstructure:"shapefile"`
	GeoJSON   string `yaml:"geojson" mapstructure:"geojson"`
}

// ThresholdsConfig holds the per-raster qualification thresholds.
type ThresholdsConfig struct {
	NDVI         classify.Range     `yaml:"ndvi" mapstructure:"ndvi"`
	SAVI         classify.Range     `yaml:"savi" mapstructure:"savi"`
	SlopeReclass SlopeReclassConfig `yaml:"slope_reclass" mapstructure:"slope_reclass"`
}

// SlopeReclassConfig bounds the slope considered grazeable.
type SlopeReclassConfig struct {
	GentleMaxDeg float64 `yaml:"gentle_max_deg" mapstructure:"gentle_max_deg"`
}

// LandCoverConfig lists the land-cover codes compatible with grazing.
type LandCoverConfig struct {
	CompatibleCodes []int `yaml:"compatible_codes" mapstructure:"compatible_codes"`
}

// ConsensusConfig configures the tiled farm override pass.
type ConsensusConfig struct {
	WindowSize         int  `yaml:"window_size" mapstructure:"window_size"`
	EnforceFarmAsClass int  `yaml:"enforce_farm_as_class" mapstructure:"enforce_farm_as_class"`
	KeepArtifacts      bool `yaml:"keep_artifacts" mapstructure:"keep_artifacts"`
}

// VectorizeConfig configures polygon extraction and filtering.
type VectorizeConfig struct {
	TargetClass        int     `yaml:"target_class" mapstructure:"target_class"`
	MinPixels          int     `yaml:"min_pixels" mapstructure:"min_pixels"`
	MinHa              float64 `yaml:"min_ha" mapstructure:"min_ha"`
	MaxHa              float64 `yaml:"max_ha" mapstructure:"max_ha"`
	SimplifyToleranceM float64 `yaml:"simplify_tolerance_m" mapstructure:"simplify_tolerance_m"`
	MinCompactness     float64 `yaml:"min_compactness" mapstructure:"min_compactness"`
	MinConvexity       float64 `yaml:"min_convexity" mapstructure:"min_convexity"`
	MaxElongation      float64 `yaml:"max_elongation" mapstructure:"max_elongation"`
}

// PoolConfig sizes the bounded executors.
type PoolConfig struct {
	MaxWorkers      int `yaml:"max_workers" mapstructure:"max_workers"`
	ClassifyWorkers int `yaml:"classify_workers" mapstructure:"classify_workers"`
}

// StoreConfig configures the run ledger backend. Driver "none" disables it.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// Enabled reports whether a ledger backend is configured.
func (s StoreConfig) Enabled() bool { return s.Driver != "" && s.Driver != "none" }

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment. An empty path looks
// for config.yaml in the working directory; a missing default file is not
// an error, a missing explicit file is.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("GRAZING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	cfg.File = v.ConfigFileUsed()
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("paths.work_dir", "data/work")
	v.SetDefault("paths.indices.ndvi_dir", "data/indices/ndvi")
	v.SetDefault("paths.indices.savi_dir", "data/indices/savi")
	v.SetDefault("paths.indices.ndvi_active_dir", "data/indices/ndvi_active")
	v.SetDefault("paths.indices.savi_active_dir", "data/indices/savi_active")
	v.SetDefault("paths.indices.final_mask_dir", "data/indices/final_mask")
	v.SetDefault("paths.dem.slope_deg", "data/dem/slope_deg.tif")
	v.SetDefault("paths.dem.slope_reclass", "data/dem/slope_reclass.tif")
	v.SetDefault("paths.land_cover.mask", "data/land_cover/land_cover_mask.tif")
	v.SetDefault("paths.farms.farm_mask", "data/farms/farm_mask.tif")
	v.SetDefault("paths.mosaics.grazing_mosaic", "data/mosaics/grazing_mosaic.tif")
	v.SetDefault("paths.mosaics.grazing_with_farms", "data/mosaics/grazing_with_farms.tif")
	v.SetDefault("paths.vectors.shapefile", "data/vectors/grazing_patches.shp")
	v.SetDefault("paths.vectors.geojson", "data/vectors/grazing_patches.geojson")

	v.SetDefault("thresholds.ndvi.min", 0.2)
	v.SetDefault("thresholds.ndvi.max", 0.8)
	v.SetDefault("thresholds.savi.min", 0.15)
	v.SetDefault("thresholds.savi.max", 0.6)
	v.SetDefault("thresholds.slope_reclass.gentle_max_deg", 15.0)
	// grassland/pasture, other hay, shrubland
	v.SetDefault("land_cover.compatible_codes", []int{37, 152, 176})

	v.SetDefault("consensus.window_size", 4096)
	v.SetDefault("consensus.enforce_farm_as_class", 2)
	v.SetDefault("consensus.keep_artifacts", false)

	v.SetDefault("vectorize.target_class", 1)
	v.SetDefault("vectorize.min_pixels", 100)
	v.SetDefault("vectorize.min_ha", 2.0)
	v.SetDefault("vectorize.max_ha", 500.0)
	v.SetDefault("vectorize.simplify_tolerance_m", 10.0)

	v.SetDefault("pool.max_workers", 32)
	v.SetDefault("pool.classify_workers", runtime.NumCPU())

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "data/grazing.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks every tunable once. All problems are reported together,
// each naming its key.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if c.Consensus.WindowSize <= 0 {
		add("consensus.window_size must be > 0")
	}
	if c.Consensus.EnforceFarmAsClass < 0 || c.Consensus.EnforceFarmAsClass > math.MaxUint8 {
		add("consensus.enforce_farm_as_class must be between 0 and 255")
	}
	if c.Pool.MaxWorkers <= 0 {
		add("pool.max_workers must be > 0")
	}
	if c.Pool.ClassifyWorkers <= 0 {
		add("pool.classify_workers must be > 0")
	}
	if err := c.Thresholds.NDVI.Validate(); err != nil {
		add("thresholds.ndvi: %v", err)
	}
	if err := c.Thresholds.SAVI.Validate(); err != nil {
		add("thresholds.savi: %v", err)
	}
	if c.Thresholds.SlopeReclass.GentleMaxDeg < 0 {
		add("thresholds.slope_reclass.gentle_max_deg must be >= 0")
	}
	if c.Paths.LandCover.Raw != "" && len(c.LandCover.CompatibleCodes) == 0 {
		add("land_cover.compatible_codes is required when paths.land_cover.raw is set")
	}

	vc := c.Vectorize
	if vc.TargetClass != 1 && vc.TargetClass != 2 {
		add("vectorize.target_class must be 1 or 2")
	}
	if vc.MinPixels < 1 {
		add("vectorize.min_pixels must be >= 1")
	}
	if vc.MinHa < 0 || vc.MaxHa < vc.MinHa {
		add("vectorize.min_ha/max_ha must satisfy 0 <= min_ha <= max_ha")
	}
	if vc.SimplifyToleranceM < 0 {
		add("vectorize.simplify_tolerance_m must be >= 0")
	}
	if vc.MinCompactness < 0 || vc.MinCompactness > 1 {
		add("vectorize.min_compactness must be between 0 and 1")
	}
	if vc.MinConvexity < 0 || vc.MinConvexity > 1 {
		add("vectorize.min_convexity must be between 0 and 1")
	}
	if vc.MaxElongation < 0 {
		add("vectorize.max_elongation must be >= 0")
	}

	switch c.Store.Driver {
	case "", "none":
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			add("store.database_url is required for driver %s", c.Store.Driver)
		}
	default:
		add("store.driver %q is not one of sqlite, postgres, none", c.Store.Driver)
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		add("log.level %q is not a valid level", c.Log.Level)
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		add("log.format must be json or console")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
