package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DBPath           string
	DatabaseURL      string
	LogLevel         string
	LogFile          string
	LogMaxMB         int
	SitesDir         string
	SiteConcurrency  int
	QualityThreshold float64
	Fetch            FetchConfig
	Normalize        NormalizeConfig
	Export           ExportConfig
	Geocoder         GeocoderConfig
	Sites            map[string]*SiteConfig
}

type FetchConfig struct {
	Timeout   time.Duration
	Headless  bool
	ProxyURL  string
	UserAgent string
}

// NormalizeConfig controls price and count parsing. Rates maps an ISO code to
// the number of canonical units one unit of that currency is worth.
type NormalizeConfig struct {
	CanonicalCurrency string
	Rates             map[string]decimal.Decimal
	MaxBedrooms       int
	MaxBathrooms      int
	MaxToilets        int
}

type ExportConfig struct {
	Dir string
	S3  S3Config
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // optional, for DO Spaces, R2, MinIO
	AccessKeyID     string
	SecretAccessKey string
}

func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

type GeocoderConfig struct {
	URL   string
	Email string
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

func Load() (*Config, error) {
	_ = godotenv.Load()

	rates, err := parseRates(os.Getenv("FX_RATES"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DBPath:           getEnv("DB_PATH", "scraper.db"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFile:          getEnv("LOG_FILE", "scraper.log"),
		LogMaxMB:         getEnvInt("LOG_MAX_MB", 2),
		SitesDir:         getEnv("SITES_DIR", "config/sites"),
		SiteConcurrency:  getEnvInt("SITE_CONCURRENCY", 2),
		QualityThreshold: getEnvFloat("QUALITY_THRESHOLD", 0.3),
		Fetch: FetchConfig{
			Timeout:   getEnvDuration("FETCH_TIMEOUT", 30*time.Second),
			Headless:  getEnv("HEADLESS", "true") == "true",
			ProxyURL:  os.Getenv("PROXY_URL"),
			UserAgent: getEnv("USER_AGENT", defaultUserAgent),
		},
		Normalize: NormalizeConfig{
			CanonicalCurrency: strings.ToUpper(getEnv("CANONICAL_CURRENCY", "NGN")),
			Rates:             rates,
			MaxBedrooms:       getEnvInt("MAX_BEDROOMS", 20),
			MaxBathrooms:      getEnvInt("MAX_BATHROOMS", 20),
			MaxToilets:        getEnvInt("MAX_TOILETS", 20),
		},
		Export: ExportConfig{
			Dir: getEnv("EXPORT_DIR", "exports"),
			S3: S3Config{
				Bucket:          os.Getenv("S3_BUCKET"),
				Region:          getEnv("S3_REGION", "us-east-1"),
				Endpoint:        os.Getenv("S3_ENDPOINT"),
				AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
				SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
			},
		},
		Geocoder: GeocoderConfig{
			URL:   getEnv("GEOCODER_URL", "https://nominatim.openstreetmap.org"),
			Email: os.Getenv("GEOCODER_EMAIL"),
		},
		Sites: make(map[string]*SiteConfig),
	}

	if err := cfg.loadSiteConfigs(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadSiteConfigs() error {
	entries, err := os.ReadDir(c.SitesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read sites dir: %w", err)
	}

	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}

		site, err := LoadSiteFile(filepath.Join(c.SitesDir, entry.Name()))
		if err != nil {
			return err
		}
		if _, dup := c.Sites[site.ID]; dup {
			return fmt.Errorf("duplicate site id %q in %s", site.ID, entry.Name())
		}
		c.Sites[site.ID] = site
	}

	return nil
}

// LoadSiteFile parses one site YAML file and applies defaults. It does not
// validate selectors; that happens per run so one broken site cannot stop
// the others from loading.
func LoadSiteFile(path string) (*SiteConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read site config: %w", err)
	}

	var site SiteConfig
	if err := yaml.Unmarshal(data, &site); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	if site.ID == "" {
		site.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	site.withDefaults()
	return &site, nil
}

// SiteIDs returns configured site ids in a stable order.
func (c *Config) SiteIDs() []string {
	ids := make([]string, 0, len(c.Sites))
	for id := range c.Sites {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// parseRates reads "USD=1550,GBP=1950".
func parseRates(s string) (map[string]decimal.Decimal, error) {
	rates := make(map[string]decimal.Decimal)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		code, val, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("invalid FX_RATES entry %q", part)
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(val))
		if err != nil || !rate.IsPositive() {
			return nil, fmt.Errorf("invalid FX_RATES rate for %s: %q", code, val)
		}
		rates[strings.ToUpper(strings.TrimSpace(code))] = rate
	}
	return rates, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
