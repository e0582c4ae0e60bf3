// Package config manages application configuration from environment variables,
// flags and the optional site file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix       = "BLOGMD_"
	defaultSiteFile = "site.yaml"
	defaultSiteName = "Blog"
	defaultKeyword  = "blog"
	defaultShareURL = "https://twitter.com/intent/tweet?url="
)

// Site describes the blog itself: what goes in page titles, feeds and meta tags.
type Site struct {
	Name          string `yaml:"name"`
	URL           string `yaml:"url"`
	Description   string `yaml:"description"`
	Author        string `yaml:"author"`
	ShareURL      string `yaml:"share_url"`
	KeywordPrefix string `yaml:"keyword_prefix"`
}

// Config holds runtime configuration for the blog server and exporter.
type Config struct {
	Site          Site
	RootDir       string
	SiteFile      string
	StaticOutput  string
	AssetsDir     string
	Port          int
	Watch         bool
	IncludeDrafts bool
	Verbose       bool
}

// Default returns ready-to-use defaults prior to env/flag overrides.
func Default() Config {
	return Config{
		RootDir:      ".",
		Port:         8080,
		Watch:        true,
		StaticOutput: "dist",
	}
}

// RegisterFlags attaches configuration flags to the provided FlagSet.
func RegisterFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVarP(&cfg.RootDir, "root", "r", cfg.RootDir, "directory containing markdown articles")
	fs.IntVarP(&cfg.Port, "port", "p", cfg.Port, "port to bind the HTTP server (0 = auto-assign)")
	fs.StringVar(&cfg.SiteFile, "site", cfg.SiteFile, "site settings file (default: <root>/site.yaml when present)")
	fs.StringVar(&cfg.StaticOutput, "out", cfg.StaticOutput, "default output directory for static export")
	fs.StringVar(&cfg.AssetsDir, "assets", cfg.AssetsDir, "serve assets from this directory instead of the embedded copy")
	fs.BoolVar(&cfg.Watch, "watch", cfg.Watch, "reload the catalog when markdown files change")
	fs.BoolVar(&cfg.IncludeDrafts, "drafts", cfg.IncludeDrafts, "include draft articles")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "enable verbose logging (HTTP requests)")

	fs.StringVar(&cfg.Site.Name, "site-name", cfg.Site.Name, "blog name used in page titles")
	fs.StringVar(&cfg.Site.URL, "base-url", cfg.Site.URL, "absolute site URL used in feeds, sitemaps and share links")
}

// ApplyEnvOverrides reads supported environment variables and overrides cfg in place.
func ApplyEnvOverrides(cfg *Config) {
	applyStringEnv("ROOT", func(v string) { cfg.RootDir = v })
	applyIntEnv("PORT", func(v int) { cfg.Port = v })
	applyStringEnv("SITE", func(v string) { cfg.SiteFile = v })
	applyStringEnv("OUT", func(v string) { cfg.StaticOutput = v })
	applyStringEnv("ASSETS", func(v string) { cfg.AssetsDir = v })
	applyBoolEnv("WATCH", func(v bool) { cfg.Watch = v })
	applyBoolEnv("DRAFTS", func(v bool) { cfg.IncludeDrafts = v })
	applyBoolEnv("VERBOSE", func(v bool) { cfg.Verbose = v })
	applyStringEnv("SITE_NAME", func(v string) { cfg.Site.Name = v })
	applyStringEnv("BASE_URL", func(v string) { cfg.Site.URL = v })
}

func applyStringEnv(key string, apply func(string)) {
	if raw, ok := lookupNonEmpty(key); ok {
		apply(raw)
	}
}

func applyIntEnv(key string, apply func(int)) {
	if raw, ok := lookupNonEmpty(key); ok {
		if value, err := strconv.Atoi(raw); err == nil {
			apply(value)
		}
	}
}

func applyBoolEnv(key string, apply func(bool)) {
	if raw, ok := lookupNonEmpty(key); ok {
		if value, err := strconv.ParseBool(raw); err == nil {
			apply(value)
		}
	}
}

func lookupNonEmpty(key string) (string, bool) {
	raw, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return "", false
	}
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", false
	}
	return value, true
}

// Finalize validates and normalizes paths, then fills unset site fields from
// the site file and built-in defaults. Flags and env win over the file.
func Finalize(cfg *Config) error {
	root, err := filepath.Abs(cfg.RootDir)
	if err != nil {
		return fmt.Errorf("resolve root directory: %w", err)
	}
	cfg.RootDir = root

	if cfg.Port < 0 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Port)
	}

	if cfg.StaticOutput == "" {
		cfg.StaticOutput = "dist"
	}

	if cfg.AssetsDir != "" {
		assets, err := filepath.Abs(cfg.AssetsDir)
		if err != nil {
			return fmt.Errorf("resolve assets directory: %w", err)
		}
		cfg.AssetsDir = assets
	}

	explicit := cfg.SiteFile != ""
	siteFile := cfg.SiteFile
	if !explicit {
		siteFile = filepath.Join(root, defaultSiteFile)
	}
	fromFile, err := LoadSite(siteFile)
	switch {
	case err == nil:
		cfg.SiteFile = siteFile
		cfg.Site = mergeSite(cfg.Site, fromFile)
	case errors.Is(err, os.ErrNotExist) && !explicit:
		cfg.SiteFile = ""
	default:
		return err
	}

	cfg.Site = mergeSite(cfg.Site, Site{
		Name:          defaultSiteName,
		ShareURL:      defaultShareURL,
		KeywordPrefix: defaultKeyword,
	})
	cfg.Site.URL = strings.TrimRight(cfg.Site.URL, "/")
	return nil
}

// LoadSite reads a YAML site file.
func LoadSite(path string) (Site, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return Site{}, fmt.Errorf("read site file: %w", err)
	}
	var site Site
	if err := yaml.Unmarshal(data, &site); err != nil {
		return Site{}, fmt.Errorf("parse site file %s: %w", path, err)
	}
	return site, nil
}

// mergeSite fills empty fields of dst from src.
func mergeSite(dst, src Site) Site {
	fill := func(v *string, fallback string) {
		if strings.TrimSpace(*v) == "" {
			*v = fallback
		}
	}
	fill(&dst.Name, src.Name)
	fill(&dst.URL, src.URL)
	fill(&dst.Description, src.Description)
	fill(&dst.Author, src.Author)
	fill(&dst.ShareURL, src.ShareURL)
	fill(&dst.KeywordPrefix, src.KeywordPrefix)
	return dst
}
