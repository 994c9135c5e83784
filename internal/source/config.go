package source

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	KindManual  = "manual"
	KindListing = "listing"
)

// FileConfig is the sources file that describes every configured origin.
type FileConfig struct {
	Origins []OriginConfig `yaml:"origins"`
}

type OriginConfig struct {
	ID       string `yaml:"id"`
	Kind     string `yaml:"kind"`
	Category string `yaml:"category"`
	Type     string `yaml:"type"`

	// Listing origins. ListingURL contains a {page} placeholder.
	ListingURL   string `yaml:"listing_url"`
	FirstPage    int    `yaml:"first_page"`
	MaxPages     int    `yaml:"max_pages"`
	LinkContains string `yaml:"link_contains"`

	// Manual origins.
	Documents []DocumentConfig `yaml:"documents"`
}

type DocumentConfig struct {
	URL     string `yaml:"url"`
	Title   string `yaml:"title"`
	Date    string `yaml:"date"`
	Type    string `yaml:"type"`
	Summary string `yaml:"summary"`
}

func LoadFile(path string) (*FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse sources file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *FileConfig) Validate() error {
	seen := make(map[string]bool, len(c.Origins))
	for i, o := range c.Origins {
		if o.ID == "" {
			return fmt.Errorf("origin %d: id is required", i)
		}
		if seen[o.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateOrigin, o.ID)
		}
		seen[o.ID] = true

		switch o.Kind {
		case KindManual:
			for j, d := range o.Documents {
				if d.URL == "" {
					return fmt.Errorf("origin %s: document %d has no url", o.ID, j)
				}
			}
		case KindListing:
			if o.ListingURL == "" {
				return fmt.Errorf("origin %s: listing_url is required", o.ID)
			}
		default:
			return fmt.Errorf("origin %s: unknown kind %q", o.ID, o.Kind)
		}
	}
	return nil
}
