package assets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

type assetsFile struct {
	Assets []Asset `yaml:"assets"`
}

// LoadFile builds a catalog from a YAML file. Entries override the built-in
// assets with the same symbol; a missing file yields the defaults.
func LoadFile(assetsFile string) (*Catalog, error) {
	var assetsPath string
	if filepath.IsAbs(assetsFile) {
		assetsPath = assetsFile
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		assetsPath = filepath.Join(wd, assetsFile)
	}

	data, err := os.ReadFile(assetsPath)
	if errors.Is(err, os.ErrNotExist) {
		zap.L().Info("No asset file found, using built-in catalog", zap.String("path", assetsPath))
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", assetsFile, err)
	}

	return Parse(data)
}

// Parse builds a catalog from YAML bytes merged over the defaults.
func Parse(data []byte) (*Catalog, error) {
	var cfg assetsFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unable to parse asset file: %w", err)
	}

	merged := make([]Asset, 0, len(defaultAssets)+len(cfg.Assets))
	index := map[string]int{}
	for _, a := range defaultAssets {
		index[a.Symbol] = len(merged)
		merged = append(merged, a)
	}
	for _, a := range cfg.Assets {
		a.Symbol = normalize(a.Symbol)
		if i, ok := index[a.Symbol]; ok {
			merged[i] = a
			continue
		}
		index[a.Symbol] = len(merged)
		merged = append(merged, a)
	}

	return New(merged)
}
