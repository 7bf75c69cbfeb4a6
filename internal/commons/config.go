package commons

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"

	"livraison/internal/config"
)

// LoadConfig loads .env (if present) into the process environment and then
// the YAML file at path with environment overrides on top.
func LoadConfig(path string) (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading .env: %w", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}
