package main

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dkoval/phaserun/internal/config"
	"github.com/dkoval/phaserun/internal/db"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

func openDB() (*sql.DB, string, func(), error) {
	repoRoot, err := os.Getwd()
	if err != nil {
		return nil, "", func() {}, err
	}
	stateDir := filepath.Join(repoRoot, ".phaserun")
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, "", func() {}, err
	}
	dbPath := filepath.Join(stateDir, "phaserun.db")
	storeDB, err := db.Open(dbPath)
	if err != nil {
		return nil, "", func() {}, err
	}
	return storeDB, repoRoot, func() { _ = storeDB.Close() }, nil
}

func loadConfig(repoRoot string) (config.Config, error) {
	path := viper.GetString("config")
	if path == "" {
		path = filepath.Join(".phaserun", "config.json")
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(repoRoot, path)
	}
	viper.SetConfigFile(path)
	viper.SetConfigType("json")
	if err := viper.ReadInConfig(); err != nil {
		var notFound *os.PathError
		if errors.As(err, &notFound) {
			// No config file means defaults apply.
			return config.Default(), nil
		}
		return config.Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := config.ValidateSettings(viper.AllSettings()); err != nil {
		return config.Config{}, err
	}
	cfg := config.Default()
	decode := viper.DecodeHook(mapstructure.StringToTimeDurationHookFunc())
	if err := viper.Unmarshal(&cfg, decode); err != nil {
		return config.Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
