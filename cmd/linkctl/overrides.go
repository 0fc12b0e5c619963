package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/boardlink/internal/config"
)

// overrideFile is a partial boardlink.toml. Only keys present in the file
// replace values in the base config.
type overrideFile struct {
	ClientID string `toml:"client_id"`
	Server   struct {
		Host      string `toml:"host"`
		Port      int    `toml:"port"`
		Transport string `toml:"transport"`
	} `toml:"server"`
	Identity struct {
		Username string `toml:"username"`
		UserID   string `toml:"user_id"`
		Password string `toml:"password"`
	} `toml:"identity"`
	Status struct {
		Addr  string `toml:"addr"`
		Token string `toml:"token"`
	} `toml:"status"`
	Log struct {
		Level string `toml:"level"`
	} `toml:"log"`
}

func applyOverrides(cfg config.ClientConfig, path string) (config.ClientConfig, error) {
	var raw overrideFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config.ClientConfig{}, fmt.Errorf("load overrides: %w", err)
	}

	if meta.IsDefined("client_id") {
		if id := strings.TrimSpace(raw.ClientID); id != "" {
			cfg.ClientID = id
		}
	}
	if meta.IsDefined("server", "host") {
		cfg.Server.Host = strings.TrimSpace(raw.Server.Host)
	}
	if meta.IsDefined("server", "port") {
		cfg.Server.Port = raw.Server.Port
	}
	if meta.IsDefined("server", "transport") {
		cfg.Server.Transport = strings.TrimSpace(raw.Server.Transport)
	}
	if meta.IsDefined("identity", "username") {
		cfg.Identity.Username = strings.TrimSpace(raw.Identity.Username)
	}
	if meta.IsDefined("identity", "user_id") {
		cfg.Identity.UserID = strings.TrimSpace(raw.Identity.UserID)
	}
	if meta.IsDefined("identity", "password") {
		cfg.Identity.Password = raw.Identity.Password
	}
	if meta.IsDefined("status", "addr") {
		cfg.Status.Addr = strings.TrimSpace(raw.Status.Addr)
	}
	if meta.IsDefined("status", "token") {
		cfg.Status.Token = raw.Status.Token
	}
	if meta.IsDefined("log", "level") {
		cfg.Log.Level = strings.TrimSpace(raw.Log.Level)
	}

	if err := config.ValidateClientConfig(cfg); err != nil {
		return config.ClientConfig{}, fmt.Errorf("overrides: %w", err)
	}
	return cfg, nil
}
