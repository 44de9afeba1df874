package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/minefleet/asicscan/pkg/discovery"
)

// credentialsConfig mirrors discovery.Credentials in the fleet file.
type credentialsConfig struct {
	AntMinerUser       string `yaml:"antminer_user"`
	AntMinerPassword   string `yaml:"antminer_password"`
	WhatsMinerUser     string `yaml:"whatsminer_user"`
	WhatsMinerPassword string `yaml:"whatsminer_password"`
	VNishPassword      string `yaml:"vnish_password"`
	BraiinsUser        string `yaml:"braiins_user"`
	BraiinsPassword    string `yaml:"braiins_password"`
}

// duration parses YAML values like "5s" or "250ms".
type duration time.Duration

func (d *duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", node.Value, err)
	}
	*d = duration(parsed)
	return nil
}

// fleetConfig is the optional YAML fleet file: default scan targets plus
// credentials, so operators do not repeat them on every invocation.
type fleetConfig struct {
	Subnets     []string          `yaml:"subnets"`
	Timeout     duration          `yaml:"timeout"`
	Concurrency int               `yaml:"concurrency"`
	Credentials credentialsConfig `yaml:"credentials"`
}

// loadConfig reads the fleet file and layers ASICSCAN_* environment
// variables on top. The env file is loaded first so it can supply those
// variables; a missing default .env is not an error, a missing explicit
// one is.
func loadConfig(path, envFile string) (*fleetConfig, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg := &fleetConfig{}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	applyEnv(&cfg.Credentials.AntMinerUser, "ASICSCAN_ANTMINER_USER")
	applyEnv(&cfg.Credentials.AntMinerPassword, "ASICSCAN_ANTMINER_PASSWORD")
	applyEnv(&cfg.Credentials.WhatsMinerUser, "ASICSCAN_WHATSMINER_USER")
	applyEnv(&cfg.Credentials.WhatsMinerPassword, "ASICSCAN_WHATSMINER_PASSWORD")
	applyEnv(&cfg.Credentials.VNishPassword, "ASICSCAN_VNISH_PASSWORD")
	applyEnv(&cfg.Credentials.BraiinsUser, "ASICSCAN_BRAIINS_USER")
	applyEnv(&cfg.Credentials.BraiinsPassword, "ASICSCAN_BRAIINS_PASSWORD")

	return cfg, nil
}

func (c *fleetConfig) credentials() discovery.Credentials {
	return discovery.Credentials{
		AntMinerUser:       c.Credentials.AntMinerUser,
		AntMinerPassword:   c.Credentials.AntMinerPassword,
		WhatsMinerUser:     c.Credentials.WhatsMinerUser,
		WhatsMinerPassword: c.Credentials.WhatsMinerPassword,
		VNishPassword:      c.Credentials.VNishPassword,
		BraiinsUser:        c.Credentials.BraiinsUser,
		BraiinsPassword:    c.Credentials.BraiinsPassword,
	}
}
