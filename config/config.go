/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	storeerrors "github.com/suparena/userstore/errors"
)

// Supported store backends
const (
	BackendDynamoDB = "dynamodb"
	BackendMongoDB  = "mongodb"
	BackendMemory   = "memory"
)

// DynamoDBConfig holds the DynamoDB connection settings
type DynamoDBConfig struct {
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Region    string `yaml:"region"`
	Table     string `yaml:"table"`
	Endpoint  string `yaml:"endpoint,omitempty"`
}

// MongoDBConfig holds the MongoDB connection settings
type MongoDBConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// LogConfig selects the logger flavour and level
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Config is the userstore configuration
type Config struct {
	Backend                string         `yaml:"backend"`
	Collection             string         `yaml:"collection"`
	PoolSize               int            `yaml:"poolSize"`
	MaxTransactionAttempts int            `yaml:"maxTransactionAttempts"`
	DynamoDB               DynamoDBConfig `yaml:"dynamodb"`
	MongoDB                MongoDBConfig  `yaml:"mongodb"`
	Log                    LogConfig      `yaml:"log"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		Backend:                BackendMemory,
		Collection:             "users",
		MaxTransactionAttempts: 5,
		MongoDB:                MongoDBConfig{Database: "userstore"},
		Log:                    LogConfig{Level: "info"},
	}
}

// LoadFromFile loads a configuration from a YAML file over the defaults
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Load builds the configuration from, in increasing precedence: defaults, the
// YAML file at path (skipped when path is empty), a .env file in the working
// directory, and the process environment. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	cfg.ApplyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment variables lookup reports.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	set("USERSTORE_BACKEND", &c.Backend)
	set("USERSTORE_COLLECTION", &c.Collection)
	set("USERSTORE_LOG_LEVEL", &c.Log.Level)
	set("AWS_ACCESS_KEY", &c.DynamoDB.AccessKey)
	set("AWS_SECRET_KEY", &c.DynamoDB.SecretKey)
	set("AWS_REGION", &c.DynamoDB.Region)
	set("AWS_DDB_TABLE", &c.DynamoDB.Table)
	set("AWS_DDB_ENDPOINT", &c.DynamoDB.Endpoint)
	set("MONGODB_URI", &c.MongoDB.URI)
	set("MONGODB_DATABASE", &c.MongoDB.Database)

	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
}

// Validate checks that the selected backend has what it needs.
func (c *Config) Validate() error {
	if c.Collection == "" {
		return storeerrors.NewValidationError("collection", "collection name is required")
	}

	switch c.Backend {
	case BackendDynamoDB:
		if c.DynamoDB.Table == "" {
			return storeerrors.NewValidationError("dynamodb.table", "table name is required (AWS_DDB_TABLE)")
		}
		if c.DynamoDB.Region == "" {
			return storeerrors.NewValidationError("dynamodb.region", "region is required (AWS_REGION)")
		}
		if (c.DynamoDB.AccessKey == "") != (c.DynamoDB.SecretKey == "") {
			return storeerrors.NewValidationError("dynamodb.accessKey", "access key and secret key must be set together")
		}
	case BackendMongoDB:
		if c.MongoDB.URI == "" {
			return storeerrors.NewValidationError("mongodb.uri", "connection URI is required (MONGODB_URI)")
		}
		if c.MongoDB.Database == "" {
			return storeerrors.NewValidationError("mongodb.database", "database name is required (MONGODB_DATABASE)")
		}
	case BackendMemory:
	default:
		return storeerrors.NewValidationError("backend",
			fmt.Sprintf("unknown backend %q, want one of %s, %s, %s", c.Backend, BackendDynamoDB, BackendMongoDB, BackendMemory))
	}
	return nil
}
