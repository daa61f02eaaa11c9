/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	storeerrors "github.com/suparena/userstore/errors"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "userstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend: dynamodb
collection: people
poolSize: 8
dynamodb:
  region: eu-west-1
  table: people-table
log:
  level: debug
`), 0o600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, BackendDynamoDB, cfg.Backend)
	assert.Equal(t, "people", cfg.Collection)
	assert.Equal(t, 8, cfg.PoolSize)
	assert.Equal(t, "people-table", cfg.DynamoDB.Table)
	assert.Equal(t, "debug", cfg.Log.Level)
	// untouched defaults survive
	assert.Equal(t, 5, cfg.MaxTransactionAttempts)
	assert.Equal(t, "userstore", cfg.MongoDB.Database)
	require.NoError(t, cfg.Validate())

	_, err = LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	cfg.ApplyEnv(lookupFrom(map[string]string{
		"USERSTORE_BACKEND": " MongoDB ",
		"MONGODB_URI":       "mongodb://localhost:27017/?replicaSet=rs0",
		"AWS_REGION":        "",
	}))

	assert.Equal(t, BackendMongoDB, cfg.Backend)
	assert.Equal(t, "mongodb://localhost:27017/?replicaSet=rs0", cfg.MongoDB.URI)
	assert.Equal(t, "", cfg.DynamoDB.Region, "empty values do not override")
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"MemoryDefaults", func(*Config) {}, ""},
		{"UnknownBackend", func(c *Config) { c.Backend = "firestore" }, "backend"},
		{"MissingCollection", func(c *Config) { c.Collection = "" }, "collection"},
		{"DynamoWithoutTable", func(c *Config) {
			c.Backend = BackendDynamoDB
			c.DynamoDB.Region = "us-east-1"
		}, "dynamodb.table"},
		{"DynamoHalfCredentials", func(c *Config) {
			c.Backend = BackendDynamoDB
			c.DynamoDB = DynamoDBConfig{Region: "us-east-1", Table: "t", AccessKey: "AKIA"}
		}, "dynamodb.accessKey"},
		{"MongoWithoutURI", func(c *Config) { c.Backend = BackendMongoDB }, "mongodb.uri"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var ve *storeerrors.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(LogConfig{Level: "warn"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	logger, err = NewLogger(LogConfig{Development: true})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))

	_, err = NewLogger(LogConfig{Level: "loud"})
	assert.Error(t, err)
}
