/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package userstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/suparena/userstore/config"
	"github.com/suparena/userstore/datastore"
	"github.com/suparena/userstore/datastore/ddb"
	"github.com/suparena/userstore/datastore/mock"
	"github.com/suparena/userstore/datastore/mongodb"
	"github.com/suparena/userstore/storagemodels"
)

// CloseFunc releases the connections held by a store
type CloseFunc func(ctx context.Context) error

// Open connects the backend selected by cfg and returns a users store.
// The memory backend keeps documents in process and needs no connection.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (datastore.DataStore[storagemodels.User], CloseFunc, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("backend", cfg.Backend), zap.String("collection", cfg.Collection))
	noop := func(context.Context) error { return nil }

	switch cfg.Backend {
	case config.BackendDynamoDB:
		client, err := ddb.NewDynamoDBClient(ctx, cfg.DynamoDB.AccessKey, cfg.DynamoDB.SecretKey, cfg.DynamoDB.Region, cfg.DynamoDB.Endpoint)
		if err != nil {
			return nil, nil, err
		}
		store, err := ddb.NewDynamodbDataStore[storagemodels.User](client, cfg.DynamoDB.Table, cfg.Collection,
			ddb.WithMaxTransactionAttempts(cfg.MaxTransactionAttempts),
			ddb.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		logger.Info("opened store", zap.String("table", cfg.DynamoDB.Table), zap.String("region", cfg.DynamoDB.Region))
		return store, noop, nil

	case config.BackendMongoDB:
		client, err := mongodb.Connect(ctx, cfg.MongoDB.URI)
		if err != nil {
			return nil, nil, err
		}
		store, err := mongodb.NewMongoDataStore[storagemodels.User](client, cfg.MongoDB.Database, cfg.Collection,
			mongodb.WithMaxTransactionAttempts(cfg.MaxTransactionAttempts),
			mongodb.WithLogger(logger))
		if err != nil {
			_ = client.Disconnect(ctx)
			return nil, nil, err
		}
		logger.Info("opened store", zap.String("database", cfg.MongoDB.Database))
		return store, client.Disconnect, nil

	case config.BackendMemory:
		logger.Info("opened in-memory store")
		return mock.New[storagemodels.User](cfg.Collection).WithMaxAttempts(cfg.MaxTransactionAttempts), noop, nil
	}
	return nil, nil, fmt.Errorf("unsupported backend %q", cfg.Backend)
}
