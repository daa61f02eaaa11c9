/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/suparena/userstore/datastore"
	storeerrors "github.com/suparena/userstore/errors"
	"github.com/suparena/userstore/storagemodels"
)

// MongoDataStore implements datastore.DataStore[T] on one MongoDB collection.
// Transactions and batches need a replica set or sharded cluster.
type MongoDataStore[T any] struct {
	client      *mongo.Client
	col         *mongo.Collection
	collection  string
	maxAttempts int
	idFunc      func() string
	logger      *zap.Logger
}

var _ datastore.DataStore[storagemodels.User] = (*MongoDataStore[storagemodels.User])(nil)

// Options configures a MongoDataStore
type Options struct {
	// MaxTransactionAttempts bounds how often a transaction body is run.
	MaxTransactionAttempts int
	IDFunc                 func() string
	Logger                 *zap.Logger
}

// Option mutates Options
type Option func(*Options)

// WithMaxTransactionAttempts sets how many times a transaction body may run
func WithMaxTransactionAttempts(n int) Option {
	return func(o *Options) {
		o.MaxTransactionAttempts = n
	}
}

// WithIDFunc sets the identifier generator
func WithIDFunc(f func() string) Option {
	return func(o *Options) {
		o.IDFunc = f
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// Connect opens a client for uri and verifies the deployment is reachable.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client, nil
}

// NewMongoDataStore binds collection of database to type T.
func NewMongoDataStore[T any](client *mongo.Client, database, collection string, opts ...Option) (*MongoDataStore[T], error) {
	if client == nil {
		return nil, storeerrors.NewValidationError("client", "MongoDB client is required")
	}
	if database == "" {
		return nil, storeerrors.NewValidationError("database", "database name is required")
	}
	if collection == "" {
		return nil, storeerrors.NewValidationError("collection", "collection name is required")
	}

	settings := Options{
		MaxTransactionAttempts: 5,
		IDFunc:                 uuid.NewString,
		Logger:                 zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&settings)
	}
	if settings.MaxTransactionAttempts < 1 {
		settings.MaxTransactionAttempts = 1
	}

	return &MongoDataStore[T]{
		client:      client,
		col:         client.Database(database).Collection(collection),
		collection:  collection,
		maxAttempts: settings.MaxTransactionAttempts,
		idFunc:      settings.IDFunc,
		logger:      settings.Logger.With(zap.String("database", database), zap.String("collection", collection)),
	}, nil
}

// Collection returns the bound collection name
func (m *MongoDataStore[T]) Collection() string {
	return m.collection
}

// documentMeta holds the store-maintained fields of every document.
type documentMeta struct {
	ID        string    `bson:"_id"`
	Revision  int64     `bson:"_rev"`
	UpdatedAt time.Time `bson:"_updatedAt"`
}

// Add inserts entity under a new identifier
func (m *MongoDataStore[T]) Add(ctx context.Context, entity T) (string, error) {
	raw, err := bson.Marshal(entity)
	if err != nil {
		return "", fmt.Errorf("failed to marshal entity: %w", err)
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return "", fmt.Errorf("failed to marshal entity: %w", err)
	}

	id := m.idFunc()
	doc[storagemodels.AttrID] = id
	doc[storagemodels.AttrRevision] = int64(1)
	doc[storagemodels.AttrUpdatedAt] = time.Now().UTC()

	if _, err := m.col.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", storeerrors.NewAlreadyExistsError(m.collection, id)
		}
		return "", storeerrors.NewRemoteError("InsertOne", err)
	}

	m.logger.Debug("document added", zap.String("id", id))
	return id, nil
}

// GetOne reads document id
func (m *MongoDataStore[T]) GetOne(ctx context.Context, id string) (*storagemodels.Snapshot[T], error) {
	snap, _, err := m.findOne(ctx, id)
	return snap, err
}

func (m *MongoDataStore[T]) findOne(ctx context.Context, id string) (*storagemodels.Snapshot[T], int64, error) {
	var raw bson.Raw
	if err := m.col.FindOne(ctx, bson.M{storagemodels.AttrID: id}).Decode(&raw); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, 0, storeerrors.NewNotFoundError(m.collection, id)
		}
		return nil, 0, storeerrors.NewRemoteError("FindOne", err)
	}
	return decode[T](raw)
}

func decode[T any](raw bson.Raw) (*storagemodels.Snapshot[T], int64, error) {
	var meta documentMeta
	if err := bson.Unmarshal(raw, &meta); err != nil {
		return nil, 0, fmt.Errorf("failed to decode document metadata: %w", err)
	}
	snap := &storagemodels.Snapshot[T]{
		ID:         meta.ID,
		UpdateTime: strfmt.DateTime(meta.UpdatedAt),
	}
	if err := bson.Unmarshal(raw, &snap.Data); err != nil {
		return nil, 0, fmt.Errorf("failed to decode document %q: %w", meta.ID, err)
	}
	return snap, meta.Revision, nil
}

// Merge sets the given fields on document id, creating it when missing.
func (m *MongoDataStore[T]) Merge(ctx context.Context, id string, updates storagemodels.Patch) error {
	update, err := buildUpdate(updates)
	if err != nil {
		return err
	}
	_, err = m.col.UpdateOne(ctx, bson.M{storagemodels.AttrID: id}, update, options.Update().SetUpsert(true))
	if err != nil {
		return storeerrors.NewRemoteError("UpdateOne", err)
	}
	m.logger.Debug("document merged", zap.String("id", id), zap.Strings("fields", updates.Fields()))
	return nil
}

// Delete removes document id. Deleting a missing document succeeds.
func (m *MongoDataStore[T]) Delete(ctx context.Context, id string) error {
	if _, err := m.col.DeleteOne(ctx, bson.M{storagemodels.AttrID: id}); err != nil {
		return storeerrors.NewRemoteError("DeleteOne", err)
	}
	m.logger.Debug("document deleted", zap.String("id", id))
	return nil
}

// buildUpdate turns a patch into a $set of its fields plus the timestamp and
// a $inc of the revision, so an empty patch is still a write.
func buildUpdate(updates storagemodels.Patch) (bson.M, error) {
	set := bson.M{storagemodels.AttrUpdatedAt: time.Now().UTC()}
	for field, value := range updates {
		if strings.HasPrefix(field, "_") || strings.HasPrefix(field, "$") {
			return nil, storeerrors.NewValidationError(field, "reserved field name")
		}
		set[field] = value
	}
	return bson.M{
		"$set": set,
		"$inc": bson.M{storagemodels.AttrRevision: int64(1)},
	}, nil
}
