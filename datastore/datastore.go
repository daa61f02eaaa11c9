/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package datastore

import (
	"context"

	"github.com/suparena/userstore/storagemodels"
)

// DataStore is a handle on one named collection of documents of type T.
type DataStore[T any] interface {
	// Collection returns the name of the bound collection.
	Collection() string

	// Add inserts entity under a new store-assigned identifier and returns it.
	Add(ctx context.Context, entity T) (string, error)

	// GetOne reads the document with the given identifier.
	GetOne(ctx context.Context, id string) (*storagemodels.Snapshot[T], error)

	// Merge writes the given fields into document id, creating it when missing.
	// Fields not named in updates keep their values. Empty updates are a legal write.
	Merge(ctx context.Context, id string, updates storagemodels.Patch) error

	// Delete removes document id. Deleting a missing document is not an error.
	Delete(ctx context.Context, id string) error

	// Query executes q and materializes every matching document.
	Query(ctx context.Context, q *storagemodels.Query) ([]storagemodels.Snapshot[T], error)

	// Stream executes q and delivers matching documents page by page.
	Stream(ctx context.Context, q *storagemodels.Query, opts ...storagemodels.StreamOption) <-chan storagemodels.StreamResult[storagemodels.Snapshot[T]]

	// RunTransaction runs fn as an atomic read-modify-write. The store detects
	// conflicting writers and may call fn several times; fn must derive its
	// writes only from what it reads through tx.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction[T]) error) error

	// CommitBatch applies every staged mutation atomically.
	CommitBatch(ctx context.Context, batch *storagemodels.Batch) error
}

// Transaction is the handle passed to a RunTransaction body.
type Transaction[T any] interface {
	// Get reads document id inside the transaction.
	Get(ctx context.Context, id string) (*storagemodels.Snapshot[T], error)

	// Update stages a field merge into an existing document. It takes effect on commit.
	Update(id string, updates storagemodels.Patch) error
}
