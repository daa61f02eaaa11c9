/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package mongodb

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/suparena/userstore/datastore"
	storeerrors "github.com/suparena/userstore/errors"
	"github.com/suparena/userstore/storagemodels"
)

const transientTransactionError = "TransientTransactionError"

var errTooManyAttempts = errors.New("write conflict persisted across attempts")

type transaction[T any] struct {
	store  *MongoDataStore[T]
	writes *storagemodels.Batch
}

var _ datastore.Transaction[storagemodels.User] = (*transaction[storagemodels.User])(nil)

func (tx *transaction[T]) Get(ctx context.Context, id string) (*storagemodels.Snapshot[T], error) {
	snap, _, err := tx.store.findOne(ctx, id)
	return snap, err
}

func (tx *transaction[T]) Update(id string, updates storagemodels.Patch) error {
	if id == "" {
		return storeerrors.NewValidationError("id", "document identifier is required")
	}
	tx.writes.Update(id, updates)
	return nil
}

// RunTransaction runs fn inside a session transaction. The driver re-runs the
// callback on transient errors such as write conflicts; the number of runs is
// capped at the configured attempts.
func (m *MongoDataStore[T]) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx datastore.Transaction[T]) error) error {
	attempts := 0
	err := m.withSession(ctx, func(sc mongo.SessionContext) error {
		attempts++
		if attempts > m.maxAttempts {
			return errTooManyAttempts
		}
		if attempts > 1 {
			m.logger.Debug("transaction conflict, retrying", zap.Int("attempt", attempts))
		}

		tx := &transaction[T]{store: m, writes: storagemodels.NewBatch()}
		if err := fn(sc, tx); err != nil {
			return err
		}
		return m.apply(sc, tx.writes)
	})

	return m.transactionResult(attempts, err)
}

// transactionResult converts the outcome of a transaction that entered its
// callback attempts times. The capped run never reaches the body, so it is not
// counted.
func (m *MongoDataStore[T]) transactionResult(attempts int, err error) error {
	switch {
	case errors.Is(err, errTooManyAttempts):
		attempts--
	case !hasErrorLabel(err, transientTransactionError):
		return remoteError(err)
	}
	m.logger.Warn("transaction aborted", zap.Int("attempts", attempts))
	return storeerrors.NewTransactionAbortedError(attempts, err)
}

// CommitBatch applies every staged mutation in one session transaction.
func (m *MongoDataStore[T]) CommitBatch(ctx context.Context, batch *storagemodels.Batch) error {
	if batch == nil || batch.Len() == 0 {
		return nil
	}
	if _, ok := batch.Coalesce(); !ok {
		return storeerrors.NewValidationError("batch", "a document is updated after being deleted in the same batch")
	}

	err := m.withSession(ctx, func(sc mongo.SessionContext) error {
		return m.apply(sc, batch)
	})
	if err != nil {
		return remoteError(err)
	}
	m.logger.Debug("batch committed", zap.Int("mutations", batch.Len()))
	return nil
}

func (m *MongoDataStore[T]) withSession(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	sess, err := m.client.StartSession()
	if err != nil {
		return storeerrors.NewRemoteError("StartSession", err)
	}
	defer sess.EndSession(context.WithoutCancel(ctx))

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

// apply executes the mutations in order. Updates require the document to
// exist; deletes of missing documents succeed.
func (m *MongoDataStore[T]) apply(sc mongo.SessionContext, batch *storagemodels.Batch) error {
	for _, mut := range batch.Mutations() {
		filter := bson.M{storagemodels.AttrID: mut.ID}
		switch mut.Kind {
		case storagemodels.MutationUpdate:
			update, err := buildUpdate(mut.Updates)
			if err != nil {
				return err
			}
			res, err := m.col.UpdateOne(sc, filter, update)
			if err != nil {
				return err
			}
			if res.MatchedCount == 0 {
				return storeerrors.NewNotFoundError(m.collection, mut.ID)
			}
		case storagemodels.MutationDelete:
			if _, err := m.col.DeleteOne(sc, filter); err != nil {
				return err
			}
		}
	}
	return nil
}

// remoteError wraps driver errors that escaped the transaction body.
func remoteError(err error) error {
	var se mongo.ServerError
	if errors.As(err, &se) && !errors.Is(err, storeerrors.ErrRemote) {
		return storeerrors.NewRemoteError("WithTransaction", err)
	}
	return err
}

func hasErrorLabel(err error, label string) bool {
	var se mongo.ServerError
	if errors.As(err, &se) {
		return se.HasErrorLabel(label)
	}
	return false
}
