/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package userstore

import (
	"context"

	"go.uber.org/zap"

	"github.com/suparena/userstore/datastore"
	storeerrors "github.com/suparena/userstore/errors"
	"github.com/suparena/userstore/storagemodels"
)

// IncrementAge adds one to the age of user id and returns the new age. The
// read and the write run in one transaction, so concurrent increments of the
// same user never lose an update; the store retries the body on conflict.
func (r *Repository) IncrementAge(ctx context.Context, id string) (int, error) {
	if id == "" {
		return 0, storeerrors.NewValidationError("id", "identifier is required")
	}

	var age int
	err := r.store.RunTransaction(ctx, func(ctx context.Context, tx datastore.Transaction[storagemodels.User]) error {
		snap, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		age = snap.Data.Age + 1
		return tx.Update(id, storagemodels.Patch{storagemodels.FieldAge: age})
	})
	if err != nil {
		return 0, err
	}

	r.logger.Debug("age incremented", zap.String("id", id), zap.Int("age", age))
	return age, nil
}
