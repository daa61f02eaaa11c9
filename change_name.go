/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package userstore

import (
	"context"

	"go.uber.org/zap"

	storeerrors "github.com/suparena/userstore/errors"
	"github.com/suparena/userstore/storagemodels"
)

// ChangeName sets the first and last name of user id in one atomic batch:
// either both fields change or neither does. The age is left alone.
func (r *Repository) ChangeName(ctx context.Context, id, firstName, lastName string) error {
	if id == "" {
		return storeerrors.NewValidationError("id", "identifier is required")
	}

	batch := storagemodels.NewBatch().
		Update(id, storagemodels.Patch{storagemodels.FieldFirstName: firstName}).
		Update(id, storagemodels.Patch{storagemodels.FieldLastName: lastName})
	if err := r.store.CommitBatch(ctx, batch); err != nil {
		return err
	}

	r.logger.Debug("name changed", zap.String("id", id), zap.String("firstName", firstName), zap.String("lastName", lastName))
	return nil
}
