/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	sdk "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/suparena/userstore/datastore"
	storeerrors "github.com/suparena/userstore/errors"
	"github.com/suparena/userstore/storagemodels"
)

// maxTransactItems is the TransactWriteItems limit on actions per request.
const maxTransactItems = 100

// missingRevision marks a document the transaction read as absent. Revision 0
// is a document that exists but was written without a _rev attribute.
const missingRevision int64 = -1

// transaction records the revision of every document read and buffers the
// updates until commit.
type transaction[T any] struct {
	store  *DynamodbDataStore[T]
	reads  map[string]int64
	writes *storagemodels.Batch
}

var _ datastore.Transaction[storagemodels.User] = (*transaction[storagemodels.User])(nil)

func (tx *transaction[T]) Get(ctx context.Context, id string) (*storagemodels.Snapshot[T], error) {
	item, err := tx.store.getItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		tx.reads[id] = missingRevision
		return nil, storeerrors.NewNotFoundError(tx.store.collection, id)
	}

	rev, err := revisionOf(item)
	if err != nil {
		return nil, err
	}
	tx.reads[id] = rev
	return tx.store.decode(item)
}

func (tx *transaction[T]) Update(id string, updates storagemodels.Patch) error {
	if id == "" {
		return storeerrors.NewValidationError("id", "document identifier is required")
	}
	tx.writes.Update(id, updates)
	return nil
}

// RunTransaction runs fn and commits its writes with TransactWriteItems,
// conditioned on the revision of every document fn read. A conflicting commit
// re-runs fn after a backoff, up to the configured number of attempts.
func (d *DynamodbDataStore[T]) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx datastore.Transaction[T]) error) error {
	attempts := 0
	operation := func() error {
		attempts++
		tx := &transaction[T]{
			store:  d,
			reads:  map[string]int64{},
			writes: storagemodels.NewBatch(),
		}
		if err := fn(ctx, tx); err != nil {
			return backoff.Permanent(err)
		}

		err := d.commitTransaction(ctx, tx)
		if err == nil || isTransactionConflict(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.txBackoff
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(d.maxAttempts-1)), ctx)

	notify := func(err error, wait time.Duration) {
		d.logger.Debug("transaction conflict, retrying",
			zap.Int("attempt", attempts), zap.Duration("backoff", wait), zap.Error(err))
	}

	err := backoff.RetryNotify(operation, policy, notify)
	if err != nil && isTransactionConflict(err) {
		d.logger.Warn("transaction aborted", zap.Int("attempts", attempts))
		return storeerrors.NewTransactionAbortedError(attempts, err)
	}
	return err
}

func (d *DynamodbDataStore[T]) commitTransaction(ctx context.Context, tx *transaction[T]) error {
	merged, _ := tx.writes.Coalesce()
	if len(merged) == 0 {
		return nil
	}

	items := make([]types.TransactWriteItem, 0, len(merged)+len(tx.reads))
	ids := make([]string, 0, cap(items))
	written := make(map[string]bool, len(merged))
	for _, m := range merged {
		rev, read := tx.reads[m.ID]
		if read && rev == missingRevision {
			return storeerrors.NewNotFoundError(d.collection, m.ID)
		}
		update, err := d.conditionalUpdate(m.ID, m.Updates, read, rev)
		if err != nil {
			return err
		}
		items = append(items, types.TransactWriteItem{Update: update})
		ids = append(ids, m.ID)
		written[m.ID] = true
	}

	readOnly := make([]string, 0, len(tx.reads))
	for id := range tx.reads {
		if !written[id] {
			readOnly = append(readOnly, id)
		}
	}
	sort.Strings(readOnly)
	for _, id := range readOnly {
		check, err := d.revisionCheck(id, tx.reads[id])
		if err != nil {
			return err
		}
		items = append(items, types.TransactWriteItem{ConditionCheck: check})
		ids = append(ids, id)
	}

	if len(items) > maxTransactItems {
		return storeerrors.NewValidationError("transaction",
			fmt.Sprintf("%d actions exceed the limit of %d", len(items), maxTransactItems))
	}

	_, err := d.client.TransactWriteItems(ctx, &sdk.TransactWriteItemsInput{
		TransactItems:      items,
		ClientRequestToken: aws.String(uuid.NewString()),
	})
	if err == nil {
		return nil
	}
	if failed := d.failedCondition(err, tx, ids, items); failed != nil {
		return failed
	}
	if !isTransactionConflict(err) {
		return storeerrors.NewRemoteError("TransactWriteItems", err)
	}
	return err
}

// conditionalUpdate builds an Update that fails unless the item exists and,
// when checkRevision is set, still carries rev.
func (d *DynamodbDataStore[T]) conditionalUpdate(id string, updates storagemodels.Patch, checkRevision bool, rev int64) (*types.Update, error) {
	key, err := d.key(id)
	if err != nil {
		return nil, err
	}
	updateExpr, names, values, err := buildUpdateExpression(updates, d.systemAttributes(id))
	if err != nil {
		return nil, err
	}

	names["#pk"] = "PK"
	condition := "attribute_exists(#pk)"
	if checkRevision {
		condition += " AND " + revisionCondition(rev)
		values[":rev"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(rev, 10)}
	}

	return &types.Update{
		TableName:                 &d.tableName,
		Key:                       key,
		UpdateExpression:          &updateExpr,
		ConditionExpression:       &condition,
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}, nil
}

// revisionCheck asserts that a document read but not written is unchanged.
// A document read as missing must still be missing.
func (d *DynamodbDataStore[T]) revisionCheck(id string, rev int64) (*types.ConditionCheck, error) {
	key, err := d.key(id)
	if err != nil {
		return nil, err
	}

	check := &types.ConditionCheck{
		TableName:                &d.tableName,
		Key:                      key,
		ExpressionAttributeNames: map[string]string{"#pk": "PK"},
	}
	if rev == missingRevision {
		check.ConditionExpression = aws.String("attribute_not_exists(#pk)")
		return check, nil
	}
	check.ConditionExpression = aws.String("attribute_exists(#pk) AND " + revisionCondition(rev))
	check.ExpressionAttributeNames["#rev"] = storagemodels.AttrRevision
	check.ExpressionAttributeValues = map[string]types.AttributeValue{
		":rev": &types.AttributeValueMemberN{Value: strconv.FormatInt(rev, 10)},
	}
	return check, nil
}

// revisionCondition matches an item still at rev. Items written without a
// _rev attribute read as revision 0 and match while they stay unversioned.
func revisionCondition(rev int64) string {
	if rev == 0 {
		return "(attribute_not_exists(#rev) OR #rev = :rev)"
	}
	return "#rev = :rev"
}

// failedCondition maps a cancelled commit to a typed error. A revision check
// that failed becomes a ConditionFailedError, which RunTransaction retries; an
// update of a document the body never read fails only when the document does
// not exist, which is reported as NotFound and ends the transaction.
func (d *DynamodbDataStore[T]) failedCondition(err error, tx *transaction[T], ids []string, items []types.TransactWriteItem) error {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return nil
	}
	for i, reason := range tce.CancellationReasons {
		if i >= len(items) || aws.ToString(reason.Code) != "ConditionalCheckFailed" {
			continue
		}
		item, id := items[i], ids[i]
		switch {
		case item.Update != nil:
			if _, read := tx.reads[id]; !read {
				return storeerrors.NewNotFoundError(d.collection, id)
			}
			return storeerrors.NewConditionFailedError("TransactWriteItems",
				fmt.Sprintf("%s on document %q", aws.ToString(item.Update.ConditionExpression), id))
		case item.ConditionCheck != nil:
			return storeerrors.NewConditionFailedError("TransactWriteItems",
				fmt.Sprintf("%s on document %q", aws.ToString(item.ConditionCheck.ConditionExpression), id))
		}
	}
	return nil
}

// CommitBatch applies the batch with a single TransactWriteItems call. Updates
// require the document to exist; deletes do not.
func (d *DynamodbDataStore[T]) CommitBatch(ctx context.Context, batch *storagemodels.Batch) error {
	if batch == nil {
		return nil
	}
	merged, ok := batch.Coalesce()
	if !ok {
		return storeerrors.NewValidationError("batch", "a document is updated after being deleted in the same batch")
	}
	if len(merged) == 0 {
		return nil
	}
	if len(merged) > maxTransactItems {
		return storeerrors.NewValidationError("batch",
			fmt.Sprintf("%d documents exceed the limit of %d", len(merged), maxTransactItems))
	}

	items := make([]types.TransactWriteItem, 0, len(merged))
	for _, m := range merged {
		switch m.Kind {
		case storagemodels.MutationUpdate:
			update, err := d.conditionalUpdate(m.ID, m.Updates, false, 0)
			if err != nil {
				return err
			}
			items = append(items, types.TransactWriteItem{Update: update})
		case storagemodels.MutationDelete:
			key, err := d.key(m.ID)
			if err != nil {
				return err
			}
			items = append(items, types.TransactWriteItem{Delete: &types.Delete{
				TableName: &d.tableName,
				Key:       key,
			}})
		}
	}

	_, err := d.client.TransactWriteItems(ctx, &sdk.TransactWriteItemsInput{
		TransactItems:      items,
		ClientRequestToken: aws.String(uuid.NewString()),
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			for i, reason := range tce.CancellationReasons {
				if i < len(merged) && aws.ToString(reason.Code) == "ConditionalCheckFailed" {
					return storeerrors.NewNotFoundError(d.collection, merged[i].ID)
				}
			}
		}
		return storeerrors.NewRemoteError("TransactWriteItems", err)
	}

	d.logger.Debug("batch committed", zap.Int("mutations", len(merged)))
	return nil
}

// isTransactionConflict reports whether a commit failed because another
// writer changed a document the transaction depends on.
func isTransactionConflict(err error) bool {
	if storeerrors.IsConditionFailed(err) {
		return true
	}
	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		for _, reason := range tce.CancellationReasons {
			switch aws.ToString(reason.Code) {
			case "ConditionalCheckFailed", "TransactionConflict":
				return true
			}
		}
		return false
	}
	var inProgress *types.TransactionInProgressException
	return errors.As(err, &inProgress)
}
