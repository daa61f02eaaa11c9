/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	storeerrors "github.com/suparena/userstore/errors"
	"github.com/suparena/userstore/storagemodels"
)

var comparisonOperators = map[storagemodels.Operator]string{
	storagemodels.OpEqual:              "$eq",
	storagemodels.OpLessThan:           "$lt",
	storagemodels.OpLessThanOrEqual:    "$lte",
	storagemodels.OpGreaterThan:        "$gt",
	storagemodels.OpGreaterThanOrEqual: "$gte",
}

// buildFilter translates q into a find filter. Ordering by a field excludes
// documents that lack it.
func buildFilter(q *storagemodels.Query) (bson.M, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	clauses := bson.A{}
	for _, f := range q.Filters {
		op, ok := comparisonOperators[f.Op]
		if !ok {
			return nil, storeerrors.NewValidationError(f.Field, fmt.Sprintf("unsupported operator %q", f.Op))
		}
		clauses = append(clauses, bson.M{f.Field: bson.M{op: f.Value}})
	}
	if q.Order != nil {
		clauses = append(clauses, bson.M{q.Order.Field: bson.M{"$exists": true}})
	}

	if len(clauses) == 0 {
		return bson.M{}, nil
	}
	return bson.M{"$and": clauses}, nil
}

// buildSort returns the sort document for q, nil when unordered. Ties are
// broken by identifier.
func buildSort(q *storagemodels.Query) bson.D {
	if q.Order == nil {
		return nil
	}
	direction := 1
	if q.Order.Direction == storagemodels.Descending {
		direction = -1
	}
	return bson.D{
		{Key: q.Order.Field, Value: direction},
		{Key: storagemodels.AttrID, Value: 1},
	}
}

// Query executes q and materializes every matching document.
func (m *MongoDataStore[T]) Query(ctx context.Context, q *storagemodels.Query) ([]storagemodels.Snapshot[T], error) {
	return storagemodels.Collect(m.Stream(ctx, q))
}

// Stream executes q and delivers documents as the cursor fetches them in
// batches of the configured page size.
func (m *MongoDataStore[T]) Stream(ctx context.Context, q *storagemodels.Query, opts ...storagemodels.StreamOption) <-chan storagemodels.StreamResult[storagemodels.Snapshot[T]] {
	streamOpts := storagemodels.ApplyStreamOptions(opts...)
	resultCh := make(chan storagemodels.StreamResult[storagemodels.Snapshot[T]], streamOpts.BufferSize)
	go m.streamWorker(ctx, q, streamOpts, resultCh)
	return resultCh
}

func (m *MongoDataStore[T]) streamWorker(
	ctx context.Context,
	q *storagemodels.Query,
	streamOpts storagemodels.StreamOptions,
	resultCh chan<- storagemodels.StreamResult[storagemodels.Snapshot[T]],
) {
	defer close(resultCh)

	if q == nil {
		q = storagemodels.NewQuery()
	}
	fail := func(err error, index int64, page int) {
		resultCh <- storagemodels.StreamResult[storagemodels.Snapshot[T]]{
			Error: err,
			Meta:  storagemodels.StreamMeta{Index: index, PageNumber: page, Timestamp: time.Now()},
		}
	}

	filter, err := buildFilter(q)
	if err != nil {
		fail(err, 0, 0)
		return
	}

	pageSize := streamOpts.PageSize
	if pageSize <= 0 {
		pageSize = storagemodels.DefaultStreamOptions().PageSize
	}
	findOpts := options.Find().SetBatchSize(pageSize)
	if sort := buildSort(q); sort != nil {
		findOpts.SetSort(sort)
	}

	cursor, err := m.findWithRetry(ctx, filter, findOpts, streamOpts)
	if err != nil {
		fail(err, 0, 0)
		return
	}
	defer func() { _ = cursor.Close(context.WithoutCancel(ctx)) }()

	startTime := time.Now()
	var index int64
	page := 0
	for cursor.Next(ctx) {
		page = int(index/int64(pageSize)) + 1

		var raw bson.Raw
		if err := cursor.Decode(&raw); err != nil {
			fail(fmt.Errorf("failed to decode document %d: %w", index, err), index, page)
			return
		}
		snap, _, err := decode[T](raw)
		result := storagemodels.StreamResult[storagemodels.Snapshot[T]]{
			Meta: storagemodels.StreamMeta{Index: index, PageNumber: page, Timestamp: time.Now()},
		}
		if err != nil {
			result.Error = err
		} else {
			result.Item = *snap
		}
		index++

		select {
		case <-ctx.Done():
			return
		case resultCh <- result:
		}

		if streamOpts.ProgressHandler != nil && index%int64(pageSize) == 0 {
			streamOpts.ProgressHandler(progress(index, page, startTime))
		}
	}
	if err := cursor.Err(); err != nil && ctx.Err() == nil {
		fail(storeerrors.NewRemoteError("Find", err), index, page)
		return
	}
	if streamOpts.ProgressHandler != nil {
		streamOpts.ProgressHandler(progress(index, page, startTime))
	}

	m.logger.Debug("stream finished", zap.Stringer("query", q), zap.Int64("items", index))
}

func progress(items int64, pages int, start time.Time) storagemodels.StreamProgress {
	p := storagemodels.StreamProgress{
		ItemsProcessed: items,
		PagesProcessed: pages,
		StartTime:      start,
	}
	if elapsed := time.Since(start).Seconds(); elapsed > 0 {
		p.CurrentRate = float64(items) / elapsed
	}
	return p
}

// findWithRetry opens the cursor, retrying network errors and timeouts.
func (m *MongoDataStore[T]) findWithRetry(ctx context.Context, filter bson.M, findOpts *options.FindOptions, streamOpts storagemodels.StreamOptions) (*mongo.Cursor, error) {
	var cursor *mongo.Cursor
	operation := func() error {
		var err error
		cursor, err = m.col.Find(ctx, filter, findOpts)
		if err != nil && !mongo.IsNetworkError(err) && !mongo.IsTimeout(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	if streamOpts.RetryBackoff > 0 {
		b.InitialInterval = streamOpts.RetryBackoff
	}
	retries := streamOpts.MaxRetries
	if retries < 0 {
		retries = 0
	}
	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)); err != nil {
		return nil, storeerrors.NewRemoteError("Find", err)
	}
	return cursor, nil
}
