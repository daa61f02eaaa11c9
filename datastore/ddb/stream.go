/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	storeerrors "github.com/suparena/userstore/errors"
	"github.com/suparena/userstore/storagemodels"
)

// Stream executes q page by page and delivers matching documents on the returned channel
func (d *DynamodbDataStore[T]) Stream(ctx context.Context, q *storagemodels.Query, opts ...storagemodels.StreamOption) <-chan storagemodels.StreamResult[storagemodels.Snapshot[T]] {
	options := storagemodels.ApplyStreamOptions(opts...)

	resultCh := make(chan storagemodels.StreamResult[storagemodels.Snapshot[T]], options.BufferSize)
	go d.streamWorker(ctx, q, options, resultCh)

	return resultCh
}

// streamWorker handles the actual streaming logic
func (d *DynamodbDataStore[T]) streamWorker(
	ctx context.Context,
	q *storagemodels.Query,
	options storagemodels.StreamOptions,
	resultCh chan<- storagemodels.StreamResult[storagemodels.Snapshot[T]],
) {
	defer close(resultCh)

	if q == nil {
		q = storagemodels.NewQuery()
	}

	var itemIndex int64
	var pageNumber int
	var pageErrors []error
	startTime := time.Now()

	meta := func() storagemodels.StreamMeta {
		return storagemodels.StreamMeta{
			Index:      atomic.LoadInt64(&itemIndex),
			PageNumber: pageNumber,
			Timestamp:  time.Now(),
		}
	}

	reportProgress := func() {
		if options.ProgressHandler == nil {
			return
		}
		progress := storagemodels.StreamProgress{
			ItemsProcessed: atomic.LoadInt64(&itemIndex),
			PagesProcessed: pageNumber,
			Errors:         pageErrors,
			StartTime:      startTime,
		}
		if elapsed := time.Since(startTime).Seconds(); elapsed > 0 {
			progress.CurrentRate = float64(progress.ItemsProcessed) / elapsed
		}
		options.ProgressHandler(progress)
	}

	plan, err := d.compileQuery(q)
	if err != nil {
		resultCh <- storagemodels.StreamResult[storagemodels.Snapshot[T]]{Error: err, Meta: meta()}
		return
	}

	var lastEvaluatedKey map[string]types.AttributeValue
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		items, nextKey, err := d.fetchWithRetry(ctx, plan, lastEvaluatedKey, options)
		if err != nil {
			if options.ErrorHandler != nil && options.ErrorHandler(err) {
				// handler asked to continue: read the same page again
				pageErrors = append(pageErrors, err)
				continue
			}
			resultCh <- storagemodels.StreamResult[storagemodels.Snapshot[T]]{Error: err, Meta: meta()}
			return
		}

		pageNumber++

		for _, item := range items {
			keep, err := plan.keep(item)
			if err != nil {
				resultCh <- storagemodels.StreamResult[storagemodels.Snapshot[T]]{Error: err, Meta: meta()}
				return
			}
			if !keep {
				continue
			}

			result := d.processItem(item, atomic.LoadInt64(&itemIndex), pageNumber)
			atomic.AddInt64(&itemIndex, 1)

			select {
			case <-ctx.Done():
				return
			case resultCh <- result:
			}
			if result.Error != nil {
				pageErrors = append(pageErrors, result.Error)
			}
		}

		reportProgress()

		if len(nextKey) == 0 {
			break
		}
		lastEvaluatedKey = nextKey
	}

	d.logger.Debug("stream finished",
		zap.Stringer("query", q),
		zap.Int64("items", atomic.LoadInt64(&itemIndex)),
		zap.Int("pages", pageNumber))
}

// fetchWithRetry reads one page, retrying throttling and transient server
// errors with exponential backoff.
func (d *DynamodbDataStore[T]) fetchWithRetry(
	ctx context.Context,
	plan *queryPlan,
	startKey map[string]types.AttributeValue,
	options storagemodels.StreamOptions,
) ([]map[string]types.AttributeValue, map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	var lastKey map[string]types.AttributeValue

	operation := func() error {
		var err error
		items, lastKey, err = plan.fetch(ctx, d.client, startKey, options.PageSize)
		if err != nil && !isRetryableError(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	if options.RetryBackoff > 0 {
		b.InitialInterval = options.RetryBackoff
	}
	retries := options.MaxRetries
	if retries < 0 {
		retries = 0
	}

	notify := func(err error, wait time.Duration) {
		d.logger.Warn("page read failed, retrying", zap.Error(err), zap.Duration("backoff", wait))
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx), notify); err != nil {
		return nil, nil, storeerrors.NewRemoteError(plan.operation(), err)
	}
	return items, lastKey, nil
}

func (p *queryPlan) operation() string {
	if p.query != nil {
		return "Query"
	}
	return "Scan"
}

// processItem converts a DynamoDB item to a typed result
func (d *DynamodbDataStore[T]) processItem(
	item map[string]types.AttributeValue,
	index int64,
	pageNumber int,
) storagemodels.StreamResult[storagemodels.Snapshot[T]] {
	meta := storagemodels.StreamMeta{
		Index:      index,
		PageNumber: pageNumber,
		Timestamp:  time.Now(),
	}

	snap, err := d.decode(item)
	if err != nil {
		return storagemodels.StreamResult[storagemodels.Snapshot[T]]{
			Error: fmt.Errorf("failed to decode item %d of page %d: %w", index, pageNumber, err),
			Meta:  meta,
		}
	}
	return storagemodels.StreamResult[storagemodels.Snapshot[T]]{Item: *snap, Meta: meta}
}

// isRetryableError determines if a DynamoDB error is retryable
func isRetryableError(err error) bool {
	var (
		throughput *types.ProvisionedThroughputExceededException
		limit      *types.RequestLimitExceeded
		internal   *types.InternalServerError
	)
	if errors.As(err, &throughput) || errors.As(err, &limit) || errors.As(err, &internal) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "ServiceUnavailable":
			return true
		}
		return apiErr.ErrorFault() == smithy.FaultServer
	}

	var retryable interface{ RetryableError() bool }
	if errors.As(err, &retryable) {
		return retryable.RetryableError()
	}
	return false
}
