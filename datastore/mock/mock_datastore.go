/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

// Package mock provides an in-memory implementation of datastore.DataStore for
// tests and local runs. It keeps the semantics of the remote backends: merge
// writes, revision-checked transactions with retry, and all-or-nothing batches.
package mock

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"

	"github.com/suparena/userstore/datastore"
	"github.com/suparena/userstore/errors"
	"github.com/suparena/userstore/storagemodels"
)

type record struct {
	item    map[string]types.AttributeValue
	rev     int64
	seq     int64
	updated time.Time
}

func (r *record) clone() *record {
	item := make(map[string]types.AttributeValue, len(r.item))
	for k, v := range r.item {
		item[k] = v
	}
	return &record{item: item, rev: r.rev, seq: r.seq, updated: r.updated}
}

// DataStore is a mock implementation of datastore.DataStore[T] for testing
type DataStore[T any] struct {
	mu          sync.RWMutex
	collection  string
	data        map[string]*record
	seq         int64
	maxAttempts int
	latency     time.Duration
	idFunc      func() string

	addError     error
	mergeError   error
	deleteError  error
	queryError   error
	commitError  error
	mergeErrors  map[string]error
	deleteErrors map[string]error
}

var _ datastore.DataStore[storagemodels.User] = (*DataStore[storagemodels.User])(nil)

// New creates a new mock DataStore bound to collection
func New[T any](collection string) *DataStore[T] {
	return &DataStore[T]{
		collection:   collection,
		data:         make(map[string]*record),
		idFunc:       uuid.NewString,
		mergeErrors:  make(map[string]error),
		deleteErrors: make(map[string]error),
	}
}

// WithIDFunc sets the function generating identifiers for Add
func (m *DataStore[T]) WithIDFunc(f func() string) *DataStore[T] {
	m.idFunc = f
	return m
}

// WithMaxAttempts bounds how many times a transaction body runs before the
// store gives up. Zero, the default, retries until the context ends.
func (m *DataStore[T]) WithMaxAttempts(n int) *DataStore[T] {
	m.maxAttempts = n
	return m
}

// WithLatency delays every call by d outside of any lock, so concurrent
// callers interleave the way they would against a remote store.
func (m *DataStore[T]) WithLatency(d time.Duration) *DataStore[T] {
	m.latency = d
	return m
}

// WithAddError makes Add operations return an error
func (m *DataStore[T]) WithAddError(err error) *DataStore[T] {
	m.addError = err
	return m
}

// WithMergeError makes every Merge operation return an error
func (m *DataStore[T]) WithMergeError(err error) *DataStore[T] {
	m.mergeError = err
	return m
}

// WithMergeErrorFor makes Merge return err for document id only
func (m *DataStore[T]) WithMergeErrorFor(id string, err error) *DataStore[T] {
	m.mergeErrors[id] = err
	return m
}

// WithDeleteError makes every Delete operation return an error
func (m *DataStore[T]) WithDeleteError(err error) *DataStore[T] {
	m.deleteError = err
	return m
}

// WithDeleteErrorFor makes Delete return err for document id only
func (m *DataStore[T]) WithDeleteErrorFor(id string, err error) *DataStore[T] {
	m.deleteErrors[id] = err
	return m
}

// WithQueryError makes Query and Stream fail
func (m *DataStore[T]) WithQueryError(err error) *DataStore[T] {
	m.queryError = err
	return m
}

// WithCommitError makes CommitBatch fail without applying anything
func (m *DataStore[T]) WithCommitError(err error) *DataStore[T] {
	m.commitError = err
	return m
}

// Collection returns the bound collection name
func (m *DataStore[T]) Collection() string {
	return m.collection
}

// Add stores entity under a fresh identifier
func (m *DataStore[T]) Add(ctx context.Context, entity T) (string, error) {
	m.wait()
	if m.addError != nil {
		return "", m.addError
	}

	item, err := attributevalue.MarshalMap(entity)
	if err != nil {
		return "", fmt.Errorf("failed to marshal entity: %w", err)
	}

	id := m.idFunc()
	if id == "" {
		return "", errors.NewValidationError("id", "generated identifier is empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.data[id]; exists {
		return "", errors.NewAlreadyExistsError(m.collection, id)
	}
	m.seq++
	m.data[id] = &record{item: item, rev: 1, seq: m.seq, updated: time.Now().UTC()}
	return id, nil
}

// GetOne retrieves a document by identifier
func (m *DataStore[T]) GetOne(ctx context.Context, id string) (*storagemodels.Snapshot[T], error) {
	m.wait()
	m.mu.RLock()
	rec, exists := m.data[id]
	m.mu.RUnlock()

	if !exists {
		return nil, errors.NewNotFoundError(m.collection, id)
	}
	return decode[T](id, rec)
}

// Merge writes the given fields into document id, creating it when missing
func (m *DataStore[T]) Merge(ctx context.Context, id string, updates storagemodels.Patch) error {
	m.wait()
	if err := m.mergeErrors[id]; err != nil {
		return err
	}
	if m.mergeError != nil {
		return m.mergeError
	}

	values, err := marshalPatch(updates)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, exists := m.data[id]
	if exists {
		rec = rec.clone()
	} else {
		m.seq++
		rec = &record{item: make(map[string]types.AttributeValue), seq: m.seq}
	}
	apply(rec, values)
	m.data[id] = rec
	return nil
}

// Delete removes a document by identifier. Missing documents are ignored.
func (m *DataStore[T]) Delete(ctx context.Context, id string) error {
	m.wait()
	if err := m.deleteErrors[id]; err != nil {
		return err
	}
	if m.deleteError != nil {
		return m.deleteError
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, id)
	return nil
}

// Query executes q against the stored documents
func (m *DataStore[T]) Query(ctx context.Context, q *storagemodels.Query) ([]storagemodels.Snapshot[T], error) {
	m.wait()
	if m.queryError != nil {
		return nil, m.queryError
	}
	if q == nil {
		q = storagemodels.NewQuery()
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	type hit struct {
		id  string
		rec *record
	}

	m.mu.RLock()
	hits := make([]hit, 0, len(m.data))
	for id, rec := range m.data {
		ok, err := q.Matches(rec.item)
		if err != nil {
			m.mu.RUnlock()
			return nil, err
		}
		if !ok {
			continue
		}
		if q.Order != nil {
			if _, has := rec.item[q.Order.Field]; !has {
				continue
			}
		}
		hits = append(hits, hit{id: id, rec: rec})
	}
	m.mu.RUnlock()

	var sortErr error
	sort.SliceStable(hits, func(i, j int) bool {
		if q.Order != nil {
			c, err := storagemodels.CompareAttributes(hits[i].rec.item[q.Order.Field], hits[j].rec.item[q.Order.Field])
			if err != nil && sortErr == nil {
				sortErr = err
			}
			if c != 0 {
				if q.Order.Direction == storagemodels.Descending {
					return c > 0
				}
				return c < 0
			}
		}
		return hits[i].rec.seq < hits[j].rec.seq
	})
	if sortErr != nil && !stderrors.Is(sortErr, storagemodels.ErrIncomparable) {
		return nil, sortErr
	}

	results := make([]storagemodels.Snapshot[T], 0, len(hits))
	for _, h := range hits {
		snap, err := decode[T](h.id, h.rec)
		if err != nil {
			return nil, err
		}
		results = append(results, *snap)
	}
	return results, nil
}

// Stream returns a channel of results
func (m *DataStore[T]) Stream(ctx context.Context, q *storagemodels.Query, opts ...storagemodels.StreamOption) <-chan storagemodels.StreamResult[storagemodels.Snapshot[T]] {
	options := storagemodels.ApplyStreamOptions(opts...)
	resultChan := make(chan storagemodels.StreamResult[storagemodels.Snapshot[T]], options.BufferSize)

	go func() {
		defer close(resultChan)

		snaps, err := m.Query(ctx, q)
		if err != nil {
			select {
			case <-ctx.Done():
			case resultChan <- storagemodels.StreamResult[storagemodels.Snapshot[T]]{Error: err}:
			}
			return
		}

		pageSize := int64(options.PageSize)
		if pageSize <= 0 {
			pageSize = int64(len(snaps)) + 1
		}
		for i, snap := range snaps {
			select {
			case <-ctx.Done():
				return
			case resultChan <- storagemodels.StreamResult[storagemodels.Snapshot[T]]{
				Item: snap,
				Meta: storagemodels.StreamMeta{
					Index:      int64(i),
					PageNumber: int(int64(i)/pageSize) + 1,
					Timestamp:  time.Now(),
				},
			}:
			}
		}
	}()

	return resultChan
}

// RunTransaction runs fn until its reads are still current at commit time
func (m *DataStore[T]) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx datastore.Transaction[T]) error) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		tx := &transaction[T]{store: m, reads: make(map[string]int64)}
		if err := fn(ctx, tx); err != nil {
			return err
		}

		m.wait()
		err := m.commitTransaction(tx)
		if err == nil {
			return nil
		}
		if !errors.IsConditionFailed(err) {
			return err
		}
		if m.maxAttempts > 0 && attempt >= m.maxAttempts {
			return errors.NewTransactionAbortedError(attempt, err)
		}
	}
}

// CommitBatch applies every mutation of batch or none of them
func (m *DataStore[T]) CommitBatch(ctx context.Context, batch *storagemodels.Batch) error {
	m.wait()
	if m.commitError != nil {
		return m.commitError
	}

	mutations := batch.Mutations()
	values := make([]map[string]types.AttributeValue, len(mutations))
	for i, mu := range mutations {
		if mu.Kind != storagemodels.MutationUpdate {
			continue
		}
		v, err := marshalPatch(mu.Updates)
		if err != nil {
			return err
		}
		values[i] = v
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	staged := make(map[string]*record)
	lookup := func(id string) *record {
		if rec, ok := staged[id]; ok {
			return rec
		}
		if rec, ok := m.data[id]; ok {
			return rec
		}
		return nil
	}

	for i, mu := range mutations {
		switch mu.Kind {
		case storagemodels.MutationDelete:
			staged[mu.ID] = nil
		case storagemodels.MutationUpdate:
			rec := lookup(mu.ID)
			if rec == nil {
				return errors.NewNotFoundError(m.collection, mu.ID)
			}
			rec = rec.clone()
			apply(rec, values[i])
			staged[mu.ID] = rec
		}
	}

	for id, rec := range staged {
		if rec == nil {
			delete(m.data, id)
			continue
		}
		m.data[id] = rec
	}
	return nil
}

func (m *DataStore[T]) commitTransaction(tx *transaction[T]) error {
	values := make([]map[string]types.AttributeValue, len(tx.writes))
	for i, w := range tx.writes {
		v, err := marshalPatch(w.Updates)
		if err != nil {
			return err
		}
		values[i] = v
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, rev := range tx.reads {
		var current int64
		if rec, ok := m.data[id]; ok {
			current = rec.rev
		}
		if current != rev {
			return errors.NewConditionFailedError("commit", fmt.Sprintf("revision %d of document %q changed to %d", rev, id, current))
		}
	}

	staged := make(map[string]*record, len(tx.writes))
	for i, w := range tx.writes {
		rec, ok := staged[w.ID]
		if !ok {
			existing, exists := m.data[w.ID]
			if !exists {
				return errors.NewNotFoundError(m.collection, w.ID)
			}
			rec = existing.clone()
		}
		apply(rec, values[i])
		staged[w.ID] = rec
	}
	for id, rec := range staged {
		m.data[id] = rec
	}
	return nil
}

// Helper methods for testing

// Revision returns the revision counter of document id, or 0 if it does not exist
func (m *DataStore[T]) Revision(id string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if rec, ok := m.data[id]; ok {
		return rec.rev
	}
	return 0
}

// Documents returns a decoded copy of every stored document (for testing)
func (m *DataStore[T]) Documents() (map[string]T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]T, len(m.data))
	for id, rec := range m.data {
		snap, err := decode[T](id, rec)
		if err != nil {
			return nil, err
		}
		result[id] = snap.Data
	}
	return result, nil
}

// Count returns the number of stored documents
func (m *DataStore[T]) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Clear removes all data
func (m *DataStore[T]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]*record)
}

func (m *DataStore[T]) wait() {
	if m.latency > 0 {
		time.Sleep(m.latency)
	}
}

type transaction[T any] struct {
	store  *DataStore[T]
	reads  map[string]int64
	writes []storagemodels.Mutation
}

func (tx *transaction[T]) Get(ctx context.Context, id string) (*storagemodels.Snapshot[T], error) {
	tx.store.wait()
	tx.store.mu.RLock()
	rec, exists := tx.store.data[id]
	var rev int64
	if exists {
		rev = rec.rev
	}
	tx.store.mu.RUnlock()

	tx.reads[id] = rev
	if !exists {
		return nil, errors.NewNotFoundError(tx.store.collection, id)
	}
	return decode[T](id, rec)
}

func (tx *transaction[T]) Update(id string, updates storagemodels.Patch) error {
	copied := make(storagemodels.Patch, len(updates))
	for k, v := range updates {
		copied[k] = v
	}
	tx.writes = append(tx.writes, storagemodels.Mutation{Kind: storagemodels.MutationUpdate, ID: id, Updates: copied})
	return nil
}

func marshalPatch(updates storagemodels.Patch) (map[string]types.AttributeValue, error) {
	values := make(map[string]types.AttributeValue, len(updates))
	for field, v := range updates {
		av, err := attributevalue.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal update for field %q: %w", field, err)
		}
		values[field] = av
	}
	return values, nil
}

// apply must be called on a record not yet visible to readers.
func apply(rec *record, values map[string]types.AttributeValue) {
	for k, v := range values {
		rec.item[k] = v
	}
	rec.rev++
	rec.updated = time.Now().UTC()
}

func decode[T any](id string, rec *record) (*storagemodels.Snapshot[T], error) {
	var v T
	if err := attributevalue.UnmarshalMap(rec.item, &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document %q: %w", id, err)
	}
	return &storagemodels.Snapshot[T]{ID: id, Data: v, UpdateTime: strfmt.DateTime(rec.updated)}, nil
}
