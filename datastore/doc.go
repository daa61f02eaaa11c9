/*
Package datastore defines the capability interface userstore needs from a remote
document database.

The main interface is DataStore[T], a handle on one named collection:

	type DataStore[T any] interface {
	    Collection() string
	    Add(ctx context.Context, entity T) (string, error)
	    GetOne(ctx context.Context, id string) (*storagemodels.Snapshot[T], error)
	    Merge(ctx context.Context, id string, updates storagemodels.Patch) error
	    Delete(ctx context.Context, id string) error
	    Query(ctx context.Context, q *storagemodels.Query) ([]storagemodels.Snapshot[T], error)
	    Stream(ctx context.Context, q *storagemodels.Query, opts ...storagemodels.StreamOption) <-chan storagemodels.StreamResult[storagemodels.Snapshot[T]]
	    RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction[T]) error) error
	    CommitBatch(ctx context.Context, batch *storagemodels.Batch) error
	}

Conflict detection and retry of transactions belong to the implementation, not
to the caller.

Implementations:
  - ddb: DynamoDB, single-table keys, revision-checked TransactWriteItems
  - mongodb: MongoDB, session transactions
  - mock: in-memory store with the same semantics, for tests and local use
*/
package datastore
