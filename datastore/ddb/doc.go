/*
Package ddb provides a DynamoDB implementation of the DataStore interface.

The DynamodbDataStore supports:
  - Single-table design: many collections share one table, items carry _collection
  - Macro-based key expansion from the registry index map (e.g., "USERS#{ID}")
  - Ordered queries through a GSI per orderable field, partitioned by collection
  - Paged streaming with exponential backoff on throttling
  - Optimistic transactions: every item carries a _rev counter, commits are
    TransactWriteItems conditioned on the revisions read

Key Features:

Macro Expansion:
Keys are expanded from templates with the document identifier:

	registry.RegisterIndexMap[User](map[string]string{
	    "PK": "USER#{ID}",        // Becomes "USER#123"
	    "SK": "USER#{ID}",
	})

Without a registration, DefaultIndexMap(collection) is used.

Indexes:
A query with an order clause reads the index configured for the order field.
The index partition key is the _collection attribute and its sort key the
field itself; see DefaultGSIConfigs. Unordered queries scan the table.

Streaming:

	results := store.Stream(ctx, query,
	    storagemodels.WithPageSize(25),
	    storagemodels.WithMaxRetries(3),
	    storagemodels.WithProgressHandler(func(p storagemodels.StreamProgress) {
	        logger.Info("progress", zap.Int64("items", p.ItemsProcessed))
	    }),
	)
*/
package ddb
