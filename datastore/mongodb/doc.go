// Package mongodb provides a MongoDB implementation of the DataStore interface.
//
// Each collection maps to a MongoDB collection of the same name. Documents are
// keyed by a string _id and carry a _rev counter and an _updatedAt timestamp
// next to their fields. Transactions and batches run inside session
// transactions, which require a replica set.
package mongodb
