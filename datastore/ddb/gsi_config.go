/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import "github.com/suparena/userstore/storagemodels"

// GSIConfig holds the configuration of a global secondary index that sorts a
// collection by one field.
type GSIConfig struct {
	// IndexName is the actual GSI name in DynamoDB (e.g., "CollectionAgeIndex")
	IndexName string
	// PartitionKeyName is the GSI partition key attribute, the collection name
	PartitionKeyName string
	// SortKeyName is the GSI sort key attribute, the ordered document field
	SortKeyName string
}

// DefaultGSIConfigs returns the index configuration for the users collection,
// keyed by the field each index orders by.
func DefaultGSIConfigs() map[string]GSIConfig {
	return map[string]GSIConfig{
		storagemodels.FieldAge: {
			IndexName:        "CollectionAgeIndex",
			PartitionKeyName: storagemodels.AttrCollection,
			SortKeyName:      storagemodels.FieldAge,
		},
		storagemodels.FieldLastName: {
			IndexName:        "CollectionLastNameIndex",
			PartitionKeyName: storagemodels.AttrCollection,
			SortKeyName:      storagemodels.FieldLastName,
		},
	}
}

// GetGSIConfig returns the index ordering the collection by field
func (d *DynamodbDataStore[T]) GetGSIConfig(field string) (GSIConfig, bool) {
	config, ok := d.indexes[field]
	return config, ok
}
