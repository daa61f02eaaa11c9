/*
Package registry associates document types with the key templates a
single-table store uses to address them.

Index Map Registry:
Associates Go types with DynamoDB key patterns:

	registry.RegisterIndexMap[storagemodels.User](map[string]string{
	    "PK": "USER#{ID}",
	    "SK": "USER#{ID}",
	})

Types without a registration fall back to DefaultIndexMap, which derives both
keys from the collection name.

The registry is thread-safe and should be populated during initialization.
*/
package registry
