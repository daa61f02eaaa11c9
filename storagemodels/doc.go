/*
Package storagemodels defines the data structures shared by userstore and its
store backends.

Key Types:

User and Patch:
The document value and a sparse set of field updates:

	user := storagemodels.User{FirstName: "Ada", LastName: "Lovelace", Age: 30}
	patch := storagemodels.Patch{storagemodels.FieldAge: 31}

Query:
A conjunction of filters with an optional sort key, compiled by each backend:

	q := storagemodels.NewQuery().
	    WhereGreaterThan("age", 20).
	    WhereLessThan("age", 40).
	    OrderBy("age", storagemodels.Ascending)

Construction never fails. Backends call Validate when the query executes, which
enforces the store rule that the sort key must be the range-filtered field.

Batch:
Blind mutations committed all-or-nothing:

	b := storagemodels.NewBatch().
	    Update(id, storagemodels.Patch{"firstName": "Kristina"}).
	    Update(id, storagemodels.Patch{"lastName": "Kukaite"})

StreamResult and StreamOptions:
Paged results with retry configuration:

	opts := []StreamOption{
	    WithBufferSize(100),
	    WithPageSize(25),
	    WithMaxRetries(3),
	}
*/
package storagemodels
