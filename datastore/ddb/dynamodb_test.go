/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	sdk "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suparena/userstore/datastore"
	storeerrors "github.com/suparena/userstore/errors"
	"github.com/suparena/userstore/storagemodels"
)

type User = storagemodels.User

func newTestStore(t *testing.T, api API, opts ...Option) *DynamodbDataStore[User] {
	t.Helper()
	opts = append([]Option{
		WithTransactionBackoff(time.Millisecond),
		WithIDFunc(func() string { return "doc-1" }),
	}, opts...)
	store, err := NewDynamodbDataStore[User](api, "test-table", "users", opts...)
	require.NoError(t, err)
	return store
}

func userItem(t *testing.T, id string, u User, rev int) map[string]types.AttributeValue {
	t.Helper()
	item, err := attributevalue.MarshalMap(u)
	require.NoError(t, err)
	item["PK"] = &types.AttributeValueMemberS{Value: "USERS#" + id}
	item["SK"] = &types.AttributeValueMemberS{Value: "USERS#" + id}
	item[storagemodels.AttrID] = &types.AttributeValueMemberS{Value: id}
	item[storagemodels.AttrCollection] = &types.AttributeValueMemberS{Value: "users"}
	item[storagemodels.AttrRevision] = &types.AttributeValueMemberN{Value: attributeNumber(rev)}
	return item
}

func attributeNumber(n int) string {
	av, _ := attributevalue.Marshal(n)
	return av.(*types.AttributeValueMemberN).Value
}

func TestNewDynamodbDataStoreValidation(t *testing.T) {
	_, err := NewDynamodbDataStore[User](nil, "t", "users")
	assert.True(t, storeerrors.IsValidationError(err))

	_, err = NewDynamodbDataStore[User](&fakeAPI{}, "", "users")
	assert.True(t, storeerrors.IsValidationError(err))

	_, err = NewDynamodbDataStore[User](&fakeAPI{}, "t", "")
	assert.True(t, storeerrors.IsValidationError(err))
}

func TestKeyExpansion(t *testing.T) {
	store := newTestStore(t, &fakeAPI{})

	key, err := store.key("abc")
	require.NoError(t, err)
	assert.Equal(t, &types.AttributeValueMemberS{Value: "USERS#abc"}, key["PK"])
	assert.Equal(t, &types.AttributeValueMemberS{Value: "USERS#abc"}, key["SK"])

	_, err = store.key("")
	assert.True(t, storeerrors.IsValidationError(err))

	expanded := expandStringKey(map[string]string{"PK": "ORG#{ID}", "SK": "PROFILE"}, "42")
	assert.Equal(t, map[string]string{"PK": "ORG#42", "SK": "PROFILE"}, expanded)
}

func TestBuildUpdateExpression(t *testing.T) {
	system := map[string]types.AttributeValue{
		storagemodels.AttrID:         &types.AttributeValueMemberS{Value: "doc-1"},
		storagemodels.AttrCollection: &types.AttributeValueMemberS{Value: "users"},
		storagemodels.AttrUpdatedAt:  &types.AttributeValueMemberS{Value: "2025-01-01T00:00:00Z"},
	}

	t.Run("FieldsSortedThenSystem", func(t *testing.T) {
		expr, names, values, err := buildUpdateExpression(storagemodels.Patch{
			storagemodels.FieldFirstName: "Ada",
			storagemodels.FieldAge:       31,
		}, system)
		require.NoError(t, err)

		assert.Equal(t, "SET #f0 = :v0, #f1 = :v1, #s0 = :s0, #s1 = :s1, #s2 = :s2 ADD #rev :one", expr)
		assert.Equal(t, "age", names["#f0"])
		assert.Equal(t, "firstName", names["#f1"])
		assert.Equal(t, "_collection", names["#s0"])
		assert.Equal(t, "_id", names["#s1"])
		assert.Equal(t, "_updatedAt", names["#s2"])
		assert.Equal(t, "_rev", names["#rev"])
		assert.Equal(t, &types.AttributeValueMemberN{Value: "31"}, values[":v0"])
		assert.Equal(t, &types.AttributeValueMemberS{Value: "Ada"}, values[":v1"])
	})

	t.Run("EmptyPatchStillWrites", func(t *testing.T) {
		expr, _, values, err := buildUpdateExpression(storagemodels.Patch{}, system)
		require.NoError(t, err)
		assert.Equal(t, "SET #s0 = :s0, #s1 = :s1, #s2 = :s2 ADD #rev :one", expr)
		assert.Equal(t, &types.AttributeValueMemberN{Value: "1"}, values[":one"])
	})

	t.Run("ReservedField", func(t *testing.T) {
		_, _, _, err := buildUpdateExpression(storagemodels.Patch{"_rev": 9}, system)
		assert.True(t, storeerrors.IsValidationError(err))
	})
}

func TestCompileQuery(t *testing.T) {
	store := newTestStore(t, &fakeAPI{})

	t.Run("UnorderedScansCollection", func(t *testing.T) {
		plan, err := store.compileQuery(User{FirstName: "Ada", LastName: "Lovelace", Age: 30}.MatchQuery())
		require.NoError(t, err)
		require.NotNil(t, plan.scan)
		assert.Nil(t, plan.query)

		assert.Equal(t, "#n0 = :v0 AND #n1 = :v1 AND #n2 = :v2 AND #n3 = :v3", aws.ToString(plan.scan.FilterExpression))
		assert.Equal(t, map[string]string{
			"#n0": "_collection",
			"#n1": "firstName",
			"#n2": "lastName",
			"#n3": "age",
		}, plan.scan.ExpressionAttributeNames)
		assert.Equal(t, &types.AttributeValueMemberS{Value: "users"}, plan.scan.ExpressionAttributeValues[":v0"])
		assert.Equal(t, &types.AttributeValueMemberN{Value: "30"}, plan.scan.ExpressionAttributeValues[":v3"])
		assert.True(t, aws.ToBool(plan.scan.ConsistentRead))
	})

	t.Run("OrderedRangeUsesIndex", func(t *testing.T) {
		q := storagemodels.NewQuery().
			WhereGreaterThan(storagemodels.FieldAge, 20).
			WhereLessThan(storagemodels.FieldAge, 40).
			OrderBy(storagemodels.FieldAge, storagemodels.Ascending)

		plan, err := store.compileQuery(q)
		require.NoError(t, err)
		require.NotNil(t, plan.query)

		assert.Equal(t, "CollectionAgeIndex", aws.ToString(plan.query.IndexName))
		assert.Equal(t, "#n0 = :v0 AND #n1 > :v1", aws.ToString(plan.query.KeyConditionExpression))
		assert.Nil(t, plan.query.FilterExpression)
		assert.True(t, aws.ToBool(plan.query.ScanIndexForward))
		assert.Equal(t, map[string]string{"#n0": "_collection", "#n1": "age"}, plan.query.ExpressionAttributeNames)
		assert.Len(t, plan.query.ExpressionAttributeValues, 2)

		require.NotNil(t, plan.residual)
		assert.Equal(t, []storagemodels.Filter{{Field: "age", Op: storagemodels.OpLessThan, Value: 40}}, plan.residual.Filters)
	})

	t.Run("OtherFieldsGoToFilterExpression", func(t *testing.T) {
		q := storagemodels.NewQuery().
			WhereEqual(storagemodels.FieldLastName, "Lovelace").
			Where(storagemodels.FieldAge, storagemodels.OpGreaterThanOrEqual, 30).
			OrderBy(storagemodels.FieldAge, storagemodels.Descending)

		plan, err := store.compileQuery(q)
		require.NoError(t, err)
		require.NotNil(t, plan.query)

		assert.Equal(t, "#n0 = :v0 AND #n2 >= :v2", aws.ToString(plan.query.KeyConditionExpression))
		assert.Equal(t, "#n1 = :v1", aws.ToString(plan.query.FilterExpression))
		assert.False(t, aws.ToBool(plan.query.ScanIndexForward))
		assert.Nil(t, plan.residual)
	})

	t.Run("OrderWithoutIndex", func(t *testing.T) {
		_, err := store.compileQuery(storagemodels.NewQuery().OrderBy(storagemodels.FieldFirstName, storagemodels.Ascending))
		assert.True(t, storeerrors.IsValidationError(err))
	})

	t.Run("OrderMustMatchRangeField", func(t *testing.T) {
		q := storagemodels.NewQuery().
			WhereGreaterThan(storagemodels.FieldAge, 20).
			OrderBy(storagemodels.FieldLastName, storagemodels.Ascending)
		_, err := store.compileQuery(q)
		assert.True(t, storeerrors.IsValidationError(err))
	})
}

func TestDynamodbCRUD(t *testing.T) {
	ctx := context.Background()

	t.Run("AddIsConditional", func(t *testing.T) {
		var put *sdk.PutItemInput
		api := &fakeAPI{putItem: func(in *sdk.PutItemInput) (*sdk.PutItemOutput, error) {
			put = in
			return &sdk.PutItemOutput{}, nil
		}}
		store := newTestStore(t, api)

		id, err := store.Add(ctx, User{FirstName: "Ada", LastName: "Lovelace", Age: 30})
		require.NoError(t, err)
		assert.Equal(t, "doc-1", id)
		assert.Equal(t, "attribute_not_exists(#pk)", aws.ToString(put.ConditionExpression))
		assert.Equal(t, &types.AttributeValueMemberS{Value: "USERS#doc-1"}, put.Item["PK"])
		assert.Equal(t, &types.AttributeValueMemberS{Value: "users"}, put.Item[storagemodels.AttrCollection])
		assert.Equal(t, &types.AttributeValueMemberN{Value: "1"}, put.Item[storagemodels.AttrRevision])
	})

	t.Run("AddExisting", func(t *testing.T) {
		api := &fakeAPI{putItem: func(*sdk.PutItemInput) (*sdk.PutItemOutput, error) {
			return nil, &types.ConditionalCheckFailedException{}
		}}
		_, err := newTestStore(t, api).Add(ctx, User{FirstName: "Ada"})
		assert.True(t, storeerrors.IsAlreadyExists(err), "got %v", err)
	})

	t.Run("GetOne", func(t *testing.T) {
		api := &fakeAPI{getItem: func(in *sdk.GetItemInput) (*sdk.GetItemOutput, error) {
			if in.Key["PK"].(*types.AttributeValueMemberS).Value != "USERS#doc-1" {
				return &sdk.GetItemOutput{}, nil
			}
			assert.True(t, aws.ToBool(in.ConsistentRead))
			return &sdk.GetItemOutput{Item: userItem(t, "doc-1", User{FirstName: "Ada", LastName: "Lovelace", Age: 30}, 1)}, nil
		}}
		store := newTestStore(t, api)

		snap, err := store.GetOne(ctx, "doc-1")
		require.NoError(t, err)
		assert.Equal(t, "doc-1", snap.ID)
		assert.Equal(t, User{FirstName: "Ada", LastName: "Lovelace", Age: 30}, snap.Data)

		_, err = store.GetOne(ctx, "missing")
		assert.True(t, storeerrors.IsNotFound(err))
	})

	t.Run("MergeAndDelete", func(t *testing.T) {
		api := &fakeAPI{}
		store := newTestStore(t, api)

		require.NoError(t, store.Merge(ctx, "doc-1", storagemodels.Patch{storagemodels.FieldAge: 31}))
		require.Len(t, api.updates, 1)
		assert.Nil(t, api.updates[0].ConditionExpression, "merge is an upsert")
		assert.Contains(t, aws.ToString(api.updates[0].UpdateExpression), "ADD #rev :one")

		require.NoError(t, store.Delete(ctx, "doc-1"))
		require.Len(t, api.deletes, 1)
		assert.Equal(t, &types.AttributeValueMemberS{Value: "USERS#doc-1"}, api.deletes[0].Key["PK"])
	})
}

func TestDynamodbStream(t *testing.T) {
	ctx := context.Background()

	t.Run("PagesWithRetry", func(t *testing.T) {
		calls := 0
		api := &fakeAPI{}
		api.scan = func(in *sdk.ScanInput) (*sdk.ScanOutput, error) {
			calls++
			switch calls {
			case 1:
				return nil, &types.ProvisionedThroughputExceededException{}
			case 2:
				return &sdk.ScanOutput{
					Items:            []map[string]types.AttributeValue{userItem(t, "a", User{FirstName: "A", Age: 1}, 1)},
					LastEvaluatedKey: map[string]types.AttributeValue{"PK": &types.AttributeValueMemberS{Value: "USERS#a"}},
				}, nil
			default:
				return &sdk.ScanOutput{
					Items: []map[string]types.AttributeValue{userItem(t, "b", User{FirstName: "B", Age: 2}, 1)},
				}, nil
			}
		}
		store := newTestStore(t, api)

		var pages int
		results := store.Stream(ctx, storagemodels.NewQuery(),
			storagemodels.WithPageSize(1),
			storagemodels.WithRetryBackoff(time.Millisecond),
			storagemodels.WithProgressHandler(func(p storagemodels.StreamProgress) { pages = p.PagesProcessed }),
		)
		snaps, err := storagemodels.Collect(results)
		require.NoError(t, err)
		require.Len(t, snaps, 2)
		assert.Equal(t, "a", snaps[0].ID)
		assert.Equal(t, "b", snaps[1].ID)
		assert.Equal(t, 2, pages)

		require.Len(t, api.scans, 3)
		assert.Equal(t, int32(1), aws.ToInt32(api.scans[2].Limit))
		assert.NotNil(t, api.scans[2].ExclusiveStartKey)
	})

	t.Run("NonRetryableError", func(t *testing.T) {
		api := &fakeAPI{scan: func(*sdk.ScanInput) (*sdk.ScanOutput, error) {
			return nil, &types.ResourceNotFoundException{}
		}}
		_, err := newTestStore(t, api).Query(ctx, storagemodels.NewQuery())
		assert.True(t, storeerrors.IsRemote(err), "got %v", err)
		assert.Len(t, api.scans, 1)
	})

	t.Run("ResidualFilter", func(t *testing.T) {
		api := &fakeAPI{query: func(in *sdk.QueryInput) (*sdk.QueryOutput, error) {
			return &sdk.QueryOutput{Items: []map[string]types.AttributeValue{
				userItem(t, "a", User{FirstName: "A", Age: 35}, 1),
				userItem(t, "b", User{FirstName: "B", Age: 45}, 1),
			}}, nil
		}}
		q := storagemodels.NewQuery().
			WhereGreaterThan(storagemodels.FieldAge, 30).
			WhereLessThan(storagemodels.FieldAge, 40).
			OrderBy(storagemodels.FieldAge, storagemodels.Ascending)

		snaps, err := newTestStore(t, api).Query(ctx, q)
		require.NoError(t, err)
		require.Len(t, snaps, 1)
		assert.Equal(t, "a", snaps[0].ID)
	})
}

func conflict() error {
	return &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{{Code: aws.String("ConditionalCheckFailed")}},
	}
}

func TestDynamodbTransaction(t *testing.T) {
	ctx := context.Background()
	getAda := func(t *testing.T) func(*sdk.GetItemInput) (*sdk.GetItemOutput, error) {
		return func(*sdk.GetItemInput) (*sdk.GetItemOutput, error) {
			return &sdk.GetItemOutput{Item: userItem(t, "doc-1", User{FirstName: "Ada", Age: 30}, 1)}, nil
		}
	}
	incrementAge := func(calls *int) func(context.Context, datastore.Transaction[User]) error {
		return func(ctx context.Context, tx datastore.Transaction[User]) error {
			*calls++
			snap, err := tx.Get(ctx, "doc-1")
			if err != nil {
				return err
			}
			return tx.Update("doc-1", storagemodels.Patch{storagemodels.FieldAge: snap.Data.Age + 1})
		}
	}

	t.Run("RetriesOnConflict", func(t *testing.T) {
		attempt := 0
		api := &fakeAPI{getItem: getAda(t)}
		api.transact = func(*sdk.TransactWriteItemsInput) (*sdk.TransactWriteItemsOutput, error) {
			attempt++
			if attempt == 1 {
				return nil, conflict()
			}
			return &sdk.TransactWriteItemsOutput{}, nil
		}
		store := newTestStore(t, api)

		calls := 0
		require.NoError(t, store.RunTransaction(ctx, incrementAge(&calls)))
		assert.Equal(t, 2, calls)
		require.Len(t, api.transacts, 2)

		items := api.transacts[1].TransactItems
		require.Len(t, items, 1)
		update := items[0].Update
		require.NotNil(t, update)
		assert.Equal(t, "attribute_exists(#pk) AND #rev = :rev", aws.ToString(update.ConditionExpression))
		assert.Equal(t, &types.AttributeValueMemberN{Value: "1"}, update.ExpressionAttributeValues[":rev"])
		assert.Equal(t, &types.AttributeValueMemberN{Value: "31"}, update.ExpressionAttributeValues[":v0"])
		assert.NotEmpty(t, aws.ToString(api.transacts[1].ClientRequestToken))
	})

	t.Run("AbortsAfterMaxAttempts", func(t *testing.T) {
		api := &fakeAPI{getItem: getAda(t)}
		api.transact = func(*sdk.TransactWriteItemsInput) (*sdk.TransactWriteItemsOutput, error) {
			return nil, conflict()
		}
		store := newTestStore(t, api, WithMaxTransactionAttempts(3))

		calls := 0
		err := store.RunTransaction(ctx, incrementAge(&calls))
		assert.True(t, storeerrors.IsTransactionAborted(err), "got %v", err)
		assert.True(t, storeerrors.IsConditionFailed(err), "the abort carries the failed revision check")
		assert.ErrorContains(t, err, `on document "doc-1"`)
		assert.Equal(t, 3, calls)
	})

	t.Run("UnversionedDocument", func(t *testing.T) {
		api := &fakeAPI{getItem: func(*sdk.GetItemInput) (*sdk.GetItemOutput, error) {
			item := userItem(t, "doc-1", User{FirstName: "Ada", Age: 30}, 0)
			delete(item, storagemodels.AttrRevision)
			return &sdk.GetItemOutput{Item: item}, nil
		}}
		store := newTestStore(t, api)

		calls := 0
		require.NoError(t, store.RunTransaction(ctx, incrementAge(&calls)))
		assert.Equal(t, 1, calls)
		require.Len(t, api.transacts, 1)

		update := api.transacts[0].TransactItems[0].Update
		require.NotNil(t, update)
		assert.Equal(t, "attribute_exists(#pk) AND (attribute_not_exists(#rev) OR #rev = :rev)",
			aws.ToString(update.ConditionExpression))
		assert.Equal(t, &types.AttributeValueMemberN{Value: "0"}, update.ExpressionAttributeValues[":rev"])
	})

	t.Run("UnreadMissingDocumentIsNotFound", func(t *testing.T) {
		api := &fakeAPI{transact: func(*sdk.TransactWriteItemsInput) (*sdk.TransactWriteItemsOutput, error) {
			return nil, conflict()
		}}
		calls := 0
		err := newTestStore(t, api).RunTransaction(ctx, func(ctx context.Context, tx datastore.Transaction[User]) error {
			calls++
			return tx.Update("doc-9", storagemodels.Patch{storagemodels.FieldAge: 1})
		})
		var nf *storeerrors.NotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, "doc-9", nf.ID)
		assert.Equal(t, 1, calls, "a missing document is not retried")
	})

	t.Run("UpdateOfDocumentReadAsMissing", func(t *testing.T) {
		api := &fakeAPI{}
		err := newTestStore(t, api).RunTransaction(ctx, func(ctx context.Context, tx datastore.Transaction[User]) error {
			if _, err := tx.Get(ctx, "doc-1"); !storeerrors.IsNotFound(err) {
				return err
			}
			return tx.Update("doc-1", storagemodels.Patch{storagemodels.FieldAge: 1})
		})
		assert.True(t, storeerrors.IsNotFound(err))
		assert.Empty(t, api.transacts)
	})

	t.Run("ReadOnlyDocumentsAreChecked", func(t *testing.T) {
		api := &fakeAPI{getItem: getAda(t)}
		store := newTestStore(t, api)

		err := store.RunTransaction(ctx, func(ctx context.Context, tx datastore.Transaction[User]) error {
			if _, err := tx.Get(ctx, "doc-1"); err != nil {
				return err
			}
			return tx.Update("doc-2", storagemodels.Patch{storagemodels.FieldAge: 1})
		})
		require.NoError(t, err)
		require.Len(t, api.transacts, 1)

		items := api.transacts[0].TransactItems
		require.Len(t, items, 2)
		assert.Equal(t, "attribute_exists(#pk)", aws.ToString(items[0].Update.ConditionExpression))
		require.NotNil(t, items[1].ConditionCheck)
		assert.Equal(t, "attribute_exists(#pk) AND #rev = :rev", aws.ToString(items[1].ConditionCheck.ConditionExpression))
		assert.Equal(t, "_rev", items[1].ConditionCheck.ExpressionAttributeNames["#rev"])
	})

	t.Run("MissingDocumentStops", func(t *testing.T) {
		api := &fakeAPI{}
		calls := 0
		err := newTestStore(t, api).RunTransaction(ctx, incrementAge(&calls))
		assert.True(t, storeerrors.IsNotFound(err))
		assert.Equal(t, 1, calls)
		assert.Empty(t, api.transacts)
	})
}

func TestDynamodbCommitBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("CoalescesSameDocument", func(t *testing.T) {
		api := &fakeAPI{}
		batch := storagemodels.NewBatch().
			Update("doc-1", storagemodels.Patch{storagemodels.FieldFirstName: "Kristina"}).
			Update("doc-1", storagemodels.Patch{storagemodels.FieldLastName: "Kukaite"}).
			Delete("doc-2")

		require.NoError(t, newTestStore(t, api).CommitBatch(ctx, batch))
		require.Len(t, api.transacts, 1)

		items := api.transacts[0].TransactItems
		require.Len(t, items, 2)
		update := items[0].Update
		require.NotNil(t, update)
		assert.Equal(t, "firstName", update.ExpressionAttributeNames["#f0"])
		assert.Equal(t, "lastName", update.ExpressionAttributeNames["#f1"])
		assert.Equal(t, "attribute_exists(#pk)", aws.ToString(update.ConditionExpression))
		require.NotNil(t, items[1].Delete)
	})

	t.Run("MissingDocumentReported", func(t *testing.T) {
		api := &fakeAPI{transact: func(*sdk.TransactWriteItemsInput) (*sdk.TransactWriteItemsOutput, error) {
			return nil, &types.TransactionCanceledException{CancellationReasons: []types.CancellationReason{
				{Code: aws.String("None")},
				{Code: aws.String("ConditionalCheckFailed")},
			}}
		}}
		batch := storagemodels.NewBatch().
			Update("a", storagemodels.Patch{storagemodels.FieldAge: 1}).
			Update("b", storagemodels.Patch{storagemodels.FieldAge: 2})

		err := newTestStore(t, api).CommitBatch(ctx, batch)
		var nf *storeerrors.NotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, "b", nf.ID)
	})

	t.Run("UpdateAfterDelete", func(t *testing.T) {
		api := &fakeAPI{}
		batch := storagemodels.NewBatch().Delete("a").Update("a", storagemodels.Patch{})
		err := newTestStore(t, api).CommitBatch(ctx, batch)
		assert.True(t, storeerrors.IsValidationError(err))
		assert.Empty(t, api.transacts)
	})
}
