//go:build integration

/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import (
	"context"
	"os"
	"testing"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suparena/userstore/datastore"
	"github.com/suparena/userstore/storagemodels"
)

// getUserStore connects to the table named by AWS_DDB_TABLE. The table needs
// PK/SK string keys and the indexes from DefaultGSIConfigs.
func getUserStore(t *testing.T) *DynamodbDataStore[User] {
	t.Helper()
	if err := godotenv.Load(); err != nil {
		t.Log("No .env file found, proceeding with environment variables")
	}

	table := os.Getenv("AWS_DDB_TABLE")
	if table == "" {
		t.Skip("AWS_DDB_TABLE not set")
	}

	client, err := NewDynamoDBClient(context.Background(),
		os.Getenv("AWS_ACCESS_KEY"),
		os.Getenv("AWS_SECRET_KEY"),
		os.Getenv("AWS_REGION"),
		os.Getenv("AWS_DDB_ENDPOINT"))
	require.NoError(t, err)

	store, err := NewDynamodbDataStore[User](client, table, "users_it")
	require.NoError(t, err)
	return store
}

func TestIntegrationLifecycle(t *testing.T) {
	ctx := context.Background()
	store := getUserStore(t)

	id, err := store.Add(ctx, User{FirstName: "Ada", LastName: "Lovelace", Age: 30})
	require.NoError(t, err)
	defer store.Delete(ctx, id)

	require.NoError(t, store.Merge(ctx, id, storagemodels.Patch{storagemodels.FieldAge: 31}))

	err = store.RunTransaction(ctx, func(ctx context.Context, tx datastore.Transaction[User]) error {
		snap, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		return tx.Update(id, storagemodels.Patch{storagemodels.FieldAge: snap.Data.Age + 1})
	})
	require.NoError(t, err)

	snap, err := store.GetOne(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, User{FirstName: "Ada", LastName: "Lovelace", Age: 32}, snap.Data)

	snaps, err := store.Query(ctx, storagemodels.NewQuery().
		WhereGreaterThan(storagemodels.FieldAge, 31).
		OrderBy(storagemodels.FieldAge, storagemodels.Ascending))
	require.NoError(t, err)
	ids := make([]string, 0, len(snaps))
	for _, s := range snaps {
		ids = append(ids, s.ID)
	}
	assert.Contains(t, ids, id)
}
