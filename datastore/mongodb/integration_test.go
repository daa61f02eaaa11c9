//go:build integration

/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package mongodb

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suparena/userstore/datastore"
	"github.com/suparena/userstore/storagemodels"
)

type User = storagemodels.User

func getUserStore(t *testing.T) *MongoDataStore[User] {
	t.Helper()
	if err := godotenv.Load(); err != nil {
		t.Log("No .env file found, proceeding with environment variables")
	}
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("MONGODB_URI not set")
	}
	database := os.Getenv("MONGODB_DATABASE")
	if database == "" {
		database = "userstore_test"
	}

	ctx := context.Background()
	client, err := Connect(ctx, uri)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(ctx) })

	store, err := NewMongoDataStore[User](client, database, "users_it")
	require.NoError(t, err)
	_, err = store.col.DeleteMany(ctx, map[string]any{})
	require.NoError(t, err)
	return store
}

func TestIntegrationConcurrentTransactions(t *testing.T) {
	ctx := context.Background()
	store := getUserStore(t)

	id, err := store.Add(ctx, User{FirstName: "Ada", LastName: "Lovelace", Age: 30})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.RunTransaction(ctx, func(ctx context.Context, tx datastore.Transaction[User]) error {
				snap, err := tx.Get(ctx, id)
				if err != nil {
					return err
				}
				return tx.Update(id, storagemodels.Patch{storagemodels.FieldAge: snap.Data.Age + 1})
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	snap, err := store.GetOne(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 35, snap.Data.Age)

	snaps, err := store.Query(ctx, storagemodels.NewQuery().OrderBy(storagemodels.FieldAge, storagemodels.Ascending))
	require.NoError(t, err)
	require.Len(t, snaps, 1)
}
