/*
Package userstore is a client-side access layer for a users collection kept in
a remote schemaless document database.

A Repository offers the collection operations on top of any
datastore.DataStore[storagemodels.User] backend (DynamoDB, MongoDB or the
in-memory store):
  - Create adds a user under a store-generated identifier
  - ReadRange lists users whose age lies strictly between two bounds, ordered by age
  - UpdateByMatch and DeleteByMatch act on every user equal to a template
  - IncrementAge adds one to a user's age inside an optimistic transaction
  - ChangeName replaces first and last name in one atomic batch

A Client runs the same operations on a dispatch.Bridge so that a single
foreground loop receives every outcome:

	cfg, _ := config.Load("userstore.yaml")
	store, closeStore, _ := userstore.Open(ctx, cfg, logger)
	defer closeStore(ctx)

	bridge, _ := dispatch.New(dispatch.WithLogger(logger))
	client := userstore.NewClient(userstore.NewRepository(store), bridge)

	task := client.Create(storagemodels.User{FirstName: "Ada", LastName: "Lovelace", Age: 36}).
		OnComplete(func(out dispatch.Outcome[userstore.Created]) {
			fmt.Println(out.Message())
		})
	task.Wait(ctx)
	bridge.RunPending() // prints "Successfully saved data."

Long-running programs call bridge.Run(ctx) instead, which delivers outcomes
until ctx is done.
*/
package userstore
