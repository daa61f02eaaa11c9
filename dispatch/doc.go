/*
Package dispatch runs store operations off the caller's goroutine and delivers
their outcomes to one foreground loop.

	bridge, _ := dispatch.New(dispatch.WithPoolSize(0))
	defer bridge.Close()

	dispatch.Submit(bridge, "create", func(ctx context.Context) (string, error) {
	    return store.Add(ctx, user)
	}).OnComplete(func(o dispatch.Outcome[string]) {
	    fmt.Println(o.Message())
	})

	_ = bridge.Run(ctx) // callbacks execute here, one at a time

Operations run concurrently on an ants pool with no ordering between them.
Workers never wait for the foreground loop; completed callbacks are queued
until Run or RunPending picks them up.
*/
package dispatch
