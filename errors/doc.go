/*
Package errors provides semantic error types for userstore.

Every store backend reports failures through these types so callers can branch
with errors.Is or the Is* helpers regardless of which database is behind the
collection handle.

Common Errors:

	var (
	    ErrNotFound           = errors.New("document not found")
	    ErrAlreadyExists      = errors.New("document already exists")
	    ErrInvalidInput       = errors.New("invalid input")
	    ErrConditionFailed    = errors.New("condition check failed")
	    ErrTransactionAborted = errors.New("transaction aborted")
	    ErrRemote             = errors.New("remote store failure")
	)

Usage:

	newAge, err := repo.IncrementAge(ctx, id)
	if err != nil {
	    switch {
	    case errors.IsNotFound(err):
	        // the document was deleted
	    case errors.IsTransactionAborted(err):
	        // too much contention, the store gave up
	    }
	}

DocumentError is not a kind on its own: it wraps the failure of one document
inside a match-based update or delete and unwraps to the underlying cause.
*/
package errors
