package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

// Transactions retry on contention up to txAttempts times and never outlive txTimeout.
const (
	txAttempts = 5
	txTimeout  = 15 * time.Second
)

// TxFunc is the body of a read-write transaction.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// RunTransaction runs fn in a read-write transaction. Errors returned by fn pass through
// WrapError, so sentinel errors stay reachable with errors.Is and ErrVersionMismatch is
// classified as a conflict.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc) error {
	if client == nil || fn == nil {
		return WrapError("transaction", errors.New("firestore: client and transaction body are required"))
	}
	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > txTimeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, txTimeout)
		defer cancel()
	}
	return WrapError("transaction", client.RunTransaction(ctx, fn, firestore.MaxAttempts(txAttempts)))
}
