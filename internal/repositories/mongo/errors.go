package mongo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/certified-builder/api/internal/repositories"
)

var errVersionMismatch = errors.New("mongo: document version mismatch")

// wrapError classifies driver errors into repository semantics. Context errors are passed through.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	kind := repositories.ErrorKindUnknown
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		kind = repositories.ErrorKindNotFound
	case mongo.IsDuplicateKeyError(err), errors.Is(err, errVersionMismatch):
		kind = repositories.ErrorKindConflict
	case mongo.IsNetworkError(err), mongo.IsTimeout(err), errors.Is(err, mongo.ErrClientDisconnected):
		kind = repositories.ErrorKindUnavailable
	}
	return repositories.NewStoreError(op, kind, err)
}
