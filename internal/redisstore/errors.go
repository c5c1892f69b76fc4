package redisstore

import (
	"fmt"

	"github.com/hangfire-go/redisstore/internal/storeerrors"
)

var (
	errInvalidOptions = storeerrors.ErrInvalidArgument
	errStorage        = storeerrors.ErrStorage
	errLockTimeout    = storeerrors.ErrLockTimeout
	errCancelled      = storeerrors.ErrCancelled
)

func wrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %v", op, errStorage, err)
}
