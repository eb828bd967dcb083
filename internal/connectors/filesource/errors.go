package filesource

import (
	"errors"
	"io/fs"
)

func isFSError(err error) bool {
	var pathErr *fs.PathError
	return errors.As(err, &pathErr) ||
		errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, fs.ErrPermission)
}
