package service

import (
	"errors"

	apperrors "github.com/clipzy/clipzy-server/internal/errors"
	"github.com/clipzy/clipzy-server/internal/kv"
	"github.com/clipzy/clipzy-server/internal/repository"
)

// storageError maps storage failures onto application errors. Errors that
// are already AppErrors pass through unchanged.
func storageError(err error) error {
	if err == nil {
		return nil
	}
	if apperrors.IsAppError(err) {
		return err
	}
	switch {
	case errors.Is(err, repository.ErrRoomNotFound):
		return apperrors.RoomNotFound()
	case errors.Is(err, repository.ErrConflict):
		return apperrors.Conflict("Room is busy, please retry").WithCause(err)
	case errors.Is(err, kv.ErrCorrupt):
		return apperrors.CorruptData(err)
	default:
		return apperrors.Backend(err)
	}
}
