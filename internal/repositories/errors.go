package repositories

import (
	"errors"

	"github.com/lib/pq"

	"support-chat/internal/apperrors"
)

// Re-exported so callers of this package can match store sentinels directly.
var (
	ErrGroupNotFound       = apperrors.ErrGroupNotFound
	ErrMemberNotFound      = apperrors.ErrMemberNotFound
	ErrMessageNotFound     = apperrors.ErrMessageNotFound
	ErrDuplicateMembership = apperrors.ErrDuplicateMembership
	ErrAlreadyReported     = apperrors.ErrAlreadyReported
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return false
}
