package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"support-chat/internal/apperrors"
)

var errInvalidID = errors.New("invalid id")

// statusOf maps an error to its HTTP status.
func statusOf(err error) int {
	switch apperrors.CodeOf(err) {
	case apperrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case apperrors.CodeNotFound:
		return http.StatusNotFound
	case apperrors.CodeAlreadyExists, apperrors.CodeFailedPrecondition:
		return http.StatusConflict
	case apperrors.CodePermissionDenied:
		return http.StatusForbidden
	case apperrors.CodeResourceExhausted:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as JSON. Silence and slow-mode rejections carry the
// remaining wait; slow mode also sets Retry-After.
func respondError(c *gin.Context, err error) {
	status := statusOf(err)
	body := gin.H{"error": apperrors.Public(err), "code": apperrors.CodeOf(err)}
	if remaining, ok := apperrors.Remaining(err); ok {
		secs := apperrors.CeilSeconds(remaining)
		body["remaining_seconds"] = secs
		if status == http.StatusTooManyRequests {
			c.Header("Retry-After", strconv.Itoa(secs))
		}
	}
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, body)
}

func pathInt(c *gin.Context, name string) (int, error) {
	v, err := strconv.Atoi(c.Param(name))
	if err != nil || v <= 0 {
		return 0, errInvalidID
	}
	return v, nil
}

// pathInts parses several path ids, answering 400 on the first bad one.
func pathInts(c *gin.Context, names ...string) ([]int, bool) {
	out := make([]int, 0, len(names))
	for _, name := range names {
		v, err := pathInt(c, name)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
			return nil, false
		}
		out = append(out, v)
	}
	return out, true
}
