package storage

import (
	"errors"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"

	"github.com/bryanwahyu/contract-risk/internal/domain/risk"
)

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "documents/lease-2024.txt", ObjectKey("lease-2024"))
}

func TestMapError(t *testing.T) {
	missing := minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404}
	assert.ErrorIs(t, mapError("doc-1", missing), risk.ErrNotFound)

	denied := minio.ErrorResponse{Code: "AccessDenied", StatusCode: 403, Message: "denied"}
	err := mapError("doc-1", denied)
	assert.NotErrorIs(t, err, risk.ErrNotFound)
	assert.ErrorContains(t, err, "get text doc-1")

	other := errors.New("connection reset")
	assert.ErrorIs(t, mapError("doc-1", other), other)
}
