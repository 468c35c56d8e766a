package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestClassifyTagsSerializationFailures(t *testing.T) {
	for _, code := range []string{"40001", "40P01"} {
		err := classify(fmt.Errorf("insert: %w", &pgconn.PgError{Code: code}))
		require.ErrorIs(t, err, ErrSerialization, code)
		var pgErr *pgconn.PgError
		require.True(t, errors.As(err, &pgErr))
	}

	plain := &pgconn.PgError{Code: "23505"}
	require.NotErrorIs(t, classify(plain), ErrSerialization)
}
