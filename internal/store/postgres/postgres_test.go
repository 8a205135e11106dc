package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"depotbill/backend/internal/store"
)

func TestMapErrorFoldsDriverCodes(t *testing.T) {
	cases := map[string]error{
		"23505": store.ErrConflict,
		"40001": store.ErrConflict,
		"40P01": store.ErrConflict,
		"23503": store.ErrNotFound,
		"23514": store.ErrValidation,
	}
	for code, want := range cases {
		err := mapError(fmt.Errorf("exec: %w", &pgconn.PgError{Code: code, Message: "x"}))
		assert.ErrorIs(t, err, want, code)
	}

	assert.ErrorIs(t, mapError(sql.ErrNoRows), store.ErrNotFound)
	other := errors.New("network down")
	assert.Equal(t, other, mapError(other))
	assert.NoError(t, mapError(nil))
}

func TestConditionsUsesStableOrder(t *testing.T) {
	where, args := conditions(map[string]string{
		"state":          "pending",
		"enterprise_id":  "ent-1",
		"sales_point_id": "",
	})
	assert.Equal(t, " WHERE enterprise_id = $1 AND state = $2", where)
	assert.Equal(t, []any{"ent-1", "pending"}, args)

	where, args = conditions(map[string]string{})
	assert.Empty(t, where)
	assert.Empty(t, args)

	assert.Equal(t, " WHERE created_at >= $3", andWhere("", "created_at >= $3"))
	assert.Equal(t, " LIMIT 5", limitClause(5))
	assert.Empty(t, limitClause(0))
}
