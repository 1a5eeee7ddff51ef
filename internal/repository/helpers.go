package repository

import (
	"database/sql"
	"errors"
)

// HandleNotFound turns sql.ErrNoRows from a single-row lookup into a nil
// result, so Find* callers check for nil instead of matching errors.
func HandleNotFound[T any](result *T, err error) (*T, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Affected reports whether a conditional DELETE or UPDATE matched any row.
func Affected(result sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
