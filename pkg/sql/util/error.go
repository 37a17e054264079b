// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package dal

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"

	errors2 "github.com/synthome-dev/synthome/pkg/errors"
)

func CheckErr(err error, allowNotExist bool) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) && allowNotExist {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) && !allowNotExist {
		return err
	}
	return errors2.NewError().WithError(err).WithCode(errors2.CodeDatabaseError)
}

// IsUniqueViolation reports whether err is a unique-constraint
// violation (SQLSTATE 23505), regardless of which driver produced it.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "duplicate key") || strings.Contains(errStr, "UNIQUE constraint")
}
