package repository

import (
	"errors"

	"github.com/smallbiznis/edupoints/internal/quota/domain"
	pkgdb "github.com/smallbiznis/edupoints/pkg/db"
	"gorm.io/gorm"
)

// wrapErr maps driver failures onto the domain error surface. Domain
// sentinels pass through untouched.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrScopeNotFound
	}
	var perr *domain.PersistenceError
	if errors.As(err, &perr) {
		return err
	}
	return &domain.PersistenceError{
		Op:        op,
		Err:       err,
		Retryable: pkgdb.IsTransientErr(err),
	}
}
