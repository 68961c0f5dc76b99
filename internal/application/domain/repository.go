package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrApplicationNotFound = errors.New("application_not_found")
)

// Repository takes the *gorm.DB on every call so lookups and writes can
// join a caller-managed serializable transaction.
type Repository interface {
	Insert(ctx context.Context, conn *gorm.DB, app *Application) error
	FindByReferenceCode(ctx context.Context, conn *gorm.DB, referenceCode string) (*Application, error)
	FindUnprocessedDuplicate(ctx context.Context, conn *gorm.DB, firstNames, surname, birthDate string) (*Application, error)
	ListSweepable(ctx context.Context, conn *gorm.DB, olderThan time.Time) ([]Application, error)
	Save(ctx context.Context, conn *gorm.DB, app *Application) error
	Delete(ctx context.Context, conn *gorm.DB, id snowflake.ID) error
}
