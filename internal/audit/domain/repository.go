package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrRecordNotFound = errors.New("audit_record_not_found")
)

// RegistryOutcomeUpdate is the additive mutation applied once the
// registry has answered for a submission. Nothing in a record is ever
// overwritten back to its zero value.
type RegistryOutcomeUpdate struct {
	RegistryStatus    string
	RegistryDuplicate bool
	TxnAttempted      bool
	AmountExpected    int64
}

// Repository accepts the *gorm.DB explicitly so callers can run ledger
// writes inside their own transactions.
type Repository interface {
	Insert(ctx context.Context, conn *gorm.DB, record *Record) error
	UpdateRegistryOutcome(ctx context.Context, conn *gorm.DB, id snowflake.ID, update RegistryOutcomeUpdate) error
	FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*Record, error)
	ListByReferenceCode(ctx context.Context, conn *gorm.DB, referenceCode string) ([]Record, error)
}
