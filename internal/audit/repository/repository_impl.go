package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/isabella232/smartstart-sub000/internal/audit/domain"
)

type repository struct {
	node *snowflake.Node
}

func Provide(node *snowflake.Node) domain.Repository {
	return &repository{node: node}
}

func (r *repository) Insert(ctx context.Context, conn *gorm.DB, record *domain.Record) error {
	if record.ID == 0 {
		record.ID = r.node.Generate()
	}
	return conn.WithContext(ctx).Create(record).Error
}

func (r *repository) UpdateRegistryOutcome(ctx context.Context, conn *gorm.DB, id snowflake.ID, update domain.RegistryOutcomeUpdate) error {
	result := conn.WithContext(ctx).
		Model(&domain.Record{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"registry_status":    update.RegistryStatus,
			"registry_duplicate": update.RegistryDuplicate,
			"txn_attempted":      update.TxnAttempted,
			"amount_expected":    update.AmountExpected,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrRecordNotFound
	}
	return nil
}

func (r *repository) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Record, error) {
	var record domain.Record
	if err := conn.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrRecordNotFound
		}
		return nil, err
	}
	return &record, nil
}

func (r *repository) ListByReferenceCode(ctx context.Context, conn *gorm.DB, referenceCode string) ([]domain.Record, error) {
	var records []domain.Record
	err := conn.WithContext(ctx).
		Where("reference_code = ?", referenceCode).
		Order("created_at ASC").
		Find(&records).Error
	return records, err
}
