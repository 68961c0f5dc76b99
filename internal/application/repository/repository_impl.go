package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/isabella232/smartstart-sub000/internal/application/domain"
)

type repository struct {
	node *snowflake.Node
}

func Provide(node *snowflake.Node) domain.Repository {
	return &repository{node: node}
}

func (r *repository) Insert(ctx context.Context, conn *gorm.DB, app *domain.Application) error {
	if app.ID == 0 {
		app.ID = r.node.Generate()
	}
	return conn.WithContext(ctx).Create(app).Error
}

func (r *repository) FindByReferenceCode(ctx context.Context, conn *gorm.DB, referenceCode string) (*domain.Application, error) {
	var app domain.Application
	err := conn.WithContext(ctx).
		Where("reference_code = ?", referenceCode).
		First(&app).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrApplicationNotFound
		}
		return nil, err
	}
	return &app, nil
}

func (r *repository) FindUnprocessedDuplicate(ctx context.Context, conn *gorm.DB, firstNames, surname, birthDate string) (*domain.Application, error) {
	var app domain.Application
	err := conn.WithContext(ctx).
		Where("child_first_names = ? AND child_surname = ? AND child_birth_date = ? AND processed = ?",
			firstNames, surname, birthDate, false).
		First(&app).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrApplicationNotFound
		}
		return nil, err
	}
	return &app, nil
}

func (r *repository) ListSweepable(ctx context.Context, conn *gorm.DB, olderThan time.Time) ([]domain.Application, error) {
	var apps []domain.Application
	err := conn.WithContext(ctx).
		Where("submitted_at < ? AND registry_rejected = ?", olderThan, false).
		Order("submitted_at ASC").
		Find(&apps).Error
	return apps, err
}

func (r *repository) Save(ctx context.Context, conn *gorm.DB, app *domain.Application) error {
	return conn.WithContext(ctx).Save(app).Error
}

func (r *repository) Delete(ctx context.Context, conn *gorm.DB, id snowflake.ID) error {
	return conn.WithContext(ctx).Delete(&domain.Application{}, "id = ?", id).Error
}
