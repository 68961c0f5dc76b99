package service

import (
	"context"
	"errors"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/isabella232/smartstart-sub000/internal/config"
	"github.com/isabella232/smartstart-sub000/internal/leader/domain"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Cfg    config.Config
	Logger *zap.Logger
}

type service struct {
	db         *gorm.DB
	instanceID string
	logger     *zap.Logger
}

func Provide(p Params) domain.Service {
	return &service{
		db:         p.DB,
		instanceID: p.Cfg.Sweep.InstanceID,
		logger:     p.Logger.Named("leader"),
	}
}

func (s *service) IsLeader(ctx context.Context) (bool, error) {
	var record domain.LeaderRecord
	err := s.db.WithContext(ctx).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	leading := record.InstanceID == s.instanceID
	if !leading {
		s.logger.Debug("not the sweep leader",
			zap.String("leader_instance", record.InstanceID),
			zap.String("this_instance", s.instanceID),
		)
	}
	return leading, nil
}
