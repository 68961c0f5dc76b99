package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/isabella232/smartstart-sub000/internal/config"
	leaderdomain "github.com/isabella232/smartstart-sub000/internal/leader/domain"
	leaderservice "github.com/isabella232/smartstart-sub000/internal/leader/service"
)

func newService(t *testing.T, instanceID string) (leaderdomain.Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := conn.AutoMigrate(&leaderdomain.LeaderRecord{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	svc := leaderservice.Provide(leaderservice.Params{
		DB:     conn,
		Cfg:    config.Config{Sweep: config.SweepConfig{InstanceID: instanceID}},
		Logger: zap.NewNop(),
	})
	return svc, conn
}

func TestIsLeaderWithoutRecord(t *testing.T) {
	svc, _ := newService(t, "instance-1")

	leading, err := svc.IsLeader(context.Background())
	if err != nil {
		t.Fatalf("is leader: %v", err)
	}
	if leading {
		t.Fatal("no record means nobody leads")
	}
}

func TestIsLeaderMatchesRecord(t *testing.T) {
	svc, conn := newService(t, "instance-1")
	if err := conn.Create(&leaderdomain.LeaderRecord{ID: 1, InstanceID: "instance-1"}).Error; err != nil {
		t.Fatalf("seed leader record: %v", err)
	}

	leading, err := svc.IsLeader(context.Background())
	if err != nil {
		t.Fatalf("is leader: %v", err)
	}
	if !leading {
		t.Fatal("expected matching instance to lead")
	}
}

func TestIsLeaderMismatchedRecord(t *testing.T) {
	svc, conn := newService(t, "instance-2")
	if err := conn.Create(&leaderdomain.LeaderRecord{ID: 1, InstanceID: "instance-1"}).Error; err != nil {
		t.Fatalf("seed leader record: %v", err)
	}

	leading, err := svc.IsLeader(context.Background())
	if err != nil {
		t.Fatalf("is leader: %v", err)
	}
	if leading {
		t.Fatal("expected mismatched instance not to lead")
	}
}
