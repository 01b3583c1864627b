package notify

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Notifier is the fire-and-forget notification sink. Implementations must
// swallow delivery failures; a lost notification never fails a grant.
type Notifier interface {
	Notify(ctx context.Context, userID, kind, title, body string)
}

type Notification struct {
	ID        string     `gorm:"column:id;primaryKey"`
	UserID    string     `gorm:"column:user_id;index;not null"`
	Kind      string     `gorm:"column:kind;type:varchar(40);not null"`
	Title     string     `gorm:"column:title"`
	Body      string     `gorm:"column:body;type:text"`
	CreatedAt time.Time  `gorm:"column:created_at"`
	ReadAt    *time.Time `gorm:"column:read_at"`
}

func (Notification) TableName() string { return "notifications" }

var Module = fx.Module("notify.service",
	fx.Provide(NewService, func(s *Service) Notifier { return s }),
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{db: p.DB, node: p.Node}
}

func (s *Service) Notify(ctx context.Context, userID, kind, title, body string) {
	n := Notification{
		ID:        s.node.Generate().String(),
		UserID:    userID,
		Kind:      kind,
		Title:     title,
		Body:      body,
		CreatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&n).Error; err != nil {
		zap.L().Warn("failed to write notification",
			zap.String("user_id", userID),
			zap.String("kind", kind),
			zap.Error(err),
		)
	}
}
