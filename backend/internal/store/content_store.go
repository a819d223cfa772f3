package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FieldContent 每个 (entity, field) 一行，保存最后一次落盘的内容
type FieldContent struct {
	EntityID  string `gorm:"primaryKey;type:varchar(128)"`
	Field     string `gorm:"primaryKey;type:varchar(128)"`
	Content   string `gorm:"type:longtext"`
	UpdatedAt time.Time
}

func (FieldContent) TableName() string { return "field_contents" }

// ContentStore 协作引擎的持久化实现
type ContentStore struct {
	db *gorm.DB
}

func NewContentStore(db *gorm.DB) *ContentStore {
	return &ContentStore{db: db}
}

// SaveFinalContent 按 (entity_id, field) upsert
func (s *ContentStore) SaveFinalContent(ctx context.Context, entityID, field, content string) error {
	row := FieldContent{EntityID: entityID, Field: field, Content: content}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entity_id"}, {Name: "field"}},
		DoUpdates: clause.AssignmentColumns([]string{"content", "updated_at"}),
	}).Create(&row).Error
}

// LoadInitialContent 没有记录时返回 "", nil
func (s *ContentStore) LoadInitialContent(ctx context.Context, entityID, field string) (string, error) {
	var row FieldContent
	err := s.db.WithContext(ctx).
		Where("entity_id = ? AND field = ?", entityID, field).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return row.Content, nil
}
