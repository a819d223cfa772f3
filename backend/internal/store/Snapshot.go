package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
)

// DocumentSnapshot 落盘时归档的带版本快照，(doc_key, version) 唯一
type DocumentSnapshot struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	DocKey    string `gorm:"type:varchar(300);uniqueIndex:uk_doc_version"`
	Version   int    `gorm:"uniqueIndex:uk_doc_version"`
	Content   string `gorm:"type:longtext"`
	CreatedAt time.Time
}

func (DocumentSnapshot) TableName() string { return "document_snapshots" }

type SnapshotStore struct{ db *sql.DB }

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

func (s *SnapshotStore) SaveDocumentSnapshot(ctx context.Context, docKey string, version int, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO document_snapshots (doc_key, version, content, created_at)
		VALUES (?, ?, ?, ?)`,
		docKey,
		version,
		content,
		time.Now(),
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		// 同一版本已经归档过（例如重复落盘），视为成功
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return nil
		}
		return err
	}
	return nil
}
