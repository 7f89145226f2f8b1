// ollamachat/sources/psql/dao/dao.session.go
package dao

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ollamachat/ollamachat/sources/psql/models"
	"ollamachat/ollamachat/sources/session"
)

// SessionDAO implements session.Store on top of Postgres.
type SessionDAO struct {
	DB *gorm.DB
}

func NewSessionDAO(db *gorm.DB) *SessionDAO {
	return &SessionDAO{DB: db}
}

// Load returns the stored state for a session id.
func (dao *SessionDAO) Load(ctx context.Context, id string) ([]byte, error) {
	var rec models.SessionRecord
	err := dao.DB.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec.Data, nil
}

// Save creates or updates the stored state for a session id in one statement.
func (dao *SessionDAO) Save(ctx context.Context, id string, data []byte) error {
	rec := models.SessionRecord{ID: id, Data: data}
	return dao.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&rec).Error
}
