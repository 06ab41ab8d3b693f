package gormext

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newGORMMySQLMock() (string, *gorm.DB, sqlmock.Sqlmock, error) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		return "", nil, nil, err
	}

	dialector := mysql.New(mysql.Config{
		Conn:                      mockDB,
		SkipInitializeWithVersion: true,
	})

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return "", nil, nil, err
	}

	return "mysql", db.Debug(), mock, nil
}

func newGORMPostgresMock() (string, *gorm.DB, sqlmock.Sqlmock, error) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		return "", nil, nil, err
	}

	dialector := postgres.New(postgres.Config{
		Conn: mockDB,
	})

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return "", nil, nil, err
	}

	return "postgres", db.Debug(), mock, nil
}

// newSQLite opens a private in-memory database with the listeners
// registered and the models migrated.
func newSQLite(t *testing.T, listeners []Listener, models ...any) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// A single connection keeps the in-memory database alive and shared.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	require.NoError(t, Register(db, listeners...))
	require.NoError(t, db.AutoMigrate(models...))

	return db
}

// tWarnings records the warnings logged through GORM and drops the rest.
type tWarnings struct {
	logger.Interface
	messages []string
}

func (w *tWarnings) LogMode(logger.LogLevel) logger.Interface {
	return w
}

func (w *tWarnings) Warn(_ context.Context, msg string, args ...any) {
	w.messages = append(w.messages, fmt.Sprintf(msg, args...))
}

func recordWarnings(db *gorm.DB) *tWarnings {
	w := &tWarnings{Interface: logger.Default.LogMode(logger.Silent)}
	db.Logger = w

	return w
}

type tArticle struct {
	ID    uint `gorm:"primaryKey"`
	Title string
	Timestamps
}

type tNote struct {
	ID    uint `gorm:"primaryKey"`
	Title string
	SoftDelete
}

type tFlaggedNote struct {
	ID    uint `gorm:"primaryKey"`
	Title string
	SoftDeleteFlag
}

type tTask struct {
	ID     uint `gorm:"primaryKey"`
	Title  string
	ListID uint
	Position
}

func (t *tTask) PositionGroup() []string {
	return []string{"ListID"}
}

type tBanner struct {
	ID   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Slot string
	Active
}

func (b *tBanner) UniqueActiveFields() []string {
	return []string{"Slot"}
}

func (b *tBanner) BeforeCreate(*gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}

	return nil
}

type tUser struct {
	ID   uint
	Name string
}

type tLegacy struct {
	ID   uint
	Name string
}

func (tLegacy) TableName() string {
	return "legacy"
}

// tBrokenTask declares a position group field it does not have.
type tBrokenTask struct {
	ID uint
	Position
}

func (t *tBrokenTask) PositionGroup() []string {
	return []string{"Missing"}
}

// tBrokenArticle is timestamped but keeps CreatedAt as a string.
type tBrokenArticle struct {
	ID        uint
	CreatedAt string
	UpdatedAt string
}

func (a *tBrokenArticle) SetCreatedAt(time.Time) {}
func (a *tBrokenArticle) SetUpdatedAt(time.Time) {}
