package gormext

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
	"gorm.io/plugin/soft_delete"
)

const deletableListenerName = "gormext:deletable"

// SoftDeleteKind tells how a soft-delete column marks deleted rows.
type SoftDeleteKind int

const (
	SoftDeleteNone SoftDeleteKind = iota
	// SoftDeleteByTimestamp is a nullable timestamp (gorm.DeletedAt).
	SoftDeleteByTimestamp
	// SoftDeleteByUnixTime is a unix time, 0 while alive (soft_delete.DeletedAt).
	SoftDeleteByUnixTime
	// SoftDeleteByFlag is a 0/1 flag (soft_delete.DeletedAt, softDelete:flag).
	SoftDeleteByFlag
)

func (k SoftDeleteKind) String() string {
	switch k {
	case SoftDeleteByTimestamp:
		return "timestamp"
	case SoftDeleteByUnixTime:
		return "unix"
	case SoftDeleteByFlag:
		return "flag"
	default:
		return "none"
	}
}

// aliveValue is what the column holds for rows that are not deleted.
func (k SoftDeleteKind) aliveValue() any {
	if k == SoftDeleteByTimestamp {
		return nil
	}

	return 0
}

var (
	_gormDeletedAtType       = reflect.TypeOf(gorm.DeletedAt{})
	_softDeleteDeletedAtType = reflect.TypeOf(soft_delete.DeletedAt(0))
)

func softDeleteKindOf(f *schema.Field) SoftDeleteKind {
	switch f.FieldType {
	case _gormDeletedAtType:
		return SoftDeleteByTimestamp
	case _softDeleteDeletedAtType:
		if strings.Contains(strings.ToLower(f.TagSettings["SOFTDELETE"]), "flag") {
			return SoftDeleteByFlag
		}

		return SoftDeleteByUnixTime
	default:
		return SoftDeleteNone
	}
}

// deletedAtField returns the first soft-delete column of s.
func deletedAtField(s *schema.Schema) (*schema.Field, SoftDeleteKind) {
	for _, f := range s.Fields {
		if f.DBName == "" {
			continue
		}

		if kind := softDeleteKindOf(f); kind != SoftDeleteNone {
			return f, kind
		}
	}

	return nil, SoftDeleteNone
}

// isSoftDeleted reports whether the row held in rv carries a deletion marker.
func isSoftDeleted(ctx context.Context, s *schema.Schema, rv reflect.Value) bool {
	f, _ := deletedAtField(s)
	if f == nil {
		return false
	}

	_, zero := f.ValueOf(ctx, rv)

	return !zero
}

// DeletableListener validates the soft-delete column of Deletable models.
// Soft deletion itself is performed by the column type's GORM clauses.
type DeletableListener struct {
	field string

	cache metadataCache
}

func NewDeletableListener() *DeletableListener {
	return &DeletableListener{field: "DeletedAt"}
}

// WithField overrides the name of the soft-delete field.
func (l *DeletableListener) WithField(field string) *DeletableListener {
	if l == nil {
		l = NewDeletableListener()
	}

	l.field = field

	return l
}

func (l *DeletableListener) Name() string {
	return deletableListenerName
}

func (l *DeletableListener) SubscribedEvents() []Event {
	return []Event{
		EventLoadMetadata,
	}
}

func (l *DeletableListener) Initialize(db *gorm.DB) error {
	return subscribe(db, l, handlers{
		EventLoadMetadata: l.loadMetadata,
	})
}

func (l *DeletableListener) resolve(s *schema.Schema) (*Metadata, error) {
	if !implements[Deletable](s) {
		return nil, nil
	}

	f, err := lookupField(s, l.field, func(f *schema.Field) string {
		if softDeleteKindOf(f) == SoftDeleteNone {
			return fmt.Sprintf("expected gorm.DeletedAt or soft_delete.DeletedAt, got %s", f.FieldType)
		}

		return ""
	})
	if err != nil {
		return nil, err
	}

	md := newMetadata(s).withField(roleDeletedAt, f)
	md.softDelete = softDeleteKindOf(f)

	return md, nil
}

func (l *DeletableListener) loadMetadata(db *gorm.DB) {
	l.cache.loadMetadata(db, l.Name(), l.resolve)
}

// SoftDeleteKind returns how the model marks deleted rows.
func (m *Metadata) SoftDeleteKind() SoftDeleteKind {
	if m == nil {
		return SoftDeleteNone
	}

	return m.softDelete
}

// WithDeleted is a scope including soft-deleted rows.
func WithDeleted(db *gorm.DB) *gorm.DB {
	return db.Unscoped()
}

// OnlyDeleted is a scope selecting soft-deleted rows only.
func OnlyDeleted(db *gorm.DB) *gorm.DB {
	s, err := statementSchema(db)
	if err != nil {
		_ = db.AddError(fmt.Errorf("cannot select deleted rows: %w", err))
		return db
	}

	f, kind := deletedAtField(s)
	if f == nil {
		_ = db.AddError(&MappingError{Model: s.Name, Field: "DeletedAt", Reason: "model has no soft-delete column"})
		return db
	}

	column := clause.Column{Table: clause.CurrentTable, Name: f.DBName}

	return db.Unscoped().Where(clause.Neq{Column: column, Value: kind.aliveValue()})
}

// Restore clears the deletion marker of a soft-deleted model. The model must
// carry its primary key.
func Restore(db *gorm.DB, model any) error {
	tx := db.Model(model)

	s, err := statementSchema(tx)
	if err != nil {
		return fmt.Errorf("cannot restore: %w", err)
	}

	f, kind := deletedAtField(s)
	if f == nil {
		return fmt.Errorf("cannot restore: %w", &MappingError{Model: s.Name, Field: "DeletedAt", Reason: "model has no soft-delete column"})
	}

	if err = tx.Unscoped().UpdateColumn(f.DBName, kind.aliveValue()).Error; err != nil {
		return fmt.Errorf("cannot restore %s: %w", s.Name, err)
	}

	return nil
}

// ForceDelete removes rows permanently, bypassing soft deletion.
func ForceDelete(db *gorm.DB, model any, conds ...any) error {
	return db.Unscoped().Delete(model, conds...).Error
}
