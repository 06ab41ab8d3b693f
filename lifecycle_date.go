package gormext

import (
	"reflect"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

const lifecycleDateListenerName = "gormext:lifecycle_date"

// LifecycleDateListener sets the creation and update time of
// LifecycleDateTimeAware models.
type LifecycleDateListener struct {
	createdField string
	updatedField string
	nowFunc      func() time.Time

	cache metadataCache
}

func NewLifecycleDateListener() *LifecycleDateListener {
	return &LifecycleDateListener{
		createdField: "CreatedAt",
		updatedField: "UpdatedAt",
	}
}

// WithFields overrides the names of the creation and update time fields.
// The model setters must write the same fields.
func (l *LifecycleDateListener) WithFields(created, updated string) *LifecycleDateListener {
	if l == nil {
		l = NewLifecycleDateListener()
	}

	l.createdField = created
	l.updatedField = updated

	return l
}

// WithNowFunc overrides the clock. GORM's NowFunc is used by default.
func (l *LifecycleDateListener) WithNowFunc(nowFunc func() time.Time) *LifecycleDateListener {
	if l == nil {
		l = NewLifecycleDateListener()
	}

	l.nowFunc = nowFunc

	return l
}

func (l *LifecycleDateListener) Name() string {
	return lifecycleDateListenerName
}

func (l *LifecycleDateListener) SubscribedEvents() []Event {
	return []Event{
		EventPrePersist,
		EventPreUpdate,
		EventLoadMetadata,
	}
}

func (l *LifecycleDateListener) Initialize(db *gorm.DB) error {
	return subscribe(db, l, handlers{
		EventLoadMetadata: l.loadMetadata,
		EventPrePersist:   l.prePersist,
		EventPreUpdate:    l.preUpdate,
	})
}

func (l *LifecycleDateListener) resolve(s *schema.Schema) (*Metadata, error) {
	if !implements[LifecycleDateTimeAware](s) {
		return nil, nil
	}

	created, err := lookupField(s, l.createdField, isTimeField)
	if err != nil {
		return nil, err
	}

	updated, err := lookupField(s, l.updatedField, isTimeField)
	if err != nil {
		return nil, err
	}

	return newMetadata(s).
		withField(roleCreatedAt, created).
		withField(roleUpdatedAt, updated), nil
}

func (l *LifecycleDateListener) loadMetadata(db *gorm.DB) {
	l.cache.loadMetadata(db, l.Name(), l.resolve)
}

func (l *LifecycleDateListener) prePersist(db *gorm.DB) {
	md := l.cache.forHook(db, l.resolve)
	if md == nil {
		return
	}

	now := l.now(db)
	if isMapDest(db.Statement.Dest) {
		setColumn(db.Statement, md.field(roleCreatedAt), now)
		setColumn(db.Statement, md.field(roleUpdatedAt), now)
		return
	}

	upsert := isUpsert(db.Statement)
	err := eachModel(db.Statement.ReflectValue, func(rv reflect.Value) error {
		m, ok := modelAs[LifecycleDateTimeAware](rv)
		if !ok {
			return nil
		}

		createdAt := now
		if upsert {
			// Stored rows keep their creation time.
			persisted, found, err := loadPersisted(db, md, rv)
			if err != nil {
				return err
			} else if found {
				stored, _ := md.field(roleCreatedAt).ValueOf(db.Statement.Context, persisted)
				if at, ok := indirectValue(stored).(time.Time); ok {
					createdAt = at
				}
			}
		}

		m.SetCreatedAt(createdAt)
		m.SetUpdatedAt(now)

		return nil
	})
	if err != nil {
		_ = db.AddError(err)
	}
}

func (l *LifecycleDateListener) preUpdate(db *gorm.DB) {
	md := l.cache.forHook(db, l.resolve)
	if md == nil {
		return
	}

	updated := md.field(roleUpdatedAt)

	selected, restricted := db.Statement.SelectAndOmitColumns(false, true)
	if use, ok := selected[updated.DBName]; ok && !use {
		return
	} else if !ok && restricted {
		db.Statement.Selects = append(db.Statement.Selects, updated.DBName)
	}

	setColumn(db.Statement, updated, l.now(db))
}

func (l *LifecycleDateListener) now(db *gorm.DB) time.Time {
	if l.nowFunc != nil {
		return l.nowFunc()
	}

	return db.NowFunc()
}
