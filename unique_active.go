package gormext

import (
	"fmt"
	"reflect"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

const uniqueActiveListenerName = "gormext:unique_active"

// UniqueActiveListener deactivates the other rows of a group when a
// UniqueActive model is written as active.
type UniqueActiveListener struct {
	field string

	cache metadataCache
}

func NewUniqueActiveListener() *UniqueActiveListener {
	return &UniqueActiveListener{field: "Active"}
}

// WithField overrides the name of the active flag field.
func (l *UniqueActiveListener) WithField(field string) *UniqueActiveListener {
	if l == nil {
		l = NewUniqueActiveListener()
	}

	l.field = field

	return l
}

func (l *UniqueActiveListener) Name() string {
	return uniqueActiveListenerName
}

func (l *UniqueActiveListener) SubscribedEvents() []Event {
	return []Event{
		EventPrePersist,
		EventPreUpdate,
		EventLoadMetadata,
	}
}

func (l *UniqueActiveListener) Initialize(db *gorm.DB) error {
	return subscribe(db, l, handlers{
		EventLoadMetadata: l.loadMetadata,
		EventPrePersist:   l.prePersist,
		EventPreUpdate:    l.preUpdate,
	})
}

func (l *UniqueActiveListener) resolve(s *schema.Schema) (*Metadata, error) {
	if !implements[UniqueActive](s) {
		return nil, nil
	}

	active, err := lookupField(s, l.field, isBoolField)
	if err != nil {
		return nil, err
	}

	group, err := lookupFields(s, zeroModelAs[UniqueActive](s).UniqueActiveFields())
	if err != nil {
		return nil, err
	}

	return newMetadata(s).
		withField(roleActive, active).
		withGroup(group), nil
}

func (l *UniqueActiveListener) loadMetadata(db *gorm.DB) {
	l.cache.loadMetadata(db, l.Name(), l.resolve)
}

func (l *UniqueActiveListener) prePersist(db *gorm.DB) {
	md := l.cache.forHook(db, l.resolve)
	if md == nil {
		return
	}

	stmt := db.Statement
	if isMapDest(stmt.Dest) {
		db.Logger.Warn(stmt.Context, "%s: active rows are not maintained when creating %s from maps", l.Name(), md.Schema.Name)
		return
	}

	type winner struct {
		model UniqueActive
		conds tDisjunct
	}

	// The last active row of every group wins.
	var order []string
	winners := make(map[string]winner)

	_ = eachModel(stmt.ReflectValue, func(rv reflect.Value) error {
		m, ok := modelAs[UniqueActive](rv)
		if !ok || !m.IsActive() {
			return nil
		}

		group := rowGroupConditions(stmt, md, rv)
		key := groupKey(group)

		if prev, ok := winners[key]; ok {
			prev.model.SetActive(false)
		} else {
			order = append(order, key)
		}

		self, _ := primaryKeyConditions(md.Schema, stmt, rv, true)
		winners[key] = winner{model: m, conds: join(group, self)}

		return nil
	})

	for _, key := range order {
		if err := l.deactivate(db, md, winners[key].conds); err != nil {
			_ = db.AddError(err)
			return
		}
	}
}

func (l *UniqueActiveListener) preUpdate(db *gorm.DB) {
	md := l.cache.forHook(db, l.resolve)
	if md == nil {
		return
	}

	stmt := db.Statement
	if stmt.ReflectValue.Kind() != reflect.Struct {
		db.Logger.Warn(stmt.Context, "%s: active rows are not maintained for batch updates of %s", l.Name(), md.Schema.Name)
		return
	}

	rv := stmt.ReflectValue
	self, ok := primaryKeyConditions(md.Schema, stmt, rv, true)
	if !ok {
		db.Logger.Warn(stmt.Context, "%s: %s updated without a primary key, active rows are not maintained", l.Name(), md.Schema.Name)
		return
	}

	persisted, found, err := loadPersisted(db, md, rv)
	if err != nil {
		_ = db.AddError(err)
		return
	} else if !found {
		persisted = rv
	}

	active, ok := toBool(currentValue(stmt, md.field(roleActive), persisted))
	if !ok || !active {
		return
	}

	if err = l.deactivate(db, md, join(groupConditions(stmt, md, persisted), self)); err != nil {
		_ = db.AddError(err)
	}
}

// deactivate sets active = false on every active row matching conds.
func (l *UniqueActiveListener) deactivate(db *gorm.DB, md *Metadata, conds tDisjunct) error {
	f := md.field(roleActive)
	conds = join(tDisjunct{{Column: f.DBName, Operator: operatorEq, Value: true}}, conds)

	err := withConditions(session(db).Model(md.newModel()), conds).
		UpdateColumn(f.DBName, false).Error
	if err != nil {
		return fmt.Errorf("cannot deactivate %s: %w", md.Schema.Name, err)
	}

	return nil
}
