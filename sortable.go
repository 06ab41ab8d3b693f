package gormext

import (
	"cmp"
	"database/sql"
	"fmt"
	"reflect"
	"slices"

	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

const sortableListenerName = "gormext:sortable"

// SortableListener keeps the positions of PositionAware models contiguous
// inside their position group.
//
// Rows are numbered from 0. Inserting at an explicit position opens room by
// shifting the following rows, moving a row shifts the rows between its old
// and new position, and removing a row closes the gap it leaves.
type SortableListener struct {
	field string

	cache metadataCache
}

func NewSortableListener() *SortableListener {
	return &SortableListener{field: "Position"}
}

// WithField overrides the name of the position field.
func (l *SortableListener) WithField(field string) *SortableListener {
	if l == nil {
		l = NewSortableListener()
	}

	l.field = field

	return l
}

func (l *SortableListener) Name() string {
	return sortableListenerName
}

func (l *SortableListener) SubscribedEvents() []Event {
	return []Event{
		EventPrePersist,
		EventPreUpdate,
		EventPreRemove,
		EventLoadMetadata,
	}
}

func (l *SortableListener) Initialize(db *gorm.DB) error {
	return subscribe(db, l, handlers{
		EventLoadMetadata: l.loadMetadata,
		EventPrePersist:   l.prePersist,
		EventPreUpdate:    l.preUpdate,
		EventPreRemove:    l.preRemove,
	})
}

func (l *SortableListener) resolve(s *schema.Schema) (*Metadata, error) {
	if !implements[PositionAware](s) {
		return nil, nil
	}

	position, err := lookupField(s, l.field, isIntegerField)
	if err != nil {
		return nil, err
	}

	group, err := lookupFields(s, zeroModelAs[PositionAware](s).PositionGroup())
	if err != nil {
		return nil, err
	}

	return newMetadata(s).
		withField(rolePosition, position).
		withGroup(group), nil
}

func (l *SortableListener) loadMetadata(db *gorm.DB) {
	l.cache.loadMetadata(db, l.Name(), l.resolve)
}

func (l *SortableListener) prePersist(db *gorm.DB) {
	md := l.cache.forHook(db, l.resolve)
	if md == nil {
		return
	}

	stmt := db.Statement
	if isMapDest(stmt.Dest) {
		db.Logger.Warn(stmt.Context, "%s: positions are not maintained when creating %s from maps", l.Name(), md.Schema.Name)
		return
	}

	// Stored rows of an upsert move first, the new rows are placed after.
	existing := make(map[PositionAware]bool)
	if isUpsert(stmt) {
		err := eachModel(stmt.ReflectValue, func(rv reflect.Value) error {
			m, ok := modelAs[PositionAware](rv)
			if !ok {
				return nil
			}

			persisted, found, err := loadPersisted(db, md, rv)
			if err != nil || !found {
				return err
			}

			existing[m] = true

			return l.moveStored(db, md, rv, persisted, m)
		})
		if err != nil {
			_ = db.AddError(err)
			return
		}
	}

	// Rows of the same batch are not stored yet, so they are tracked per
	// group next to the first free position after the stored rows.
	pending := make(map[string][]PositionAware)
	stored := make(map[string]int)
	shifted := false

	err := eachModel(stmt.ReflectValue, func(rv reflect.Value) error {
		m, ok := modelAs[PositionAware](rv)
		if !ok || existing[m] {
			return nil
		}

		group := rowGroupConditions(stmt, md, rv)
		key := groupKey(group)

		n, ok := stored[key]
		if !ok {
			var err error
			if n, err = l.nextPosition(db, md, group); err != nil {
				return err
			}
			stored[key] = n
		}

		end := n
		for _, prev := range pending[key] {
			end = max(end, *prev.GetPosition()+1)
		}

		position := m.GetPosition()
		if position == nil || *position >= end {
			m.SetPosition(end)
		} else {
			at := max(*position, 0)
			m.SetPosition(at)

			if err := l.shift(db, md, join(group, nil, l.from(md, at)), 1); err != nil {
				return err
			}
			shifted = true

			if at < n {
				stored[key] = n + 1
			}
			for _, prev := range pending[key] {
				if p := *prev.GetPosition(); p >= at {
					prev.SetPosition(p + 1)
				}
			}
		}

		pending[key] = append(pending[key], m)

		return nil
	})
	if err == nil && shifted && len(existing) > 0 {
		err = l.reloadPositions(db, md, existing)
	}
	if err != nil {
		_ = db.AddError(err)
	}
}

// moveStored moves a stored row written by an upsert to the position and
// group it holds in memory, and stores them right away so the rest of the
// batch sees the row in its new slot.
func (l *SortableListener) moveStored(db *gorm.DB, md *Metadata, rv, persisted reflect.Value, m PositionAware) error {
	stmt := db.Statement
	f := md.field(rolePosition)

	stored, _ := f.ValueOf(stmt.Context, persisted)
	oldPosition, _ := toIntPtr(stored)
	self, _ := primaryKeyConditions(md.Schema, stmt, rv, true)

	newGroup := rowGroupConditions(stmt, md, rv)
	position, err := l.move(db, md, movement{
		self:        self,
		oldGroup:    rowGroupConditions(stmt, md, persisted),
		newGroup:    newGroup,
		oldPosition: oldPosition,
		newPosition: m.GetPosition(),
		explicit:    m.GetPosition() != nil,
	})
	if err != nil {
		return err
	}
	m.SetPosition(position)

	values := lo.SliceToMap(newGroup, func(c tConjunct) (string, any) {
		return c.Column, c.Value
	})
	values[f.DBName] = position

	key, _ := primaryKeyConditions(md.Schema, stmt, rv, false)
	if err = withConditions(session(db).Model(md.newModel()), key).UpdateColumns(values).Error; err != nil {
		return fmt.Errorf("cannot move %s: %w", md.Schema.Name, err)
	}

	return nil
}

// reloadPositions copies the stored positions of the upserted rows back into
// their models, after new rows of the batch shifted them.
func (l *SortableListener) reloadPositions(db *gorm.DB, md *Metadata, existing map[PositionAware]bool) error {
	f := md.field(rolePosition)

	return eachModel(db.Statement.ReflectValue, func(rv reflect.Value) error {
		m, ok := modelAs[PositionAware](rv)
		if !ok || !existing[m] {
			return nil
		}

		persisted, found, err := loadPersisted(db, md, rv)
		if err != nil || !found {
			return err
		}

		stored, _ := f.ValueOf(db.Statement.Context, persisted)
		if position, _ := toIntPtr(stored); position != nil {
			m.SetPosition(*position)
		}

		return nil
	})
}

func (l *SortableListener) preUpdate(db *gorm.DB) {
	md := l.cache.forHook(db, l.resolve)
	if md == nil {
		return
	}

	stmt := db.Statement
	if stmt.ReflectValue.Kind() != reflect.Struct {
		db.Logger.Warn(stmt.Context, "%s: positions are not maintained for batch updates of %s", l.Name(), md.Schema.Name)
		return
	}

	rv := stmt.ReflectValue
	persisted, found, err := loadPersisted(db, md, rv)
	if err != nil {
		_ = db.AddError(err)
		return
	} else if !found {
		db.Logger.Warn(stmt.Context, "%s: %s update without a stored row, positions are not maintained", l.Name(), md.Schema.Name)
		return
	}

	self, _ := primaryKeyConditions(md.Schema, stmt, rv, true)

	f := md.field(rolePosition)
	stored, _ := f.ValueOf(stmt.Context, persisted)
	oldPosition, _ := toIntPtr(stored)

	newPosition := oldPosition
	value, positionUpdating := updatingValue(stmt, f)
	if positionUpdating {
		var ok bool
		if newPosition, ok = toIntPtr(value); !ok {
			db.Logger.Warn(stmt.Context, "%s: cannot maintain positions of %s for value %v", l.Name(), md.Schema.Name, value)
			return
		}
	}

	oldGroup := rowGroupConditions(stmt, md, persisted)
	newGroup := groupConditions(stmt, md, persisted)

	position, err := l.move(db, md, movement{
		self:        self,
		oldGroup:    oldGroup,
		newGroup:    newGroup,
		oldPosition: oldPosition,
		newPosition: newPosition,
		explicit:    positionUpdating,
	})
	if err != nil {
		_ = db.AddError(err)
		return
	}

	appended := !positionUpdating && !sameGroup(oldGroup, newGroup)
	if appended || newPosition == nil || position != *newPosition {
		setColumn(stmt, f, position)
	}
}

type movement struct {
	self        tDisjunct
	oldGroup    tDisjunct
	newGroup    tDisjunct
	oldPosition *int
	newPosition *int
	explicit    bool
}

// move makes room for the row at its new position and returns that
// position.
func (l *SortableListener) move(db *gorm.DB, md *Metadata, m movement) (int, error) {
	groupChanged := !sameGroup(m.oldGroup, m.newGroup)

	if m.newPosition == nil || (groupChanged && !m.explicit) {
		if err := l.leave(db, md, m); err != nil {
			return 0, err
		}

		return l.nextPosition(db, md, join(m.newGroup, m.self))
	}

	// Explicit positions are clamped to [0, rows in the target group].
	last, err := l.count(db, md, join(m.newGroup, m.self))
	if err != nil {
		return 0, err
	}

	position := min(max(*m.newPosition, 0), last)

	switch {
	case m.oldPosition == nil || groupChanged:
		if err = l.leave(db, md, m); err != nil {
			return 0, err
		}

		err = l.shift(db, md, join(m.newGroup, m.self, l.from(md, position)), 1)
	case position < *m.oldPosition:
		err = l.shift(db, md, join(m.oldGroup, m.self, l.from(md, position), l.before(md, *m.oldPosition)), 1)
	case position > *m.oldPosition:
		err = l.shift(db, md, join(m.oldGroup, m.self, l.after(md, *m.oldPosition), l.until(md, position)), -1)
	}

	return position, err
}

// leave closes the gap the row leaves in its old group.
func (l *SortableListener) leave(db *gorm.DB, md *Metadata, m movement) error {
	if m.oldPosition == nil {
		return nil
	}

	return l.shift(db, md, join(m.oldGroup, m.self, l.after(md, *m.oldPosition)), -1)
}

func (l *SortableListener) preRemove(db *gorm.DB) {
	md := l.cache.forHook(db, l.resolve)
	if md == nil {
		return
	}

	rows, err := l.removedRows(db, md)
	if err != nil {
		_ = db.AddError(err)
		return
	}

	type slot struct {
		group    tDisjunct
		position int
	}

	stmt := db.Statement
	f := md.field(rolePosition)

	slots := lo.FilterMap(rows, func(rv reflect.Value, _ int) (slot, bool) {
		stored, _ := f.ValueOf(stmt.Context, rv)
		position, _ := toIntPtr(stored)
		if position == nil {
			return slot{}, false
		}

		return slot{group: rowGroupConditions(stmt, md, rv), position: *position}, true
	})

	// Closing the highest gaps first keeps the lower stored positions valid.
	slices.SortFunc(slots, func(a, b slot) int {
		return cmp.Compare(b.position, a.position)
	})

	for _, s := range slots {
		if err = l.shift(db, md, join(s.group, nil, l.after(md, s.position)), -1); err != nil {
			_ = db.AddError(err)
			return
		}
	}
}

// removedRows loads the stored rows a delete removes: the rows keyed by the
// statement models, or the rows matching the WHERE clause when the models
// carry no key. Rows already soft deleted hold no slot.
func (l *SortableListener) removedRows(db *gorm.DB, md *Metadata) ([]reflect.Value, error) {
	stmt := db.Statement

	var rows []reflect.Value
	keyed := false

	err := eachModel(stmt.ReflectValue, func(rv reflect.Value) error {
		if _, ok := primaryKeyConditions(md.Schema, stmt, rv, false); !ok {
			return nil
		}
		keyed = true

		persisted, found, err := loadPersisted(db, md, rv)
		if err == nil && found && !isSoftDeleted(stmt.Context, md.Schema, persisted) {
			rows = append(rows, persisted)
		}

		return err
	})
	if err != nil || keyed {
		return rows, err
	}

	where, ok := stmt.Clauses["WHERE"]
	if !ok {
		db.Logger.Warn(stmt.Context, "%s: %s removed without a primary key or conditions, positions are not maintained", l.Name(), md.Schema.Name)
		return nil, nil
	}

	matched := reflect.New(reflect.SliceOf(md.Schema.ModelType))
	if err = session(db).Model(md.newModel()).Clauses(where.Expression).Find(matched.Interface()).Error; err != nil {
		return nil, fmt.Errorf("cannot load removed %s: %w", md.Schema.Name, err)
	}

	for i := 0; i < matched.Elem().Len(); i++ {
		rows = append(rows, matched.Elem().Index(i))
	}

	return rows, nil
}

// nextPosition returns MAX(position)+1 among the rows matching conds, or 0
// when there are none.
func (l *SortableListener) nextPosition(db *gorm.DB, md *Metadata, conds tDisjunct) (int, error) {
	var maxPosition sql.NullInt64

	err := withConditions(session(db).Model(md.newModel()), conds).
		Select("MAX(?)", quotedColumn(md.field(rolePosition))).
		Scan(&maxPosition).Error
	if err != nil {
		return 0, fmt.Errorf("cannot get next position of %s: %w", md.Schema.Name, err)
	}

	if !maxPosition.Valid {
		return 0, nil
	}

	return int(maxPosition.Int64) + 1, nil
}

// count returns the number of rows matching conds.
func (l *SortableListener) count(db *gorm.DB, md *Metadata, conds tDisjunct) (int, error) {
	var n int64

	err := withConditions(session(db).Model(md.newModel()), conds).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("cannot count %s: %w", md.Schema.Name, err)
	}

	return int(n), nil
}

// shift adds delta to the position of every row matching conds.
func (l *SortableListener) shift(db *gorm.DB, md *Metadata, conds tDisjunct, delta int) error {
	f := md.field(rolePosition)

	err := withConditions(session(db).Model(md.newModel()), conds).
		UpdateColumn(f.DBName, gorm.Expr("? + ?", quotedColumn(f), delta)).Error
	if err != nil {
		return fmt.Errorf("cannot shift positions of %s: %w", md.Schema.Name, err)
	}

	return nil
}

func (l *SortableListener) from(md *Metadata, position int) tConjunct {
	return tConjunct{Column: md.field(rolePosition).DBName, Operator: operatorGte, Value: position}
}

func (l *SortableListener) after(md *Metadata, position int) tConjunct {
	return tConjunct{Column: md.field(rolePosition).DBName, Operator: OperatorGT, Value: position}
}

func (l *SortableListener) before(md *Metadata, position int) tConjunct {
	return tConjunct{Column: md.field(rolePosition).DBName, Operator: OperatorLT, Value: position}
}

func (l *SortableListener) until(md *Metadata, position int) tConjunct {
	return tConjunct{Column: md.field(rolePosition).DBName, Operator: operatorLte, Value: position}
}

// join concatenates a group filter, a self exclusion and position bounds
// into a fresh disjunct.
func join(group, self tDisjunct, bounds ...tConjunct) tDisjunct {
	ret := make(tDisjunct, 0, len(group)+len(self)+len(bounds))
	ret = append(ret, group...)
	ret = append(ret, self...)

	return append(ret, bounds...)
}
