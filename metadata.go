package gormext

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

// ErrMapping is returned (wrapped in *MappingError) when a model declares a
// capability but its schema cannot back it.
var ErrMapping = errors.New("mapping error")

// MappingError describes a capability whose backing field is missing or has
// an unexpected type.
type MappingError struct {
	Model  string
	Field  string
	Reason string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("cannot map %s.%s: %s", e.Model, e.Field, e.Reason)
}

func (e *MappingError) Unwrap() error {
	return ErrMapping
}

type fieldRole string

const (
	roleCreatedAt fieldRole = "created_at"
	roleUpdatedAt fieldRole = "updated_at"
	roleDeletedAt fieldRole = "deleted_at"
	rolePosition  fieldRole = "position"
	roleActive    fieldRole = "active"
)

// Metadata is what a listener resolved about one model schema.
type Metadata struct {
	Schema *schema.Schema

	fields     map[fieldRole]*schema.Field
	group      []*schema.Field
	softDelete SoftDeleteKind
}

func newMetadata(s *schema.Schema) *Metadata {
	return &Metadata{
		Schema: s,
		fields: make(map[fieldRole]*schema.Field),
	}
}

func (m *Metadata) withField(role fieldRole, f *schema.Field) *Metadata {
	m.fields[role] = f
	return m
}

func (m *Metadata) withGroup(group []*schema.Field) *Metadata {
	m.group = group
	return m
}

func (m *Metadata) field(role fieldRole) *schema.Field {
	if m == nil {
		return nil
	}

	return m.fields[role]
}

// Group returns the fields scoping the capability (position group or
// unique-active fields), in declaration order.
func (m *Metadata) Group() []*schema.Field {
	if m == nil {
		return nil
	}

	return m.group
}

// newModel returns a pointer to a zero value of the mapped model type.
func (m *Metadata) newModel() any {
	return reflect.New(m.Schema.ModelType).Interface()
}

func (m *Metadata) String() string {
	roles := lo.Keys(m.fields)
	slices.Sort(roles)

	parts := lo.Map(roles, func(role fieldRole, _ int) string {
		return fmt.Sprintf("%s=%s", role, m.fields[role].DBName)
	})
	if len(m.group) > 0 {
		parts = append(parts, fmt.Sprintf("group=%s", strings.Join(lo.Map(m.group, func(f *schema.Field, _ int) string {
			return f.DBName
		}), ",")))
	}

	return strings.Join(parts, " ")
}

type resolver func(s *schema.Schema) (*Metadata, error)

type metadataEntry struct {
	md  *Metadata
	err error
}

// metadataCache memoizes a listener's resolver per schema. Schemas are cached
// by GORM for the lifetime of the connection, so the pointer is a stable key.
type metadataCache struct {
	entries sync.Map
}

func (c *metadataCache) load(s *schema.Schema, resolve resolver) (*Metadata, bool, error) {
	if v, ok := c.entries.Load(s); ok {
		e := v.(*metadataEntry)
		return e.md, false, e.err
	}

	md, err := resolve(s)
	v, loaded := c.entries.LoadOrStore(s, &metadataEntry{md: md, err: err})
	e := v.(*metadataEntry)

	return e.md, !loaded, e.err
}

// loadMetadata is the EventLoadMetadata handler shared by listeners.
func (c *metadataCache) loadMetadata(db *gorm.DB, listener string, resolve resolver) {
	if db.Error != nil || db.Statement.Schema == nil {
		return
	}

	md, fresh, err := c.load(db.Statement.Schema, resolve)
	if err != nil {
		_ = db.AddError(err)
		return
	}

	if fresh && md != nil {
		db.Logger.Info(db.Statement.Context, "%s: mapped %s (%s)", listener, md.Schema.Name, md)
	}
}

// forHook returns the metadata for the statement model when a lifecycle
// handler should act on it, and nil otherwise.
func (c *metadataCache) forHook(db *gorm.DB, resolve resolver) *Metadata {
	if db.Error != nil || db.Statement.SkipHooks || db.Statement.Schema == nil {
		return nil
	}

	md, _, err := c.load(db.Statement.Schema, resolve)
	if err != nil {
		_ = db.AddError(err)
		return nil
	}

	return md
}

// implements reports whether a pointer to the schema's model type satisfies I.
func implements[I any](s *schema.Schema) bool {
	_, ok := reflect.New(s.ModelType).Interface().(I)
	return ok
}

func zeroModelAs[I any](s *schema.Schema) I {
	return reflect.New(s.ModelType).Interface().(I)
}

func lookupField(s *schema.Schema, name string, check func(*schema.Field) string) (*schema.Field, error) {
	f := s.LookUpField(name)
	if f == nil || f.DBName == "" {
		return nil, &MappingError{Model: s.Name, Field: name, Reason: "field is not mapped to a column"}
	}

	if check != nil {
		if reason := check(f); reason != "" {
			return nil, &MappingError{Model: s.Name, Field: name, Reason: reason}
		}
	}

	return f, nil
}

func lookupFields(s *schema.Schema, names []string) ([]*schema.Field, error) {
	fields := make([]*schema.Field, 0, len(names))
	for _, name := range names {
		f, err := lookupField(s, name, nil)
		if err != nil {
			return nil, err
		}

		fields = append(fields, f)
	}

	return fields, nil
}

func isTimeField(f *schema.Field) string {
	if f.DataType != schema.Time {
		return fmt.Sprintf("expected a time field, got %s", f.FieldType)
	}

	return ""
}

func isIntegerField(f *schema.Field) string {
	if f.DataType != schema.Int && f.DataType != schema.Uint {
		return fmt.Sprintf("expected an integer field, got %s", f.FieldType)
	}

	return ""
}

func isBoolField(f *schema.Field) string {
	if f.DataType != schema.Bool {
		return fmt.Sprintf("expected a bool field, got %s", f.FieldType)
	}

	return ""
}

// session opens a statement on the same connection (and transaction) as db.
// Hooks are skipped so listeners never re-enter themselves.
func session(db *gorm.DB) *gorm.DB {
	return db.Session(&gorm.Session{NewDB: true, SkipHooks: true})
}

// eachModel calls fn for every struct value held by rv: rv itself, or every
// element of a slice/array of structs or struct pointers.
func eachModel(rv reflect.Value, fn func(reflect.Value) error) error {
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			elem := reflect.Indirect(rv.Index(i))
			if elem.Kind() != reflect.Struct {
				continue
			}

			if err := fn(elem); err != nil {
				return err
			}
		}
	case reflect.Struct:
		return fn(rv)
	}

	return nil
}

func modelAs[I any](rv reflect.Value) (I, bool) {
	if !rv.CanAddr() {
		return lo.Empty[I](), false
	}

	m, ok := rv.Addr().Interface().(I)

	return m, ok
}

// updatingValue returns the value an UPDATE statement is about to write into
// f, and false when the statement leaves f untouched.
func updatingValue(stmt *gorm.Statement, f *schema.Field) (any, bool) {
	selected, restricted := stmt.SelectAndOmitColumns(false, true)
	use, isSelected := selected[f.DBName]
	if isSelected && !use {
		return nil, false
	}

	if dest, ok := stmt.Dest.(map[string]interface{}); ok {
		if restricted && !isSelected {
			return nil, false
		}

		for _, key := range []string{f.Name, f.DBName} {
			if v, ok := dest[key]; ok {
				return v, true
			}
		}

		return nil, false
	}

	destValue := reflect.ValueOf(stmt.Dest)
	for destValue.Kind() == reflect.Ptr {
		destValue = destValue.Elem()
	}

	if destValue.Kind() != reflect.Struct {
		return nil, false
	}

	v, zero := f.ValueOf(stmt.Context, destValue)
	if isSelected {
		return v, true
	}

	if restricted || zero {
		return nil, false
	}

	return v, true
}

// currentValue returns the value f will hold after the statement: the
// updating value when there is one, the value held in rv otherwise.
func currentValue(stmt *gorm.Statement, f *schema.Field, rv reflect.Value) any {
	if v, ok := updatingValue(stmt, f); ok {
		return v
	}

	v, _ := f.ValueOf(stmt.Context, rv)

	return v
}

// setColumn writes value into f for the running statement, covering both
// map and struct destinations.
func setColumn(stmt *gorm.Statement, f *schema.Field, value any) {
	if dest, ok := stmt.Dest.(map[string]interface{}); ok {
		// Overwrite the key the caller used, the column must be set once.
		for _, key := range []string{f.DBName, f.Name} {
			if _, ok := dest[key]; ok {
				dest[key] = value
				return
			}
		}
	} else {
		switch stmt.ReflectValue.Kind() {
		case reflect.Slice, reflect.Array:
		default:
			if !stmt.ReflectValue.CanAddr() {
				return
			}
		}
	}

	stmt.SetColumn(f.Name, value, true)
}

// primaryKeyConditions matches (or, with exclude, excludes) the row held in
// rv by its primary key. It returns false when any key part is zero.
func primaryKeyConditions(s *schema.Schema, stmt *gorm.Statement, rv reflect.Value, exclude bool) (tDisjunct, bool) {
	if len(s.PrimaryFields) == 0 {
		return nil, false
	}

	op := operatorEq
	if exclude {
		op = operatorNeq
	}

	conds := make(tDisjunct, 0, len(s.PrimaryFields))
	for _, pf := range s.PrimaryFields {
		v, zero := pf.ValueOf(stmt.Context, rv)
		if zero {
			return nil, false
		}

		conds = append(conds, tConjunct{Column: pf.DBName, Operator: op, Value: v})
	}

	return conds, true
}

// groupConditions builds "field = value" for every group field, taking the
// values the statement is about to write and the ones in fallback otherwise.
func groupConditions(stmt *gorm.Statement, md *Metadata, fallback reflect.Value) tDisjunct {
	conds := make(tDisjunct, 0, len(md.Group()))
	for _, f := range md.Group() {
		conds = append(conds, tConjunct{Column: f.DBName, Operator: operatorEq, Value: currentValue(stmt, f, fallback)})
	}

	return conds
}

// rowGroupConditions builds the group filter from the values held in rv.
func rowGroupConditions(stmt *gorm.Statement, md *Metadata, rv reflect.Value) tDisjunct {
	conds := make(tDisjunct, 0, len(md.Group()))
	for _, f := range md.Group() {
		v, _ := f.ValueOf(stmt.Context, rv)
		conds = append(conds, tConjunct{Column: f.DBName, Operator: operatorEq, Value: v})
	}

	return conds
}

// loadPersisted reads the stored row matching the primary key in rv, inside
// the statement's transaction and regardless of soft deletion.
func loadPersisted(db *gorm.DB, md *Metadata, rv reflect.Value) (reflect.Value, bool, error) {
	conds, ok := primaryKeyConditions(md.Schema, db.Statement, rv, false)
	if !ok {
		return reflect.Value{}, false, nil
	}

	persisted := md.newModel()
	err := withConditions(session(db).Unscoped(), conds).Take(persisted).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return reflect.Value{}, false, nil
	} else if err != nil {
		return reflect.Value{}, false, fmt.Errorf("cannot load persisted %s: %w", md.Schema.Name, err)
	}

	return reflect.ValueOf(persisted).Elem(), true, nil
}

func withConditions(db *gorm.DB, conds tDisjunct) *gorm.DB {
	if expr := conds.toGORMExpression(); expr != nil {
		return db.Clauses(expr)
	}

	return db
}

// statementSchema returns the schema of the statement model, parsing it when
// the statement has not been executed yet (inside scopes).
func statementSchema(db *gorm.DB) (*schema.Schema, error) {
	if db.Statement.Schema != nil {
		return db.Statement.Schema, nil
	}

	model := db.Statement.Model
	if model == nil {
		model = db.Statement.Dest
	}

	if model == nil {
		return nil, fmt.Errorf("statement has no model: %w", gorm.ErrModelValueRequired)
	}

	if err := db.Statement.Parse(model); err != nil {
		return nil, err
	}

	return db.Statement.Schema, nil
}

// quotedColumn references f in raw expressions so it gets quoted.
func quotedColumn(f *schema.Field) clause.Column {
	return clause.Column{Name: f.DBName}
}

// isMapDest reports whether the statement writes from maps instead of models.
func isMapDest(dest any) bool {
	switch dest.(type) {
	case map[string]interface{}, *map[string]interface{}, []map[string]interface{}, *[]map[string]interface{}:
		return true
	default:
		return false
	}
}

// groupKey identifies the group a filter selects, for batch bookkeeping.
func groupKey(conds tDisjunct) string {
	return strings.Join(lo.Map(conds, func(c tConjunct, _ int) string {
		if n, ok := toIntPtr(c.Value); ok && n != nil {
			return fmt.Sprintf("%s=%d", c.Column, *n)
		}

		return fmt.Sprintf("%s=%#v", c.Column, indirectValue(c.Value))
	}), "&")
}

func sameGroup(a, b tDisjunct) bool {
	return groupKey(a) == groupKey(b)
}

// indirectValue dereferences pointers and valuers, returning nil for nil
// pointers and NULL values.
func indirectValue(v any) any {
	if valuer, ok := v.(driver.Valuer); ok {
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Ptr && rv.IsNil() {
			return nil
		}

		value, err := valuer.Value()
		if err != nil {
			return v
		}

		return value
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}

	if !rv.IsValid() {
		return nil
	}

	return rv.Interface()
}

// toIntPtr converts an integer (or a pointer to one) to *int. It reports
// false for values that are not plain integers, such as SQL expressions.
func toIntPtr(v any) (*int, bool) {
	rv := reflect.ValueOf(indirectValue(v))

	var n int
	switch rv.Kind() {
	case reflect.Invalid:
		return nil, true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n = int(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n = int(rv.Uint())
	default:
		return nil, false
	}

	return &n, true
}

// toBool converts a bool (or a pointer to one) to bool.
func toBool(v any) (bool, bool) {
	b, ok := indirectValue(v).(bool)
	return b, ok
}

// isUpsert reports whether a create statement overwrites the stored rows it
// conflicts with, as Save does for slices.
func isUpsert(stmt *gorm.Statement) bool {
	c, ok := stmt.Clauses["ON CONFLICT"]
	if !ok {
		return false
	}

	onConflict, ok := c.Expression.(clause.OnConflict)

	return ok && onConflict.UpdateAll
}
