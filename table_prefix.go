package gormext

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

const tablePrefixListenerName = "gormext:table_prefix"

// prefixNamer prefixes the table and join table names produced by the
// wrapped naming strategy.
type prefixNamer struct {
	schema.Namer
	prefix string
}

func (n prefixNamer) TableName(table string) string {
	return n.prefixed(n.Namer.TableName(table))
}

func (n prefixNamer) JoinTableName(joinTable string) string {
	return n.prefixed(n.Namer.JoinTableName(joinTable))
}

func (n prefixNamer) SchemaName(table string) string {
	return n.Namer.SchemaName(strings.TrimPrefix(table, n.prefix))
}

func (n prefixNamer) prefixed(name string) string {
	if strings.HasPrefix(name, n.prefix) {
		return name
	}

	return n.prefix + name
}

// TablePrefixListener prefixes every table name with a fixed prefix.
//
// Generated names are prefixed by the naming strategy. Names returned by a
// model's TableName method bypass it, so they are rewritten per statement.
// Register the listener before the first statement runs, GORM caches parsed
// schemas.
type TablePrefixListener struct {
	namer prefixNamer

	cache metadataCache
}

// NewTablePrefixListener returns a listener for prefix. An empty prefix
// disables it.
func NewTablePrefixListener(prefix string) *TablePrefixListener {
	return &TablePrefixListener{namer: prefixNamer{prefix: prefix}}
}

func (l *TablePrefixListener) Name() string {
	return tablePrefixListenerName
}

func (l *TablePrefixListener) SubscribedEvents() []Event {
	return []Event{
		EventLoadMetadata,
	}
}

// Prefix returns the configured prefix.
func (l *TablePrefixListener) Prefix() string {
	if l == nil {
		return ""
	}

	return l.namer.prefix
}

// Prefixed returns name with the prefix applied once.
func (l *TablePrefixListener) Prefixed(name string) string {
	if l.Prefix() == "" {
		return name
	}

	return l.namer.prefixed(name)
}

func (l *TablePrefixListener) Initialize(db *gorm.DB) error {
	if l.Prefix() == "" {
		return nil
	}

	namer := db.Config.NamingStrategy
	if namer == nil {
		namer = schema.NamingStrategy{}
	}

	if current, ok := namer.(prefixNamer); ok {
		if current.prefix != l.namer.prefix {
			return fmt.Errorf("table prefix '%s' is already registered", current.prefix)
		}
	} else {
		l.namer.Namer = namer
		db.Config.NamingStrategy = l.namer
	}

	return subscribe(db, l, handlers{
		EventLoadMetadata: l.loadMetadata,
	})
}

func (l *TablePrefixListener) resolve(s *schema.Schema) (*Metadata, error) {
	if strings.HasPrefix(s.Table, l.Prefix()) {
		return nil, nil
	}

	return newMetadata(s), nil
}

func (l *TablePrefixListener) loadMetadata(db *gorm.DB) {
	stmt := db.Statement
	if db.Error != nil || stmt.Schema == nil || stmt.TableExpr != nil {
		return
	}

	md, fresh, _ := l.cache.load(stmt.Schema, l.resolve)
	if md == nil || stmt.Table != md.Schema.Table {
		return
	}

	stmt.Table = l.Prefixed(stmt.Table)
	if fresh {
		db.Logger.Info(stmt.Context, "%s: %s maps to table %s", l.Name(), md.Schema.Name, stmt.Table)
	}
}

// AutoMigrate migrates models into their prefixed tables.
func (l *TablePrefixListener) AutoMigrate(db *gorm.DB, models ...any) error {
	for _, model := range models {
		stmt := &gorm.Statement{DB: db}
		if err := stmt.Parse(model); err != nil {
			return fmt.Errorf("cannot parse %T: %w", model, err)
		}

		if err := db.Table(l.Prefixed(stmt.Schema.Table)).AutoMigrate(model); err != nil {
			return fmt.Errorf("cannot migrate %s: %w", stmt.Schema.Name, err)
		}
	}

	return nil
}
