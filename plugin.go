package gormext

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

const pluginName = "gormext"

// Config selects the listeners registered by Plugin.
type Config struct {
	// TablePrefix is prepended to every table name. Empty disables prefixing.
	TablePrefix string
	// NowFunc is the clock of LifecycleDateListener. GORM's NowFunc is used
	// when nil.
	NowFunc func() time.Time

	DisableLifecycleDate bool
	DisableDeletable     bool
	DisableSortable      bool
	DisableUniqueActive  bool
}

// Listeners builds the listener set described by c. The table prefix
// listener comes first so table names are settled before anything else runs.
func (c Config) Listeners() []Listener {
	listeners := make([]Listener, 0, 5)

	if c.TablePrefix != "" {
		listeners = append(listeners, NewTablePrefixListener(c.TablePrefix))
	}
	if !c.DisableLifecycleDate {
		listeners = append(listeners, NewLifecycleDateListener().WithNowFunc(c.NowFunc))
	}
	if !c.DisableDeletable {
		listeners = append(listeners, NewDeletableListener())
	}
	if !c.DisableSortable {
		listeners = append(listeners, NewSortableListener())
	}
	if !c.DisableUniqueActive {
		listeners = append(listeners, NewUniqueActiveListener())
	}

	return listeners
}

// Plugin registers a set of listeners as a single gorm.Plugin.
//
//	db.Use(gormext.New(gormext.Config{TablePrefix: "app_"}))
type Plugin struct {
	listeners []Listener
}

func New(cfg Config) *Plugin {
	return &Plugin{listeners: cfg.Listeners()}
}

// NewWithListeners returns a plugin registering exactly the given listeners.
func NewWithListeners(listeners ...Listener) *Plugin {
	return &Plugin{listeners: listeners}
}

func (p *Plugin) Name() string {
	return pluginName
}

func (p *Plugin) Initialize(db *gorm.DB) error {
	for _, l := range p.listeners {
		if err := l.Initialize(db); err != nil {
			return fmt.Errorf("cannot initialize '%s': %w", l.Name(), err)
		}
	}

	return nil
}

// Listeners returns the registered listeners.
func (p *Plugin) Listeners() []Listener {
	if p == nil {
		return nil
	}

	return p.listeners
}

// TablePrefix returns the table prefix listener, or nil when prefixing is
// disabled.
func (p *Plugin) TablePrefix() *TablePrefixListener {
	for _, l := range p.Listeners() {
		if prefix, ok := l.(*TablePrefixListener); ok {
			return prefix
		}
	}

	return nil
}

// AutoMigrate migrates models, honoring the table prefix.
func (p *Plugin) AutoMigrate(db *gorm.DB, models ...any) error {
	if prefix := p.TablePrefix(); prefix != nil {
		return prefix.AutoMigrate(db, models...)
	}

	return db.AutoMigrate(models...)
}

// Register adds every listener to db as a separate plugin.
func Register(db *gorm.DB, listeners ...Listener) error {
	for _, l := range listeners {
		if err := db.Use(l); err != nil {
			return fmt.Errorf("cannot register '%s': %w", l.Name(), err)
		}
	}

	return nil
}
