package gormext

import (
	"fmt"

	"gorm.io/gorm"
)

// Event is a lifecycle event a Listener may subscribe to.
type Event string

const (
	// EventLoadMetadata fires for every statement before anything else runs.
	// Listeners resolve (and cache) their per-schema Metadata here.
	EventLoadMetadata Event = "loadMetadata"
	// EventPrePersist fires before rows are inserted.
	EventPrePersist Event = "prePersist"
	// EventPreUpdate fires before rows are updated.
	EventPreUpdate Event = "preUpdate"
	// EventPreRemove fires before rows are deleted (soft or hard).
	EventPreRemove Event = "preRemove"
)

// Listener is a gorm.Plugin that reacts to a fixed set of lifecycle events.
type Listener interface {
	gorm.Plugin
	SubscribedEvents() []Event
}

type handlers map[Event]func(*gorm.DB)

// subscribe registers the handler of every event the listener subscribes to
// on the matching GORM callback processor. Callback names have the form
// "<listener>:<event>". Lifecycle handlers run inside the statement
// transaction, so their auxiliary writes commit or roll back with it.
func subscribe(db *gorm.DB, l Listener, h handlers) error {
	for _, event := range l.SubscribedEvents() {
		fn, ok := h[event]
		if !ok {
			return fmt.Errorf("listener '%s' has no handler for event '%s'", l.Name(), event)
		}

		name := callbackName(l, event)

		var err error
		switch event {
		case EventLoadMetadata:
			err = registerFirst(db, name, fn)
		case EventPrePersist:
			err = db.Callback().Create().After("gorm:begin_transaction").Before("gorm:create").Register(name, fn)
		case EventPreUpdate:
			err = db.Callback().Update().After("gorm:begin_transaction").Before("gorm:update").Register(name, fn)
		case EventPreRemove:
			err = db.Callback().Delete().After("gorm:begin_transaction").Before("gorm:delete").Register(name, fn)
		default:
			err = fmt.Errorf("unsupported event '%s'", event)
		}

		if err != nil {
			return fmt.Errorf("cannot subscribe '%s': %w", name, err)
		}
	}

	return nil
}

// registerFirst puts fn in front of every processor that works with a model
// schema, so metadata is resolved before any other listener needs it.
func registerFirst(db *gorm.DB, name string, fn func(*gorm.DB)) error {
	cb := db.Callback()
	registrations := []func() error{
		func() error { return cb.Create().Before("*").Register(name, fn) },
		func() error { return cb.Query().Before("*").Register(name, fn) },
		func() error { return cb.Update().Before("*").Register(name, fn) },
		func() error { return cb.Delete().Before("*").Register(name, fn) },
		func() error { return cb.Row().Before("*").Register(name, fn) },
	}

	for _, register := range registrations {
		if err := register(); err != nil {
			return err
		}
	}

	return nil
}

func callbackName(l Listener, event Event) string {
	return fmt.Sprintf("%s:%s", l.Name(), event)
}
