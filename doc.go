// Package gormext provides lifecycle behaviors and query helpers for GORM.
//
// # Overview
//
// gormext attaches cross-cutting behaviors to GORM's callback chain. Each
// behavior is an independent Listener (a gorm.Plugin) that reacts to one or
// more lifecycle events on models declaring a capability interface:
//
//   - LifecycleDateListener: keeps CreatedAt/UpdatedAt current
//     (LifecycleDateTimeAware).
//   - DeletableListener: validates the soft-delete column (Deletable) and
//     backs the OnlyDeleted/WithDeleted scopes and Restore.
//   - SortableListener: keeps contiguous positions inside a position group
//     (PositionAware).
//   - UniqueActiveListener: keeps at most one active row per group
//     (UniqueActive).
//   - TablePrefixListener: prefixes table and join table names.
//
// # Key concepts
//
//   - Event: loadMetadata, prePersist, preUpdate, preRemove. Each maps onto a
//     GORM callback processor.
//   - Metadata: per-schema resolution of the fields a listener relies on,
//     cached for the lifetime of the listener.
//   - Mixins: Timestamps, SoftDelete, SoftDeleteFlag, Position and Active
//     embed the fields and methods a capability needs.
//
// # Query helpers
//
//   - Pager/FetchPage: page-number pagination with total counts.
//   - AddOrder/ParseSort: dynamic ORDER BY with alias resolution.
//   - SearchWhere: OR-joined equality and word-LIKE predicates.
//   - Repository: a typed entry point tying the helpers together.
//
// Usage:
//
//	db.Use(gormext.New(gormext.Config{TablePrefix: "app_"}))
package gormext
