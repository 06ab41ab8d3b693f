package gormext

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/plugin/soft_delete"
)

// LifecycleDateTimeAware models get their creation and update time set by
// LifecycleDateListener.
type LifecycleDateTimeAware interface {
	SetCreatedAt(time.Time)
	SetUpdatedAt(time.Time)
}

// Deletable models are soft deleted. The backing field must be a
// gorm.DeletedAt or a soft_delete.DeletedAt.
type Deletable interface {
	IsDeleted() bool
}

// PositionAware models keep a contiguous position inside the group formed by
// the PositionGroup fields. A nil position means "append to the group".
type PositionAware interface {
	GetPosition() *int
	SetPosition(int)
	PositionGroup() []string
}

// UniqueActive models allow at most one active row among the rows sharing
// the values of UniqueActiveFields.
type UniqueActive interface {
	IsActive() bool
	SetActive(bool)
	UniqueActiveFields() []string
}

// Timestamps implements LifecycleDateTimeAware. GORM's own auto time tracking
// is disabled so the listener clock is the only writer.
type Timestamps struct {
	CreatedAt time.Time `gorm:"autoCreateTime:false" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime:false" json:"updatedAt"`
}

func (t *Timestamps) SetCreatedAt(at time.Time) {
	t.CreatedAt = at
}

func (t *Timestamps) SetUpdatedAt(at time.Time) {
	t.UpdatedAt = at
}

// SoftDelete implements Deletable with a nullable deletion timestamp.
type SoftDelete struct {
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deletedAt,omitempty"`
}

func (d *SoftDelete) IsDeleted() bool {
	return d.DeletedAt.Valid
}

// SoftDeleteFlag implements Deletable with a 0/1 flag column.
type SoftDeleteFlag struct {
	DeletedAt soft_delete.DeletedAt `gorm:"softDelete:flag;default:0;index" json:"-"`
}

func (d *SoftDeleteFlag) IsDeleted() bool {
	return d.DeletedAt != 0
}

// Position implements the position half of PositionAware. Models add
// PositionGroup themselves; without one the whole table is a single group.
type Position struct {
	Position *int `json:"position"`
}

func (p *Position) GetPosition() *int {
	return p.Position
}

func (p *Position) SetPosition(position int) {
	p.Position = &position
}

func (p *Position) PositionGroup() []string {
	return nil
}

// Active implements the flag half of UniqueActive. Models add
// UniqueActiveFields themselves; without them the whole table is one group.
type Active struct {
	Active bool `gorm:"not null" json:"active"`
}

func (a *Active) IsActive() bool {
	return a.Active
}

func (a *Active) SetActive(active bool) {
	a.Active = active
}

func (a *Active) UniqueActiveFields() []string {
	return nil
}
