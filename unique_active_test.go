package gormext

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newUniqueActiveDB(t *testing.T) *gorm.DB {
	t.Helper()
	return newSQLite(t, []Listener{NewUniqueActiveListener()}, &tBanner{})
}

func newBanner(slot string, active bool) *tBanner {
	return &tBanner{Slot: slot, Active: Active{Active: active}}
}

// activeBanners returns the ids of the active banners per slot.
func activeBanners(t *testing.T, db *gorm.DB) map[string][]uuid.UUID {
	t.Helper()

	var banners []tBanner
	require.NoError(t, db.Where("active = ?", true).Find(&banners).Error)

	ret := make(map[string][]uuid.UUID)
	for _, b := range banners {
		ret[b.Slot] = append(ret[b.Slot], b.ID)
	}

	return ret
}

func Test_UniqueActive_Create(t *testing.T) {
	db := newUniqueActiveDB(t)

	first := newBanner("top", true)
	second := newBanner("top", true)
	side := newBanner("side", true)
	for _, b := range []*tBanner{first, second, side} {
		require.NoError(t, db.Create(b).Error)
	}

	assert.Equal(t, map[string][]uuid.UUID{
		"top":  {second.ID},
		"side": {side.ID},
	}, activeBanners(t, db))
}

func Test_UniqueActive_CreateInactive(t *testing.T) {
	db := newUniqueActiveDB(t)

	active := newBanner("top", true)
	require.NoError(t, db.Create(active).Error)
	require.NoError(t, db.Create(newBanner("top", false)).Error)

	assert.Equal(t, map[string][]uuid.UUID{"top": {active.ID}}, activeBanners(t, db))
}

func Test_UniqueActive_CreateBatch(t *testing.T) {
	db := newUniqueActiveDB(t)

	stored := newBanner("top", true)
	require.NoError(t, db.Create(stored).Error)

	batch := []*tBanner{
		newBanner("top", true),
		newBanner("side", true),
		newBanner("top", true),
	}
	require.NoError(t, db.Create(batch).Error)

	assert.False(t, batch[0].IsActive())
	assert.Equal(t, map[string][]uuid.UUID{
		"top":  {batch[2].ID},
		"side": {batch[1].ID},
	}, activeBanners(t, db))
}

func Test_UniqueActive_Update(t *testing.T) {
	db := newUniqueActiveDB(t)

	first := newBanner("top", false)
	second := newBanner("top", true)
	require.NoError(t, db.Create(first).Error)
	require.NoError(t, db.Create(second).Error)

	require.NoError(t, db.Model(first).Update("active", true).Error)
	assert.Equal(t, map[string][]uuid.UUID{"top": {first.ID}}, activeBanners(t, db))

	second.SetActive(true)
	require.NoError(t, db.Save(second).Error)
	assert.Equal(t, map[string][]uuid.UUID{"top": {second.ID}}, activeBanners(t, db))
}

func Test_UniqueActive_UpdateGroup(t *testing.T) {
	db := newUniqueActiveDB(t)

	top := newBanner("top", true)
	side := newBanner("side", true)
	require.NoError(t, db.Create(top).Error)
	require.NoError(t, db.Create(side).Error)

	// The stored active flag carries over to the new slot.
	require.NoError(t, db.Model(side).Update("slot", "top").Error)
	assert.Equal(t, map[string][]uuid.UUID{"top": {side.ID}}, activeBanners(t, db))
}

func Test_UniqueActive_UpdateInactive(t *testing.T) {
	db := newUniqueActiveDB(t)

	active := newBanner("top", true)
	inactive := newBanner("top", false)
	require.NoError(t, db.Create(active).Error)
	require.NoError(t, db.Create(inactive).Error)

	require.NoError(t, db.Model(inactive).Update("slot", "top").Error)
	require.NoError(t, db.Model(active).Update("slot", "top").Error)
	assert.Equal(t, map[string][]uuid.UUID{"top": {active.ID}}, activeBanners(t, db))
}

func Test_UniqueActive_WithField(t *testing.T) {
	l := NewUniqueActiveListener().WithField("Slot")

	_, err := l.resolve(parseSchema(t, &tBanner{}))
	assert.ErrorIs(t, err, ErrMapping)
	assert.ErrorContains(t, err, "expected a bool field")
}

func Test_UniqueActive_NotMaintained(t *testing.T) {
	tests := []struct {
		name   string
		stored bool
		run    func(db *gorm.DB, second *tBanner) error
	}{
		{
			name: "create from map",
			run: func(db *gorm.DB, second *tBanner) error {
				return db.Model(&tBanner{}).Create(map[string]any{"id": second.ID, "slot": "top", "active": true}).Error
			},
		},
		{
			name:   "batch update",
			stored: true,
			run: func(db *gorm.DB, _ *tBanner) error {
				return db.Model(&[]tBanner{}).Where("slot = ?", "top").Update("active", true).Error
			},
		},
		{
			name:   "update without a key",
			stored: true,
			run: func(db *gorm.DB, second *tBanner) error {
				return db.Model(&tBanner{}).Where("id = ?", second.ID).Update("active", true).Error
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newUniqueActiveDB(t)

			first := newBanner("top", true)
			second := newBanner("top", false)
			require.NoError(t, db.Create(first).Error)
			if tt.stored {
				require.NoError(t, db.Create(second).Error)
			} else {
				second.ID = uuid.New()
			}

			warnings := recordWarnings(db)
			require.NoError(t, tt.run(db, second))

			assert.ElementsMatch(t, []uuid.UUID{first.ID, second.ID}, activeBanners(t, db)["top"])
			require.Len(t, warnings.messages, 1)
			assert.Contains(t, warnings.messages[0], "active rows are not maintained")
		})
	}
}
