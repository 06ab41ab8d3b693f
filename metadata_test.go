package gormext

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/schema"
)

func parseSchema(t *testing.T, model any) *schema.Schema {
	t.Helper()

	s, err := schema.Parse(model, &sync.Map{}, schema.NamingStrategy{})
	require.NoError(t, err)

	return s
}

func Test_implements(t *testing.T) {
	assert.True(t, implements[LifecycleDateTimeAware](parseSchema(t, &tArticle{})))
	assert.True(t, implements[PositionAware](parseSchema(t, &tTask{})))
	assert.True(t, implements[UniqueActive](parseSchema(t, &tBanner{})))
	assert.True(t, implements[Deletable](parseSchema(t, &tNote{})))
	assert.True(t, implements[Deletable](parseSchema(t, &tFlaggedNote{})))

	assert.False(t, implements[LifecycleDateTimeAware](parseSchema(t, &tUser{})))
	assert.False(t, implements[PositionAware](parseSchema(t, &tArticle{})))
}

func Test_resolve(t *testing.T) {
	tests := []struct {
		name      string
		resolve   resolver
		model     any
		wantNil   bool
		wantField string
		wantErr   string
		wantMD    string
	}{
		{
			name:    "timestamps",
			resolve: NewLifecycleDateListener().resolve,
			model:   &tArticle{},
			wantMD:  "created_at=created_at updated_at=updated_at",
		},
		{
			name:    "timestamps with custom fields",
			resolve: NewLifecycleDateListener().WithFields("UpdatedAt", "CreatedAt").resolve,
			model:   &tArticle{},
			wantMD:  "created_at=updated_at updated_at=created_at",
		},
		{
			name:    "not timestamped",
			resolve: NewLifecycleDateListener().resolve,
			model:   &tUser{},
			wantNil: true,
		},
		{
			name:      "timestamp with wrong type",
			resolve:   NewLifecycleDateListener().resolve,
			model:     &tBrokenArticle{},
			wantField: "CreatedAt",
		},
		{
			name:      "timestamp field missing",
			resolve:   NewLifecycleDateListener().WithFields("Created", "UpdatedAt").resolve,
			model:     &tArticle{},
			wantField: "Created",
		},
		{
			name:    "position with group",
			resolve: NewSortableListener().resolve,
			model:   &tTask{},
			wantMD:  "position=position group=list_id",
		},
		{
			name:      "position group field missing",
			resolve:   NewSortableListener().resolve,
			model:     &tBrokenTask{},
			wantField: "Missing",
		},
		{
			name:      "position with wrong type",
			resolve:   NewSortableListener().WithField("Title").resolve,
			model:     &tTask{},
			wantField: "Title",
		},
		{
			name:    "unique active with group",
			resolve: NewUniqueActiveListener().resolve,
			model:   &tBanner{},
			wantMD:  "active=active group=slot",
		},
		{
			name:    "soft delete timestamp",
			resolve: NewDeletableListener().resolve,
			model:   &tNote{},
			wantMD:  "deleted_at=deleted_at",
		},
		{
			name:      "soft delete with wrong type",
			resolve:   NewDeletableListener().WithField("Title").resolve,
			model:     &tNote{},
			wantField: "Title",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md, err := tt.resolve(parseSchema(t, tt.model))

			if tt.wantField != "" {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrMapping)

				var mappingErr *MappingError
				require.True(t, errors.As(err, &mappingErr))
				assert.Equal(t, tt.wantField, mappingErr.Field)
				return
			}

			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, md)
				return
			}

			require.NotNil(t, md)
			assert.Equal(t, tt.wantMD, md.String())
		})
	}
}

func Test_resolve_SoftDeleteKind(t *testing.T) {
	l := NewDeletableListener()

	md, err := l.resolve(parseSchema(t, &tNote{}))
	require.NoError(t, err)
	assert.Equal(t, SoftDeleteByTimestamp, md.SoftDeleteKind())

	md, err = l.resolve(parseSchema(t, &tFlaggedNote{}))
	require.NoError(t, err)
	assert.Equal(t, SoftDeleteByFlag, md.SoftDeleteKind())

	assert.Equal(t, SoftDeleteNone, (*Metadata)(nil).SoftDeleteKind())
}

func Test_metadataCache_load(t *testing.T) {
	var (
		cache metadataCache
		calls int
	)

	s := parseSchema(t, &tTask{})
	resolve := func(s *schema.Schema) (*Metadata, error) {
		calls++
		return newMetadata(s), nil
	}

	_, fresh, err := cache.load(s, resolve)
	require.NoError(t, err)
	assert.True(t, fresh)

	_, fresh, err = cache.load(s, resolve)
	require.NoError(t, err)
	assert.False(t, fresh)

	assert.Equal(t, 1, calls)
}

func Test_metadataCache_load_CachesErrors(t *testing.T) {
	var cache metadataCache

	s := parseSchema(t, &tBrokenTask{})
	for i := 0; i < 2; i++ {
		md, _, err := cache.load(s, NewSortableListener().resolve)
		assert.Nil(t, md)
		assert.ErrorIs(t, err, ErrMapping)
	}
}

func Test_toIntPtr(t *testing.T) {
	seven := 7
	var nilInt *int

	tests := []struct {
		name   string
		in     any
		want   *int
		wantOK bool
	}{
		{"nil", nil, nil, true},
		{"nil pointer", nilInt, nil, true},
		{"int", 3, &[]int{3}[0], true},
		{"int pointer", &seven, &seven, true},
		{"uint", uint8(2), &[]int{2}[0], true},
		{"int64", int64(-1), &[]int{-1}[0], true},
		{"string", "3", nil, false},
		{"float", 1.5, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := toIntPtr(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func Test_toBool(t *testing.T) {
	yes := true

	got, ok := toBool(true)
	assert.True(t, ok)
	assert.True(t, got)

	got, ok = toBool(&yes)
	assert.True(t, ok)
	assert.True(t, got)

	_, ok = toBool("true")
	assert.False(t, ok)

	_, ok = toBool(nil)
	assert.False(t, ok)
}

func Test_groupKey(t *testing.T) {
	id := uuid.New()
	listID := uint(3)

	assert.Equal(t, "", groupKey(nil))
	assert.Equal(t,
		groupKey(tDisjunct{{Column: "list_id", Operator: operatorEq, Value: uint(3)}}),
		groupKey(tDisjunct{{Column: "list_id", Operator: operatorEq, Value: &listID}}),
	)
	assert.Equal(t, "list_id=3",
		groupKey(tDisjunct{{Column: "list_id", Operator: operatorEq, Value: int64(3)}}),
	)
	assert.Equal(t,
		groupKey(tDisjunct{{Column: "owner_id", Operator: operatorEq, Value: id}}),
		groupKey(tDisjunct{{Column: "owner_id", Operator: operatorEq, Value: id.String()}}),
	)
	assert.True(t, sameGroup(
		tDisjunct{{Column: "slot", Operator: operatorEq, Value: nil}},
		tDisjunct{{Column: "slot", Operator: operatorEq, Value: (*string)(nil)}},
	))
	assert.False(t, sameGroup(
		tDisjunct{{Column: "slot", Operator: operatorEq, Value: "top"}},
		tDisjunct{{Column: "slot", Operator: operatorEq, Value: "side"}},
	))
}

func Test_isMapDest(t *testing.T) {
	assert.True(t, isMapDest(map[string]interface{}{}))
	assert.True(t, isMapDest([]map[string]interface{}{}))
	assert.False(t, isMapDest(&tTask{}))
	assert.False(t, isMapDest(nil))
}
