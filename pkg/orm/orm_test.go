package orm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_SQLite(t *testing.T) {
	db, err := Open(&Config{Driver: "sqlite", DSN: ":memory:", MaxOpen: 1})
	require.NoError(t, err)

	type row struct {
		ID   uint
		Name string
	}
	require.NoError(t, db.AutoMigrate(&row{}))
	require.NoError(t, db.Create(&[]row{{Name: "a"}, {Name: "b"}, {Name: "c"}}).Error)

	var got []row
	require.NoError(t, Limit(db.Order("id"), 2).Find(&got).Error)
	assert.Len(t, got, 2)

	got = nil
	require.NoError(t, Limit(db, 0).Find(&got).Error)
	assert.Len(t, got, 3)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(&Config{Driver: "oracle"})
	assert.Error(t, err)
}
