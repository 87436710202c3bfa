package enums

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassIdInJSON(t *testing.T) {
	tests := []struct {
		in   string
		want ClassIdIn
	}{
		{`3`, 3},
		{`"$"`, ClassInDefault},
		{`"None"`, ClassInNone},
		{`"M02"`, ClassInTemp02},
		{`"C12"`, 12},
	}
	for _, tt := range tests {
		var got ClassIdIn
		require.NoError(t, json.Unmarshal([]byte(tt.in), &got), tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	out, err := json.Marshal(ClassInDefault)
	require.NoError(t, err)
	assert.Equal(t, `"$"`, string(out))

	out, err = json.Marshal(ClassIdIn(7))
	require.NoError(t, err)
	assert.Equal(t, `7`, string(out))
}

func TestClassIdRanges(t *testing.T) {
	assert.True(t, ClassId(0).IsUserClass())
	assert.True(t, ClassId(49).IsUserClass())
	assert.False(t, ClassId(50).IsUserClass())
	assert.True(t, ClassId(0x400).IsTemporary())
	assert.False(t, ClassNone.IsTemporary())
	assert.Equal(t, 5, NrOfTempSlots)
	assert.Equal(t, 2, ClassInTemp03.TempSlot())
}

func TestMemoryIdxText(t *testing.T) {
	assert.Equal(t, 11, NrOfMemorySlots)
	assert.Equal(t, MemoryIdx(0), M0)
	assert.Equal(t, MemoryIdx(10), M10)

	var m MemoryIdx
	require.NoError(t, m.UnmarshalText([]byte("M7")))
	assert.Equal(t, M7, m)
	require.NoError(t, m.UnmarshalText([]byte("none")))
	assert.Equal(t, MemoryNone, m)
	assert.Error(t, m.UnmarshalText([]byte("M11")))
}

func TestImageIdDefaults(t *testing.T) {
	var id ImageId
	require.NoError(t, json.Unmarshal([]byte(`{"imagePlane":{"tStack":0,"zStack":0,"cStack":1}}`), &id))
	assert.Equal(t, int32(1), id.ImagePlane.CStack)
	assert.Equal(t, ZProjectionDefault, id.ZProjection)
	assert.Equal(t, MemoryNone, id.MemoryId)

	require.NoError(t, json.Unmarshal([]byte(`{"memoryId":"M3","zProjection":"MAX"}`), &id))
	assert.Equal(t, M3, id.MemoryId)
	assert.Equal(t, ZProjectionMax, id.ZProjection)
	assert.Equal(t, CurrentPlane, id.ImagePlane)
}

func TestInOutsChaining(t *testing.T) {
	thr := InOuts{In: []InOut{IOImage}, Out: IOBinary}
	assert.True(t, thr.Accepts(IOImage))
	assert.False(t, thr.Accepts(IOObject))

	pass := InOuts{In: []InOut{IOOutputEqualToInput}, Out: IOOutputEqualToInput}
	assert.True(t, pass.Accepts(IOBinary))
	assert.Equal(t, IOBinary, pass.ResolveOut(IOBinary))
}

func TestTileOffset(t *testing.T) {
	x, y := TileId{TileX: 2, TileY: 1, TileWidth: 4096, TileHeight: 4096}.Offset()
	assert.Equal(t, 8192, x)
	assert.Equal(t, 4096, y)
}
