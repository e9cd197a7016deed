package patchdiff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiff_AddReplaceRemove(t *testing.T) {
	old := map[string]interface{}{
		"temperature": 20.0,
		"humidity":    50.0,
	}
	newVal := map[string]interface{}{
		"temperature": 21.5,
		"pressure":    1013.0,
	}

	ops := Diff(old, newVal)

	require.Len(t, ops, 3)
	assert.Equal(t, Op{Op: "remove", Path: "/humidity"}, ops[0])
	assert.Equal(t, Op{Op: "add", Path: "/pressure", Value: 1013.0}, ops[1])
	assert.Equal(t, Op{Op: "replace", Path: "/temperature", Value: 21.5}, ops[2])
}

func TestDiff_NoChanges(t *testing.T) {
	v := map[string]interface{}{"a": 1.0}

	ops := Diff(v, v)

	assert.Empty(t, ops)
}

func TestDiff_NestedMap(t *testing.T) {
	old := map[string]interface{}{
		"$metadata": map[string]interface{}{"$model": "dtmi:a;1"},
	}
	newVal := map[string]interface{}{
		"$metadata": map[string]interface{}{"$model": "dtmi:b;1"},
	}

	ops := Diff(old, newVal)

	require.Len(t, ops, 1)
	assert.Equal(t, "/$metadata/$model", ops[0].Path)
	assert.Equal(t, "replace", ops[0].Op)
}

func TestDiff_EscapesPointerTokens(t *testing.T) {
	old := map[string]interface{}{}
	newVal := map[string]interface{}{"a/b~c": 1.0}

	ops := Diff(old, newVal)

	require.Len(t, ops, 1)
	assert.Equal(t, "/a~1b~0c", ops[0].Path)
}

func TestDiff_IsDeterministic(t *testing.T) {
	old := map[string]interface{}{}
	newVal := map[string]interface{}{"b": 1.0, "a": 2.0, "c": 3.0}

	ops1 := Diff(old, newVal)
	ops2 := Diff(old, newVal)

	assert.Equal(t, ops1, ops2)
	assert.Equal(t, "/a", ops1[0].Path)
	assert.Equal(t, "/b", ops1[1].Path)
	assert.Equal(t, "/c", ops1[2].Path)
}

func TestDiff_MetadataOnlyChange_StillProducesPropertyReplace(t *testing.T) {
	old := map[string]interface{}{
		"temperature": 21.5,
		"$metadata": map[string]interface{}{
			"temperature": map[string]interface{}{"lastUpdateTime": "2026-07-30T00:00:00Z"},
		},
	}
	newVal := map[string]interface{}{
		"temperature": 21.5,
		"$metadata": map[string]interface{}{
			"temperature": map[string]interface{}{"lastUpdateTime": "2026-07-31T00:00:00Z"},
		},
	}

	ops := Diff(old, newVal)

	require.Len(t, ops, 2)
	assert.Equal(t, "/$metadata/temperature/lastUpdateTime", ops[0].Path)
	assert.Equal(t, "replace", ops[0].Op)
	assert.Equal(t, Op{Op: "replace", Path: "/temperature", Value: 21.5}, ops[1])
}

func TestDiff_MetadataOnlyChange_NoSyntheticOpWhenPropertyMissing(t *testing.T) {
	old := map[string]interface{}{
		"$metadata": map[string]interface{}{
			"temperature": map[string]interface{}{"lastUpdateTime": "2026-07-30T00:00:00Z"},
		},
	}
	newVal := map[string]interface{}{
		"$metadata": map[string]interface{}{
			"temperature": map[string]interface{}{"lastUpdateTime": "2026-07-31T00:00:00Z"},
		},
	}

	ops := Diff(old, newVal)

	require.Len(t, ops, 1)
	assert.Equal(t, "/$metadata/temperature/lastUpdateTime", ops[0].Path)
}

func TestApply_RoundTrips(t *testing.T) {
	old := map[string]interface{}{
		"temperature": 20.0,
		"humidity":    50.0,
	}
	newVal := map[string]interface{}{
		"temperature": 21.5,
		"pressure":    1013.0,
	}

	ops := Diff(old, newVal)

	applied, err := Apply(old, ops)

	require.NoError(t, err)
	assert.Equal(t, newVal, applied)
}

func TestPropertyKey(t *testing.T) {
	assert.Equal(t, "temperature", PropertyKey("/temperature"))
	assert.Equal(t, "metadata_temperature_sourceTime", PropertyKey("/metadata/temperature/sourceTime"))
}

func TestIsMetadataPath(t *testing.T) {
	assert.True(t, IsMetadataPath("/$metadata/temperature/sourceTime"))
	assert.True(t, IsMetadataPath("/$dtId"))
	assert.False(t, IsMetadataPath("/temperature"))
}

func TestPropertyAction(t *testing.T) {
	tests := []struct {
		op      string
		want    string
		wantErr bool
	}{
		{op: "add", want: "Create"},
		{op: "replace", want: "Update"},
		{op: "remove", want: "Delete"},
		{op: "move", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			got, err := PropertyAction(tt.op)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
