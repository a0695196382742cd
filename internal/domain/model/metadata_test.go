package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadata_ValueScan(t *testing.T) {
	md := Metadata{
		"apy":    Number(42.5),
		"note":   String("manual"),
		"hedged": Bool(true),
		"legs":   List(String("binance"), String("bybit")),
		"extra":  Map(map[string]MetaValue{"depth": Number(3)}),
	}

	v, err := md.Value()
	require.NoError(t, err)

	var out Metadata
	require.NoError(t, out.Scan(v))

	apy, ok := out["apy"].AsNumber()
	require.True(t, ok)
	assert.Equal(t, 42.5, apy)
	note, _ := out["note"].AsString()
	assert.Equal(t, "manual", note)
	hedged, _ := out["hedged"].AsBool()
	assert.True(t, hedged)
	legs, ok := out["legs"].AsList()
	require.True(t, ok)
	assert.Len(t, legs, 2)
	extra, ok := out["extra"].AsMap()
	require.True(t, ok)
	assert.Equal(t, MetaNumber, extra["depth"].Kind())
}

func TestMetadata_RejectsInvalid(t *testing.T) {
	_, err := Metadata{"bad": MetaValue{}}.Value()
	assert.ErrorIs(t, err, ErrInvalidMetadata)

	var out Metadata
	assert.ErrorIs(t, out.Scan(`{"x": null}`), ErrInvalidMetadata)
	assert.ErrorIs(t, out.Scan(`not json`), ErrInvalidMetadata)
	assert.ErrorIs(t, out.Scan(42), ErrInvalidMetadata)
}

func TestMetadata_Empty(t *testing.T) {
	v, err := Metadata(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "{}", v)

	out := Metadata{"x": Bool(true)}
	require.NoError(t, out.Scan("{}"))
	assert.Nil(t, out)
	require.NoError(t, out.Scan(nil))
	assert.Nil(t, out)
}
