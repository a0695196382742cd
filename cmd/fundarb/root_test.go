package main

import (
	"bytes"
	"testing"

	"fundarb/internal/domain/model"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("FUNDARB_STORAGE_DRIVER", "memory")
	t.Setenv("FUNDARB_REDIS_ENABLED", "false")

	var buf bytes.Buffer
	cmd := newRootCmd(&buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestSummaryJSON(t *testing.T) {
	out, err := execute(t, "positions", "summary", "--json")
	require.NoError(t, err)

	var sum model.PortfolioSummary
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	assert.Equal(t, 0, sum.TotalPositions)
	assert.True(t, sum.TotalExposureUSD.IsZero())
}

func TestScanEmptyStore(t *testing.T) {
	out, err := execute(t, "scan")
	require.NoError(t, err)
	assert.Equal(t, "no opportunities found\n", out)
}

func TestScanRejectsBadLimit(t *testing.T) {
	_, err := execute(t, "scan", "--limit", "500")
	assert.ErrorIs(t, err, model.ErrInvalidFilter)
}

func TestBestWithoutRates(t *testing.T) {
	_, err := execute(t, "best", "--symbols", "BTC")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestOpenPrintsID(t *testing.T) {
	out, err := execute(t, "positions", "open",
		"--symbol", "btc", "--long", "binance", "--short", "bybit",
		"--size", "1000", "--long-rate", "0.0001", "--short-rate", "0.0004",
		"--meta", "strategy=manual", "--meta", "leverage=2")
	require.NoError(t, err)
	assert.Len(t, out, 37) // uuid + newline
}

func TestOpenValidation(t *testing.T) {
	_, err := execute(t, "positions", "open", "--symbol", "BTC", "--long", "binance", "--short", "binance", "--size", "10")
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = execute(t, "positions", "open", "--symbol", "BTC", "--long", "binance", "--short", "bybit", "--size", "abc")
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestShowMissingPosition(t *testing.T) {
	_, err := execute(t, "positions", "show", "nope")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestParseMeta(t *testing.T) {
	meta, err := parseMeta([]string{"a=1.5", "b=true", "c=hello"})
	require.NoError(t, err)

	n, ok := meta["a"].AsNumber()
	assert.True(t, ok)
	assert.Equal(t, 1.5, n)
	b, ok := meta["b"].AsBool()
	assert.True(t, ok)
	assert.True(t, b)
	s, ok := meta["c"].AsString()
	assert.True(t, ok)
	assert.Equal(t, "hello", s)

	_, err = parseMeta([]string{"novalue"})
	assert.ErrorIs(t, err, model.ErrValidation)
}
