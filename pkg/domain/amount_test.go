package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "propledger/pkg/domain-errors"
)

func TestParseEther(t *testing.T) {
	t.Run("converts to wei", func(t *testing.T) {
		a, err := ParseEther("0.1")
		require.NoError(t, err)
		assert.Equal(t, "100000000000000000", a.String())
		assert.Equal(t, "0.1", a.Ether())
	})

	t.Run("smallest unit", func(t *testing.T) {
		a, err := ParseEther("0.000000000000000001")
		require.NoError(t, err)
		assert.Equal(t, "1", a.String())
	})

	t.Run("sub-wei precision rejected", func(t *testing.T) {
		_, err := ParseEther("0.0000000000000000001")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("negative rejected", func(t *testing.T) {
		_, err := ParseEther("-0.5")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("garbage rejected", func(t *testing.T) {
		_, err := ParseEther("ten")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func TestParseAmount(t *testing.T) {
	a, err := ParseAmount("340282366920938463463374607431768211456")
	require.NoError(t, err)
	assert.Equal(t, "340282366920938463463374607431768211456", a.String())

	_, err = ParseAmount("-1")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	_, err = ParseAmount("1.5")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestAmountArithmetic(t *testing.T) {
	var zero Amount
	assert.True(t, zero.IsZero())
	assert.Equal(t, "0", zero.String())

	a := NewAmount(101)
	assert.Equal(t, "33", a.MulDiv(33, 100).String())
	assert.Equal(t, "134", a.Add(NewAmount(33)).String())
	assert.Equal(t, "68", a.Sub(NewAmount(33)).String())
	assert.Equal(t, 1, a.Cmp(NewAmount(100)))
	assert.True(t, a.Equal(NewAmount(101)))

	assert.Panics(t, func() { NewAmount(1).Sub(NewAmount(2)) })
}

func TestAmountIsImmutable(t *testing.T) {
	a := NewAmount(10)
	b := a.Big()
	b.SetInt64(99)
	assert.Equal(t, "10", a.String())

	_ = a.Add(NewAmount(5))
	assert.Equal(t, "10", a.String())
}

func TestAmountJSON(t *testing.T) {
	b, err := json.Marshal(MustEther("1"))
	require.NoError(t, err)
	assert.Equal(t, `"1000000000000000000"`, string(b))

	var a Amount
	require.NoError(t, json.Unmarshal(b, &a))
	assert.True(t, a.Equal(MustEther("1")))

	assert.Error(t, json.Unmarshal([]byte(`12`), &a))
}

func TestAmountScan(t *testing.T) {
	var a Amount
	require.NoError(t, a.Scan([]byte("500")))
	assert.Equal(t, "500", a.String())
	require.NoError(t, a.Scan(int64(7)))
	assert.Equal(t, "7", a.String())
	assert.Error(t, a.Scan(3.5))
}
