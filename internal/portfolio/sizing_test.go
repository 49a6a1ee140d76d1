package portfolio

import (
	"errors"
	"testing"

	"emafutures/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ethSwap = Instrument{
	Symbol:         "ETH-USDT-SWAP",
	ContractValue:  0.1,
	PricePrecision: 2,
	SizePrecision:  2,
	MinSize:        0.01,
}

func TestContractSize(t *testing.T) {
	tests := []struct {
		name                      string
		fraction, equity, lev, px float64
		want                      float64
	}{
		// 0.05 × 10000 × 5 / (0.1 × 3000) = 8.333… → 8.33
		{"typical", 0.05, 10000, 5, 3000, 8.33},
		// 0.05 × 10 × 5 / 300 = 0.0083 → floored to the minimum
		{"below minimum", 0.05, 10, 5, 3000, 0.01},
		// 0.05 × 6000 × 10 / 300 = 10 exactly
		{"exact", 0.05, 6000, 10, 3000, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ContractSize(tt.fraction, tt.equity, tt.lev, tt.px, ethSwap)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestContractSize_Deterministic(t *testing.T) {
	first, err := ContractSize(0.05, 12345.67, 5, 3123.45, ethSwap)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		again, err := ContractSize(0.05, 12345.67, 5, 3123.45, ethSwap)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
	assert.GreaterOrEqual(t, first, 0.01)
}

func TestContractSize_InvalidInputs(t *testing.T) {
	for _, px := range []float64{0, -1} {
		_, err := ContractSize(0.05, 10000, 5, px, ethSwap)
		assert.True(t, errors.Is(err, ErrInvalidSizing))
	}
	_, err := ContractSize(0.05, 10000, 5, 3000, Instrument{})
	assert.True(t, errors.Is(err, ErrInvalidSizing))
}

func TestRoundStop(t *testing.T) {
	assert.Equal(t, 3003.6, RoundStop(3000*1.0012, model.SideLong, 2))
	assert.Equal(t, 3003.0, RoundStop(3003.99, model.SideLong, 0))
	assert.Equal(t, 2996.5, RoundStop(2996.41, model.SideShort, 1))
	assert.Equal(t, 0.0, RoundStop(0, model.SideShort, 2))
}

func TestUnrealizedPnL(t *testing.T) {
	assert.InDelta(t, 50.0, UnrealizedPnL(model.SideLong, 3000, 3050, 10, 0.1), 1e-9)
	assert.InDelta(t, -50.0, UnrealizedPnL(model.SideShort, 3000, 3050, 10, 0.1), 1e-9)

	pos := Mark(model.Position{Side: model.SideShort, Size: 2, EntryPrice: 100}, 90, 1)
	assert.InDelta(t, 20.0, pos.UnrealizedPnL, 1e-9)
}
