package portfolio

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"emafutures/internal/model"
)

// ErrInvalidSizing is returned when sizing inputs cannot produce an order.
var ErrInvalidSizing = errors.New("invalid sizing inputs")

// Instrument describes the contract traded by the engine.
type Instrument struct {
	Symbol         string  `json:"symbol"`
	ContractValue  float64 `json:"contract_value"`  // base units per contract
	PricePrecision int32   `json:"price_precision"` // decimal places of a price tick
	SizePrecision  int32   `json:"size_precision"`  // decimal places of a size step
	MinSize        float64 `json:"min_size"`        // contracts
}

// ContractSize converts an equity fraction into contracts:
//
//	fraction × equity × leverage / (contractValue × price)
//
// truncated to the instrument's size precision and never below MinSize.
// Identical inputs always give identical output.
func ContractSize(fraction, equity, leverage, price float64, inst Instrument) (float64, error) {
	if fraction <= 0 || equity <= 0 || leverage <= 0 || price <= 0 || inst.ContractValue <= 0 {
		return 0, fmt.Errorf("%w: fraction=%v equity=%v leverage=%v price=%v contract=%v",
			ErrInvalidSizing, fraction, equity, leverage, price, inst.ContractValue)
	}

	margin := decimal.NewFromFloat(fraction).Mul(decimal.NewFromFloat(equity))
	notional := margin.Mul(decimal.NewFromFloat(leverage))
	perContract := decimal.NewFromFloat(inst.ContractValue).Mul(decimal.NewFromFloat(price))

	size := notional.DivRound(perContract, 16).Truncate(inst.SizePrecision)
	minSize := decimal.NewFromFloat(inst.MinSize)
	if size.LessThan(minSize) {
		size = minSize
	}

	f, _ := size.Float64()
	return f, nil
}

// RoundStop snaps a stop price onto the price grid towards the protective
// side: down for LONG stops, up for SHORT stops. Zero stays zero.
func RoundStop(stop float64, side model.Side, precision int32) float64 {
	if stop <= 0 {
		return 0
	}
	d := decimal.NewFromFloat(stop)
	if side == model.SideShort {
		d = d.RoundCeil(precision)
	} else {
		d = d.RoundFloor(precision)
	}
	f, _ := d.Float64()
	return f
}

// RoundPrice snaps a price to the nearest tick.
func RoundPrice(price float64, precision int32) float64 {
	f, _ := decimal.NewFromFloat(price).Round(precision).Float64()
	return f
}
