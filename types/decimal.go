package types

import (
	"math/big"

	"github.com/apache/arrow/go/v11/arrow/decimal128"
)

const (
	DefaultDecimalPrecision = 38
	DefaultDecimalScale     = 6
)

type Decimal struct {
	Num       decimal128.Num
	Precision int
	Scale     int
}

func NewDecimalFromInt64(val int64, precision int, scale int) Decimal {
	decNum := decimal128.FromI64(val)
	if scale > 0 {
		decNum = decNum.IncreaseScaleBy(int32(scale))
	} else if scale < 0 {
		decNum = decNum.ReduceScaleBy(-int32(scale), true)
	}
	return Decimal{
		Num:       decNum,
		Precision: precision,
		Scale:     scale,
	}
}

func NewDecimalFromFloat64(val float64, precision int, scale int) (Decimal, error) {
	decNum, err := decimal128.FromFloat64(val, int32(precision), int32(scale))
	if err != nil {
		return Decimal{}, err
	}
	return Decimal{
		Num:       decNum,
		Precision: precision,
		Scale:     scale,
	}, nil
}

func NewDecimalFromString(val string, precision int, scale int) (Decimal, error) {
	decNum, err := decimal128.FromString(val, int32(precision), int32(scale))
	if err != nil {
		return Decimal{}, err
	}
	return Decimal{
		Num:       decNum,
		Precision: precision,
		Scale:     scale,
	}, nil
}

func (d *Decimal) Add(other *Decimal) (Decimal, error) {
	o := other.convertScale(d.Scale)
	return Decimal{
		Num:       d.Num.Add(o.Num),
		Precision: d.Precision,
		Scale:     d.Scale,
	}, nil
}

func (d *Decimal) Subtract(other *Decimal) (Decimal, error) {
	o := other.convertScale(d.Scale)
	return Decimal{
		Num:       d.Num.Sub(o.Num),
		Precision: d.Precision,
		Scale:     d.Scale,
	}, nil
}

func (d *Decimal) convertScale(scale int) Decimal {
	scaleDiff := scale - d.Scale
	num := d.Num
	if scaleDiff > 0 {
		num = num.IncreaseScaleBy(int32(scaleDiff))
	} else if scaleDiff < 0 {
		num = num.ReduceScaleBy(-int32(scaleDiff), true)
	}
	return Decimal{
		Num:       num,
		Precision: d.Precision,
		Scale:     scale,
	}
}

func (d *Decimal) Less(other *Decimal) bool {
	if d.Scale == other.Scale {
		return d.Num.Less(other.Num)
	}
	if d.Scale < other.Scale {
		adjusted := d.convertScale(other.Scale)
		return adjusted.Num.Less(other.Num)
	}
	adjusted := other.convertScale(d.Scale)
	return d.Num.Less(adjusted.Num)
}

func (d *Decimal) ToFloat64() float64 {
	return d.Num.ToFloat64(int32(d.Scale))
}

func (d *Decimal) Equals(other *Decimal) bool {
	return d.Scale == other.Scale && d.Num == other.Num
}

func (d *Decimal) String() string {
	bf := new(big.Float).SetInt(d.Num.BigInt())
	if d.Scale > 0 {
		divisor := new(big.Float).SetInt(big.NewInt(0).Exp(big.NewInt(10), big.NewInt(int64(d.Scale)), nil))
		bf.Quo(bf, divisor)
	}
	return bf.Text('f', d.Scale)
}
