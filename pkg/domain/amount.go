package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	dErrors "propledger/pkg/domain-errors"
)

// weiDecimals is the ether to wei scale.
const weiDecimals = 18

// Amount is a non-negative quantity of value in wei. The zero value is 0.
// Amounts are immutable; arithmetic returns new values.
type Amount struct {
	v *big.Int
}

// NewAmount returns an Amount of wei base units.
func NewAmount(wei uint64) Amount {
	return Amount{v: new(big.Int).SetUint64(wei)}
}

// AmountFromBig copies b into an Amount. Negative values are rejected.
func AmountFromBig(b *big.Int) (Amount, error) {
	if b == nil {
		return Amount{}, nil
	}
	if b.Sign() < 0 {
		return Amount{}, dErrors.New(dErrors.CodeInvalidInput, "amount must not be negative")
	}
	return Amount{v: new(big.Int).Set(b)}, nil
}

// ParseAmount parses a base-10 wei integer.
func ParseAmount(s string) (Amount, error) {
	b, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return Amount{}, dErrors.New(dErrors.CodeInvalidInput, "amount must be a base-10 integer of wei")
	}
	return AmountFromBig(b)
}

// ParseEther parses a decimal ether value such as "0.1" into wei. Values
// finer than one wei are rejected rather than rounded.
func ParseEther(s string) (Amount, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Amount{}, dErrors.New(dErrors.CodeInvalidInput, "amount must be a decimal ether value")
	}
	if d.IsNegative() {
		return Amount{}, dErrors.New(dErrors.CodeInvalidInput, "amount must not be negative")
	}
	wei := d.Shift(weiDecimals)
	if !wei.Equal(wei.Truncate(0)) {
		return Amount{}, dErrors.New(dErrors.CodeInvalidInput, "amount has more than 18 decimal places")
	}
	return Amount{v: wei.BigInt()}, nil
}

// MustEther parses s with ParseEther and panics on error.
func MustEther(s string) Amount {
	a, err := ParseEther(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Amount) big() *big.Int {
	if a.v == nil {
		return new(big.Int)
	}
	return a.v
}

// Big returns a copy of the underlying integer.
func (a Amount) Big() *big.Int { return new(big.Int).Set(a.big()) }

func (a Amount) IsZero() bool { return a.big().Sign() == 0 }

func (a Amount) Cmp(b Amount) int { return a.big().Cmp(b.big()) }

func (a Amount) Equal(b Amount) bool { return a.Cmp(b) == 0 }

func (a Amount) Add(b Amount) Amount {
	return Amount{v: new(big.Int).Add(a.big(), b.big())}
}

// Sub returns a-b. Callers must ensure b <= a; a negative result panics.
func (a Amount) Sub(b Amount) Amount {
	r := new(big.Int).Sub(a.big(), b.big())
	if r.Sign() < 0 {
		panic(fmt.Sprintf("amount underflow: %s - %s", a, b))
	}
	return Amount{v: r}
}

// MulDiv returns floor(a*num/den).
func (a Amount) MulDiv(num, den uint64) Amount {
	r := new(big.Int).Mul(a.big(), new(big.Int).SetUint64(num))
	return Amount{v: r.Quo(r, new(big.Int).SetUint64(den))}
}

// String returns the wei value in base 10.
func (a Amount) String() string { return a.big().String() }

// Ether renders the value in ether with no trailing zeros.
func (a Amount) Ether() string {
	return decimal.NewFromBigInt(a.big(), -weiDecimals).String()
}

// EtherFloat64 is a lossy conversion for metrics.
func (a Amount) EtherFloat64() float64 {
	return decimal.NewFromBigInt(a.big(), -weiDecimals).InexactFloat64()
}

// MarshalJSON encodes the wei value as a JSON string so no precision is lost
// in JavaScript clients.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return dErrors.New(dErrors.CodeInvalidInput, "amount must be a JSON string of wei")
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func (a Amount) Value() (driver.Value, error) {
	return a.String(), nil
}

func (a *Amount) Scan(src any) error {
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	case int64:
		s = fmt.Sprint(v)
	default:
		return fmt.Errorf("cannot scan %T into Amount", src)
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
