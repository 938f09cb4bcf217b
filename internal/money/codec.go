// Package money converts human prices into integer base-unit amounts of the
// settlement asset registered for a network.
package money

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var (
	ErrUnsupportedNetwork = errors.New("unsupported network")
	ErrInvalidPrice       = errors.New("invalid price")
)

// Asset is the settlement token for one network. Scale is 10^Decimals base
// units per unit of account.
type Asset struct {
	Network  string
	Address  common.Address
	Name     string
	Version  string
	Decimals int32
}

// EncodedPrice is a price expressed in base units of a concrete asset.
type EncodedPrice struct {
	Amount  *big.Int
	Asset   common.Address
	Network string
	Extra   map[string]any
}

// AmountString returns the amount as a base-10 string, the form used on the wire.
func (p EncodedPrice) AmountString() string {
	if p.Amount == nil {
		return "0"
	}
	return p.Amount.String()
}

// Codec is immutable after NewCodec returns; Encode is safe for concurrent use.
type Codec struct {
	assets map[string]Asset
}

func NewCodec(assets ...Asset) (*Codec, error) {
	m := make(map[string]Asset, len(assets))
	for _, a := range assets {
		if a.Network == "" {
			return nil, errors.New("asset without network")
		}
		if a.Decimals < 0 || a.Decimals > 36 {
			return nil, fmt.Errorf("asset %s: decimals out of range: %d", a.Network, a.Decimals)
		}
		if _, dup := m[a.Network]; dup {
			return nil, fmt.Errorf("asset %s: network registered twice", a.Network)
		}
		m[a.Network] = a
	}
	return &Codec{assets: m}, nil
}

// Encode returns floor(price × 10^decimals) for the asset of network.
// Fractions below one base unit are truncated, never rounded up.
func (c *Codec) Encode(price, network string) (EncodedPrice, error) {
	asset, ok := c.assets[network]
	if !ok {
		return EncodedPrice{}, fmt.Errorf("%w: %s", ErrUnsupportedNetwork, network)
	}
	d, err := ParsePrice(price)
	if err != nil {
		return EncodedPrice{}, err
	}
	amount := d.Shift(asset.Decimals).Truncate(0).BigInt()
	return EncodedPrice{
		Amount:  amount,
		Asset:   asset.Address,
		Network: network,
		Extra: map[string]any{
			"name":    asset.Name,
			"version": asset.Version,
		},
	}, nil
}

// Asset returns the asset registered for network.
func (c *Codec) Asset(network string) (Asset, bool) {
	a, ok := c.assets[network]
	return a, ok
}

func (c *Codec) Supports(network string) bool {
	_, ok := c.assets[network]
	return ok
}

// Networks returns the registered networks in sorted order.
func (c *Codec) Networks() []string {
	out := make([]string, 0, len(c.assets))
	for n := range c.assets {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// ParsePrice accepts "$0.01", "0.01" and surrounding whitespace.
func ParsePrice(price string) (decimal.Decimal, error) {
	s := strings.TrimSpace(price)
	s = strings.TrimPrefix(s, "$")
	if s == "" {
		return decimal.Decimal{}, fmt.Errorf("%w: empty", ErrInvalidPrice)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrInvalidPrice, price)
	}
	if d.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("%w: negative %q", ErrInvalidPrice, price)
	}
	return d, nil
}
