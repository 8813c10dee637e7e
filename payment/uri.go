// Package payment reads and writes single recipient payment request URIs
// of the form <scheme>:<address>?amount=<decimal>&memo=<base64url>.
package payment

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/catalogfi/zwallet/address"
	"github.com/catalogfi/zwallet/zcash"
)

// ZatsPerCoin is the number of zatoshis in one coin.
const ZatsPerCoin = 100_000_000

var (
	ErrInvalidScheme    = errors.New("invalid payment uri scheme")
	ErrMultiplePayments = errors.New("payment uri must contain exactly one payment")
	ErrInvalidAmount    = errors.New("invalid payment amount")
	ErrMemoTooLong      = errors.New("memo does not fit in a note")
)

// URI is a single payment request.
type URI struct {
	Address string `json:"address"`
	Amount  uint64 `json:"amount"`
	Memo    string `json:"memo"`
}

// Make encodes a payment request using the scheme of the network.
func Make(params *zcash.Params, addr string, amount uint64, memo string) (string, error) {
	if !address.Validate(params, addr) {
		return "", address.ErrInvalidAddress
	}
	if len(memo) > zcash.MemoSize {
		return "", ErrMemoTooLong
	}
	q := url.Values{}
	if amount > 0 {
		q.Set("amount", FormatAmount(amount))
	}
	if memo != "" {
		q.Set("memo", base64.RawURLEncoding.EncodeToString([]byte(memo)))
	}
	uri := params.URIScheme + ":" + addr
	if len(q) > 0 {
		uri += "?" + q.Encode()
	}
	return uri, nil
}

// Parse decodes a payment request. Multi payment requests are rejected.
func Parse(params *zcash.Params, uri string) (*URI, error) {
	prefix := params.URIScheme + ":"
	if !strings.HasPrefix(uri, prefix) {
		return nil, ErrInvalidScheme
	}
	rest := strings.TrimPrefix(uri, prefix)
	addr, query, _ := strings.Cut(rest, "?")
	q, err := url.ParseQuery(query)
	if err != nil {
		return nil, fmt.Errorf("failed to parse query: %w", err)
	}
	for key := range q {
		if strings.Contains(key, ".") {
			return nil, ErrMultiplePayments
		}
	}
	if a := q.Get("address"); a != "" {
		if addr != "" {
			return nil, ErrMultiplePayments
		}
		addr = a
	}
	if !address.Validate(params, addr) {
		return nil, address.ErrInvalidAddress
	}
	p := &URI{Address: addr}
	if s := q.Get("amount"); s != "" {
		if p.Amount, err = ParseAmount(s); err != nil {
			return nil, err
		}
	}
	if s := q.Get("memo"); s != "" {
		memo, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
		if err != nil {
			return nil, fmt.Errorf("invalid memo: %w", err)
		}
		if len(memo) > zcash.MemoSize {
			return nil, ErrMemoTooLong
		}
		p.Memo = string(memo)
	}
	return p, nil
}

// ParseAmount parses a decimal coin amount with at most 8 decimals into zats.
func ParseAmount(s string) (uint64, error) {
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" || len(frac) > 8 {
		return 0, ErrInvalidAmount
	}
	w, err := strconv.ParseUint(whole, 10, 64)
	if err != nil || w > 21_000_000 {
		return 0, ErrInvalidAmount
	}
	var f uint64
	if frac != "" {
		f, err = strconv.ParseUint(frac+strings.Repeat("0", 8-len(frac)), 10, 64)
		if err != nil {
			return 0, ErrInvalidAmount
		}
	}
	return w*ZatsPerCoin + f, nil
}

// FormatAmount renders zats as a decimal coin amount without trailing zeros.
func FormatAmount(zats uint64) string {
	s := fmt.Sprintf("%d.%08d", zats/ZatsPerCoin, zats%ZatsPerCoin)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
