package payment_test

import (
	"testing"

	"github.com/catalogfi/zwallet/payment"
	"github.com/catalogfi/zwallet/zcash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const saplingAddr = "zs1lvzgfzzwl9n85446j292zg0valw2p47hmxnw42wnqsehsmyuvjk0mhxktcs0pqrplacm2vchh35"

func TestPaymentURI(t *testing.T) {
	params := &zcash.MainNetParams

	t.Run("should make and parse a payment uri", func(t *testing.T) {
		uri, err := payment.Make(params, saplingAddr, 150_000_000, "coffee & cake")
		require.NoError(t, err)
		assert.Contains(t, uri, "zcash:"+saplingAddr+"?amount=1.5")

		p, err := payment.Parse(params, uri)
		require.NoError(t, err)
		assert.Equal(t, saplingAddr, p.Address)
		assert.Equal(t, uint64(150_000_000), p.Amount)
		assert.Equal(t, "coffee & cake", p.Memo)
	})

	t.Run("should substitute the scheme", func(t *testing.T) {
		custom := *params
		custom.URIScheme = "ycash"
		uri, err := payment.Make(&custom, saplingAddr, 1, "")
		require.NoError(t, err)
		assert.Equal(t, "ycash:"+saplingAddr+"?amount=0.00000001", uri)

		_, err = payment.Parse(params, uri)
		assert.ErrorIs(t, err, payment.ErrInvalidScheme)
	})

	t.Run("should reject multiple payments", func(t *testing.T) {
		_, err := payment.Parse(params, "zcash:?address.1="+saplingAddr+"&amount.1=1&address.2="+saplingAddr)
		assert.ErrorIs(t, err, payment.ErrMultiplePayments)
	})

	t.Run("should parse amounts without floating point", func(t *testing.T) {
		v, err := payment.ParseAmount("0.1")
		require.NoError(t, err)
		assert.Equal(t, uint64(10_000_000), v)

		_, err = payment.ParseAmount("1.123456789")
		assert.ErrorIs(t, err, payment.ErrInvalidAmount)
		assert.Equal(t, "21000000", payment.FormatAmount(21_000_000*payment.ZatsPerCoin))
	})
}
