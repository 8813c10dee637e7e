package peer

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/pkg/errors"
	"github.com/zcash/lightwalletd/walletrpc"
)

// TransparentOutput is an unspent transparent output of a wallet address.
type TransparentOutput struct {
	Address string
	Txid    chainhash.Hash
	Index   uint32
	Script  []byte
	Value   uint64
	Height  uint32
}

// GetAddressUtxos lists the unspent outputs of addresses confirmed at or
// above minHeight.
func (c *Client) GetAddressUtxos(ctx context.Context, addresses []string, minHeight uint32) ([]TransparentOutput, error) {
	if len(addresses) == 0 {
		return nil, nil
	}
	reply, err := c.lwd.GetAddressUtxos(ctx, &walletrpc.GetAddressUtxosArg{
		Addresses:   addresses,
		StartHeight: uint64(minHeight),
	})
	if err != nil {
		return nil, errors.Wrap(err, "get address utxos")
	}
	return toTransparentOutputs(reply.AddressUtxos)
}

func toTransparentOutputs(utxos []*walletrpc.GetAddressUtxosReply) ([]TransparentOutput, error) {
	outs := make([]TransparentOutput, 0, len(utxos))
	for _, u := range utxos {
		if u.ValueZat < 0 {
			return nil, errors.Errorf("negative utxo value %d", u.ValueZat)
		}
		txid, err := chainhash.NewHash(u.Txid)
		if err != nil {
			return nil, errors.Wrap(err, "utxo txid")
		}
		outs = append(outs, TransparentOutput{
			Address: u.Address,
			Txid:    *txid,
			Index:   uint32(u.Index),
			Script:  u.Script,
			Value:   uint64(u.ValueZat),
			Height:  uint32(u.Height),
		})
	}
	return outs, nil
}
