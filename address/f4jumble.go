package address

import (
	"encoding/binary"

	blake2b "github.com/minio/blake2b-simd"
)

const (
	f4MinLength = 48
	f4MaxLength = 4194368
	f4HashLen   = 64
)

func f4H(i byte, u []byte, size int) []byte {
	person := append([]byte("UA_F4Jumble_H"), i, 0, 0)
	d, err := blake2b.New(&blake2b.Config{Size: uint8(size), Person: person})
	if err != nil {
		panic(err)
	}
	d.Write(u)
	return d.Sum(nil)
}

func f4G(i byte, u []byte, size int) []byte {
	out := make([]byte, 0, size+f4HashLen)
	for j := 0; len(out) < size; j++ {
		person := append([]byte("UA_F4Jumble_G"), i, 0, 0)
		binary.LittleEndian.PutUint16(person[14:], uint16(j))
		d, err := blake2b.New(&blake2b.Config{Size: f4HashLen, Person: person})
		if err != nil {
			panic(err)
		}
		d.Write(u)
		out = d.Sum(out)
	}
	return out[:size]
}

func xorInto(dst, mask []byte) {
	for i := range dst {
		dst[i] ^= mask[i]
	}
}

func f4Split(n int) int {
	l := n / 2
	if l > f4HashLen {
		l = f4HashLen
	}
	return l
}

// f4Jumble is the unkeyed 4-round Feistel permutation used by unified encodings.
func f4Jumble(m []byte) ([]byte, error) {
	if len(m) < f4MinLength || len(m) > f4MaxLength {
		return nil, ErrInvalidLength
	}
	ll := f4Split(len(m))
	out := append([]byte(nil), m...)
	a, b := out[:ll], out[ll:]
	xorInto(b, f4G(0, a, len(b)))
	xorInto(a, f4H(0, b, ll))
	xorInto(b, f4G(1, a, len(b)))
	xorInto(a, f4H(1, b, ll))
	return out, nil
}

func f4Unjumble(m []byte) ([]byte, error) {
	if len(m) < f4MinLength || len(m) > f4MaxLength {
		return nil, ErrInvalidLength
	}
	ll := f4Split(len(m))
	out := append([]byte(nil), m...)
	c, d := out[:ll], out[ll:]
	xorInto(c, f4H(1, d, ll))
	xorInto(d, f4G(1, c, len(d)))
	xorInto(c, f4H(0, d, ll))
	xorInto(d, f4G(0, c, len(d)))
	return out, nil
}
