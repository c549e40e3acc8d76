package ca

import (
	"crypto/rand"
	"io"
	"math/big"
	"sync/atomic"
)

// SerialSource hands out certificate serial numbers. Implementations shared
// between concurrent issuers must never return the same number twice.
type SerialSource interface {
	NextSerial() (*big.Int, error)
}

// RandomSerials draws 159-bit positive serials, which encode in at most 20
// octets as RFC 5280 requires.
type RandomSerials struct {
	Rand io.Reader
}

var maxRandomSerial = new(big.Int).Lsh(big.NewInt(1), 159)

func (r RandomSerials) NextSerial() (*big.Int, error) {
	src := r.Rand
	if src == nil {
		src = rand.Reader
	}
	for {
		serial, err := rand.Int(src, maxRandomSerial)
		if err != nil {
			return nil, err
		}
		if serial.Sign() > 0 {
			return serial, nil
		}
	}
}

// CounterSerials counts up from its starting value. It is safe for
// concurrent use.
type CounterSerials struct {
	next atomic.Uint64
}

func NewCounterSerials(start uint64) *CounterSerials {
	c := &CounterSerials{}
	c.next.Store(start)
	return c
}

func (c *CounterSerials) NextSerial() (*big.Int, error) {
	n := c.next.Add(1) - 1
	if n == 0 {
		n = c.next.Add(1) - 1
	}
	return new(big.Int).SetUint64(n), nil
}
