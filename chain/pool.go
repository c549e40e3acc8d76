package chain

import (
	"bytes"
	"sync"

	"github.com/letsencrypt/pebble-pki/x509"
)

// Pool is a set of certificates looked up by subject name. It is safe for
// concurrent use.
type Pool struct {
	sync.RWMutex
	certs []*x509.Certificate
}

func NewPool(certs ...*x509.Certificate) *Pool {
	p := &Pool{}
	for _, c := range certs {
		p.Add(c)
	}
	return p
}

// Add ignores certificates already in the pool.
func (p *Pool) Add(c *x509.Certificate) {
	if p.Contains(c) {
		return
	}
	p.Lock()
	defer p.Unlock()
	p.certs = append(p.certs, c)
}

func (p *Pool) Contains(c *x509.Certificate) bool {
	if p == nil {
		return false
	}
	der := encoding(c)
	p.RLock()
	defer p.RUnlock()
	for _, have := range p.certs {
		if bytes.Equal(encoding(have), der) {
			return true
		}
	}
	return false
}

func (p *Pool) Len() int {
	if p == nil {
		return 0
	}
	p.RLock()
	defer p.RUnlock()
	return len(p.certs)
}

// bySubject returns the certificates whose subject equals name.
func (p *Pool) bySubject(name x509.Name) []*x509.Certificate {
	if p == nil {
		return nil
	}
	p.RLock()
	defer p.RUnlock()
	var out []*x509.Certificate
	for _, c := range p.certs {
		if c.Subject().Equal(name) {
			out = append(out, c)
		}
	}
	return out
}

// encoding prefers the canonical re-encoding and falls back to Raw for a
// certificate whose fields no longer encode.
func encoding(c *x509.Certificate) []byte {
	if der, err := c.Marshal(); err == nil {
		return der
	}
	return c.Raw
}
