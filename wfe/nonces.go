package wfe

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/letsencrypt/pebble-pki/core"
)

// nonceLen is in bytes: a random 128-bit value per response.
const nonceLen = 16

const defaultNonceLifetime = 10 * time.Minute

// nonceMap issues single-use nonces that also expire. Unused nonces are
// swept by the cache's janitor.
type nonceMap struct {
	sync.Mutex
	nonces *cache.Cache
}

func newNonceMap(lifetime time.Duration) *nonceMap {
	if lifetime <= 0 {
		lifetime = defaultNonceLifetime
	}
	return &nonceMap{nonces: cache.New(lifetime, 2*lifetime)}
}

func (n *nonceMap) createNonce() string {
	nonce := core.RandomString(nonceLen)
	n.nonces.SetDefault(nonce, struct{}{})
	return nonce
}

func (n *nonceMap) validNonce(nonce string) bool {
	n.Lock()
	defer n.Unlock()

	if _, present := n.nonces.Get(nonce); !present {
		return false
	}
	// It can only be used once.
	n.nonces.Delete(nonce)
	return true
}
