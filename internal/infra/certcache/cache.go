package certcache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/domain"
)

// Cache remembers chain-trust decisions per certificate fingerprint so
// verifying many signatures from the same signer does not rebuild the chain
// every time. Entries expire; a revoked intermediate becomes visible after at
// most the TTL.
type Cache struct {
	store *gocache.Cache
}

func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{store: gocache.New(ttl, 2*ttl)}
}

func (c *Cache) Get(fingerprint string) (bool, bool) {
	if c == nil || fingerprint == "" {
		return false, false
	}
	value, ok := c.store.Get(fingerprint)
	if !ok {
		return false, false
	}
	trusted, ok := value.(bool)
	return trusted, ok
}

func (c *Cache) Put(fingerprint string, trusted bool) {
	if c == nil || fingerprint == "" {
		return
	}
	c.store.SetDefault(fingerprint, trusted)
}

// PutVerification caches only the chain-trust portion of a result; the
// cryptographic check is content-specific and never cached.
func (c *Cache) PutVerification(cert domain.Certificate, result domain.SignatureVerification) {
	c.Put(cert.Fingerprint, result.ChainTrusted)
}
