package tsa

import (
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/domain"
	icrypto "github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/infra/crypto"
)

// ExtractToken pulls the timestamp token out of a signature container's
// unsigned attributes. A container without one yields (nil, nil); absence is
// a normal state, not a failure. Only a token that is present but
// undecodable is an error.
func ExtractToken(container *domain.SignatureContainer) (*domain.TimestampToken, error) {
	if container == nil {
		return nil, nil
	}
	for _, attr := range container.UnsignedAttributes {
		if attr.OID != icrypto.OIDTimestampToken {
			continue
		}
		return ParseToken(attr.Value)
	}
	return nil, nil
}
