package tsa

import (
	"crypto/rand"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"time"

	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/domain"
	icrypto "github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/infra/crypto"
)

// RFC 3161 wire structures.

type messageImprint struct {
	HashAlgorithm pkix.AlgorithmIdentifier
	HashedMessage []byte
}

type timeStampReq struct {
	Version        int
	MessageImprint messageImprint
	ReqPolicy      asn1.ObjectIdentifier `asn1:"optional"`
	Nonce          *big.Int              `asn1:"optional"`
	CertReq        bool                  `asn1:"optional,default:false"`
}

type pkiStatusInfo struct {
	Status       int
	StatusString asn1.RawValue  `asn1:"optional"`
	FailInfo     asn1.BitString `asn1:"optional"`
}

type timeStampResp struct {
	Status pkiStatusInfo
	Token  asn1.RawValue `asn1:"optional"`
}

type accuracy struct {
	Seconds int `asn1:"optional"`
	Millis  int `asn1:"optional,tag:0"`
	Micros  int `asn1:"optional,tag:1"`
}

type tstInfo struct {
	Version        int
	Policy         asn1.ObjectIdentifier
	MessageImprint messageImprint
	SerialNumber   *big.Int
	GenTime        time.Time        `asn1:"generalized"`
	Accuracy       accuracy         `asn1:"optional"`
	Ordering       bool             `asn1:"optional,default:false"`
	Nonce          *big.Int         `asn1:"optional"`
	TSA            asn1.RawValue    `asn1:"optional,tag:0"`
	Extensions     []pkix.Extension `asn1:"optional,tag:1"`
}

var hashOIDs = map[domain.HashAlgorithm]asn1.ObjectIdentifier{
	domain.HashSHA256: {2, 16, 840, 1, 101, 3, 4, 2, 1},
	domain.HashSHA384: {2, 16, 840, 1, 101, 3, 4, 2, 2},
	domain.HashSHA512: {2, 16, 840, 1, 101, 3, 4, 2, 3},
}

func hashForOID(oid asn1.ObjectIdentifier) (domain.HashAlgorithm, bool) {
	for alg, candidate := range hashOIDs {
		if candidate.Equal(oid) {
			return alg, true
		}
	}
	return "", false
}

// BuildRequest hashes data and encodes a timestamp query for it. The returned
// request keeps the imprint and nonce so the eventual response can be checked
// against exactly what was asked.
func BuildRequest(data []byte, opts domain.TimestampRequestOptions) (*domain.TimestampRequest, error) {
	hashAlg := opts.HashAlgorithm
	if hashAlg == "" {
		hashAlg = domain.HashSHA256
	}
	oid, ok := hashOIDs[hashAlg]
	if !ok {
		return nil, domain.Errorf(domain.CodeUnsupportedAlgorithm, "no timestamp imprint oid for %s", hashAlg)
	}
	digest := hashAlg.Sum(data)

	req := timeStampReq{
		Version: 1,
		MessageImprint: messageImprint{
			HashAlgorithm: pkix.AlgorithmIdentifier{
				Algorithm:  oid,
				Parameters: asn1.RawValue{Tag: asn1.TagNull},
			},
			HashedMessage: digest,
		},
		CertReq: opts.RequestCertificate,
	}

	out := &domain.TimestampRequest{
		Imprint: domain.MessageImprint{
			HashAlgorithm: hashAlg,
			HashedMessage: digest,
		},
		CertRequested: opts.RequestCertificate,
		PolicyOID:     opts.PolicyOID,
		State:         domain.TimestampBuilt,
	}

	if opts.PolicyOID != "" {
		policy, err := icrypto.ParseOID(opts.PolicyOID)
		if err != nil {
			return nil, err
		}
		req.ReqPolicy = policy
	}
	if opts.IncludeNonce {
		nonce, err := newNonce()
		if err != nil {
			return nil, domain.WrapError(domain.CodeSigningFailed, "generate timestamp nonce", err)
		}
		req.Nonce = nonce
		out.Nonce = nonce
	}

	raw, err := asn1.Marshal(req)
	if err != nil {
		return nil, domain.WrapError(domain.CodeTimestampMalformed, "encode timestamp request", err)
	}
	out.Raw = raw
	return out, nil
}

// newNonce draws 16 random bytes, enough to make replayed responses
// detectable.
func newNonce() (*big.Int, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(buf), nil
}
