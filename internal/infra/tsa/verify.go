package tsa

import (
	"bytes"
	"fmt"

	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/domain"
)

// VerifyResponse checks a response against the original data and, when given,
// the request it answers. It never panics and never returns an error: an
// invalid timestamp is an expected outcome and comes back as a result with at
// least one populated error.
func (c *Client) VerifyResponse(resp *domain.TimestampResponse, original []byte, req *domain.TimestampRequest) domain.TimestampVerification {
	var result domain.TimestampVerification

	if resp == nil {
		result.Errors = append(result.Errors, "no response to verify")
		return result
	}
	if !resp.Granted() {
		result.Errors = append(result.Errors,
			fmt.Sprintf("response status %d is not a grant", resp.Status))
		return result
	}
	token := resp.Token
	if token == nil {
		result.Errors = append(result.Errors, "granted response carries no token")
		return result
	}
	result.Token = token

	expected := token.Imprint.HashAlgorithm.Sum(original)
	if !bytes.Equal(expected, token.Imprint.HashedMessage) {
		result.Errors = append(result.Errors, "token imprint does not match the timestamped data")
	}

	if req != nil {
		if !bytes.Equal(req.Imprint.HashedMessage, token.Imprint.HashedMessage) {
			result.Errors = append(result.Errors, "token imprint does not match the request imprint")
		}
		if req.Nonce != nil {
			if token.Nonce == nil {
				result.Errors = append(result.Errors, "request carried a nonce but the token echoes none")
			} else if req.Nonce.Cmp(token.Nonce) != 0 {
				result.Errors = append(result.Errors, "token nonce does not echo the request nonce")
			}
		}
	}

	if len(token.Certificates) > 0 {
		responder := token.Certificates[0]
		if token.GenerationTime.Before(responder.NotBefore) || token.GenerationTime.After(responder.NotAfter) {
			result.Errors = append(result.Errors,
				fmt.Sprintf("generation time %s outside responder certificate validity",
					token.GenerationTime.Format("2006-01-02T15:04:05Z07:00")))
		}
	}

	result.Valid = len(result.Errors) == 0
	if req != nil {
		if result.Valid {
			req.State = domain.TimestampVerified
		} else {
			req.State = domain.TimestampVerificationFailedState
		}
	}
	return result
}
