package activities

import (
	"context"
	"errors"

	"go.temporal.io/sdk/temporal"

	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/domain"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/infra/pdfdoc"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/usecase"
)

const SignDocumentActivityName = "SignDocument"

// Activities holds the worker-side collaborators. Documents travel through
// activity payloads serialized, so any worker in the fleet can pick a unit up.
type Activities struct {
	Signer *usecase.DocumentSigner
}

func New(signer *usecase.DocumentSigner) *Activities {
	return &Activities{Signer: signer}
}

type SignDocumentInput struct {
	BatchID    string
	DocumentID string
	Document   []byte
	Signatures []domain.SignatureRequest
	Parallel   bool
}

type SignDocumentResult struct {
	Document []byte
}

// SignDocument signs one batch unit. Recoverable failures surface as plain
// errors so the workflow retry policy drives them; everything else is marked
// non-retryable and fails the unit on first sight.
func (a *Activities) SignDocument(ctx context.Context, input SignDocumentInput) (SignDocumentResult, error) {
	if a == nil || a.Signer == nil {
		return SignDocumentResult{}, errors.New("document signer not configured")
	}
	doc, err := pdfdoc.Parse(input.Document)
	if err != nil {
		return SignDocumentResult{}, asActivityError(err)
	}
	signed, err := a.Signer.SignDocument(ctx, doc, input.Signatures, input.Parallel)
	if err != nil {
		return SignDocumentResult{}, asActivityError(err)
	}
	return SignDocumentResult{Document: signed.Bytes()}, nil
}

func asActivityError(err error) error {
	if domain.IsRecoverable(err) {
		return err
	}
	return temporal.NewNonRetryableApplicationError(err.Error(), domain.CodeOf(err), err)
}
