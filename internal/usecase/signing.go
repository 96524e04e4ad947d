package usecase

import (
	"context"
	"crypto/x509"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/domain"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/infra/crypto"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/infra/keys"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/infra/tsa"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/metrics"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/observability/logger"
)

// DocumentSigner runs the signing pipeline for one document: policy gate,
// field placement, container creation, optional timestamping, embedding.
// Documents are value-semantic, so a failed pipeline leaves the caller's
// document untouched and safe to retry.
type DocumentSigner struct {
	Engine   *crypto.Engine
	Registry *keys.Registry
	TSA      *tsa.Client
	Failover domain.FailoverConfig
	Policy   PolicyGate
}

// SignDocument applies every signature request to doc, in order. With
// parallel set, containers are created concurrently and then embedded in the
// request order; the field and embed steps always run sequentially because
// each one derives a new document value.
func (s *DocumentSigner) SignDocument(ctx context.Context, doc domain.Document, requests []domain.SignatureRequest, parallel bool) (domain.Document, error) {
	if doc == nil {
		return nil, domain.NewError(domain.CodeMalformedDocument, "document is nil")
	}
	if len(requests) == 0 {
		return nil, domain.NewError(domain.CodeInvalidConfig, "no signatures requested")
	}

	started := time.Now()
	defer func() {
		metrics.DocumentSignDuration.Observe(time.Since(started).Seconds())
	}()

	if err := s.checkPolicy(ctx, requests); err != nil {
		return nil, err
	}

	// Field placement first; every placement error surfaces before any
	// backend is asked to sign.
	current := doc
	for _, req := range requests {
		next, err := current.AddField(req.Placement.FieldName, req.Placement.Page, req.Placement.Rect)
		if err != nil {
			return nil, err
		}
		current = next
	}

	content := current.ContentBytes()
	containers := make([][]byte, len(requests))

	if parallel && len(requests) > 1 {
		g, gctx := errgroup.WithContext(ctx)
		for i := range requests {
			g.Go(func() error {
				encoded, err := s.buildContainer(gctx, content, requests[i])
				if err != nil {
					return err
				}
				containers[i] = encoded
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		for i := range requests {
			encoded, err := s.buildContainer(ctx, content, requests[i])
			if err != nil {
				return nil, err
			}
			containers[i] = encoded
		}
	}

	for i, req := range requests {
		next, err := current.Embed(req.Placement.FieldName, containers[i])
		if err != nil {
			return nil, err
		}
		current = next
	}
	return current, nil
}

func (s *DocumentSigner) checkPolicy(ctx context.Context, requests []domain.SignatureRequest) error {
	if s.Policy == nil {
		return nil
	}
	providers := make([]string, 0, len(requests))
	fields := make([]string, 0, len(requests))
	for _, req := range requests {
		providers = append(providers, req.KeyRef.Provider)
		fields = append(fields, req.Placement.FieldName)
	}
	allowed, reasons, err := s.Policy.Allow(ctx, map[string]any{
		"providers": providers,
		"fields":    fields,
	})
	if err != nil {
		return domain.WrapError(domain.CodeBackendUnavailable, "evaluate signing policy", err)
	}
	if !allowed {
		e := domain.NewError(domain.CodePolicyDenied, "signing denied by policy")
		if len(reasons) > 0 {
			e.Message += ": " + reasons[0]
		}
		return e
	}
	return nil
}

func (s *DocumentSigner) buildContainer(ctx context.Context, content []byte, req domain.SignatureRequest) ([]byte, error) {
	cert, chain, err := s.resolveChain(ctx, req)
	if err != nil {
		return nil, err
	}

	container, err := s.Engine.CreateSignature(ctx, content, req.KeyRef, cert, chain)
	if err != nil {
		metrics.SignaturesTotal.WithLabelValues(req.KeyRef.Provider, "error").Inc()
		return nil, err
	}
	metrics.SignaturesTotal.WithLabelValues(req.KeyRef.Provider, "ok").Inc()

	if req.Timestamp != nil {
		if err := s.timestamp(ctx, container, req); err != nil {
			return nil, err
		}
	}
	return crypto.EncodeContainer(container)
}

// timestamp covers the signature bytes, not the document: the token proves
// when the signature existed.
func (s *DocumentSigner) timestamp(ctx context.Context, container *domain.SignatureContainer, req domain.SignatureRequest) error {
	if s.TSA == nil {
		return domain.NewError(domain.CodeInvalidConfig, "timestamping requested but no authority client configured")
	}
	tsReq, err := tsa.BuildRequest(container.SignatureBytes, *req.Timestamp)
	if err != nil {
		return err
	}
	resp, err := s.TSA.RequestWithFailover(ctx, s.Failover, tsReq)
	if err != nil {
		metrics.TimestampRequestsTotal.WithLabelValues("failover", "error").Inc()
		return err
	}
	metrics.TimestampRequestsTotal.WithLabelValues(resp.Authority, "ok").Inc()

	verification := s.TSA.VerifyResponse(resp, container.SignatureBytes, tsReq)
	if !verification.Valid {
		logger.L().Warn("timestamp token failed verification",
			zap.String("authority", resp.Authority),
			zap.Strings("errors", verification.Errors))
		return domain.Errorf(domain.CodeTimestampMalformed,
			"token from %s failed verification: %v", resp.Authority, verification.Errors)
	}
	return s.Engine.AttachTimestamp(container, resp.Token)
}

// resolveChain finds the signer certificate: the request's DER when given,
// otherwise the backend's own chain for backends that hold one.
func (s *DocumentSigner) resolveChain(ctx context.Context, req domain.SignatureRequest) (*x509.Certificate, []*x509.Certificate, error) {
	if len(req.CertDER) > 0 {
		cert, err := x509.ParseCertificate(req.CertDER)
		if err != nil {
			return nil, nil, domain.WrapError(domain.CodeInvalidConfig, "parse signer certificate", err)
		}
		chain := []*x509.Certificate{cert}
		for _, der := range req.ChainDER {
			parent, err := x509.ParseCertificate(der)
			if err != nil {
				return nil, nil, domain.WrapError(domain.CodeInvalidConfig, "parse chain certificate", err)
			}
			chain = append(chain, parent)
		}
		return cert, chain, nil
	}

	backend, err := s.Registry.Backend(req.KeyRef.Provider)
	if err != nil {
		return nil, nil, err
	}
	provider, ok := backend.(domain.ChainProvider)
	if !ok {
		return nil, nil, domain.Errorf(domain.CodeInvalidConfig,
			"provider %q cannot supply a certificate; send one with the request", req.KeyRef.Provider)
	}
	chain, err := provider.Chain(ctx, req.KeyRef)
	if err != nil {
		return nil, nil, err
	}
	if len(chain) == 0 {
		return nil, nil, domain.Errorf(domain.CodeKeyUnavailable,
			"provider %q returned an empty chain for key %q", req.KeyRef.Provider, req.KeyRef.KeyID)
	}
	return chain[0], chain, nil
}
