package http

import (
	"crypto/x509"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/domain"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/infra/crypto"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/infra/pdfdoc"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/infra/tsa"
)

type errorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := domain.CodeOf(err)
	switch code {
	case domain.CodeInvalidConfig, domain.CodeInvalidPlacement, domain.CodeFieldNameConflict,
		domain.CodeMalformedDocument, domain.CodeBatchEmpty, domain.CodeUnsupportedAlgorithm,
		domain.CodeCertificateExpired, domain.CodeProviderUnregistered:
		status = http.StatusBadRequest
	case domain.CodeKeyPermissionDenied, domain.CodePolicyDenied:
		status = http.StatusForbidden
	case domain.CodeBatchNotFound, domain.CodeKeyUnavailable:
		status = http.StatusNotFound
	case domain.CodeBatchTerminal:
		status = http.StatusConflict
	case domain.CodeTimeout, domain.CodeNetwork, domain.CodeBackendUnavailable,
		domain.CodeTimestampExhausted:
		status = http.StatusBadGateway
	case "":
		code = "INTERNAL"
	}
	writeErrorCode(c, status, code, err.Error())
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{Code: code, Message: message})
}

type documentPayload struct {
	// Document carries a previously serialized document.
	Document []byte `json:"document,omitempty"`
	// Content plus PageCount builds a fresh one.
	Content   []byte `json:"content,omitempty"`
	PageCount int    `json:"page_count,omitempty"`
}

func (p documentPayload) resolve() (domain.Document, error) {
	if len(p.Document) > 0 {
		return pdfdoc.Parse(p.Document)
	}
	if len(p.Content) == 0 {
		return nil, domain.NewError(domain.CodeMalformedDocument, "document or content is required")
	}
	return pdfdoc.New(p.Content, p.PageCount), nil
}

type signRequest struct {
	documentPayload
	Signatures []domain.SignatureRequest `json:"signatures"`
	Parallel   bool                      `json:"parallel,omitempty"`
}

func (s *Server) handleSign(c *gin.Context) {
	var req signRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	doc, err := req.resolve()
	if err != nil {
		writeError(c, err)
		return
	}
	signed, err := s.signer.SignDocument(c.Request.Context(), doc, req.Signatures, req.Parallel)
	if err != nil {
		writeError(c, err)
		return
	}
	fields := make([]string, 0, len(req.Signatures))
	for _, sig := range req.Signatures {
		fields = append(fields, sig.Placement.FieldName)
	}
	c.JSON(http.StatusOK, gin.H{"document": signed.Bytes(), "fields": fields})
}

type embedRequest struct {
	documentPayload
	FieldName string       `json:"field_name"`
	Page      int          `json:"page,omitempty"`
	Rect      *domain.Rect `json:"rect,omitempty"`
	Container []byte       `json:"container"`
}

// handleEmbed places an existing signature container into a document field.
// When a rect is supplied the field is created first.
func (s *Server) handleEmbed(c *gin.Context) {
	var req embedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if req.FieldName == "" {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "field_name is required")
		return
	}
	if _, err := crypto.DecodeContainer(req.Container); err != nil {
		writeError(c, err)
		return
	}
	doc, err := req.resolve()
	if err != nil {
		writeError(c, err)
		return
	}
	if req.Rect != nil {
		doc, err = doc.AddField(req.FieldName, req.Page, *req.Rect)
		if err != nil {
			writeError(c, err)
			return
		}
	}
	doc, err = doc.Embed(req.FieldName, req.Container)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document": doc.Bytes()})
}

type verifyRequest struct {
	documentPayload
	RootsPEM string `json:"roots_pem,omitempty"`
}

type fieldVerification struct {
	Verification domain.SignatureVerification `json:"verification"`
	Signer       string                       `json:"signer"`
	Timestamp    *time.Time                   `json:"timestamp,omitempty"`
}

func (s *Server) handleVerify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	doc, err := pdfdoc.Parse(req.Document)
	if err != nil {
		writeError(c, err)
		return
	}

	var trust domain.TrustOptions
	if req.RootsPEM != "" {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM([]byte(req.RootsPEM)) {
			writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "roots_pem holds no certificates")
			return
		}
		trust.Roots = pool
	}

	content := doc.ContentBytes()
	results := make(map[string]fieldVerification)
	containers, broken := crypto.ExtractSignatures(doc)
	for field, err := range broken {
		results[field] = fieldVerification{
			Verification: domain.SignatureVerification{
				Integrity:    domain.IntegrityModified,
				FailureClass: domain.FailureCryptographic,
				Errors:       []string{err.Error()},
			},
		}
	}
	for field, container := range containers {
		entry := fieldVerification{
			Verification: s.engine.VerifySignature(container, content, trust),
			Signer:       container.SignerCertificate.Subject,
		}
		if token, err := tsa.ExtractToken(container); err == nil && token != nil {
			entry.Timestamp = &token.GenerationTime
		}
		results[field] = entry
	}
	c.JSON(http.StatusOK, gin.H{"signatures": results})
}

type timestampRequest struct {
	Data               []byte `json:"data"`
	HashAlgorithm      string `json:"hash_algorithm,omitempty"`
	IncludeNonce       bool   `json:"include_nonce,omitempty"`
	RequestCertificate bool   `json:"request_certificate,omitempty"`
	PolicyOID          string `json:"policy_oid,omitempty"`
}

func (s *Server) handleTimestamp(c *gin.Context) {
	var req timestampRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if len(req.Data) == 0 {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "data is required")
		return
	}
	tsReq, err := tsa.BuildRequest(req.Data, domain.TimestampRequestOptions{
		HashAlgorithm:      domain.HashAlgorithm(req.HashAlgorithm),
		IncludeNonce:       req.IncludeNonce,
		RequestCertificate: req.RequestCertificate,
		PolicyOID:          req.PolicyOID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	resp, err := s.tsaClient.RequestWithFailover(c.Request.Context(), s.failover, tsReq)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"authority": resp.Authority,
		"status":    resp.Status,
		"serial":    resp.Token.SerialNumber.String(),
		"gen_time":  resp.Token.GenerationTime,
		"token":     resp.Token.Raw,
		"response":  resp.Raw,
	})
}

type timestampVerifyRequest struct {
	Response []byte `json:"response"`
	Data     []byte `json:"data"`
}

func (s *Server) handleTimestampVerify(c *gin.Context) {
	var req timestampVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	resp, err := tsa.DecodeResponse(req.Response, "")
	if err != nil {
		writeError(c, err)
		return
	}
	verification := s.tsaClient.VerifyResponse(resp, req.Data, nil)
	c.JSON(http.StatusOK, verification)
}

type batchDocumentPayload struct {
	DocumentID string `json:"document_id"`
	documentPayload
	Signatures []domain.SignatureRequest `json:"signatures"`
}

type startBatchRequest struct {
	Documents []batchDocumentPayload `json:"documents"`
	Options   domain.BatchOptions    `json:"options"`
}

func (s *Server) handleStartBatch(c *gin.Context) {
	var req startBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	docs := make([]domain.BatchDocumentRequest, 0, len(req.Documents))
	for _, d := range req.Documents {
		doc, err := d.resolve()
		if err != nil {
			// Structural problems are the orchestrator's to report per
			// document; a nil document carries the failure through.
			doc = nil
		}
		docs = append(docs, domain.BatchDocumentRequest{
			DocumentID: d.DocumentID,
			Document:   doc,
			Signatures: d.Signatures,
		})
	}
	batchID, err := s.orchestrator.StartBatchSigning(c.Request.Context(), docs, req.Options)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"batch_id": batchID})
}

func (s *Server) handleBatchReport(c *gin.Context) {
	report, err := s.orchestrator.GetBatchReport(c.Param("batch_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleBatchProgress(c *gin.Context) {
	progress, err := s.orchestrator.GetBatchProgress(c.Param("batch_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, progress)
}

func (s *Server) handleBatchDocument(c *gin.Context) {
	data, err := s.orchestrator.SignedDocument(c.Param("batch_id"), c.Param("document_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document": data})
}

func (s *Server) handleBatchCancel(c *gin.Context) {
	cancelled, err := s.orchestrator.CancelBatch(c.Param("batch_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": cancelled})
}

func (s *Server) handleAuditRecords(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	records, err := s.audit.Records(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}
