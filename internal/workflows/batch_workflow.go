package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/activities"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/domain"
)

const (
	BatchSigningWorkflowName = "BatchSigningWorkflow"

	// CancelSignalName requests cooperative cancellation. Documents already
	// handed to workers finish; pending ones are marked cancelled.
	CancelSignalName = "cancel-batch"

	// ProgressQueryName answers with the current BatchProgress.
	ProgressQueryName = "progress"
)

const defaultWorkflowConcurrency = 4

type BatchDocumentInput struct {
	DocumentID string
	Document   []byte
	Signatures []domain.SignatureRequest
}

type BatchSigningInput struct {
	BatchID   string
	Documents []BatchDocumentInput
	Options   domain.BatchOptions
}

type BatchSigningResult struct {
	Progress domain.BatchProgress
	// Signed holds the serialized output per completed document.
	Signed map[string][]byte
	Errors []string
}

// BatchSigningWorkflow signs every document in the batch, each as one
// activity execution so the server retry policy absorbs recoverable backend
// failures. Progress is queryable at any point and a cancel signal stops
// dispatch without abandoning in-flight documents.
func BatchSigningWorkflow(ctx workflow.Context, input BatchSigningInput) (BatchSigningResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("batch signing workflow started",
		"batch_id", input.BatchID, "documents", len(input.Documents))

	retryBudget := input.Options.RetryBudget
	if retryBudget < 0 {
		retryBudget = 0
	}
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    int32(retryBudget + 1),
		},
	}
	actCtx := workflow.WithActivityOptions(ctx, ao)

	progress := domain.BatchProgress{
		BatchID:        input.BatchID,
		Status:         domain.BatchSigning,
		TotalDocuments: len(input.Documents),
		Documents:      make(map[string]domain.DocumentState, len(input.Documents)),
		StartedAt:      workflow.Now(ctx),
	}
	for _, doc := range input.Documents {
		progress.Documents[doc.DocumentID] = domain.DocumentPending
	}
	result := BatchSigningResult{Signed: make(map[string][]byte)}

	if err := workflow.SetQueryHandler(ctx, ProgressQueryName, func() (domain.BatchProgress, error) {
		snapshot := progress
		snapshot.PendingDocuments = snapshot.TotalDocuments - snapshot.ProcessedDocuments -
			countState(progress.Documents, domain.DocumentCancelled)
		return snapshot, nil
	}); err != nil {
		return result, err
	}

	cancelled := false
	stopped := false
	signCtx, cancelSigning := workflow.WithCancel(actCtx)
	workflow.Go(ctx, func(gctx workflow.Context) {
		ch := workflow.GetSignalChannel(gctx, CancelSignalName)
		var payload struct{}
		if ch.Receive(gctx, &payload) {
			logger.Info("cancel signal received", "batch_id", input.BatchID)
			cancelled = true
			cancelSigning()
		}
	})

	concurrency := input.Options.MaxConcurrency
	if concurrency <= 0 {
		concurrency = defaultWorkflowConcurrency
	}
	sem := workflow.NewBufferedChannel(ctx, concurrency)
	wg := workflow.NewWaitGroup(ctx)

	for _, doc := range input.Documents {
		doc := doc
		if cancelled || stopped {
			progress.Documents[doc.DocumentID] = domain.DocumentCancelled
			continue
		}
		wg.Add(1)
		workflow.Go(ctx, func(gctx workflow.Context) {
			defer wg.Done()
			sem.Send(gctx, nil)
			defer sem.Receive(gctx, nil)

			if cancelled || stopped {
				progress.Documents[doc.DocumentID] = domain.DocumentCancelled
				return
			}
			progress.Documents[doc.DocumentID] = domain.DocumentActive

			var out activities.SignDocumentResult
			err := workflow.ExecuteActivity(signCtx, activities.SignDocumentActivityName, activities.SignDocumentInput{
				BatchID:    input.BatchID,
				DocumentID: doc.DocumentID,
				Document:   doc.Document,
				Signatures: doc.Signatures,
				Parallel:   input.Options.ParallelSigning,
			}).Get(gctx, &out)
			if err != nil {
				if cancelled && temporal.IsCanceledError(err) {
					progress.Documents[doc.DocumentID] = domain.DocumentCancelled
					return
				}
				progress.Documents[doc.DocumentID] = domain.DocumentFailed
				progress.ProcessedDocuments++
				progress.FailedDocuments++
				result.Errors = append(result.Errors, doc.DocumentID+": "+err.Error())
				logger.Warn("document failed",
					"batch_id", input.BatchID, "document_id", doc.DocumentID, "error", err)
				if !input.Options.ContinueOnError {
					stopped = true
				}
				return
			}
			progress.Documents[doc.DocumentID] = domain.DocumentCompleted
			progress.ProcessedDocuments++
			progress.SuccessfulDocuments++
			result.Signed[doc.DocumentID] = out.Document
		})
	}
	wg.Wait(ctx)

	for id, state := range progress.Documents {
		if state == domain.DocumentPending {
			progress.Documents[id] = domain.DocumentCancelled
		}
	}
	switch {
	case cancelled:
		progress.Status = domain.BatchCancelled
	case progress.SuccessfulDocuments == progress.TotalDocuments:
		progress.Status = domain.BatchCompleted
	case progress.SuccessfulDocuments == 0:
		progress.Status = domain.BatchFailed
	default:
		progress.Status = domain.BatchPartial
	}
	now := workflow.Now(ctx)
	progress.CompletedAt = &now
	progress.PendingDocuments = 0
	result.Progress = progress

	logger.Info("batch signing workflow finished",
		"batch_id", input.BatchID,
		"status", string(progress.Status),
		"successful", progress.SuccessfulDocuments,
		"failed", progress.FailedDocuments)
	return result, nil
}

func countState(states map[string]domain.DocumentState, want domain.DocumentState) int {
	n := 0
	for _, s := range states {
		if s == want {
			n++
		}
	}
	return n
}
