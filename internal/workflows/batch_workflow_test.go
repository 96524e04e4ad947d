package workflows

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/activities"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/domain"
)

func batchInput(docIDs ...string) BatchSigningInput {
	input := BatchSigningInput{BatchID: "batch-1"}
	for _, id := range docIDs {
		input.Documents = append(input.Documents, BatchDocumentInput{
			DocumentID: id,
			Document:   []byte("document " + id),
		})
	}
	return input
}

func TestBatchWorkflowAllDocumentsSucceed(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	sign := func(_ context.Context, in activities.SignDocumentInput) (activities.SignDocumentResult, error) {
		return activities.SignDocumentResult{Document: append([]byte("signed "), in.Document...)}, nil
	}
	env.RegisterActivityWithOptions(sign, activity.RegisterOptions{Name: activities.SignDocumentActivityName})

	env.ExecuteWorkflow(BatchSigningWorkflow, batchInput("d1", "d2", "d3"))
	if !env.IsWorkflowCompleted() {
		t.Fatal("workflow did not complete")
	}
	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow error: %v", err)
	}

	var result BatchSigningResult
	if err := env.GetWorkflowResult(&result); err != nil {
		t.Fatalf("result: %v", err)
	}
	if result.Progress.Status != domain.BatchCompleted {
		t.Fatalf("status = %s", result.Progress.Status)
	}
	if result.Progress.SuccessfulDocuments != 3 || result.Progress.ProcessedDocuments != 3 {
		t.Fatalf("progress = %+v", result.Progress)
	}
	if string(result.Signed["d2"]) != "signed document d2" {
		t.Fatalf("signed output = %q", result.Signed["d2"])
	}
}

func TestBatchWorkflowPartialOnFailure(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	sign := func(_ context.Context, in activities.SignDocumentInput) (activities.SignDocumentResult, error) {
		if in.DocumentID == "bad" {
			return activities.SignDocumentResult{}, temporal.NewNonRetryableApplicationError(
				"field out of bounds", domain.CodeInvalidPlacement, nil)
		}
		return activities.SignDocumentResult{Document: in.Document}, nil
	}
	env.RegisterActivityWithOptions(sign, activity.RegisterOptions{Name: activities.SignDocumentActivityName})

	input := batchInput("d1", "bad", "d3")
	input.Options.ContinueOnError = true
	env.ExecuteWorkflow(BatchSigningWorkflow, input)

	var result BatchSigningResult
	if err := env.GetWorkflowResult(&result); err != nil {
		t.Fatalf("result: %v", err)
	}
	if result.Progress.Status != domain.BatchPartial {
		t.Fatalf("status = %s", result.Progress.Status)
	}
	if result.Progress.SuccessfulDocuments != 2 || result.Progress.FailedDocuments != 1 {
		t.Fatalf("progress = %+v", result.Progress)
	}
	if result.Progress.ProcessedDocuments != result.Progress.SuccessfulDocuments+result.Progress.FailedDocuments {
		t.Fatalf("processed %d != successful %d + failed %d",
			result.Progress.ProcessedDocuments, result.Progress.SuccessfulDocuments, result.Progress.FailedDocuments)
	}
	if result.Progress.Documents["bad"] != domain.DocumentFailed {
		t.Fatalf("bad document state = %s", result.Progress.Documents["bad"])
	}
	if len(result.Errors) != 1 {
		t.Fatalf("errors = %v", result.Errors)
	}
}

func TestBatchWorkflowStopsOnFirstError(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	sign := func(_ context.Context, in activities.SignDocumentInput) (activities.SignDocumentResult, error) {
		return activities.SignDocumentResult{}, temporal.NewNonRetryableApplicationError(
			"backend rejected", domain.CodeKeyPermissionDenied, nil)
	}
	env.RegisterActivityWithOptions(sign, activity.RegisterOptions{Name: activities.SignDocumentActivityName})

	input := batchInput("d1", "d2", "d3", "d4")
	input.Options.MaxConcurrency = 1
	env.ExecuteWorkflow(BatchSigningWorkflow, input)

	var result BatchSigningResult
	if err := env.GetWorkflowResult(&result); err != nil {
		t.Fatalf("result: %v", err)
	}
	if result.Progress.Status != domain.BatchFailed {
		t.Fatalf("status = %s", result.Progress.Status)
	}
	if result.Progress.FailedDocuments == 0 {
		t.Fatalf("progress = %+v", result.Progress)
	}
	cancelledDocs := countState(result.Progress.Documents, domain.DocumentCancelled)
	if cancelledDocs == 0 {
		t.Fatalf("no documents swept after the stop: %+v", result.Progress.Documents)
	}
}

func TestBatchWorkflowCancelSignal(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	sign := func(_ context.Context, in activities.SignDocumentInput) (activities.SignDocumentResult, error) {
		time.Sleep(200 * time.Millisecond)
		return activities.SignDocumentResult{Document: in.Document}, nil
	}
	env.RegisterActivityWithOptions(sign, activity.RegisterOptions{Name: activities.SignDocumentActivityName})

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(CancelSignalName, struct{}{})
	}, time.Millisecond)

	input := batchInput("d1", "d2", "d3")
	input.Options.MaxConcurrency = 1
	env.ExecuteWorkflow(BatchSigningWorkflow, input)
	if !env.IsWorkflowCompleted() {
		t.Fatal("workflow did not complete")
	}

	var result BatchSigningResult
	if err := env.GetWorkflowResult(&result); err != nil {
		t.Fatalf("result: %v", err)
	}
	if result.Progress.Status != domain.BatchCancelled {
		t.Fatalf("status = %s", result.Progress.Status)
	}
	for id, state := range result.Progress.Documents {
		if state == domain.DocumentPending || state == domain.DocumentActive {
			t.Fatalf("document %s left in %s", id, state)
		}
	}
}

func TestBatchWorkflowRetriesRecoverableFailures(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	var attempts int32
	sign := func(_ context.Context, in activities.SignDocumentInput) (activities.SignDocumentResult, error) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return activities.SignDocumentResult{}, errors.New("connection reset")
		}
		return activities.SignDocumentResult{Document: in.Document}, nil
	}
	env.RegisterActivityWithOptions(sign, activity.RegisterOptions{Name: activities.SignDocumentActivityName})

	input := batchInput("d1")
	input.Options.RetryBudget = 2
	env.ExecuteWorkflow(BatchSigningWorkflow, input)

	var result BatchSigningResult
	if err := env.GetWorkflowResult(&result); err != nil {
		t.Fatalf("result: %v", err)
	}
	if result.Progress.Status != domain.BatchCompleted {
		t.Fatalf("status = %s after retries", result.Progress.Status)
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Fatalf("attempts = %d", got)
	}
}

func TestBatchWorkflowFatalFailureNotRetried(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	var attempts int32
	sign := func(context.Context, activities.SignDocumentInput) (activities.SignDocumentResult, error) {
		atomic.AddInt32(&attempts, 1)
		return activities.SignDocumentResult{}, temporal.NewNonRetryableApplicationError(
			"signing key disabled", domain.CodeKeyPermissionDenied, nil)
	}
	env.RegisterActivityWithOptions(sign, activity.RegisterOptions{Name: activities.SignDocumentActivityName})

	input := batchInput("d1")
	input.Options.RetryBudget = 5
	env.ExecuteWorkflow(BatchSigningWorkflow, input)

	var result BatchSigningResult
	if err := env.GetWorkflowResult(&result); err != nil {
		t.Fatalf("result: %v", err)
	}
	if result.Progress.Status != domain.BatchFailed {
		t.Fatalf("status = %s", result.Progress.Status)
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Fatalf("fatal failure retried: %d attempts", got)
	}
}

func TestBatchWorkflowProgressQuery(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	sign := func(_ context.Context, in activities.SignDocumentInput) (activities.SignDocumentResult, error) {
		return activities.SignDocumentResult{Document: in.Document}, nil
	}
	env.RegisterActivityWithOptions(sign, activity.RegisterOptions{Name: activities.SignDocumentActivityName})

	env.ExecuteWorkflow(BatchSigningWorkflow, batchInput("d1", "d2"))

	value, err := env.QueryWorkflow(ProgressQueryName)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	var progress domain.BatchProgress
	if err := value.Get(&progress); err != nil {
		t.Fatalf("decode query: %v", err)
	}
	if progress.BatchID != "batch-1" || progress.TotalDocuments != 2 {
		t.Fatalf("progress = %+v", progress)
	}
	if progress.ProcessedDocuments != 2 || progress.PendingDocuments != 0 {
		t.Fatalf("progress counters = %+v", progress)
	}
}
