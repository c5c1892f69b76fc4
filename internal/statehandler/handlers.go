package statehandler

import "context"

const (
	stateProcessing = "Processing"
	stateFailed     = "Failed"
	stateSucceeded  = "Succeeded"
	stateDeleted    = "Deleted"

	keyProcessing = "processing"
	keyFailed     = "failed"
	keySucceeded  = "succeeded"
	keyDeleted    = "deleted"
)

type processingHandler struct{}

func (h *processingHandler) StateName() string { return stateProcessing }

func (h *processingHandler) Apply(ctx context.Context, tx Transaction, jobID string, now int64) {
	tx.AddToSet(ctx, keyProcessing, jobID, float64(now))
}

func (h *processingHandler) Unapply(ctx context.Context, tx Transaction, jobID string) {
	tx.RemoveFromSet(ctx, keyProcessing, jobID)
}

type failedHandler struct{}

func (h *failedHandler) StateName() string { return stateFailed }

func (h *failedHandler) Apply(ctx context.Context, tx Transaction, jobID string, now int64) {
	tx.AddToSet(ctx, keyFailed, jobID, float64(now))
}

func (h *failedHandler) Unapply(ctx context.Context, tx Transaction, jobID string) {
	tx.RemoveFromSet(ctx, keyFailed, jobID)
}

type succeededHandler struct {
	cap int64
}

func (h *succeededHandler) StateName() string { return stateSucceeded }

func (h *succeededHandler) Apply(ctx context.Context, tx Transaction, jobID string, now int64) {
	tx.InsertToList(ctx, keySucceeded, jobID)
	tx.TrimList(ctx, keySucceeded, 0, h.cap)
}

func (h *succeededHandler) Unapply(ctx context.Context, tx Transaction, jobID string) {
	tx.RemoveFromList(ctx, keySucceeded, jobID)
}

type deletedHandler struct {
	cap int64
}

func (h *deletedHandler) StateName() string { return stateDeleted }

func (h *deletedHandler) Apply(ctx context.Context, tx Transaction, jobID string, now int64) {
	tx.InsertToList(ctx, keyDeleted, jobID)
	tx.TrimList(ctx, keyDeleted, 0, h.cap)
}

func (h *deletedHandler) Unapply(ctx context.Context, tx Transaction, jobID string) {
	tx.RemoveFromList(ctx, keyDeleted, jobID)
}
