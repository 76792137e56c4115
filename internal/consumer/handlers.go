package consumer

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/withobsrvr/gl-ledger/internal/envelope"
	"github.com/withobsrvr/gl-ledger/internal/posting"
	"github.com/withobsrvr/gl-ledger/internal/reversal"
	"github.com/withobsrvr/gl-ledger/internal/wire"
)

// PostingSubject is the subject the posting consumer subscribes to.
const PostingSubject = "gl.events.posting.requested"

// ReversalSubject is the subject the reversal consumer subscribes to.
const ReversalSubject = "gl.events.entry.reverse.requested"

// NewPostingHandler adapts posting.Service to the generic consumer Handler.
func NewPostingHandler(svc *posting.Service) Handler[wire.PostingRequest] {
	return func(ctx context.Context, env envelope.Envelope[wire.PostingRequest]) error {
		eventID, err := uuid.Parse(env.EventID)
		if err != nil {
			return fmt.Errorf("%w: invalid event_id %q", posting.ErrValidation, env.EventID)
		}
		req, err := env.Payload.ToServiceRequest()
		if err != nil {
			return fmt.Errorf("%w: %v", posting.ErrValidation, err)
		}
		_, err = svc.Apply(ctx, eventID, env.TenantID, env.SourceModule, PostingSubject, req)
		return err
	}
}

// NewReversalHandler adapts reversal.Service to the generic consumer Handler.
func NewReversalHandler(svc *reversal.Service) Handler[wire.ReversalRequest] {
	return func(ctx context.Context, env envelope.Envelope[wire.ReversalRequest]) error {
		eventID, err := uuid.Parse(env.EventID)
		if err != nil {
			return fmt.Errorf("%w: invalid event_id %q", reversal.ErrEntryNotFound, env.EventID)
		}
		originalID, err := uuid.Parse(env.Payload.OriginalEntryID)
		if err != nil {
			return fmt.Errorf("%w: invalid original_entry_id %q", reversal.ErrEntryNotFound, env.Payload.OriginalEntryID)
		}
		_, err = svc.Create(ctx, eventID, env.TenantID, env.SourceModule, ReversalSubject, originalID)
		return err
	}
}
