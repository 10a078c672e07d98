// Package chat implements the single-field extraction protocol: each user
// turn invokes the language model once and merges at most one proposed field
// into the owning document.
package chat

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/worida2025/sonatrach-manager/internal/docstore"
)

// ErrUpstreamModel indicates the language model call failed. Nothing is
// persisted for the turn and the caller may retry.
var ErrUpstreamModel = errors.New("upstream model call failed")

// State is the session's position in the per-turn protocol
type State string

// Protocol states, in transition order
const (
	StateAwaitingUserMessage State = "awaiting_user_message"
	StateModelInvoked        State = "model_invoked"
	StateFieldsValidated     State = "fields_validated"
	StateMerged              State = "merged"
)

// FieldProposal is one field/value pair the model proposed for extraction
type FieldProposal struct {
	Name  string
	Value string
}

// ModelClient is the external language-model collaborator. Proposals are in
// the model's own ordering.
type ModelClient interface {
	Complete(ctx context.Context, system, user string) (response string, proposals []FieldProposal, err error)
}

// TurnStore is the slice of the document store the session writes through
type TurnStore interface {
	MergeChatTurn(ctx context.Context, documentID string, turn docstore.ChatTurn) (docstore.ChatTurn, error)
}

// Session runs extraction turns against one document. Not safe for
// concurrent use; callers serialize per document.
type Session struct {
	documentID   string
	model        ModelClient
	store        TurnStore
	contextChars int
	logger       *zap.Logger
	state        State
}

// NewSession creates a session for the document
func NewSession(documentID string, model ModelClient, store TurnStore, contextChars int, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		documentID:   documentID,
		model:        model,
		store:        store,
		contextChars: contextChars,
		logger:       logger,
		state:        StateAwaitingUserMessage,
	}
}

// State returns the session's current protocol state
func (s *Session) State() State {
	return s.state
}

// Submit runs one turn: invoke the model with the user message plus document
// context, keep at most the first proposed field, and merge field and turn
// into the store as one atomic update. On any failure the state returns to
// AwaitingUserMessage with nothing persisted.
func (s *Session) Submit(ctx context.Context, userMessage, documentText string, currentFields map[string]string) (docstore.ChatTurn, error) {
	s.state = StateModelInvoked

	system, user := BuildPrompt(documentText, currentFields, userMessage, s.contextChars)
	response, proposals, err := s.model.Complete(ctx, system, user)
	if err != nil {
		s.state = StateAwaitingUserMessage
		return docstore.ChatTurn{}, fmt.Errorf("%w: %v", ErrUpstreamModel, err)
	}

	// At most one field per turn: the model's first proposal wins, the
	// rest are discarded without error
	s.state = StateFieldsValidated
	extracted := map[string]string{}
	if len(proposals) > 0 && proposals[0].Name != "" {
		extracted[proposals[0].Name] = proposals[0].Value
	}

	turn, err := s.store.MergeChatTurn(ctx, s.documentID, docstore.ChatTurn{
		Message:         userMessage,
		Response:        response,
		ExtractedFields: extracted,
	})
	if err != nil {
		s.state = StateAwaitingUserMessage
		return docstore.ChatTurn{}, fmt.Errorf("merging chat turn: %w", err)
	}

	s.state = StateMerged
	s.logger.Debug("chat turn merged",
		zap.String("document_id", s.documentID),
		zap.Int("fields_extracted", len(extracted)),
		zap.Int("proposals_discarded", max(0, len(proposals)-1)),
	)
	return turn, nil
}
