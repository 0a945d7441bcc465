package ai

import (
	"context"

	"github.com/cloudwego/eino/schema"

	"github.com/atlas-erp/advisor/backend/internal/model/chat"
	"github.com/atlas-erp/advisor/backend/internal/model/persona"
)

// Completer is the outbound completion contract. The rest of the system
// treats the language model as a black box behind this interface; tests
// substitute a stub.
type Completer interface {
	Complete(ctx context.Context, p persona.Persona, history []chat.HistoryTurn, query string) (string, error)
}

// StreamCompleter is the optional incremental-delivery side of a Completer.
type StreamCompleter interface {
	Completer
	StreamingEnabled() bool
	StreamComplete(ctx context.Context, p persona.Persona, history []chat.HistoryTurn, query string) (*schema.StreamReader[*schema.Message], error)
}
