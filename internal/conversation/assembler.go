package conversation

import (
	"github.com/ent0n29/confidant/internal/llm"
	"github.com/ent0n29/confidant/internal/memory"
)

// Assemble builds the generation context for the current utterance.
//
// A single loaded turn is the user turn just appended, so the context is the
// current utterance alone. An empty history (the user append failed on a fresh
// session) also yields the current utterance. Otherwise every stored turn is
// mapped oldest first and system entries are dropped.
func Assemble(loaded []memory.Turn, current string) []llm.Message {
	if len(loaded) <= 1 {
		return []llm.Message{{Role: llm.RoleUser, Content: current}}
	}
	out := make([]llm.Message, 0, len(loaded))
	for _, t := range loaded {
		switch t.Role {
		case memory.RoleUser:
			out = append(out, llm.Message{Role: llm.RoleUser, Content: t.Message})
		case memory.RoleAssistant:
			out = append(out, llm.Message{Role: llm.RoleAssistant, Content: t.Message})
		}
	}
	return out
}
