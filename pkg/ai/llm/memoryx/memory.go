// Package memoryx holds per-conversation message history: storage backends,
// token estimation and the token-budgeted sliding window used to trim
// history before each provider call.
package memoryx

import "github.com/Abraxas-365/copiloto/pkg/ai/llm"

// Memory stores the message history of one conversation.
type Memory interface {
	Messages() ([]llm.Message, error)
	Add(message llm.Message) error
	Clear() error
}
