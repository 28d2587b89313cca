package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/nikhilbhutani/ragchat/internal/llm"
	"github.com/nikhilbhutani/ragchat/internal/memory"
)

const contextualizePrompt = `Given a chat history and the latest user question which might reference context in the chat history, formulate a standalone question which can be understood without the chat history. Do NOT answer the question, just reformulate it if needed and otherwise return it as is.`

// Reformulator turns a follow-up question into a standalone query.
type Reformulator interface {
	Reformulate(ctx context.Context, question string, history []memory.Turn) (string, error)
}

type LLMReformulator struct {
	gateway llm.Gateway
	model   string
}

func NewLLMReformulator(gw llm.Gateway, model string) *LLMReformulator {
	return &LLMReformulator{gateway: gw, model: model}
}

// Reformulate returns question unchanged, without calling the LLM, when
// history is empty.
func (r *LLMReformulator) Reformulate(ctx context.Context, question string, history []memory.Turn) (string, error) {
	if len(history) == 0 {
		return question, nil
	}

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: contextualizePrompt})
	messages = append(messages, historyMessages(history)...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: question})

	resp, err := r.gateway.Chat(ctx, llm.ChatRequest{
		Model:    r.model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("reformulate question: %w", err)
	}

	standalone := strings.TrimSpace(resp.Content)
	if standalone == "" {
		return question, nil
	}
	return standalone, nil
}

func historyMessages(history []memory.Turn) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, t := range history {
		role := llm.RoleUser
		if t.Role == memory.RoleAssistant {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: t.Content})
	}
	return out
}
