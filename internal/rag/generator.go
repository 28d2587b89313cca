package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/nikhilbhutani/ragchat/internal/llm"
	"github.com/nikhilbhutani/ragchat/internal/memory"
	"github.com/nikhilbhutani/ragchat/internal/vectorstore"
)

const qaPrompt = `You are an assistant for question-answering tasks. Use the following pieces of retrieved context to answer the question. If you don't know the answer, just say that you don't know. Use three sentences maximum and keep the answer concise.

%s`

type Generator struct {
	gateway llm.Gateway
	model   string
}

func NewGenerator(gw llm.Gateway, model string) *Generator {
	return &Generator{gateway: gw, model: model}
}

// Generate answers question from the retrieved chunks only. History is
// passed along so the answer can follow the conversation.
func (g *Generator) Generate(ctx context.Context, question string, history []memory.Turn, sources []vectorstore.SearchResult) (string, error) {
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{
		Role:    llm.RoleSystem,
		Content: fmt.Sprintf(qaPrompt, buildContext(sources)),
	})
	messages = append(messages, historyMessages(history)...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: question})

	resp, err := g.gateway.Chat(ctx, llm.ChatRequest{
		Model:    g.model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("generate answer: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}

func buildContext(results []vectorstore.SearchResult) string {
	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Content
	}
	return strings.Join(texts, "\n\n")
}
