package rag

import (
	"context"
	"fmt"

	"github.com/nikhilbhutani/ragchat/internal/memory"
)

// Conversation binds the orchestrator to a session store: each call reads
// the session's history, answers, then appends the question and answer.
type Conversation struct {
	orchestrator *Orchestrator
	sessions     memory.Sessions
}

func NewConversation(o *Orchestrator, sessions memory.Sessions) *Conversation {
	return &Conversation{orchestrator: o, sessions: sessions}
}

func (c *Conversation) Send(ctx context.Context, sessionID, message string) (*Response, error) {
	history, err := c.sessions.History(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	resp, err := c.orchestrator.Answer(ctx, Request{Question: message, History: history})
	if err != nil {
		return nil, err
	}

	if err := c.sessions.Append(ctx, sessionID, memory.UserTurn(message), memory.AssistantTurn(resp.Answer)); err != nil {
		return nil, fmt.Errorf("save history: %w", err)
	}
	return resp, nil
}

// End drops the session's history.
func (c *Conversation) End(ctx context.Context, sessionID string) error {
	return c.sessions.Clear(ctx, sessionID)
}

func (c *Conversation) Orchestrator() *Orchestrator { return c.orchestrator }
