package controllers

import (
	"context"

	"ollamachat/ollamachat/services/inference"
	"ollamachat/ollamachat/utils/validation"
)

type ChatController struct {
	inference *inference.Service
}

func NewChatController(svc *inference.Service) *ChatController {
	return &ChatController{inference: svc}
}

// ChatStream starts a streamed reply. The returned stream's events must be
// drained; the request context bounds the engine's lifetime.
func (c *ChatController) ChatStream(ctx context.Context, sessionID string, in validation.Input) (*inference.Stream, error) {
	return c.inference.Start(ctx, sessionID, in)
}
