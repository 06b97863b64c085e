// Package answer produces streamed, source-grounded answers: retrieval
// results are packed into the prompt and the model's reply is forwarded
// delta by delta.
package answer

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/sagecloud/kbcrawl/internal/domain"
)

const systemPrompt = `You are a knowledge-base assistant. Answer using only the
provided sources and cite them by id, like [1]. If the sources do not cover
the question, say so plainly instead of guessing. Keep answers concise.`

// Retriever finds the chunks relevant to a question.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]domain.RetrievedChunk, error)
}

// ChatStreamer streams a model response for a prompt pair.
type ChatStreamer interface {
	Stream(ctx context.Context, systemPrompt, userPrompt string, emit func(delta string) error) error
}

// Service answers questions grounded in retrieved chunks.
type Service struct {
	retriever Retriever
	chat      ChatStreamer
	topK      int
	logger    *zap.Logger
}

// New creates an answer service.
func New(retriever Retriever, chat ChatStreamer, topK int, logger *zap.Logger) *Service {
	if topK <= 0 {
		topK = 8
	}
	return &Service{retriever: retriever, chat: chat, topK: topK, logger: logger}
}

// Result reports what grounded the answer.
type Result struct {
	Sources []domain.RetrievedChunk
}

type promptSource struct {
	ID         int    `json:"id"`
	Title      string `json:"title"`
	URL        string `json:"url"`
	SourceType string `json:"source_type"`
	Excerpt    string `json:"excerpt"`
}

type promptPayload struct {
	UserRequest    string         `json:"user_request"`
	RetrievalNote  string         `json:"retrieval_note,omitempty"`
	RetrievedCount int            `json:"retrieved_count"`
	Sources        []promptSource `json:"sources"`
}

// Ask retrieves sources for the question and streams the model's answer
// through emit. With no sources the model is told so and answers
// accordingly rather than failing.
func (s *Service) Ask(ctx context.Context, question string, emit func(delta string) error) (*Result, error) {
	sources, err := s.retriever.Retrieve(ctx, question, s.topK)
	if err != nil {
		return nil, fmt.Errorf("retrieve sources: %w", err)
	}

	payload := promptPayload{
		UserRequest:    question,
		RetrievedCount: len(sources),
		Sources:        make([]promptSource, 0, len(sources)),
	}
	switch {
	case len(sources) == 0:
		payload.RetrievalNote = "No sources retrieved."
	case len(sources) < 3:
		payload.RetrievalNote = "Limited sources retrieved; be cautious and ask one clarifying question."
	}
	for i, src := range sources {
		payload.Sources = append(payload.Sources, promptSource{
			ID:         i + 1,
			Title:      src.Title,
			URL:        src.URL,
			SourceType: src.SourceType,
			Excerpt:    src.Text,
		})
	}

	userPrompt, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal prompt payload: %w", err)
	}

	s.logger.Debug("asking", zap.Int("sources", len(sources)))
	if err := s.chat.Stream(ctx, systemPrompt, string(userPrompt), emit); err != nil {
		return nil, err
	}
	return &Result{Sources: sources}, nil
}
