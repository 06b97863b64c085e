package answer

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/sagecloud/kbcrawl/internal/domain"
)

type fakeRetriever struct {
	results []domain.RetrievedChunk
	err     error
	gotTopK int
}

func (r *fakeRetriever) Retrieve(_ context.Context, _ string, topK int) ([]domain.RetrievedChunk, error) {
	r.gotTopK = topK
	return r.results, r.err
}

type fakeStreamer struct {
	system string
	user   string
	deltas []string
	err    error
}

func (c *fakeStreamer) Stream(_ context.Context, systemPrompt, userPrompt string, emit func(string) error) error {
	c.system = systemPrompt
	c.user = userPrompt
	if c.err != nil {
		return c.err
	}
	for _, d := range c.deltas {
		if err := emit(d); err != nil {
			return err
		}
	}
	return nil
}

func chunksN(n int) []domain.RetrievedChunk {
	out := make([]domain.RetrievedChunk, n)
	for i := range out {
		out[i] = domain.RetrievedChunk{
			ChunkID:    int64(i + 1),
			Title:      "Doc",
			URL:        "https://example.com/doc",
			SourceType: "editorial",
			Text:       "excerpt text",
		}
	}
	return out
}

func TestAskStreamsAnswerWithSources(t *testing.T) {
	retriever := &fakeRetriever{results: chunksN(4)}
	streamer := &fakeStreamer{deltas: []string{"Green ", "chile."}}
	svc := New(retriever, streamer, 4, zap.NewNop())

	var answer strings.Builder
	result, err := svc.Ask(context.Background(), "what is green chile?", func(d string) error {
		answer.WriteString(d)
		return nil
	})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if answer.String() != "Green chile." {
		t.Errorf("answer = %q", answer.String())
	}
	if len(result.Sources) != 4 || retriever.gotTopK != 4 {
		t.Errorf("sources = %d, topK = %d", len(result.Sources), retriever.gotTopK)
	}

	var payload struct {
		UserRequest    string `json:"user_request"`
		RetrievalNote  string `json:"retrieval_note"`
		RetrievedCount int    `json:"retrieved_count"`
		Sources        []struct {
			ID  int    `json:"id"`
			URL string `json:"url"`
		} `json:"sources"`
	}
	if err := json.Unmarshal([]byte(streamer.user), &payload); err != nil {
		t.Fatalf("user prompt is not JSON: %v", err)
	}
	if payload.UserRequest != "what is green chile?" || payload.RetrievedCount != 4 {
		t.Errorf("payload = %+v", payload)
	}
	if payload.RetrievalNote != "" {
		t.Errorf("unexpected retrieval note %q", payload.RetrievalNote)
	}
	if len(payload.Sources) != 4 || payload.Sources[0].ID != 1 || payload.Sources[3].ID != 4 {
		t.Errorf("sources = %+v", payload.Sources)
	}
	if !strings.Contains(streamer.system, "cite them by id") {
		t.Errorf("system prompt = %q", streamer.system)
	}
}

func TestAskNoSourcesNote(t *testing.T) {
	streamer := &fakeStreamer{deltas: []string{"I have no sources."}}
	svc := New(&fakeRetriever{}, streamer, 8, zap.NewNop())

	result, err := svc.Ask(context.Background(), "anything", func(string) error { return nil })
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Sources) != 0 {
		t.Errorf("sources = %+v", result.Sources)
	}
	if !strings.Contains(streamer.user, `"retrieval_note": "No sources retrieved."`) {
		t.Errorf("user prompt = %s", streamer.user)
	}
}

func TestAskLimitedSourcesNote(t *testing.T) {
	streamer := &fakeStreamer{}
	svc := New(&fakeRetriever{results: chunksN(2)}, streamer, 8, zap.NewNop())

	if _, err := svc.Ask(context.Background(), "anything", func(string) error { return nil }); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(streamer.user, "Limited sources retrieved") {
		t.Errorf("user prompt = %s", streamer.user)
	}
}

func TestAskRetrieverError(t *testing.T) {
	wantErr := errors.New("index unavailable")
	svc := New(&fakeRetriever{err: wantErr}, &fakeStreamer{}, 8, zap.NewNop())

	if _, err := svc.Ask(context.Background(), "anything", func(string) error { return nil }); !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}

func TestAskStreamError(t *testing.T) {
	wantErr := errors.New("stream cut")
	svc := New(&fakeRetriever{results: chunksN(3)}, &fakeStreamer{err: wantErr}, 8, zap.NewNop())

	if _, err := svc.Ask(context.Background(), "anything", func(string) error { return nil }); !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}

func TestNewDefaultTopK(t *testing.T) {
	retriever := &fakeRetriever{}
	svc := New(retriever, &fakeStreamer{}, 0, zap.NewNop())
	if _, err := svc.Ask(context.Background(), "q", func(string) error { return nil }); err != nil {
		t.Fatal(err)
	}
	if retriever.gotTopK != 8 {
		t.Errorf("topK = %d, want 8", retriever.gotTopK)
	}
}
