package llm

import (
	"context"
	"fmt"
	"log"
	"strings"
)

const keywordSystemPrompt = "You are a keyword generator. Generate relevant keywords and tags for the given video prompt. Return only the keywords as a comma-separated list."

// KeywordExtractor derives search keywords for a video prompt. Extraction is
// best effort: any failure yields an empty list rather than an error so that
// callers never block a save on the model being unavailable.
type KeywordExtractor struct {
	client *ChatClient
}

// NewKeywordExtractor wraps an existing chat client. A nil client produces an
// extractor that always returns an empty list.
func NewKeywordExtractor(client *ChatClient) *KeywordExtractor {
	return &KeywordExtractor{client: client}
}

// Keywords asks the model for a comma separated keyword list describing the
// prompt and returns the parsed entries.
func (e *KeywordExtractor) Keywords(ctx context.Context, prompt string) []string {
	if e == nil || e.client == nil {
		return []string{}
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return []string{}
	}

	messages := []ChatMessage{
		{Role: "system", Content: keywordSystemPrompt},
		{Role: "user", Content: fmt.Sprintf("Generate keywords for this video prompt: %q", prompt)},
	}
	reply, err := e.client.Chat(ctx, messages, ChatOptions{MaxTokens: 200, Temperature: 0.5})
	if err != nil {
		log.Printf("llm: keyword extraction failed: %v", err)
		return []string{}
	}

	return splitKeywords(reply)
}

func splitKeywords(raw string) []string {
	parts := strings.Split(raw, ",")
	keywords := make([]string, 0, len(parts))
	for _, part := range parts {
		keyword := strings.TrimSpace(part)
		if keyword == "" {
			continue
		}
		keywords = append(keywords, keyword)
	}
	return keywords
}
