// Package generator calls the AI provider that produces newsletter
// headlines. The provider sits behind the Generator interface so the spend
// flow can be tested without network access.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var ErrEmptyResult = errors.New("generator returned no headlines")

// Request describes a single headline generation call.
type Request struct {
	Topic    string
	Audience string
	Tone     string
	Keywords []string
	Count    int
}

type Generator interface {
	Generate(ctx context.Context, req Request) ([]string, error)
}

// GeminiClient talks to the Google Gemini REST API.
type GeminiClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

func NewGeminiClient() *GeminiClient {
	viper.SetDefault("gemini.base_url", "https://generativelanguage.googleapis.com")
	viper.SetDefault("gemini.model", "gemini-1.5-pro")
	viper.SetDefault("gemini.timeout", 30*time.Second)

	return &GeminiClient{
		baseURL: viper.GetString("gemini.base_url"),
		apiKey:  viper.GetString("gemini.api_key"),
		model:   viper.GetString("gemini.model"),
		httpClient: &http.Client{
			Timeout: viper.GetDuration("gemini.timeout"),
		},
	}
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (c *GeminiClient) Generate(ctx context.Context, req Request) ([]string, error) {
	prompt := buildPrompt(req)

	payload := map[string]any{
		"contents": []map[string]any{
			{"parts": []map[string]string{{"text": prompt}}},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("generation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("generation failed with status %d: %s", resp.StatusCode, string(detail))
	}

	var decoded geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode generation response: %w", err)
	}
	if len(decoded.Candidates) == 0 || len(decoded.Candidates[0].Content.Parts) == 0 {
		return nil, ErrEmptyResult
	}

	headlines := ParseHeadlines(decoded.Candidates[0].Content.Parts[0].Text)
	if len(headlines) == 0 {
		return nil, ErrEmptyResult
	}
	return headlines, nil
}

func buildPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate %d engaging headlines for a %s article about %q", req.Count, req.Tone, req.Topic)
	if req.Audience != "" {
		fmt.Fprintf(&b, " targeting %s", req.Audience)
	}
	b.WriteString(".\n")
	if len(req.Keywords) > 0 {
		fmt.Fprintf(&b, "Include these keywords where appropriate: %s.\n", strings.Join(req.Keywords, ", "))
	}
	b.WriteString("Each headline should be unique, attention-grabbing, and optimized for social media sharing.\n")
	b.WriteString("Format the response as a JSON array of strings.")
	return b.String()
}

// ParseHeadlines parses the model output. It expects a JSON array of
// strings; models occasionally wrap the array in markdown fences or return
// plain lines, so parsing falls back to line-splitting.
func ParseHeadlines(text string) []string {
	trimmed := strings.TrimSpace(text)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var headlines []string
	if err := json.Unmarshal([]byte(trimmed), &headlines); err == nil {
		return cleanup(headlines)
	}

	var lines []string
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "[") || strings.HasPrefix(line, "]") {
			continue
		}
		line = strings.Trim(line, `"',`)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return cleanup(lines)
}

func cleanup(headlines []string) []string {
	out := headlines[:0]
	for _, h := range headlines {
		h = strings.TrimSpace(h)
		if h != "" {
			out = append(out, h)
		}
	}
	return out
}
