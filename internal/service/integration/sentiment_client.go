package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/facultylens/pipeline-service/internal/models"
)

// SentimentClient talks to the external sentiment/keyword inference service.
// Failures here are transient by default: the caller decides whether a
// partial batch is acceptable.
type SentimentClient interface {
	Analyze(ctx context.Context, text string) (*SentimentResponse, error)
}

type SentimentResponse struct {
	Label         string    `json:"label"`
	LabelScore    float64   `json:"label_score"`
	PositiveScore float64   `json:"positive_score"`
	NeutralScore  float64   `json:"neutral_score"`
	NegativeScore float64   `json:"negative_score"`
	Keywords      []Keyword `json:"keywords"`
}

type Keyword struct {
	Text      string  `json:"text"`
	Relevance float64 `json:"relevance"`
}

type sentimentClient struct {
	baseURL    string
	retryCount int
	retryDelay time.Duration
	client     *http.Client
	logger     zerolog.Logger
}

func NewSentimentClient(baseURL string, timeout time.Duration, retryCount int, retryDelay time.Duration, logger zerolog.Logger) SentimentClient {
	return &sentimentClient{
		baseURL:    baseURL,
		retryCount: retryCount,
		retryDelay: retryDelay,
		client: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

func (c *sentimentClient) Analyze(ctx context.Context, text string) (*SentimentResponse, error) {
	url := fmt.Sprintf("%s/v1/analyze", c.baseURL)

	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error

	for i := 0; i <= c.retryCount; i++ {
		if i > 0 {
			c.logger.Warn().Int("attempt", i).Msg("Retrying sentiment analysis call")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(i)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			lastErr = fmt.Errorf("failed to create request: %w", err)
			continue
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("failed to call sentiment service: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusOK {
			var result SentimentResponse
			if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
				resp.Body.Close()
				lastErr = fmt.Errorf("failed to decode response: %w", err)
				continue
			}
			resp.Body.Close()

			c.logger.Debug().
				Str("label", result.Label).
				Float64("label_score", result.LabelScore).
				Msg("Sentiment analysis complete")

			return &result, nil
		}

		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		// 4xx means the input itself is unacceptable; retrying cannot help.
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, fmt.Errorf("sentiment service rejected request with status %d: %s", resp.StatusCode, string(body))
		}

		lastErr = fmt.Errorf("sentiment service returned status %d: %s", resp.StatusCode, string(body))
	}

	return nil, models.Transient(fmt.Errorf("sentiment analysis failed after %d attempts: %w", c.retryCount+1, lastErr))
}
