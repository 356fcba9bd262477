package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type httpBackend struct {
	endpoint   string
	voice      string
	sampleRate int
	client     *http.Client
}

type httpRequest struct {
	Text       string `json:"text"`
	Voice      string `json:"voice"`
	SampleRate int    `json:"sample_rate"`
}

// NewHTTPBackend talks to a standalone synthesis service: POST the text,
// get raw audio bytes back.
func NewHTTPBackend(endpoint, voice string, sampleRate int, timeout time.Duration) Backend {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &httpBackend{
		endpoint:   endpoint,
		voice:      voice,
		sampleRate: sampleRate,
		client:     &http.Client{Timeout: timeout},
	}
}

func (h *httpBackend) Synthesize(ctx context.Context, text string) ([]byte, error) {
	payload, err := json.Marshal(httpRequest{
		Text:       text,
		Voice:      h.voice,
		SampleRate: h.sampleRate,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build synthesis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("synthesis request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("synthesis service returned %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read synthesis response: %w", err)
	}
	return audio, nil
}
