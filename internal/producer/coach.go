package producer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/solace-app/coachsync/internal/message"
)

// CoachClient talks to the coaching backend over HTTP. Non-streaming
// replies come back as a single JSON object; streaming replies as
// newline-delimited JSON chunks.
type CoachClient struct {
	BaseURL string
	Model   string
	Client  *http.Client
}

func NewCoachClient(baseURL, model string) *CoachClient {
	if baseURL == "" {
		baseURL = "http://localhost:8085"
	}
	if model == "" {
		model = "coach-v1"
	}
	return &CoachClient{
		BaseURL: baseURL,
		Model:   model,
		Client:  &http.Client{Timeout: 90 * time.Second},
	}
}

type coachMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type coachReq struct {
	Model    string     `json:"model"`
	Messages []coachMsg `json:"messages"`
	Stream   bool       `json:"stream"`
}

type coachResp struct {
	Content string `json:"content"`
	Done    bool   `json:"done"`
	Error   string `json:"error,omitempty"`
}

func toCoachMsgs(history []message.Message) []coachMsg {
	out := make([]coachMsg, 0, len(history))
	for _, m := range history {
		out = append(out, coachMsg{Role: string(m.Role), Content: m.Content})
	}
	return out
}

func (p *CoachClient) Reply(ctx context.Context, history []message.Message) (string, error) {
	if p.Client == nil {
		return "", errors.New("coach: http client is nil")
	}

	b, err := json.Marshal(coachReq{Model: p.Model, Messages: toCoachMsgs(history)})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/v1/coach/reply", p.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("coach: status %d", resp.StatusCode)
	}

	var decoded coachResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", err
	}
	if decoded.Error != "" {
		return "", errors.New(decoded.Error)
	}
	return decoded.Content, nil
}

// StreamReply streams assistant content chunks. Both channels are closed
// when streaming ends.
func (p *CoachClient) StreamReply(ctx context.Context, history []message.Message) (<-chan string, <-chan error) {
	chunks := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		if p.Client == nil {
			errs <- errors.New("coach: http client is nil")
			return
		}

		b, err := json.Marshal(coachReq{Model: p.Model, Messages: toCoachMsgs(history), Stream: true})
		if err != nil {
			errs <- err
			return
		}

		url := fmt.Sprintf("%s/v1/coach/reply", p.BaseURL)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
		if err != nil {
			errs <- err
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := p.Client.Do(req)
		if err != nil {
			errs <- err
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			errs <- fmt.Errorf("coach: status %d", resp.StatusCode)
			return
		}

		sc := bufio.NewScanner(resp.Body)
		buf := make([]byte, 0, 64*1024)
		sc.Buffer(buf, 2*1024*1024)

		for sc.Scan() {
			line := sc.Bytes()
			if len(line) == 0 {
				continue
			}

			var decoded coachResp
			if err := json.Unmarshal(line, &decoded); err != nil {
				errs <- err
				return
			}
			if decoded.Error != "" {
				errs <- errors.New(decoded.Error)
				return
			}
			if decoded.Content != "" {
				chunks <- decoded.Content
			}
			if decoded.Done {
				return
			}
		}

		if err := sc.Err(); err != nil {
			errs <- err
		}
	}()

	return chunks, errs
}
