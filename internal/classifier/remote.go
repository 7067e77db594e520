package classifier

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/trustengine/backend/internal/core"
)

// RemoteClassifier delegates classification to a trained-model scoring
// service over HTTP. Requests are HMAC-SHA256 signed so the backend can
// reject spoofed feature vectors. Any transport or decode failure surfaces
// as an error — the caller decides, and the policy layer fails closed.
type RemoteClassifier struct {
	url    string
	secret []byte
	client *http.Client
}

// NewRemoteClassifier creates a model-backed classifier pointed at url.
// A zero timeout falls back to 5 seconds.
func NewRemoteClassifier(url, hmacKey string, timeout time.Duration) *RemoteClassifier {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &RemoteClassifier{
		url:    url,
		secret: []byte(hmacKey),
		client: &http.Client{Timeout: timeout},
	}
}

type remoteRequest struct {
	EventType string    `json:"event_type"`
	Features  []float64 `json:"features"`
	Signature string    `json:"signature,omitempty"`
}

type remoteResponse struct {
	Category  string `json:"stride_category"`
	RiskLevel int    `json:"risk_level"`
}

// Classify posts the feature vector to the scoring service and maps its
// verdict into the closed taxonomy. Unknown category strings degrade to
// Unknown; risk levels are clamped to 1..5 so a misbehaving model cannot
// push the scorer out of range.
func (c *RemoteClassifier) Classify(ctx context.Context, vector []float64, eventType string) (core.ThreatClassification, error) {
	if len(vector) == 0 {
		return core.ThreatClassification{}, fmt.Errorf("%w: empty feature vector", core.ErrInvalidInput)
	}

	payload := remoteRequest{EventType: eventType, Features: vector}
	unsigned, err := json.Marshal(payload)
	if err != nil {
		return core.ThreatClassification{}, fmt.Errorf("marshal classify request: %w", err)
	}
	if len(c.secret) > 0 {
		mac := hmac.New(sha256.New, c.secret)
		mac.Write(unsigned)
		payload.Signature = hex.EncodeToString(mac.Sum(nil))
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return core.ThreatClassification{}, fmt.Errorf("marshal classify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return core.ThreatClassification{}, fmt.Errorf("build classify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return core.ThreatClassification{}, fmt.Errorf("classifier backend unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return core.ThreatClassification{}, fmt.Errorf("classifier backend returned %d", resp.StatusCode)
	}

	var out remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return core.ThreatClassification{}, fmt.Errorf("decode classifier response: %w", err)
	}

	return core.ThreatClassification{
		Category:  parseCategory(out.Category),
		RiskLevel: clampRisk(out.RiskLevel),
	}, nil
}

func parseCategory(s string) core.StrideCategory {
	for _, cat := range core.Categories {
		if string(cat) == s {
			return cat
		}
	}
	return core.CategoryUnknown
}

func clampRisk(level int) int {
	if level < 1 {
		return 1
	}
	if level > 5 {
		return 5
	}
	return level
}
