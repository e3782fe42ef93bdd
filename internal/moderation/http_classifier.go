package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/carlmjohnson/versioninfo"
)

// HTTPClassifier calls a JSON classification endpoint. The request body is
// {"text": ...}; the response carries flagged, confidence, issues, severity.
type HTTPClassifier struct {
	Client http.Client
	URL    string
	APIKey string
}

type classifierResp struct {
	Flagged    *bool    `json:"flagged"`
	Confidence *float64 `json:"confidence"`
	Issues     []string `json:"issues"`
	Severity   string   `json:"severity"`
}

func NewHTTPClassifier(url, apiKey string) *HTTPClassifier {
	// the caller's context carries the deadline
	return &HTTPClassifier{
		Client: http.Client{},
		URL:    url,
		APIKey: apiKey,
	}
}

func (hc *HTTPClassifier) Classify(ctx context.Context, text string) (Classification, error) {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return Classification{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hc.URL, bytes.NewReader(payload))
	if err != nil {
		return Classification{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "scribe/"+versioninfo.Short())
	if hc.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+hc.APIKey)
	}

	res, err := hc.Client.Do(req)
	if err != nil {
		return Classification{}, fmt.Errorf("classifier request: %w", err)
	}
	defer res.Body.Close()
	classifierHTTPCount.WithLabelValues(strconv.Itoa(res.StatusCode)).Inc()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return Classification{}, fmt.Errorf("classifier response body: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return Classification{}, fmt.Errorf("classifier request failed status=%d body=%s", res.StatusCode, excerpt(string(body), 200))
	}
	return parseClassifierResp(body)
}

func parseClassifierResp(body []byte) (Classification, error) {
	var resp classifierResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return Classification{}, &ParseError{Raw: excerpt(string(body), 500), Err: err}
	}
	c := Classification{
		Confidence: 1.0,
		Issues:     resp.Issues,
		Severity:   ParseSeverity(resp.Severity),
	}
	if resp.Flagged != nil {
		c.Flagged = *resp.Flagged
	}
	if resp.Confidence != nil {
		c.Confidence = *resp.Confidence
	}
	return c, nil
}
