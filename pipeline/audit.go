package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrAuditUnavailable signals that no audit backend is configured.
var ErrAuditUnavailable = errors.New("audit backend unavailable")

// maxAuditPages caps how many pages one audit crawls.
const maxAuditPages = 15

// AuditPage is the per-page result of a site crawl.
type AuditPage struct {
	URL                   string   `json:"url"`
	Title                 string   `json:"title"`
	TitleLength           int      `json:"title_length"`
	MetaDescription       string   `json:"meta_description"`
	MetaDescriptionLength int      `json:"meta_description_length"`
	H1Count               int      `json:"h1_count"`
	H2Count               int      `json:"h2_count"`
	WordCount             int      `json:"word_count"`
	TotalImages           int      `json:"total_images"`
	ImagesMissingAlt      int      `json:"images_missing_alt"`
	InternalLinks         int      `json:"internal_links"`
	ExternalLinks         int      `json:"external_links"`
	HasSchema             bool     `json:"has_schema"`
	Canonical             string   `json:"canonical"`
	OGImage               string   `json:"og_image"`
	Issues                []string `json:"issues"`
}

// AuditRecommendations carries the audit service's own prose analysis.
type AuditRecommendations struct {
	Analysis string `json:"analysis"`
}

// AuditResult is the full output of one site audit.
type AuditResult struct {
	AuditID         string               `json:"audit_id"`
	Domain          string               `json:"domain"`
	PagesAudited    int                  `json:"pages_audited"`
	Pages           []AuditPage          `json:"pages"`
	Recommendations AuditRecommendations `json:"recommendations"`
	Error           string               `json:"error"`
}

// Auditor runs an SEO crawl of a domain.
type Auditor interface {
	RunAudit(ctx context.Context, domain string, maxPages int) (AuditResult, error)
}

// HTTPAuditClient calls a JSON HTTP endpoint that performs the crawl.
type HTTPAuditClient struct {
	Endpoint   string
	Token      string
	HTTPClient *http.Client
}

func (c *HTTPAuditClient) RunAudit(ctx context.Context, domain string, maxPages int) (AuditResult, error) {
	endpoint := strings.TrimSpace(c.Endpoint)
	if endpoint == "" {
		return AuditResult{}, ErrAuditUnavailable
	}

	payload := map[string]any{
		"domain":    domain,
		"max_pages": maxPages,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return AuditResult{}, err
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return AuditResult{}, err
	}
	request.Header.Set("Content-Type", "application/json")
	if token := strings.TrimSpace(c.Token); token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := httpClient.Do(request)
	if err != nil {
		return AuditResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return AuditResult{}, fmt.Errorf("audit endpoint status %d", resp.StatusCode)
	}

	var decoded AuditResult
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return AuditResult{}, err
	}
	if decoded.Error != "" {
		return AuditResult{}, fmt.Errorf("audit failed: %s", decoded.Error)
	}
	return decoded, nil
}
