// Package models contains the wire types exchanged with the crawl service
package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CrawlStatus represents the lifecycle state of a crawl task
type CrawlStatus string

// Crawl status constants
const (
	// CrawlStatusPending indicates the task was registered but never crawled
	CrawlStatusPending CrawlStatus = "pending"
	// CrawlStatusInProgress indicates a crawl is running for the task
	CrawlStatusInProgress CrawlStatus = "in_progress"
	// CrawlStatusSuccess indicates the last crawl finished successfully
	CrawlStatusSuccess CrawlStatus = "success"
	// CrawlStatusFailed indicates the last crawl failed or was stopped
	CrawlStatusFailed CrawlStatus = "failed"
)

// String returns the string representation of the crawl status
func (s CrawlStatus) String() string {
	return string(s)
}

// IsTerminal reports whether the status ends a crawl execution
func (s CrawlStatus) IsTerminal() bool {
	return s == CrawlStatusSuccess || s == CrawlStatusFailed
}

// ParseCrawlStatus converts a string to a CrawlStatus type
func ParseCrawlStatus(str string) (CrawlStatus, error) {
	switch str {
	case string(CrawlStatusPending):
		return CrawlStatusPending, nil
	case string(CrawlStatusInProgress):
		return CrawlStatusInProgress, nil
	case string(CrawlStatusSuccess):
		return CrawlStatusSuccess, nil
	case string(CrawlStatusFailed):
		return CrawlStatusFailed, nil
	default:
		return "", fmt.Errorf("invalid crawl status: %s", str)
	}
}

// Known reports whether the status is one of the four lifecycle states
func (s CrawlStatus) Known() bool {
	_, err := ParseCrawlStatus(string(s))
	return err == nil
}

// UnmarshalJSON implements json.Unmarshaler for CrawlStatus. The crawl service
// owns the status, so values outside the lifecycle are kept as sent and null
// decodes to the empty status.
func (s *CrawlStatus) UnmarshalJSON(data []byte) error {
	var str *string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	if str == nil {
		*s = ""
		return nil
	}
	*s = CrawlStatus(*str)
	return nil
}

// CrawlTask is a crawl job as known to the crawl service. The analysis
// fields stay nil until the first successful crawl.
type CrawlTask struct {
	ID            int64       `json:"id"`
	URL           string      `json:"url"`
	Status        CrawlStatus `json:"status"`
	HTMLVersion   *string     `json:"html_version"`
	PageTitle     *string     `json:"page_title"`
	H1Count       *int        `json:"h1_count"`
	H2Count       *int        `json:"h2_count"`
	H3Count       *int        `json:"h3_count"`
	InternalLinks *int        `json:"internal_links"`
	ExternalLinks *int        `json:"external_links"`
	BrokenLinks   *int        `json:"broken_links"`
	HasLoginForm  *bool       `json:"has_login_form"`
	CreatedAt     string      `json:"created_at,omitempty"`
}

// Title returns the page title or an empty string when the task was never crawled
func (t CrawlTask) Title() string {
	if t.PageTitle == nil {
		return ""
	}
	return *t.PageTitle
}

// Matches reports whether the task title or URL contains query, ignoring case.
// An empty query matches every task.
func (t CrawlTask) Matches(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(t.Title()), q) ||
		strings.Contains(strings.ToLower(t.URL), q)
}

// BrokenLink is a link found during a crawl that answered with an error status
type BrokenLink struct {
	ID          int64  `json:"id,omitempty"`
	CrawlTaskID int64  `json:"crawl_task_id,omitempty"`
	URL         string `json:"url"`
	StatusCode  int    `json:"status_code"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// CreateCrawlTaskRequest is the body of a create call
type CreateCrawlTaskRequest struct {
	URL string `json:"url"`
}

// UpdateStatusRequest is the body of a status update call
type UpdateStatusRequest struct {
	Status CrawlStatus `json:"status"`
}

// APIKeyResponse is returned by the credential endpoint
type APIKeyResponse struct {
	APIKey string `json:"api_key"`
}

// MessageResponse is the generic acknowledgement body
type MessageResponse struct {
	Message string `json:"message"`
}

// CrawlResponse is returned once a crawl call completes
type CrawlResponse struct {
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}
