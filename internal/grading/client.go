// Package grading is the HTTP client for the remote grading collaborator.
// Scoring happens entirely on that side; this client submits payloads,
// fetches submission history, and classifies failures by the stable machine
// code every error response carries.
package grading

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"quiz-attempt-service/internal/domain"
)

// Client talks to the grading service.
type Client struct {
	base   string
	userHd string
	http   *http.Client
}

// NewClient builds a client for the grading service at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base:   baseURL,
		userHd: "X-User-ID",
		http:   &http.Client{Timeout: timeout},
	}
}

// errorBody is the structured error envelope of the grading service.
// Messages are localized display text and are never inspected; only the code
// is meaningful to this client.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SubmitAttempt posts the attempt payload and returns the graded submission.
func (c *Client) SubmitAttempt(ctx context.Context, quizID, userID string, payload domain.SubmitPayload) (domain.Submission, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.Submission{}, fmt.Errorf("marshal payload: %w", err)
	}
	endpoint := fmt.Sprintf("%s/quizzes/%s/submissions", c.base, url.PathEscape(quizID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.Submission{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(c.userHd, userID)

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Submission{}, &domain.GradingError{Kind: domain.KindNetwork, Message: "submit request failed", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.Submission{}, classify(resp)
	}

	var submission domain.Submission
	if err := json.NewDecoder(resp.Body).Decode(&submission); err != nil {
		return domain.Submission{}, &domain.GradingError{Kind: domain.KindNetwork, Message: "malformed submission response", Cause: err}
	}
	return submission, nil
}

// SubmissionHistory fetches all prior submissions for (user, quiz).
func (c *Client) SubmissionHistory(ctx context.Context, quizID, userID string) (domain.AttemptHistory, error) {
	endpoint := fmt.Sprintf("%s/quizzes/%s/submission-history", c.base, url.PathEscape(quizID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.AttemptHistory{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set(c.userHd, userID)

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.AttemptHistory{}, &domain.GradingError{Kind: domain.KindNetwork, Message: "history request failed", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.AttemptHistory{}, classify(resp)
	}

	var history domain.AttemptHistory
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		return domain.AttemptHistory{}, &domain.GradingError{Kind: domain.KindNetwork, Message: "malformed history response", Cause: err}
	}
	return history, nil
}

// classify maps a non-2xx response to an ErrorKind via its machine code.
func classify(resp *http.Response) error {
	var body errorBody
	_ = json.NewDecoder(resp.Body).Decode(&body)

	kind := domain.KindNetwork
	switch body.Code {
	case string(domain.KindAlreadySubmitted):
		kind = domain.KindAlreadySubmitted
	case string(domain.KindQuizExpired):
		kind = domain.KindQuizExpired
	case string(domain.KindValidation):
		kind = domain.KindValidation
	default:
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			kind = domain.KindValidation
		}
	}
	return &domain.GradingError{Kind: kind, Message: body.Message}
}
