package admission

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"meshmeet/internal/domain"
)

// HTTPVerifier checks the meeting password against the relay's HTTP
// endpoint. The relay compares hashes server-side; the password itself
// travels once, over the authenticated channel.
type HTTPVerifier struct {
	BaseURL string
	Client  *http.Client
}

type passwordCheck struct {
	MeetingID string `json:"meetingId"`
	Password  string `json:"password"`
}

type passwordCheckResult struct {
	Success bool `json:"success"`
}

func (v *HTTPVerifier) Verify(ctx context.Context, meetingID domain.MeetingID, password string) (bool, error) {
	client := v.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	body, err := json.Marshal(passwordCheck{MeetingID: string(meetingID), Password: password})
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.BaseURL+"/api/meeting/password", bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("password check: unexpected status %d", resp.StatusCode)
	}

	var result passwordCheckResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, err
	}
	return result.Success, nil
}
