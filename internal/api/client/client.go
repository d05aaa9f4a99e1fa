package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/threateye/internal/models"
)

type APIClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func New(baseURL, token string) *APIClient {
	return &APIClient{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *APIClient) doRequest(method, path string, body interface{}) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(data))
	}
	return data, nil
}

func (c *APIClient) Login(username, password string) (string, error) {
	data, err := c.doRequest(http.MethodPost, "/api/v1/auth/login", map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return "", err
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", err
	}
	c.token = resp.Token
	return resp.Token, nil
}

func (c *APIClient) ListAlerts(status string) ([]models.AlertEvent, error) {
	path := "/api/v1/alerts"
	if status != "" {
		path += "?status=" + status
	}
	data, err := c.doRequest(http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var events []models.AlertEvent
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (c *APIClient) ListEscalations(status string) ([]models.Escalation, error) {
	path := "/api/v1/escalations"
	if status != "" {
		path += "?status=" + status
	}
	data, err := c.doRequest(http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var escalations []models.Escalation
	if err := json.Unmarshal(data, &escalations); err != nil {
		return nil, err
	}
	return escalations, nil
}

func (c *APIClient) AcknowledgeEscalation(id uint) error {
	_, err := c.doRequest(http.MethodPut, fmt.Sprintf("/api/v1/escalations/%d/acknowledge", id), struct{}{})
	return err
}

func (c *APIClient) ResolveEscalation(id uint, notes string) error {
	_, err := c.doRequest(http.MethodPut, fmt.Sprintf("/api/v1/escalations/%d/resolve", id),
		map[string]string{"notes": notes})
	return err
}
