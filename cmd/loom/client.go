package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/loomwork/loom/internal/board"
	"github.com/loomwork/loom/internal/resilience"
)

// apiClient reads the admin HTTP surface exposed by loomd. The dashboard
// never mutates state: it only ever issues GETs.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{baseURL: baseURL, http: &http.Client{Timeout: 5 * time.Second}}
}

type boardSummary struct {
	Counts map[board.Status]int `json:"counts"`
	Tasks  []*board.Task        `json:"tasks"`
}

type agentInfo struct {
	AgentID       string   `json:"agent_id"`
	Role          string   `json:"role"`
	Provider      string   `json:"provider"`
	Model         string   `json:"model"`
	AlwaysOn      bool     `json:"always_on"`
	MinReputation int      `json:"min_reputation"`
	Skills        []string `json:"skills,omitempty"`
	ActiveTasks   int      `json:"active_tasks"`
}

func (c *apiClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) Board(ctx context.Context) (boardSummary, error) {
	var s boardSummary
	err := c.get(ctx, "/board", &s)
	return s, err
}

func (c *apiClient) Agents(ctx context.Context) ([]agentInfo, error) {
	var a []agentInfo
	err := c.get(ctx, "/agents", &a)
	return a, err
}

func (c *apiClient) Usage(ctx context.Context) (resilience.Summary, error) {
	var u resilience.Summary
	err := c.get(ctx, "/usage", &u)
	return u, err
}
