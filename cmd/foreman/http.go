package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// argPairs collects repeated --arg key=value flags into a map. Integer
// values are converted so handlers receive numbers, not strings.
type argPairs struct {
	pairs map[string]any
}

func (a *argPairs) String() string {
	if len(a.pairs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(a.pairs))
	for k, v := range a.pairs {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return strings.Join(parts, ",")
}

func (a *argPairs) Set(value string) error {
	key, val, found := strings.Cut(value, "=")
	if !found || key == "" {
		return fmt.Errorf("expected key=value, got %q", value)
	}
	if a.pairs == nil {
		a.pairs = make(map[string]any)
	}
	if n, err := strconv.Atoi(val); err == nil {
		a.pairs[key] = n
	} else {
		a.pairs[key] = val
	}
	return nil
}

func apiGet(url, apiKey string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return doAPIRequest(req, apiKey)
}

func apiPost(url, apiKey string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return doAPIRequest(req, apiKey)
}

func doAPIRequest(req *http.Request, apiKey string) ([]byte, error) {
	req.Header.Set("Authorization", "Bearer "+apiKey)

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return body, nil
}
