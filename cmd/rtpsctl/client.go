package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

func fetchJSON(adminAddr, path string, out interface{}) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s%s", adminAddr, path))
	if err != nil {
		return fmt.Errorf("rtpsctl: requesting %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rtpsctl: %s returned %s", path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("rtpsctl: decoding %s response: %w", path, err)
	}
	return nil
}
