package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/evs-hal/displayd/internal/config"
)

func checkStatus() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	client := &http.Client{Timeout: 3 * time.Second}

	resp, err := client.Get("http://" + cfg.ListenAddr + "/healthz")
	if err != nil {
		fmt.Println("Status: not running")
		return nil
	}
	defer resp.Body.Close()

	var healthz struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&healthz); err != nil {
		return fmt.Errorf("decode health response: %w", err)
	}

	fmt.Printf("Status: %s\n", healthz.Status)
	for name, status := range healthz.Components {
		fmt.Printf("  %s: %s\n", name, status)
	}

	dresp, err := client.Get("http://" + cfg.ListenAddr + "/v1/display")
	if err != nil {
		return nil
	}
	defer dresp.Body.Close()

	if dresp.StatusCode == http.StatusNotFound {
		fmt.Println("Display: not open")
		return nil
	}

	var info struct {
		State string `json:"state"`
		Mode  struct {
			Width  int `json:"width"`
			Height int `json:"height"`
		} `json:"mode"`
	}
	if err := json.NewDecoder(dresp.Body).Decode(&info); err != nil {
		return fmt.Errorf("decode display response: %w", err)
	}
	fmt.Printf("Display: %s (%dx%d)\n", info.State, info.Mode.Width, info.Mode.Height)
	return nil
}
