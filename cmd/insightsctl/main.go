// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command insightsctl is the terminal client for the insights server.
//
// Usage:
//
//	insightsctl ask "How many patients over 65 have diabetes?"
//	insightsctl schema
//	insightsctl stats
//	insightsctl tickets
//	insightsctl tickets create "needs human help" --question "original question"
//
// The server address comes from --server or INSIGHTS_SERVER_URL, defaulting
// to http://localhost:8085.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var serverURL string

var rootCmd = &cobra.Command{
	Use:   "insightsctl",
	Short: "Terminal client for the insights health-data assistant",
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Show the live database schema as the assistant sees it",
	Run:   runSchemaCommand,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the aggregate database overview",
	Run:   runStatsCommand,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Insights server base URL (default $INSIGHTS_SERVER_URL or http://localhost:8085)")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(ticketsCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// getServerBaseURL resolves the server address from flag, environment, or
// the default in that order.
func getServerBaseURL() string {
	if serverURL != "" {
		return strings.TrimRight(serverURL, "/")
	}
	if env := os.Getenv("INSIGHTS_SERVER_URL"); env != "" {
		return strings.TrimRight(env, "/")
	}
	return "http://localhost:8085"
}

// getJSON fetches path from the server and decodes the response into out.
func getJSON(path string, out any) error {
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get(getServerBaseURL() + path)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.Unmarshal(body, out)
}

func runSchemaCommand(_ *cobra.Command, _ []string) {
	var resp struct {
		Rendered string `json:"rendered"`
	}
	if err := getJSON("/v1/insights/schema", &resp); err != nil {
		log.Fatalf("Error: %v", err)
	}
	fmt.Println(resp.Rendered)
}

func runStatsCommand(_ *cobra.Command, _ []string) {
	stats := make(map[string]any)
	if err := getJSON("/v1/insights/statistics", &stats); err != nil {
		log.Fatalf("Error: %v", err)
	}

	pretty, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	fmt.Println(string(pretty))
}
