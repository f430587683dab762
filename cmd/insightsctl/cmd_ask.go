// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// showTrace holds the --trace flag for the ask command.
var showTrace bool

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the assistant a question about the health data",
	Args:  cobra.MinimumNArgs(1),
	Run:   runAskCommand,
}

func init() {
	askCmd.Flags().BoolVar(&showTrace, "trace", false, "Show which tools the assistant executed")
}

type askRequest struct {
	Question string `json:"question"`
}

type askTraceEntry struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Result    json.RawMessage `json:"result"`
	Err       bool            `json:"error,omitempty"`
}

type askResponse struct {
	RequestID string          `json:"request_id"`
	Answer    string          `json:"answer"`
	Trace     []askTraceEntry `json:"executed_tools"`
	Failed    bool            `json:"failed"`
}

func runAskCommand(_ *cobra.Command, args []string) {
	question := strings.Join(args, " ")
	fmt.Printf("Asking: %s\n", question)
	fmt.Println("---")

	payload, err := json.Marshal(askRequest{Question: question})
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Post(
		getServerBaseURL()+"/v1/insights/ask",
		"application/json",
		bytes.NewReader(payload),
	)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("Error reading response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("Server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var answer askResponse
	if err := json.Unmarshal(body, &answer); err != nil {
		log.Fatalf("Error decoding response: %v", err)
	}

	if showTrace && len(answer.Trace) > 0 {
		fmt.Println("Tools executed:")
		for i, entry := range answer.Trace {
			status := "ok"
			if entry.Err {
				status = "error"
			}
			fmt.Printf("%d. %s [%s]\n", i+1, entry.Name, status)
			fmt.Printf("   args: %s\n", string(entry.Arguments))
		}
		fmt.Println("---")
	}

	fmt.Printf("\nAnswer:\n%s\n", answer.Answer)
	if answer.Failed {
		fmt.Println("\n(The assistant could not complete this turn.)")
	}
}
