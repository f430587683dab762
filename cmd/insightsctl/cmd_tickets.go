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

// ticketQuestion holds the --question flag for ticket creation.
var ticketQuestion string

var ticketsCmd = &cobra.Command{
	Use:   "tickets",
	Short: "List filed support tickets",
	Run:   runListTicketsCommand,
}

var ticketsCreateCmd = &cobra.Command{
	Use:   "create <issue description>",
	Short: "File a support ticket directly",
	Args:  cobra.MinimumNArgs(1),
	Run:   runCreateTicketCommand,
}

func init() {
	ticketsCreateCmd.Flags().StringVar(&ticketQuestion, "question", "", "The user question that led to this ticket")
	ticketsCmd.AddCommand(ticketsCreateCmd)
}

type ticketView struct {
	ID        string `json:"ticket_id"`
	CreatedAt string `json:"created_at"`
	Issue     string `json:"issue_description"`
	Question  string `json:"user_question,omitempty"`
}

func runListTicketsCommand(_ *cobra.Command, _ []string) {
	var resp struct {
		Tickets []ticketView `json:"tickets"`
		Count   int          `json:"count"`
	}
	if err := getJSON("/v1/insights/tickets", &resp); err != nil {
		log.Fatalf("Error: %v", err)
	}

	if resp.Count == 0 {
		fmt.Println("No tickets filed.")
		return
	}
	for _, t := range resp.Tickets {
		fmt.Printf("%s  %s\n", t.ID, t.CreatedAt)
		fmt.Printf("  issue: %s\n", t.Issue)
		if t.Question != "" {
			fmt.Printf("  question: %s\n", t.Question)
		}
	}
	fmt.Printf("\n%d ticket(s)\n", resp.Count)
}

func runCreateTicketCommand(_ *cobra.Command, args []string) {
	issue := strings.Join(args, " ")

	payload, err := json.Marshal(map[string]string{
		"issue_description": issue,
		"user_question":     ticketQuestion,
	})
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post(
		getServerBaseURL()+"/v1/insights/tickets",
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
	if resp.StatusCode != http.StatusCreated {
		log.Fatalf("Server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var created ticketView
	if err := json.Unmarshal(body, &created); err != nil {
		log.Fatalf("Error decoding response: %v", err)
	}
	fmt.Printf("Created %s\n", created.ID)
}
