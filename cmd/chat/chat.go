package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kilonzo683/smartwebai-sub002/internal/conversation"
	"github.com/kilonzo683/smartwebai-sub002/internal/domain"
)

var (
	boldGreen = color.New(color.FgGreen, color.Bold).SprintFunc()
	boldCyan  = color.New(color.FgCyan, color.Bold).SprintFunc()
	red       = color.New(color.FgRed).SprintFunc()
	faint     = color.New(color.Faint).SprintFunc()
)

func runChat(cmd *cobra.Command, args []string) error {
	if _, ok := domain.ParseAgentType(agentType); !ok {
		fmt.Println(faint(fmt.Sprintf("unknown agent %q, the relay will use its default prompt", agentType)))
	}

	opener := conversation.NewHTTPOpener(relayURL)
	setHeader(opener.Header, domain.HeaderSessionID, sessionID)
	setHeader(opener.Header, domain.HeaderOrgID, orgID)
	setHeader(opener.Header, domain.HeaderUserID, userID)
	setHeader(opener.Header, domain.HeaderOrgRole, orgRole)
	setHeader(opener.Header, domain.HeaderOrgPlan, orgPlan)

	session := conversation.NewSession(opener, agentType,
		conversation.WithIdleTimeout(idleTimeout),
		conversation.WithOnDelta(func(text string) { fmt.Print(text) }),
		conversation.WithOnError(func(err *domain.RelayError) {
			fmt.Println()
			fmt.Println(red("Error: " + err.ClientMessage()))
		}),
	)
	defer session.Close()

	fmt.Println(boldGreen("Relay chat"))
	fmt.Printf("Agent: %s  Relay: %s\n", boldCyan(session.AgentType()), relayURL)
	fmt.Println("Type your message and press Enter. Type /exit or press Ctrl+D to quit.")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(boldGreen("You: "))
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())

		switch input {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/history":
			printHistory(session.Transcript())
			continue
		}

		fmt.Print(boldCyan("Assistant: "))
		if err := submit(cmd.Context(), session, input); err != nil && !isReported(err) {
			fmt.Println(red("Error: " + err.Error()))
		}
		fmt.Println()
	}
}

// submit streams one reply. Ctrl+C stops the reply, not the program.
func submit(parent context.Context, session *conversation.Session, input string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt)
	defer stop()

	_, err := session.Submit(ctx, input)
	if err == nil {
		fmt.Println()
	}
	return err
}

// isReported tells whether the session's error hook already printed err.
func isReported(err error) bool {
	var re *domain.RelayError
	return errors.As(err, &re)
}

func printHistory(messages []domain.Message) {
	if len(messages) == 0 {
		fmt.Println(faint("(empty)"))
		return
	}
	for _, m := range messages {
		label := boldGreen("You")
		if m.Role == domain.RoleAssistant {
			label = boldCyan("Assistant")
		}
		fmt.Printf("%s %s: %s\n", faint(m.Timestamp.Format(time.Kitchen)), label, m.Content)
	}
}

func setHeader(h http.Header, key, value string) {
	if value != "" {
		h.Set(key, value)
	}
}

func runAgents(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(relayURL, "/")+"/v1/agents", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach relay: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("relay returned %s", resp.Status)
	}

	var body struct {
		Agents []struct {
			AgentType    string `json:"agent_type"`
			SystemPrompt string `json:"system_prompt"`
		} `json:"agents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("failed to decode agents: %w", err)
	}

	for _, a := range body.Agents {
		fmt.Printf("%s\n  %s\n", boldCyan(a.AgentType), faint(a.SystemPrompt))
	}
	return nil
}
