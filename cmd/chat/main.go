// Command chat is a terminal client for the chat relay.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	relayURL    string
	agentType   string
	sessionID   string
	orgID       string
	userID      string
	orgRole     string
	orgPlan     string
	idleTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with a relay agent from the terminal",
	Long: `Start an interactive conversation with one of the relay's agents.

Each line you type is sent with the full conversation history and the reply
is printed as it streams in. Press Ctrl+C while a reply streams to stop it.

Commands:
  /history  print the transcript
  /exit     quit`,
	SilenceUsage: true,
	RunE:         runChat,
}

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List the agents offered by the relay",
	RunE:  runAgents,
}

func init() {
	defaultURL := os.Getenv("RELAY_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8080"
	}

	rootCmd.PersistentFlags().StringVar(&relayURL, "url", defaultURL, "relay base URL (env RELAY_URL)")
	rootCmd.Flags().StringVarP(&agentType, "agent", "a", "support", "agent type: secretary, support, social, lecturer")
	rootCmd.Flags().StringVar(&sessionID, "session", "", "session id sent as X-Session-ID")
	rootCmd.Flags().StringVar(&orgID, "org", "", "organization id")
	rootCmd.Flags().StringVar(&userID, "user", "", "user id")
	rootCmd.Flags().StringVar(&orgRole, "role", "", "organization role")
	rootCmd.Flags().StringVar(&orgPlan, "plan", "", "organization plan")
	rootCmd.Flags().DurationVar(&idleTimeout, "idle-timeout", 60*time.Second, "give up when a reply stalls this long")

	rootCmd.AddCommand(agentsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
