package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage transcription sessions",
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a transcription session",
	Long:  `Create a session and print its descriptor as JSON. The session_id is used to open a stream, the task_id to close the session.`,
	Run:   runSessionCreate,
}

var sessionCloseCmd = &cobra.Command{
	Use:   "close <taskID>",
	Short: "Close a transcription session",
	Args:  cobra.ExactArgs(1),
	Run:   runSessionClose,
}

func init() {
	sessionCloseCmd.Flags().Uint64("timeout", 0, "Close timeout in seconds (0 uses the client default)")

	sessionCmd.AddCommand(sessionCreateCmd)
	sessionCmd.AddCommand(sessionCloseCmd)
}

func runSessionCreate(cmd *cobra.Command, args []string) {
	client := newClient()

	session, err := client.CreateSession(context.Background(), credential(), model())
	if err != nil {
		logger.Fatal("Failed to create session", "error", err)
	}
	printJSON(session)
}

func runSessionClose(cmd *cobra.Command, args []string) {
	client := newClient()
	timeout, _ := cmd.Flags().GetUint64("timeout")

	result, err := client.CloseSession(context.Background(), args[0], credential(), timeout)
	if err != nil {
		logger.Fatal("Failed to close session", "task", args[0], "error", err)
	}
	printJSON(result)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		logger.Fatal("Failed to encode output", "error", err)
	}
}
