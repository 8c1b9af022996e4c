package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	messagesLimit int
	logsLimit     int
)

var messagesCmd = &cobra.Command{
	Use:   "messages [role]",
	Short: "List the active session's messages",
	Long:  "List archived messages for the active session, optionally filtered to one role's traffic.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runMessages,
}

var logsCmd = &cobra.Command{
	Use:   "logs <role>",
	Short: "Show a role's full message log",
	Long:  "Print every message the role sent or received, bodies included, in chronological order.",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogs,
}

func init() {
	rootCmd.AddCommand(messagesCmd)
	rootCmd.AddCommand(logsCmd)
	messagesCmd.Flags().IntVar(&messagesLimit, "limit", 50, "maximum messages to list")
	logsCmd.Flags().IntVar(&logsLimit, "limit", 100, "maximum messages to show")
}

func runMessages(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	rec, err := activeOrLatestSession(db)
	if err != nil {
		return err
	}

	role := ""
	if len(args) > 0 {
		role = args[0]
	}
	messages, err := db.GetMessages(rec.ID, role, messagesLimit)
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		fmt.Println("No messages.")
		return nil
	}

	for _, m := range messages {
		fmt.Printf("%s  %-10s %-10s -> %-10s  %s\n",
			m.CreatedAt.Format("15:04:05"), m.Type, m.Sender, m.Recipient, m.Subject)
	}
	return nil
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	rec, err := activeOrLatestSession(db)
	if err != nil {
		return err
	}

	messages, err := db.GetMessages(rec.ID, args[0], logsLimit)
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		fmt.Printf("No messages for role %s.\n", args[0])
		return nil
	}

	for _, m := range messages {
		fmt.Printf("--- %s  %s  %s -> %s\n", m.CreatedAt.Format("2006-01-02 15:04:05"), m.Type, m.Sender, m.Recipient)
		if m.Subject != "" {
			fmt.Printf("    %s\n", m.Subject)
		}
		if m.Body != "" {
			fmt.Println(m.Body)
		}
		fmt.Println()
	}
	return nil
}
