package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/cbriice/claude-swarm-sub001/internal/session"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past sessions",
	RunE:  runHistory,
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete finished sessions and their data",
	Long:  "Remove terminal sessions from the store along with their queue files and workspaces. The active session is never touched.",
	RunE:  runClean,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("swarm %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(versionCmd)
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum sessions to list")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	sessions, err := db.ListSessions(historyLimit)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions.")
		return nil
	}

	for _, rec := range sessions {
		finished := "-"
		if rec.CompletedAt != nil {
			finished = rec.CompletedAt.Format(time.RFC3339)
		}
		fmt.Printf("%s  %-10s %-10s started %s  finished %s\n      %s\n",
			rec.ID, rec.Workflow, rec.Status, rec.StartedAt.Format(time.RFC3339), finished, rec.Goal)
	}
	return nil
}

func runClean(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	sessions, err := db.ListSessions(0)
	if err != nil {
		return err
	}

	removed := 0
	for _, rec := range sessions {
		if !session.Status(rec.Status).Terminal() {
			continue
		}
		if err := db.DeleteSession(rec.ID); err != nil {
			return err
		}
		for _, dir := range []string{
			filepath.Join(cfg.Bus.BasePath, rec.ID),
			filepath.Join(cfg.Worker.Workspaces, rec.ID),
		} {
			if err := os.RemoveAll(dir); err != nil {
				fmt.Fprintf(os.Stderr, "warning: remove %s: %v\n", dir, err)
			}
		}
		removed++
	}

	fmt.Printf("removed %d finished session(s)\n", removed)
	return nil
}
