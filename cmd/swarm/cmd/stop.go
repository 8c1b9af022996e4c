package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cbriice/claude-swarm-sub001/internal/eventbus"
	"github.com/cbriice/claude-swarm-sub001/internal/session"
)

var killAll bool

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the active session gracefully",
	Long:  "Ask the running coordinator to interrupt its workers, wait out the grace period and shut the session down.",
	RunE:  runStop,
}

var killCmd = &cobra.Command{
	Use:   "kill",
	Short: "Terminate the active session immediately",
	RunE:  runKill,
}

func init() {
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(killCmd)
	killCmd.Flags().BoolVar(&killAll, "all", false, "also mark every lingering non-terminal session cancelled")
}

func runStop(cmd *cobra.Command, args []string) error {
	return sendControl("stop")
}

func runKill(cmd *cobra.Command, args []string) error {
	if err := sendControl("kill"); err != nil {
		return err
	}
	if !killAll {
		return nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// Sweep sessions orphaned by dead coordinators.
	sessions, err := db.ListSessions(50)
	if err != nil {
		return err
	}
	for _, rec := range sessions {
		if session.Status(rec.Status).Terminal() {
			continue
		}
		if err := db.UpdateSessionStatus(rec.ID, string(session.StatusCancelled)); err != nil {
			return err
		}
		fmt.Printf("marked session %s cancelled\n", rec.ID)
	}
	return nil
}

// sendControl publishes a control command to the running coordinator over
// the event bus.
func sendControl(command string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	rec, err := activeSession(db)
	db.Close()
	if err != nil {
		return err
	}

	client, err := eventbus.NewClientFromURL(eventsURL(cfg))
	if err != nil {
		return fmt.Errorf("connect to coordinator: %w (is a session running?)", err)
	}
	defer client.Close()

	if err := client.Publish(eventbus.TopicSessionControl(rec.ID), session.ControlCommand{Command: command}); err != nil {
		return fmt.Errorf("send %s: %w", command, err)
	}
	if err := client.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	fmt.Printf("%s requested for session %s\n", command, rec.ID)
	return nil
}
