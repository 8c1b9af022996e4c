package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/cbriice/claude-swarm-sub001/internal/eventbus"
)

var attachCmd = &cobra.Command{
	Use:   "attach [role]",
	Short: "Stream the active session's events",
	Long:  "Attach to the running coordinator's telemetry stream and print events as they happen. With a role argument, only that role's events are shown.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAttach,
}

func init() {
	rootCmd.AddCommand(attachCmd)
}

func runAttach(cmd *cobra.Command, args []string) error {
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

	topic := eventbus.TopicSessionEvents(rec.ID)
	if len(args) > 0 {
		topic = eventbus.TopicSessionRole(rec.ID, args[0])
		fmt.Printf("attached to session %s (%s), role %s, Ctrl+C to detach\n", rec.ID, rec.Workflow, args[0])
	} else {
		fmt.Printf("attached to session %s (%s), Ctrl+C to detach\n", rec.ID, rec.Workflow)
	}

	_, err = client.Subscribe(topic, func(msg *nats.Msg) {
		var event eventbus.Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			return
		}
		line := fmt.Sprintf("%s  %-18s", event.Timestamp, event.Type)
		if len(event.Data) > 0 {
			if data, err := json.Marshal(event.Data); err == nil {
				line += "  " + string(data)
			}
		}
		fmt.Println(line)
	})
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	return nil
}
