package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cbriice/claude-swarm-sub001/internal/checkpoint"
	"github.com/cbriice/claude-swarm-sub001/internal/store"
)

var (
	statusJSON     bool
	statusWatch    bool
	statusInterval time.Duration
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active session's status",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON")
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "refresh periodically")
	statusCmd.Flags().DurationVar(&statusInterval, "interval", 2*time.Second, "watch interval")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	cpMgr, err := checkpoint.NewManager(db, cfg.Checkpoint)
	if err != nil {
		return err
	}

	if !statusWatch {
		return displayStatus(db, cpMgr)
	}

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	fmt.Print("\033[H\033[2J")
	for {
		fmt.Print("\033[H")
		if err := displayStatus(db, cpMgr); err != nil {
			return err
		}
		fmt.Printf("\n[refreshing every %s, Ctrl+C to stop]\n", statusInterval)
		<-ticker.C
	}
}

// sessionStatus is the combined view printed by the status command.
type sessionStatus struct {
	Session    *store.SessionRecord `json:"session"`
	Checkpoint *checkpoint.Snapshot `json:"checkpoint,omitempty"`
	Errors     []store.ErrorRecord  `json:"errors,omitempty"`
}

func displayStatus(db *store.Store, cpMgr *checkpoint.Manager) error {
	rec, err := db.ActiveSession()
	if err != nil {
		return err
	}
	if rec == nil {
		// Fall back to the most recent finished session.
		sessions, err := db.ListSessions(1)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("No sessions. Run 'swarm start <workflow> <goal>' to begin.")
			return nil
		}
		rec = &sessions[0]
	}

	snap, _, err := cpMgr.Load(rec.ID)
	if err != nil {
		snap = nil
	}
	errs, _ := db.ListErrors(rec.ID, 10)

	if statusJSON {
		return json.NewEncoder(os.Stdout).Encode(sessionStatus{Session: rec, Checkpoint: snap, Errors: errs})
	}

	fmt.Printf("Session:  %s\n", rec.ID)
	fmt.Printf("Workflow: %s\n", rec.Workflow)
	fmt.Printf("Goal:     %s\n", rec.Goal)
	fmt.Printf("Status:   %s\n", rec.Status)
	fmt.Printf("Started:  %s\n", rec.StartedAt.Format(time.RFC3339))
	if rec.CompletedAt != nil {
		fmt.Printf("Finished: %s\n", rec.CompletedAt.Format(time.RFC3339))
	}
	if rec.Result != "" {
		fmt.Printf("\n%s\n", rec.Result)
	}

	if snap != nil {
		fmt.Printf("\nStages: %d complete, %d pending\n", len(snap.CompletedStages), len(snap.PendingStages))
		for _, stage := range snap.CompletedStages {
			fmt.Printf("  [x] %s (%s)\n", stage, snap.StageRoles[stage])
		}
		for _, stage := range snap.PendingStages {
			fmt.Printf("  [ ] %s (%s)\n", stage, snap.StageRoles[stage])
		}
		if len(snap.AgentStates) > 0 {
			fmt.Println("\nWorkers:")
			for role, st := range snap.AgentStates {
				fmt.Printf("  %-12s %-10s restarts=%d last active %s\n",
					role, st.Status, st.Restarts, st.LastActive.Format("15:04:05"))
			}
		}
	}

	if len(errs) > 0 {
		fmt.Println("\nRecent errors:")
		for _, e := range errs {
			mark := " "
			if e.Recovered {
				mark = "recovered"
			}
			fmt.Printf("  %s %s role=%s %s\n", e.CreatedAt.Format("15:04:05"), e.Code, e.AgentRole, mark)
		}
	}
	return nil
}
