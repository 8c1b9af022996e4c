package eventbus

import (
	"fmt"
	"os"
	"time"

	"github.com/cbriice/claude-swarm-sub001/internal/config"
	natsserver "github.com/nats-io/nats-server/v2/server"
)

// Bus runs an embedded NATS server used purely for observability events:
// stage transitions, errors and degradation changes. Workflow messages
// never travel over it; the file bus stays the delivery path.
type Bus struct {
	server *natsserver.Server
	cfg    config.EventsConfig
}

func New(cfg config.EventsConfig) (*Bus, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create nats data dir: %w", err)
	}

	opts := &natsserver.Options{
		Port:     cfg.Port,
		NoLog:    true,
		NoSigs:   true,
		StoreDir: cfg.DataDir,
	}

	ns, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		return nil, fmt.Errorf("nats server not ready")
	}

	return &Bus{server: ns, cfg: cfg}, nil
}

func (b *Bus) ClientURL() string {
	return b.server.ClientURL()
}

func (b *Bus) Close() {
	b.server.Shutdown()
	b.server.WaitForShutdown()
}
