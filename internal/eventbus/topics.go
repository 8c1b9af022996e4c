package eventbus

import "fmt"

// Topic patterns for session telemetry.

func TopicSessionEvents(sessionID string) string {
	return fmt.Sprintf("session.%s.events", sessionID)
}

func TopicSessionRole(sessionID, role string) string {
	return fmt.Sprintf("session.%s.role.%s", sessionID, role)
}

// TopicSessionControl carries stop/kill commands from the CLI to the
// coordinator process.
func TopicSessionControl(sessionID string) string {
	return fmt.Sprintf("session.%s.control", sessionID)
}

// TopicAllEvents matches every session's event stream.
const TopicAllEvents = "session.*.events"
