package faults

// Category groups errors by where they originate.
type Category string

const (
	CategoryAgent    Category = "AGENT"
	CategoryWorkflow Category = "WORKFLOW"
	CategorySystem   Category = "SYSTEM"
	CategoryExternal Category = "EXTERNAL"
	CategoryUser     Category = "USER"
)

type Severity string

const (
	SeverityFatal   Severity = "fatal"
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Code identifies one entry in the closed error taxonomy.
type Code string

const (
	AgentTimeout       Code = "AGENT_TIMEOUT"
	AgentCrashed       Code = "AGENT_CRASHED"
	AgentInvalidOutput Code = "AGENT_INVALID_OUTPUT"
	AgentUnavailable   Code = "AGENT_UNAVAILABLE"

	WorkflowTimeout Code = "WORKFLOW_TIMEOUT"
	MaxIterations   Code = "MAX_ITERATIONS"
	InvalidWorkflow Code = "INVALID_WORKFLOW"
	StepFailed      Code = "STEP_FAILED"

	WorkspaceProvisionFailed Code = "WORKSPACE_PROVISION_FAILED"
	WorkerStartFailed        Code = "WORKER_START_FAILED"
	PermissionDenied         Code = "PERMISSION_DENIED"
	LockTimeout              Code = "LOCK_TIMEOUT"
	CheckpointFailed         Code = "CHECKPOINT_FAILED"
	StoreFailed              Code = "STORE_FAILED"
	MessageTooLarge          Code = "MESSAGE_TOO_LARGE"

	RateLimited Code = "RATE_LIMITED"
	CircuitOpen Code = "CIRCUIT_OPEN"

	SessionExists   Code = "SESSION_EXISTS"
	SessionNotFound Code = "SESSION_NOT_FOUND"
	InvalidArgument Code = "INVALID_ARGUMENT"
)

type definition struct {
	Category    Category
	Severity    Severity
	Recoverable bool
	Retryable   bool
	Message     string
	Suggestions []string
}

var taxonomy = map[Code]definition{
	AgentTimeout: {CategoryAgent, SeverityError, true, true,
		"worker did not produce output within the liveness timeout",
		[]string{"check the worker's log output", "raise monitor.agent_timeout if tasks are long-running"}},
	AgentCrashed: {CategoryAgent, SeverityError, true, true,
		"worker process exited unexpectedly",
		[]string{"inspect the worker logs for a crash reason", "the role will be restarted automatically"}},
	AgentInvalidOutput: {CategoryAgent, SeverityWarning, true, true,
		"worker produced output that could not be parsed",
		[]string{"the message was discarded; the worker will be asked again"}},
	AgentUnavailable: {CategoryAgent, SeverityWarning, true, false,
		"role marked unavailable after repeated failures",
		[]string{"remaining stages for this role are skipped"}},

	WorkflowTimeout: {CategoryWorkflow, SeverityError, true, false,
		"workflow exceeded its overall deadline",
		[]string{"partial results are synthesized from completed steps"}},
	MaxIterations: {CategoryWorkflow, SeverityWarning, true, false,
		"iteration or recovery ceiling reached",
		[]string{"the cycle was marked partial and the workflow advanced"}},
	InvalidWorkflow: {CategoryWorkflow, SeverityError, false, false,
		"workflow type or goal is not valid",
		[]string{"run 'swarm help' for the list of workflow types"}},
	StepFailed: {CategoryWorkflow, SeverityError, true, false,
		"a workflow step finished in a failed state",
		[]string{"check the responsible role's messages"}},

	WorkspaceProvisionFailed: {CategorySystem, SeverityError, true, true,
		"could not provision an isolated workspace",
		[]string{"check free disk space and permissions on the workspace base path"}},
	WorkerStartFailed: {CategorySystem, SeverityError, true, true,
		"worker process failed to start",
		[]string{"verify the worker runtime configuration", "for docker, verify the image exists"}},
	PermissionDenied: {CategorySystem, SeverityFatal, false, false,
		"permission denied on a required resource",
		[]string{"fix filesystem permissions and restart the session"}},
	LockTimeout: {CategorySystem, SeverityError, true, true,
		"timed out acquiring a queue lock",
		[]string{"another process may be stuck; stale locks are reclaimed automatically"}},
	CheckpointFailed: {CategorySystem, SeverityWarning, true, true,
		"failed to persist a checkpoint",
		[]string{"the session continues; recovery granularity is reduced"}},
	StoreFailed: {CategorySystem, SeverityError, true, true,
		"persistence operation failed",
		[]string{"check the store path and disk space"}},
	MessageTooLarge: {CategorySystem, SeverityWarning, false, false,
		"message exceeds the maximum serialized size",
		[]string{"reference large content as an artifact instead of inlining it"}},

	RateLimited: {CategoryExternal, SeverityWarning, true, true,
		"an external service rate limit was hit",
		[]string{"the operation is retried with backoff"}},
	CircuitOpen: {CategoryExternal, SeverityWarning, true, false,
		"circuit breaker is open for this operation",
		[]string{"the operation is skipped until the cooldown elapses"}},

	SessionExists: {CategoryUser, SeverityError, false, false,
		"a session is already running",
		[]string{"run 'swarm status' to inspect it", "run 'swarm stop' or 'swarm kill' first"}},
	SessionNotFound: {CategoryUser, SeverityError, false, false,
		"no active session",
		[]string{"start one with 'swarm start <workflow> <goal>'"}},
	InvalidArgument: {CategoryUser, SeverityError, false, false,
		"invalid argument",
		[]string{"run 'swarm help' for usage"}},
}

// fallback for codes not in the taxonomy; keeps the factory total.
var unknownDef = definition{CategorySystem, SeverityError, false, false, "unknown error", nil}

func lookup(code Code) definition {
	if d, ok := taxonomy[code]; ok {
		return d
	}
	return unknownDef
}

// Explain returns the fixed human-readable message for a code.
func Explain(code Code) string {
	return lookup(code).Message
}

// Suggestions returns the actionable suggestions for a code.
func Suggestions(code Code) []string {
	return lookup(code).Suggestions
}
