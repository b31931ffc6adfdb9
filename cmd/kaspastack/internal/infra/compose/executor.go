package compose

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/kaspastack/kaspastack/cmd/kaspastack/internal/infra/process"
)

// =============================================================================
// Error Definitions
// =============================================================================

var (
	// ErrComposeFileMissing is returned when a required compose file doesn't exist.
	ErrComposeFileMissing = errors.New("compose file not found")

	// ErrServiceNotFound is returned when a specified service doesn't exist.
	ErrServiceNotFound = errors.New("service not found")

	// ErrInvalidConfig is returned when Config is invalid.
	ErrInvalidConfig = errors.New("invalid compose configuration")

	// ErrInvalidEnvVar is returned when an environment variable key is invalid.
	// This prevents config injection attacks through malformed env var names.
	ErrInvalidEnvVar = errors.New("invalid environment variable")
)

// envVarKeyRegex validates environment variable key names.
// Keys must start with a letter or underscore and contain only
// alphanumerics and underscores. This blocks shell metacharacter
// injection through the env map.
var envVarKeyRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// =============================================================================
// Interface Definition
// =============================================================================

// Executor manages docker compose operations for the Kaspa stack.
//
// # Description
//
// This interface abstracts all interaction with the docker compose CLI,
// enabling testable orchestration of the stack's containers. It handles
// profile selection, environment injection, and direct container removal
// for stale name collisions.
//
// # Security
//
//   - Sanitizes environment variable keys before injection
//   - Does not log sensitive environment values
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Operations that modify
// container state (Up, Down, RemoveContainers) are serialized internally.
type Executor interface {
	// Up starts services for the given compose profiles.
	//
	// # Description
	//
	// Executes `docker compose up -d` with `--profile` flags for each
	// requested profile and environment variables from the provided map.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation and timeout
	//   - opts: Configuration for the up operation
	//
	// # Outputs
	//
	//   - *Result: Execution result with stdout/stderr
	//   - error: If the compose command fails
	//
	// # Limitations
	//
	//   - Does not verify service health after startup (the deployer does)
	Up(ctx context.Context, opts UpOptions) (*Result, error)

	// Pull fetches one image ahead of deployment.
	//
	// Returns the compose result; a pull failure is not fatal to the
	// caller's pipeline and is surfaced through the error.
	Pull(ctx context.Context, image string, timeout time.Duration) (*Result, error)

	// Build builds one locally-built service.
	Build(ctx context.Context, service string, timeout time.Duration) (*Result, error)

	// Down stops and removes containers for the configured project.
	Down(ctx context.Context, opts DownOptions) (*Result, error)

	// Status returns the current state of stack containers.
	//
	// # Description
	//
	// Executes `docker ps` with JSON output filtered by the container
	// name prefix and parses the result into per-service states.
	Status(ctx context.Context) (*Status, error)

	// RemoveContainers force-removes containers by exact name.
	//
	// # Description
	//
	// Container names are a single global namespace; a stale container
	// left by a prior run must be removed before `up` can reuse the name.
	// Removal of a name that doesn't exist is not an error.
	RemoveContainers(ctx context.Context, names []string) error

	// Logs streams container logs to the provided writer until the
	// context is cancelled.
	Logs(ctx context.Context, opts LogsOptions, w io.Writer) error

	// ComposeFile returns the absolute path of the compose descriptor.
	ComposeFile() string
}

// =============================================================================
// Supporting Types
// =============================================================================

// Config provides configuration for compose operations.
type Config struct {
	// StackDir is the directory containing the compose descriptor and
	// the .env configuration file.
	StackDir string

	// ProjectName is the compose project name.
	// Default: "kaspastack"
	ProjectName string

	// ComposeFile is the descriptor file name inside StackDir.
	// Default: "docker-compose.yml"
	ComposeFile string

	// DefaultTimeout is the default timeout for compose operations.
	// Default: 5 minutes
	DefaultTimeout time.Duration
}

// UpOptions configures the Up operation.
type UpOptions struct {
	// Profiles selects which compose profiles to start.
	// Empty means the descriptor's default service set.
	Profiles []string

	// Env contains environment variables to inject.
	Env map[string]string

	// RemoveOrphans removes containers for services no longer defined.
	RemoveOrphans bool

	// Timeout overrides the default operation timeout.
	// Zero means use DefaultTimeout from config.
	Timeout time.Duration
}

// DownOptions configures the Down operation.
type DownOptions struct {
	// RemoveOrphans removes containers for services not in the descriptor.
	RemoveOrphans bool

	// RemoveVolumes removes named volumes declared in the descriptor.
	// WARNING: destructive and cannot be undone.
	RemoveVolumes bool

	// Timeout for graceful container shutdown.
	Timeout time.Duration
}

// LogsOptions configures the Logs operation.
type LogsOptions struct {
	// Follow streams logs continuously.
	Follow bool

	// Services limits which services to show logs for.
	Services []string

	// Tail limits output to last N lines per container. Zero means all.
	Tail int
}

// Result contains the result of a compose operation.
type Result struct {
	// Success indicates if the operation completed without error.
	Success bool

	// ExitCode is the exit code of the compose command.
	ExitCode int

	// Stdout contains standard output.
	Stdout string

	// Stderr contains standard error.
	Stderr string

	// Duration is how long the operation took.
	Duration time.Duration

	// Command is the full command that was executed (for debugging).
	Command string
}

// Status contains the current state of stack containers.
type Status struct {
	// Services contains status for each container.
	Services []ServiceState

	// Running is the count of running containers.
	Running int

	// Stopped is the count of stopped containers.
	Stopped int
}

// ServiceState contains the observed state of a single container.
type ServiceState struct {
	// Name is the compose service name.
	Name string

	// ContainerName is the actual container name.
	ContainerName string

	// State is the container state (running, exited, created...).
	State string

	// Image is the container image.
	Image string
}

// =============================================================================
// Default Implementation
// =============================================================================

// DefaultExecutor implements Executor using the docker CLI.
type DefaultExecutor struct {
	config Config
	proc   process.Manager
	mu     sync.Mutex
}

// NewDefaultExecutor creates an Executor with the given configuration.
//
// # Description
//
// Validates the configuration and applies defaults.
//
// # Inputs
//
//   - cfg: Compose configuration (StackDir required)
//   - proc: process.Manager for command execution
//
// # Outputs
//
//   - *DefaultExecutor: Configured executor
//   - error: If configuration is invalid
//
// # Defaults Applied
//
//   - ProjectName: "kaspastack"
//   - ComposeFile: "docker-compose.yml"
//   - DefaultTimeout: 5 minutes
func NewDefaultExecutor(cfg Config, proc process.Manager) (*DefaultExecutor, error) {
	if cfg.StackDir == "" {
		return nil, fmt.Errorf("%w: StackDir is required", ErrInvalidConfig)
	}

	if cfg.ProjectName == "" {
		cfg.ProjectName = "kaspastack"
	}
	if cfg.ComposeFile == "" {
		cfg.ComposeFile = "docker-compose.yml"
	}
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = 5 * time.Minute
	}

	return &DefaultExecutor{config: cfg, proc: proc}, nil
}

// Up starts services for the given compose profiles.
func (e *DefaultExecutor) Up(ctx context.Context, opts UpOptions) (*Result, error) {
	if err := e.validateEnvVars(opts.Env); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	args := e.baseArgs()
	for _, p := range opts.Profiles {
		args = append(args, "--profile", p)
	}
	args = append(args, "up", "-d")
	if opts.RemoveOrphans {
		args = append(args, "--remove-orphans")
	}

	return e.runCompose(ctx, args, opts.Env, e.resolveTimeout(opts.Timeout))
}

// Pull fetches one image ahead of deployment.
func (e *DefaultExecutor) Pull(ctx context.Context, image string, timeout time.Duration) (*Result, error) {
	args := []string{"pull", image}
	return e.runDocker(ctx, args, e.resolveTimeout(timeout))
}

// Build builds one locally-built service.
func (e *DefaultExecutor) Build(ctx context.Context, service string, timeout time.Duration) (*Result, error) {
	args := e.baseArgs()
	args = append(args, "build", service)
	return e.runCompose(ctx, args, nil, e.resolveTimeout(timeout))
}

// Down stops and removes containers for the configured project.
func (e *DefaultExecutor) Down(ctx context.Context, opts DownOptions) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	args := e.baseArgs()
	args = append(args, "down")
	if opts.RemoveOrphans {
		args = append(args, "--remove-orphans")
	}
	if opts.RemoveVolumes {
		args = append(args, "-v")
	}

	return e.runCompose(ctx, args, nil, e.resolveTimeout(opts.Timeout))
}

// Status returns the current state of stack containers.
//
// Containers are selected by the compose project label rather than by
// name: service names in the stack share no common prefix, and docker's
// name filter is a substring match.
func (e *DefaultExecutor) Status(ctx context.Context) (*Status, error) {
	args := []string{
		"ps", "-a",
		"--filter", fmt.Sprintf("label=com.docker.compose.project=%s", e.config.ProjectName),
		"--format", "json",
	}

	output, err := e.runDocker(ctx, args, 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to get container status: %w", err)
	}

	return e.parseContainerStatus(output.Stdout)
}

// RemoveContainers force-removes containers by exact name.
func (e *DefaultExecutor) RemoveContainers(ctx context.Context, names []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var failed []string
	for _, name := range names {
		args := []string{"rm", "-f", name}
		if _, err := e.runDocker(ctx, args, 30*time.Second); err != nil {
			// "no such container" means the name is already free.
			if strings.Contains(strings.ToLower(err.Error()), "no such container") {
				continue
			}
			failed = append(failed, name)
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("failed to remove containers: %s", strings.Join(failed, ", "))
	}
	return nil
}

// Logs streams container logs to the provided writer.
func (e *DefaultExecutor) Logs(ctx context.Context, opts LogsOptions, w io.Writer) error {
	args := e.baseArgs()
	args = append(args, "logs")
	if opts.Follow {
		args = append(args, "-f")
	}
	if opts.Tail > 0 {
		args = append(args, "--tail", fmt.Sprintf("%d", opts.Tail))
	}
	args = append(args, opts.Services...)

	return e.proc.RunStreaming(ctx, e.config.StackDir, w, "docker", append([]string{"compose"}, args...)...)
}

// ComposeFile returns the absolute path of the compose descriptor.
func (e *DefaultExecutor) ComposeFile() string {
	return filepath.Join(e.config.StackDir, e.config.ComposeFile)
}

// =============================================================================
// Private Helper Methods
// =============================================================================

// baseArgs builds the common compose arguments: project name plus -f flag.
func (e *DefaultExecutor) baseArgs() []string {
	return []string{
		"-p", e.config.ProjectName,
		"-f", e.ComposeFile(),
	}
}

// runCompose executes a docker compose command with env injection.
func (e *DefaultExecutor) runCompose(ctx context.Context, args []string, env map[string]string, timeout time.Duration) (*Result, error) {
	return e.run(ctx, append([]string{"compose"}, args...), env, timeout)
}

// runDocker executes a direct docker command (no compose layering).
func (e *DefaultExecutor) runDocker(ctx context.Context, args []string, timeout time.Duration) (*Result, error) {
	return e.run(ctx, args, nil, timeout)
}

func (e *DefaultExecutor) run(ctx context.Context, args []string, env map[string]string, timeout time.Duration) (*Result, error) {
	start := time.Now()
	cmdStr := fmt.Sprintf("docker %s", strings.Join(args, " "))

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout, stderr, exitCode, err := e.proc.RunInDir(execCtx, e.config.StackDir, env, "docker", args...)

	result := &Result{
		Success:  exitCode == 0 && err == nil,
		ExitCode: exitCode,
		Stdout:   stdout,
		Stderr:   stderr,
		Duration: time.Since(start),
		Command:  cmdStr,
	}

	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			return result, fmt.Errorf("docker command timed out after %v: %s", timeout, cmdStr)
		}
		return result, fmt.Errorf("docker command failed: %w", err)
	}
	if exitCode != 0 {
		return result, fmt.Errorf("docker command exited with code %d: %s", exitCode, stderr)
	}

	return result, nil
}

// resolveTimeout returns the override timeout or the configured default.
func (e *DefaultExecutor) resolveTimeout(override time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	return e.config.DefaultTimeout
}

// validateEnvVars rejects environment maps with unsafe key names.
func (e *DefaultExecutor) validateEnvVars(env map[string]string) error {
	for key := range env {
		if !envVarKeyRegex.MatchString(key) {
			return fmt.Errorf("%w: %q", ErrInvalidEnvVar, key)
		}
	}
	return nil
}

// parseContainerStatus parses docker ps JSON output into a Status.
//
// Docker emits one JSON object per line (JSONL), not an array.
func (e *DefaultExecutor) parseContainerStatus(jsonOutput string) (*Status, error) {
	status := &Status{Services: []ServiceState{}}

	for _, line := range strings.Split(jsonOutput, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var c struct {
			Names string `json:"Names"`
			State string `json:"State"`
			Image string `json:"Image"`
		}
		if err := json.Unmarshal([]byte(line), &c); err != nil {
			return nil, fmt.Errorf("failed to parse container JSON: %w", err)
		}

		svc := ServiceState{
			Name:          e.extractServiceName(c.Names),
			ContainerName: c.Names,
			State:         c.State,
			Image:         c.Image,
		}
		status.Services = append(status.Services, svc)

		switch c.State {
		case "running":
			status.Running++
		case "exited", "stopped", "created", "dead":
			status.Stopped++
		}
	}

	return status, nil
}

// extractServiceName derives the compose service name from a container
// name like "kaspa-node" or "kaspastack-kaspa-node-1".
func (e *DefaultExecutor) extractServiceName(containerName string) string {
	name := strings.TrimPrefix(containerName, e.config.ProjectName+"-")

	parts := strings.Split(name, "-")
	if len(parts) > 1 {
		lastPart := parts[len(parts)-1]
		if _, err := fmt.Sscanf(lastPart, "%d", new(int)); err == nil {
			parts = parts[:len(parts)-1]
		}
	}

	return strings.Join(parts, "-")
}

// =============================================================================
// Mock Implementation for Testing
// =============================================================================

// MockExecutor is a test double for Executor.
type MockExecutor struct {
	UpFunc               func(ctx context.Context, opts UpOptions) (*Result, error)
	PullFunc             func(ctx context.Context, image string, timeout time.Duration) (*Result, error)
	BuildFunc            func(ctx context.Context, service string, timeout time.Duration) (*Result, error)
	DownFunc             func(ctx context.Context, opts DownOptions) (*Result, error)
	StatusFunc           func(ctx context.Context) (*Status, error)
	RemoveContainersFunc func(ctx context.Context, names []string) error
	LogsFunc             func(ctx context.Context, opts LogsOptions, w io.Writer) error
	ComposeFilePath      string

	mu      sync.Mutex
	UpCalls []UpOptions
	Pulled  []string
	Built   []string
	Removed [][]string
}

// Up invokes UpFunc or returns success.
func (m *MockExecutor) Up(ctx context.Context, opts UpOptions) (*Result, error) {
	m.mu.Lock()
	m.UpCalls = append(m.UpCalls, opts)
	m.mu.Unlock()
	if m.UpFunc != nil {
		return m.UpFunc(ctx, opts)
	}
	return &Result{Success: true}, nil
}

// Pull invokes PullFunc or returns success.
func (m *MockExecutor) Pull(ctx context.Context, image string, timeout time.Duration) (*Result, error) {
	m.mu.Lock()
	m.Pulled = append(m.Pulled, image)
	m.mu.Unlock()
	if m.PullFunc != nil {
		return m.PullFunc(ctx, image, timeout)
	}
	return &Result{Success: true}, nil
}

// Build invokes BuildFunc or returns success.
func (m *MockExecutor) Build(ctx context.Context, service string, timeout time.Duration) (*Result, error) {
	m.mu.Lock()
	m.Built = append(m.Built, service)
	m.mu.Unlock()
	if m.BuildFunc != nil {
		return m.BuildFunc(ctx, service, timeout)
	}
	return &Result{Success: true}, nil
}

// Down invokes DownFunc or returns success.
func (m *MockExecutor) Down(ctx context.Context, opts DownOptions) (*Result, error) {
	if m.DownFunc != nil {
		return m.DownFunc(ctx, opts)
	}
	return &Result{Success: true}, nil
}

// Status invokes StatusFunc or returns an empty status.
func (m *MockExecutor) Status(ctx context.Context) (*Status, error) {
	if m.StatusFunc != nil {
		return m.StatusFunc(ctx)
	}
	return &Status{}, nil
}

// RemoveContainers invokes RemoveContainersFunc or returns nil.
func (m *MockExecutor) RemoveContainers(ctx context.Context, names []string) error {
	m.mu.Lock()
	m.Removed = append(m.Removed, names)
	m.mu.Unlock()
	if m.RemoveContainersFunc != nil {
		return m.RemoveContainersFunc(ctx, names)
	}
	return nil
}

// Logs invokes LogsFunc or returns nil.
func (m *MockExecutor) Logs(ctx context.Context, opts LogsOptions, w io.Writer) error {
	if m.LogsFunc != nil {
		return m.LogsFunc(ctx, opts, w)
	}
	return nil
}

// ComposeFile returns the configured mock path.
func (m *MockExecutor) ComposeFile() string {
	return m.ComposeFilePath
}

// -----------------------------------------------------------------------------
// Compile-time Interface Compliance Checks
// -----------------------------------------------------------------------------

var _ Executor = (*DefaultExecutor)(nil)
var _ Executor = (*MockExecutor)(nil)
