package control

import "github.com/mattjoyce/foreman/internal/clock"

// Worker is the view of the owning worker process that control handlers
// operate on. internal/worker provides the real implementation; tests
// substitute fakes.
type Worker interface {
	Hostname() string

	// Quit asks the worker to begin a graceful shutdown. It must not
	// block: the caller is the transport's delivery goroutine.
	Quit()

	// Revoke marks a task id so the worker refuses to execute it.
	Revoke(taskID string) error

	// Revoked lists currently revoked task ids.
	Revoked() ([]string, error)

	PoolGrow(n int) (int, error)
	PoolShrink(n int) (int, error)
	PoolSize() int

	// Active lists ids of tasks currently executing.
	Active() []string

	Stats() map[string]any
}

// Context is the shared mutable context snapshotted into a node at
// construction: the worker handle, its identity, and the process clock.
type Context struct {
	Hostname string
	Worker   Worker
	Clock    *clock.Clock
}
