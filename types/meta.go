package types

// WorkerMeta identifies a worker process in diagnostics and events.
type WorkerMeta struct {
	// WorkerID is a controller-assigned name; defaults to "worker-<pid>".
	WorkerID string
	// Pid is the operating system process id.
	Pid int
	// Engine is the computation engine name.
	Engine string
}
