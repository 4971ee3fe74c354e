package dynamo

import "errors"

// Domain errors shared by the engine, loaders and transport.
var (
	// ErrNoModel indicates an operation that needs a live model instance ran without one.
	ErrNoModel = errors.New("vehsim: no model loaded")

	// ErrInvalidPlugin indicates a shared library failed to open or is missing entry points.
	ErrInvalidPlugin = errors.New("vehsim: invalid model plugin")

	// ErrUnknownModel indicates a builtin model name that is not registered.
	ErrUnknownModel = errors.New("vehsim: unknown model")

	// ErrIndexOutOfRange indicates a parameter, setting or input index outside the schema.
	ErrIndexOutOfRange = errors.New("vehsim: index out of range")

	// ErrUnknownName indicates a parameter, setting or option name absent from the schema.
	ErrUnknownName = errors.New("vehsim: unknown name")

	// ErrUnknownCommand indicates an administrative command type the engine does not serve.
	ErrUnknownCommand = errors.New("vehsim: unknown admin command")

	// ErrCommandPending indicates an administrative command arrived while another awaits its reply.
	ErrCommandPending = errors.New("vehsim: admin command already pending")

	// ErrNotRunning indicates the message server is stopped.
	ErrNotRunning = errors.New("vehsim: server not running")

	// ErrNoSyncClient indicates a control request was sent with no synchronous client attached.
	ErrNoSyncClient = errors.New("vehsim: no synchronous control client")

	// ErrQueueFull indicates an outbound frame was dropped because the peer queue is full.
	ErrQueueFull = errors.New("vehsim: send queue full")

	// ErrInstancesAlive indicates a loader was closed while instances it created are still alive.
	ErrInstancesAlive = errors.New("vehsim: model instances still alive")

	// ErrInvalidState indicates a state vector with NaN or Inf entries.
	ErrInvalidState = errors.New("vehsim: invalid state (NaN or Inf detected)")
)
