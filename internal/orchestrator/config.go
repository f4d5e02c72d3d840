package orchestrator

import "time"

// Config holds runtime settings for the Engine.
type Config struct {
	// DispatchTimeout bounds every single call to an agent.
	DispatchTimeout time.Duration `mapstructure:"dispatch_timeout"`

	// Retry governs re-dispatch after timeouts and transport errors.
	Retry RetryPolicy `mapstructure:"retry"`

	// ProgressBuffer is the size of the progress event channel.
	ProgressBuffer int `mapstructure:"progress_buffer"`

	// ArchiveTimeout bounds recording a finished task in the archive.
	ArchiveTimeout time.Duration `mapstructure:"archive_timeout"`

	// RetainTerminal is how many finished tasks stay in the engine's table
	// after they are archived. Older ones are dropped and served from the
	// archive. Zero or less keeps every task.
	RetainTerminal int `mapstructure:"retain_terminal"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		DispatchTimeout: 30 * time.Second,
		Retry:           DefaultRetryPolicy(),
		ProgressBuffer:  64,
		ArchiveTimeout:  5 * time.Second,
		RetainTerminal:  1000,
	}
}
