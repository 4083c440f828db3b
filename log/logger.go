package log

import "context"

// Fields is the structured payload attached to a log entry.
type Fields = map[string]interface{}

// Logger defines a standard interface for logging.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...Fields)
	Info(ctx context.Context, msg string, fields ...Fields)
	Warn(ctx context.Context, msg string, fields ...Fields)
	Error(ctx context.Context, msg string, err error, fields ...Fields)
	Fatal(ctx context.Context, msg string, err error, fields ...Fields) // the underlying logger calls os.Exit(1)
	With(fields Fields) Logger                                         // Returns a new logger with added structured fields
}
