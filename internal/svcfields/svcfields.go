package svcfields

import (
	"strings"

	"pkt.systems/pslog"

	"pkt.systems/roomd/internal/loggingutil"
)

// SubsystemKey is the field carrying the dotted subsystem path.
const SubsystemKey = pslog.TrustedString("sys")

// Subsystem joins parts into a dotted path, skipping empty fragments.
func Subsystem(parts ...string) string {
	filtered := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.Trim(part, ". ")
		if part == "" {
			continue
		}
		filtered = append(filtered, part)
	}
	return strings.Join(filtered, ".")
}

// WithSubsystem tags every entry written through the returned logger with
// the given subsystem path.
func WithSubsystem(logger pslog.Logger, subsystem string) pslog.Logger {
	logger = loggingutil.EnsureLogger(logger)
	subsystem = Subsystem(subsystem)
	if subsystem == "" {
		return logger
	}
	return logger.With(SubsystemKey, subsystem)
}
