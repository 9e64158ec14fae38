package logger

import "strings"

// DiffToInfo is the number of levels that come before Info, so that Info is
// the 0th level handed to a LogSink (matching go-logr's convention that
// verbosity 0 is "always log").
const DiffToInfo = 1

// Level is a driver log severity, ordered least to most verbose.
type Level int

const (
	LevelOff Level = iota
	LevelInfo
	LevelDebug
)

var levelLiterals = map[string]Level{
	"off":   LevelOff,
	"info":  LevelInfo,
	"debug": LevelDebug,
}

// ParseLevel maps an environment-variable literal to a Level, defaulting to
// LevelOff for anything unrecognized.
func ParseLevel(str string) Level {
	for literal, level := range levelLiterals {
		if strings.EqualFold(literal, str) {
			return level
		}
	}
	return LevelOff
}

// Component names a subsystem whose verbosity can be configured
// independently (spec.md's ambient logging stack, grounded on the teacher's
// per-component MONGODB_LOG_* environment variables).
type Component int

const (
	ComponentCommand Component = iota
	ComponentTopology
	ComponentServerSelection
	ComponentConnection
)

const (
	envVarAll              = "MONGODB_LOG_ALL"
	envVarCommand          = "MONGODB_LOG_COMMAND"
	envVarTopology         = "MONGODB_LOG_TOPOLOGY"
	envVarServerSelection  = "MONGODB_LOG_SERVER_SELECTION"
	envVarConnection       = "MONGODB_LOG_CONNECTION"
)

var componentEnvVars = map[Component]string{
	ComponentCommand:         envVarCommand,
	ComponentTopology:        envVarTopology,
	ComponentServerSelection: envVarServerSelection,
	ComponentConnection:      envVarConnection,
}
