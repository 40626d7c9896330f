package governance

import (
	"fmt"
	"strings"
)

// Level is an ordered permission tier.
type Level int

const (
	LevelDenied Level = iota
	LevelSafe
	LevelStandard
	LevelAdvanced
	LevelRoot
)

var levelNames = map[Level]string{
	LevelDenied:   "DENIED",
	LevelSafe:     "SAFE",
	LevelStandard: "STANDARD",
	LevelAdvanced: "ADVANCED",
	LevelRoot:     "ROOT",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// ParseLevel accepts a tier name in any case.
func ParseLevel(s string) (Level, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for l, n := range levelNames {
		if n == name {
			return l, nil
		}
	}
	return LevelDenied, fmt.Errorf("unknown permission level %q", s)
}

// OperationType is the class of side effect an operation has.
type OperationType string

const (
	OpRead          OperationType = "read"
	OpWrite         OperationType = "write"
	OpNetwork       OperationType = "network"
	OpShellExec     OperationType = "shell_exec"
	OpSystemControl OperationType = "system_control"
)

// requiredLevels maps each operation type to the minimum tier that may perform it.
var requiredLevels = map[OperationType]Level{
	OpRead:          LevelSafe,
	OpNetwork:       LevelStandard,
	OpWrite:         LevelStandard,
	OpShellExec:     LevelAdvanced,
	OpSystemControl: LevelRoot,
}

// RequiredLevel returns the minimum tier for op. Unknown operation types are
// treated as shell execution.
func RequiredLevel(op OperationType) Level {
	if l, ok := requiredLevels[op]; ok {
		return l
	}
	return requiredLevels[OpShellExec]
}
