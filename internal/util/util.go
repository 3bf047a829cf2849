package util

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// GetTrace produces the string representation of a stack trace
func GetTrace() string {
	var name, file string
	var line int
	var pc [16]uintptr
	var res strings.Builder
	n := runtime.Callers(3, pc[:])
	for _, pc := range pc[:n] {
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}
		file, line = fn.FileLine(pc)
		name = fn.Name()
		if !strings.HasPrefix(name, "runtime.") {
			fmt.Fprintf(&res, "%s\n\t%s:%d\n", name, file, line)
		}
	}
	return res.String()
}

// FormatMultiError formats multierrors for logging
func FormatMultiError(merrs []error) string {
	var msg = ""
	for i := 0; i < len(merrs); i++ {
		msg += fmt.Sprintf("%+v\n", merrs[i])
	}
	return msg
}

// GetEnvOrDefault returns the value of an environment variable, or a default if it is unset
func GetEnvOrDefault(env, defaultVal string) string {
	e := os.Getenv(env)
	if e == "" {
		return defaultVal
	}
	return e
}

// GetEnvOrDefaultInt returns the integer value of an environment variable, or a default if it is unset or malformed
func GetEnvOrDefaultInt(env string, defaultVal int) int {
	e := os.Getenv(env)
	if e == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(e)
	if err != nil {
		return defaultVal
	}
	return v
}
