package plugin

import (
	"github.com/samber/oops"
)

// Error codes for plugin failures.
const (
	CodePluginError     = "PLUGIN_ERROR"
	CodeModuleNotFound  = "PLUGIN_MODULE_NOT_FOUND"
	CodeConfigNotFound  = "PLUGIN_CONFIG_NOT_FOUND"
	CodeAmbiguousConfig = "PLUGIN_AMBIGUOUS_CONFIG"
	CodeCommandNotFound = "COMMAND_NOT_FOUND"
	CodeInternalError   = "INTERNAL_ERROR"
)

// ErrPlugin creates a plugin error, used for bad setup or close functions
// and other problems with a plugin's code.
func ErrPlugin(name, format string, args ...any) error {
	return oops.In("plugin").
		Code(CodePluginError).
		With("plugin", name).
		Errorf(format, args...)
}

// ErrModuleNotFound is returned by loaders that have no module for name.
func ErrModuleNotFound(name string) error {
	return oops.In("plugin").
		Code(CodeModuleNotFound).
		With("plugin", name).
		Errorf("plugin %s: module not found", name)
}

func errConfigNotFound(name string) error {
	return oops.In("plugin").
		Code(CodeConfigNotFound).
		With("plugin", name).
		Errorf("plugin %s has no config", name)
}

func errAmbiguousConfig(name string) error {
	return oops.In("plugin").
		Code(CodeAmbiguousConfig).
		With("plugin", name).
		Errorf("plugin %s has both %s and %s", name, configJSON, configYAML)
}

// ErrCommandNotFound is returned by Dispatch when a command surface matched
// but no handler took the trigger.
func ErrCommandNotFound(trigger string) error {
	return oops.In("dispatch").
		Code(CodeCommandNotFound).
		With("command", trigger).
		Errorf("unknown command: %s", trigger)
}

// HasCode reports whether err is an oops error carrying code.
func HasCode(err error, code string) bool {
	oopsErr, ok := oops.AsOops(err)
	return ok && oopsErr.Code() == code
}
