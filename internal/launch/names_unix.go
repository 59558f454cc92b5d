//go:build !windows

package launch

const (
	defaultInterpreter = "python3"
	defaultBinary      = "api_server"
)
