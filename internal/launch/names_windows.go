//go:build windows

package launch

const (
	defaultInterpreter = "python"
	defaultBinary      = "api_server.exe"
)
