package mcpclient

import "fmt"

// ConfigError reports that a client could not be constructed from the
// available configuration: no resolvable endpoint URL, a missing stdio
// command, an invalid working directory, or an executable that cannot be
// located. It is always fatal to construction.
type ConfigError struct {
	Server string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Server == "" {
		return "mcpclient: " + e.Reason
	}
	return fmt.Sprintf("mcpclient: server %q: %s", e.Server, e.Reason)
}

// ProtocolError reports a fatal protocol-level failure during construction,
// such as a stdio server that never answers the initialize handshake.
type ProtocolError struct {
	Server string
	Reason string
}

func (e *ProtocolError) Error() string {
	if e.Server == "" {
		return "mcpclient: " + e.Reason
	}
	return fmt.Sprintf("mcpclient: server %q: %s", e.Server, e.Reason)
}

func configErrorf(server, format string, args ...any) *ConfigError {
	return &ConfigError{Server: server, Reason: fmt.Sprintf(format, args...)}
}

func protocolErrorf(server, format string, args ...any) *ProtocolError {
	return &ProtocolError{Server: server, Reason: fmt.Sprintf(format, args...)}
}
