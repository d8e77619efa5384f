package mcp

import "time"

// ServerConfig describes how to launch a stdio tool server.
type ServerConfig struct {
	Command string
	Args    []string
	Env     map[string]string

	// RequestTimeout bounds every individual RPC round trip.
	RequestTimeout time.Duration
}

const defaultRequestTimeout = 30 * time.Second

func (c ServerConfig) requestTimeout() time.Duration {
	if c.RequestTimeout > 0 {
		return c.RequestTimeout
	}
	return defaultRequestTimeout
}
