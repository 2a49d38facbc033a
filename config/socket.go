package config

import "time"

// SocketConfig holds WebSocket server configuration.
type SocketConfig struct {
	Path            string `yaml:"path" json:"path"`
	MaxConnections  int    `yaml:"max_connections" json:"max_connections"`
	PingInterval    int    `yaml:"ping_interval_seconds" json:"ping_interval_seconds"`
	WriteTimeout    int    `yaml:"write_timeout_seconds" json:"write_timeout_seconds"`
	ReadBufferSize  int    `yaml:"read_buffer_size" json:"read_buffer_size"`
	WriteBufferSize int    `yaml:"write_buffer_size" json:"write_buffer_size"`
	SendBuffer      int    `yaml:"send_buffer" json:"send_buffer"`
}

// DefaultSocketConfig returns the default WebSocket configuration.
func DefaultSocketConfig() SocketConfig {
	return SocketConfig{
		Path:            "/ws",
		MaxConnections:  1000,
		PingInterval:    30,
		WriteTimeout:    10,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      256,
	}
}

// PingEvery returns the keepalive interval, zero when disabled.
func (c SocketConfig) PingEvery() time.Duration {
	return time.Duration(c.PingInterval) * time.Second
}

// WriteDeadline returns the per-frame write timeout.
func (c SocketConfig) WriteDeadline() time.Duration {
	return time.Duration(c.WriteTimeout) * time.Second
}
