package config

import "fmt"

// Validate rejects configurations the display core cannot honor.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendDirect, BackendProxy:
	default:
		return fmt.Errorf("unknown backend %q (want %q or %q)", c.Backend, BackendDirect, BackendProxy)
	}

	if c.DisplayWidth <= 0 || c.DisplayWidth > 8192 {
		return fmt.Errorf("display_width %d out of range", c.DisplayWidth)
	}
	if c.DisplayHeight <= 0 || c.DisplayHeight > 8192 {
		return fmt.Errorf("display_height %d out of range", c.DisplayHeight)
	}

	// The direct backend pre-allocates one hardware buffer per slot, so an
	// oversized pool is almost certainly a configuration mistake.
	if c.DisplayBufferNum < 1 || c.DisplayBufferNum > 8 {
		return fmt.Errorf("display_buffer_num %d out of range (1-8)", c.DisplayBufferNum)
	}

	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}

	return nil
}
