package multiimage

import "github.com/Skryldev/multiimage/core"

// Queue exposes the shared decode queue for advanced use (e.g. submitting
// decodes outside a viewer). Prefer the high-level API for normal usage.
func (c *Client) Queue() *core.DecodeQueue { return c.queue }

// Services exposes the collaborators renditions are built with.
func (c *Client) Services() core.Services { return c.services() }
