// Package sym defines the glyphs keywatch uses in logs and CLI output.
// These symbols are stable across logs, the CLI and the WebSocket feed.
package sym

// Subsystem glyphs.
const (
	Pulse      = "꩜" // pulse: the scheduler loop and executions
	PulseOpen  = "✿" // pulse startup
	PulseClose = "❀" // pulse shutdown
	Lock       = "⊘" // execution lock traffic
	DB         = "⊔" // database operations
	Report     = "▤" // generated reports
	Notify     = "✉" // notifications
)

// StatusGlyph returns the glyph shown next to a schedule status in CLI tables.
// Unknown statuses render as "?".
func StatusGlyph(status string) string {
	switch status {
	case "active":
		return "▶"
	case "paused":
		return "⏸"
	case "completed":
		return "✔"
	case "cancelled":
		return "✖"
	default:
		return "?"
	}
}
