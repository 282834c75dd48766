// Package sym defines canonical symbols for cronctl segments and system markers.
// These symbols are stable across CLI output, logs, and documentation.
package sym

// Segment glyphs.
const (
	AM = "≡" // am: configuration and system settings
	AT = "✦" // at: an entity's desired execution moment
)

// System infrastructure symbols.
const (
	Pulse      = "꩜" // reconciliation passes and the job runner
	PulseOpen  = "✿" // graceful startup
	PulseClose = "❀" // graceful shutdown
	DB         = "⊔" // database/storage layer
)

// Commands lists the top-level CLI commands that carry a glyph, in help order.
var Commands = []string{"am", "pulse", "queue", "entity"}

// SymbolToCommand maps glyph strings to their command equivalents.
var SymbolToCommand = map[string]string{
	AM:    "am",
	Pulse: "pulse",
	DB:    "queue",
	AT:    "entity",
}

// CommandToSymbol maps commands to their canonical glyph strings.
var CommandToSymbol = map[string]string{
	"am":     AM,
	"pulse":  Pulse,
	"queue":  DB,
	"entity": AT,
}

// CommandDescriptions provides one-line explanations used in CLI help.
var CommandDescriptions = map[string]string{
	"am":     "Configuration: inspect and validate settings",
	"pulse":  "Reconciliation: run passes and the job runner",
	"queue":  "Queue: inspect pending entries",
	"entity": "Entities: schedule and list publishable records",
}

// Prefix returns the command's glyph followed by a space, or "" for commands
// without one.
func Prefix(command string) string {
	if s, ok := CommandToSymbol[command]; ok {
		return s + " "
	}
	return ""
}
