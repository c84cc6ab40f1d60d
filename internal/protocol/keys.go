package protocol

// controlKeys are forwarded as individual keypress commands. Everything else
// travels as batched text.
var controlKeys = map[string]bool{
	"Enter":      true,
	"Tab":        true,
	"Backspace":  true,
	"Escape":     true,
	"ArrowUp":    true,
	"ArrowDown":  true,
	"ArrowLeft":  true,
	"ArrowRight": true,
	"Delete":     true,
	"Home":       true,
	"End":        true,
	"PageUp":     true,
	"PageDown":   true,
}

// IsControlKey reports whether key is on the control-key allow-list.
func IsControlKey(key string) bool {
	return controlKeys[key]
}
