package notifications

// Level sets the severity marker of an alert.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
	LevelSuccess Level = "success"
)

// Notifier delivers operator alerts.
type Notifier interface {
	// SendAlert sends an alert with the specified level and message
	SendAlert(level Level, message string) error
}
