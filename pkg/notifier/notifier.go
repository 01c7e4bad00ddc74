// Package notifier provides desktop build notifications
package notifier

import (
	"fmt"
	"strings"
	"time"

	"github.com/gen2brain/beeep"

	"github.com/poltergeist/wraith/pkg/logger"
)

// SendFunc delivers one notification
type SendFunc func(title, message string) error

// BuildNotifier handles build notifications
type BuildNotifier struct {
	enabled bool
	sound   bool
	send    SendFunc
	logger  logger.Logger
}

// Config represents notification configuration
type Config struct {
	Enabled bool
	Sound   bool
	// Send overrides the desktop notification, mainly for tests
	Send SendFunc
}

// New creates a new build notifier
func New(config Config, log logger.Logger) *BuildNotifier {
	send := config.Send
	if send == nil {
		send = func(title, message string) error {
			return beeep.Notify(title, message, "")
		}
	}
	return &BuildNotifier{
		enabled: config.Enabled,
		sound:   config.Sound,
		send:    send,
		logger:  log,
	}
}

// NotifyBuildSuccess notifies that a build succeeded
func (n *BuildNotifier) NotifyBuildSuccess(app string, duration time.Duration) {
	if !n.enabled {
		return
	}

	title := "✅ Build Succeeded"
	message := fmt.Sprintf("%s built in %s", app, formatDuration(duration))

	n.sendNotification(title, message, false)
}

// NotifyBuildFailure notifies that a build failed
func (n *BuildNotifier) NotifyBuildFailure(app string, err error) {
	if !n.enabled {
		return
	}

	title := "❌ Build Failed"
	message := app
	if err != nil {
		// only the first line fits in a notification
		first := strings.SplitN(err.Error(), "\n", 2)[0]
		message = fmt.Sprintf("%s: %s", app, first)
	}

	n.sendNotification(title, message, true)
}

// NotifyRestart notifies that a hard watch session restarted
func (n *BuildNotifier) NotifyRestart(app string) {
	if !n.enabled {
		return
	}
	n.sendNotification("🌫 Wraith", fmt.Sprintf("Restarting %s", app), false)
}

func (n *BuildNotifier) sendNotification(title, message string, alert bool) {
	if err := n.send(title, message); err != nil {
		n.logger.Debug("Failed to send notification", logger.WithError(err))
	}

	if alert && n.sound {
		if err := beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration); err != nil {
			n.logger.Debug("Failed to play sound", logger.WithError(err))
		}
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
