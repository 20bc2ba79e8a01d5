package webkitgtk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"
)

const (
	notifierDbusObjectPath    = "/org/freedesktop/Notifications"
	notifierDbusInterfacePath = "org.freedesktop.Notifications"

	notifierCallTimeout = 5 * time.Second
)

// ErrNotificationsUnavailable is returned by Show when the application was
// started without a notification server.
var ErrNotificationsUnavailable = errors.New("webkitgtk: desktop notifications unavailable")

type notificationAction struct {
	label    string
	callback func()
}

type Notification struct {
	notifier *dbusNotify

	id        uint32
	replaceID uint32
	title     string
	message   string
	actions   []notificationAction
	onClose   []func()
	timeout   time.Duration
}

// Notify prepares a desktop notification. Nothing is sent before Show.
func (a *App) Notify(title, message string) *Notification {
	return &Notification{
		notifier: a.notifier,
		title:    title,
		message:  message,
	}
}

func (n *Notification) Timeout(timeout time.Duration) *Notification {
	n.timeout = timeout
	return n
}

func (n *Notification) Replace(id uint32) *Notification {
	n.replaceID = id
	return n
}

func (n *Notification) Action(label string, callback func()) *Notification {
	n.actions = append(n.actions, notificationAction{label: label, callback: callback})
	return n
}

func (n *Notification) Closed(callback func()) *Notification {
	n.onClose = append(n.onClose, callback)
	return n
}

// dbusNotify talks to the org.freedesktop.Notifications service.
type dbusNotify struct {
	log  zerolog.Logger
	conn *dbus.Conn

	appName string

	mu            sync.Mutex
	notifications map[uint32]*Notification

	server  string
	vendor  string
	version string
	actions bool
}

func (n *dbusNotify) Start(conn *dbus.Conn, log zerolog.Logger) error {
	n.log = log.With().Str("plugin", "notify").Logger()
	n.conn = conn
	n.notifications = make(map[uint32]*Notification)

	ctx, cancel := context.WithTimeout(context.Background(), notifierCallTimeout)
	defer cancel()
	o := conn.Object(notifierDbusInterfacePath, notifierDbusObjectPath)

	var specification string
	err := o.CallWithContext(ctx, notifierDbusInterfacePath+".GetServerInformation", 0).
		Store(&n.server, &n.vendor, &n.version, &specification)
	if err != nil {
		return fmt.Errorf("get notification server information: %w", err)
	}

	var capabilities []string
	if err := o.CallWithContext(ctx, notifierDbusInterfacePath+".GetCapabilities", 0).Store(&capabilities); err != nil {
		return fmt.Errorf("get notification server capabilities: %w", err)
	}
	for _, c := range capabilities {
		if c == "actions" {
			n.actions = true
		}
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(notifierDbusObjectPath),
		dbus.WithMatchInterface(notifierDbusInterfacePath),
	); err != nil {
		return fmt.Errorf("subscribe to notification signals: %w", err)
	}

	n.log.Debug().
		Str("server", n.server).
		Str("vendor", n.vendor).
		Str("version", n.version).
		Strs("capabilities", capabilities).
		Msg("notification server ready")
	return nil
}

// Show sends the notification and returns the id the server assigned.
func (n *Notification) Show() (uint32, error) {
	if n.notifier == nil || n.notifier.conn == nil {
		return 0, ErrNotificationsUnavailable
	}

	actions, timeout := n.request(n.notifier.actions)

	ctx, cancel := context.WithTimeout(context.Background(), notifierCallTimeout)
	defer cancel()
	err := n.notifier.conn.Object(notifierDbusInterfacePath, notifierDbusObjectPath).
		CallWithContext(ctx, notifierDbusInterfacePath+".Notify", 0,
			n.notifier.appName,
			n.replaceID,
			"",
			n.title,
			n.message,
			actions,
			map[string]dbus.Variant{},
			timeout).
		Store(&n.id)
	if err != nil {
		return 0, fmt.Errorf("show notification: %w", err)
	}

	n.notifier.mu.Lock()
	n.notifier.notifications[n.id] = n
	n.notifier.mu.Unlock()
	return n.id, nil
}

// request returns the action list and expiry passed to Notify. Servers
// without the actions capability get no actions; -1 lets the server pick
// the expiry.
func (n *Notification) request(serverActions bool) ([]string, int32) {
	timeout := int32(-1)
	if n.timeout > 0 {
		timeout = int32(n.timeout.Milliseconds())
	}
	var actions []string
	if serverActions {
		for _, v := range n.actions {
			actions = append(actions, v.label, v.label)
		}
	}
	return actions, timeout
}

func (n *dbusNotify) Signal(sig *dbus.Signal) {
	if sig.Path != notifierDbusObjectPath || len(sig.Body) < 2 {
		return
	}
	id, ok := sig.Body[0].(uint32)
	if !ok {
		return
	}

	switch sig.Name {
	case notifierDbusInterfacePath + ".NotificationClosed":
		n.mu.Lock()
		notification, found := n.notifications[id]
		delete(n.notifications, id)
		n.mu.Unlock()

		n.log.Debug().Uint32("id", id).Interface("reason", sig.Body[1]).Msg("notification closed")
		if !found {
			return
		}
		for _, onClose := range notification.onClose {
			onClose()
		}

	case notifierDbusInterfacePath + ".ActionInvoked":
		n.mu.Lock()
		notification, found := n.notifications[id]
		n.mu.Unlock()

		action, _ := sig.Body[1].(string)
		n.log.Debug().Uint32("id", id).Str("action", action).Msg("notification action invoked")
		if !found {
			return
		}
		for _, v := range notification.actions {
			if v.label == action {
				v.callback()
				return
			}
		}
	}
}

func (n *dbusNotify) Stop() {
	n.log.Debug().Msg("stopped")
}
