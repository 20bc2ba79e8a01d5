package webkitgtk

import (
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"
)

type dbusPlugin interface {
	Start(conn *dbus.Conn, log zerolog.Logger) error
	Signal(*dbus.Signal)
	Stop()
}

// dbusSession owns the session bus connection and fans signals out to the
// plugins started on it.
type dbusSession struct {
	wg      sync.WaitGroup
	log     zerolog.Logger
	conn    *dbus.Conn
	signals chan *dbus.Signal
	quit    chan struct{}
	plugins []dbusPlugin
}

func newDBusSession(plugins []dbusPlugin, log zerolog.Logger) (*dbusSession, error) {
	s := &dbusSession{
		plugins: plugins,
		log:     log.With().Str("component", "dbus").Logger(),
		quit:    make(chan struct{}),
	}

	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect to session bus: %w", err)
	}
	s.conn = conn

	for _, plugin := range s.plugins {
		if err := plugin.Start(conn, s.log); err != nil {
			return nil, fmt.Errorf("start dbus plugin: %w", err)
		}
	}

	s.signals = make(chan *dbus.Signal, 10)
	conn.Signal(s.signals)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case sig, ok := <-s.signals:
				if !ok || sig == nil {
					return
				}
				s.log.Trace().Str("name", sig.Name).Str("path", string(sig.Path)).Msg("dbus signal received")
				for _, plugin := range s.plugins {
					plugin.Signal(sig)
				}
			case <-s.quit:
				return
			}
		}
	}()

	s.log.Debug().Int("plugins", len(plugins)).Msg("dbus session started")
	return s, nil
}

func (s *dbusSession) close() {
	close(s.quit)
	s.wg.Wait()
	for _, plugin := range s.plugins {
		plugin.Stop()
	}
	// the connection returned by SessionBus is shared and stays open
	s.conn.RemoveSignal(s.signals)
	s.log.Debug().Msg("dbus session stopped")
}
