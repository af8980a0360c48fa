package app

import (
	"log/slog"
	"time"

	"github.com/ent0n29/almond/internal/dbusapi"
)

// ServeDBus exports the control channel on the session bus. It returns nil
// when D-Bus is disabled.
func (b *BuildResult) ServeDBus(logger *slog.Logger) (*dbusapi.Server, error) {
	if b.Config.DBus == "off" {
		return nil, nil
	}
	conn, err := dbusapi.ConnectSessionBus()
	if err != nil {
		return nil, err
	}
	srv, err := dbusapi.Serve(conn, b.Channel, dbusapi.Config{
		CallTimeout: b.Config.AgentTimeout + 5*time.Second,
		Logger:      logger,
	})
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return srv, nil
}
