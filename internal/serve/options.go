package serve

import (
	"net"

	"github.com/angeloszaimis/devserve/internal/httpserver"
)

// Option configures a System.
type Option func(*System)

// WithWatcher replaces the file watcher.
func WithWatcher(f WatcherFactory) Option {
	return func(s *System) {
		s.newWatcher = f
	}
}

// WithListener serves on l instead of binding the configured address.
func WithListener(l net.Listener) Option {
	return func(s *System) {
		s.listener = l
	}
}

// WithBrowser replaces the function that opens the display address.
func WithBrowser(open func(url string) error) Option {
	return func(s *System) {
		s.openBrowser = open
	}
}

// WithInterfaceAddrs replaces interface enumeration for the listening log.
func WithInterfaceAddrs(f httpserver.InterfaceAddrsFunc) Option {
	return func(s *System) {
		s.interfaceAddrs = f
	}
}
