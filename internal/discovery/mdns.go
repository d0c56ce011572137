// Package discovery advertises the node's HTTP API on the local network so
// panels and scripts can find it without a configured address.
package discovery

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/enbility/zeroconf/v3"
)

const (
	// ServiceType is the DNS-SD service type of the HTTP API.
	ServiceType = "_meshctl._tcp"
	// Domain is the mDNS domain services are registered in.
	Domain = "local."

	maxInstanceNameLen = 63
)

// Info describes the advertised service.
type Info struct {
	Instance    string // DNS-SD instance name, e.g. "Light CTL Client"
	Port        int
	Version     string
	OwnAddr     uint16
	LowPower    bool
	Provisioned bool
}

// TXT returns the TXT records published with the service.
func (i Info) TXT() []string {
	return []string{
		"version=" + i.Version,
		fmt.Sprintf("addr=%04X", i.OwnAddr),
		"lp=" + boolFlag(i.LowPower),
		"prov=" + boolFlag(i.Provisioned),
	}
}

func boolFlag(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

// ListenPort extracts the port from a listen address such as ":8080" or
// "127.0.0.1:8080".
func ListenPort(listen string) (int, error) {
	_, p, err := net.SplitHostPort(listen)
	if err != nil {
		return 0, fmt.Errorf("discovery: listen address %q: %w", listen, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("discovery: listen address %q: invalid port", listen)
	}
	return port, nil
}

// Advertiser publishes one service over mDNS.
type Advertiser struct {
	iface  string
	logger *slog.Logger

	mu     sync.Mutex
	server *zeroconf.Server
}

// NewAdvertiser creates an advertiser bound to iface, or to every interface
// when iface is empty.
func NewAdvertiser(iface string, logger *slog.Logger) *Advertiser {
	return &Advertiser{iface: iface, logger: logger.With("component", "mdns")}
}

func (a *Advertiser) interfaces() ([]net.Interface, error) {
	if a.iface == "" {
		return nil, nil
	}
	iface, err := net.InterfaceByName(a.iface)
	if err != nil {
		return nil, fmt.Errorf("discovery: interface %s: %w", a.iface, err)
	}
	return []net.Interface{*iface}, nil
}

// Advertise registers the service, replacing any previous registration.
func (a *Advertiser) Advertise(info Info) error {
	ifaces, err := a.interfaces()
	if err != nil {
		return err
	}
	name := info.Instance
	if len(name) > maxInstanceNameLen {
		name = name[:maxInstanceNameLen]
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.shutdownLocked()

	server, err := zeroconf.Register(name, ServiceType, Domain, info.Port, info.TXT(), ifaces)
	if err != nil {
		return fmt.Errorf("discovery: register %s: %w", ServiceType, err)
	}
	a.server = server
	a.logger.Info("mdns service registered", "instance", name, "type", ServiceType, "port", info.Port)
	return nil
}

// Stop withdraws the service. Safe to call when nothing is registered.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.shutdownLocked()
}

func (a *Advertiser) shutdownLocked() {
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}
