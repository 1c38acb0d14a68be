// Package discovery advertises the control API on the local network over
// mDNS so companion clients can find the daemon without configuration.
package discovery

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/hashicorp/mdns"
)

// ServiceType is the DNS-SD service type of the control API.
const ServiceType = "_parley._tcp"

// Config describes the advertised instance.
type Config struct {
	// Instance is the instance name, e.g. "parley" or "kitchen".
	Instance string

	// Port is the TCP port of the control API.
	Port int

	// IPs are the addresses to advertise. Empty means every non-loopback
	// IPv4 address of an interface that is up.
	IPs []net.IP

	// Version is published in the TXT record.
	Version string
}

// Advertiser publishes one mDNS service until Close.
type Advertiser struct {
	server *mdns.Server
	cfg    Config
}

// Advertise starts answering mDNS queries for cfg.
func Advertise(cfg Config) (*Advertiser, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("discovery: invalid port %d", cfg.Port)
	}
	ips := cfg.IPs
	if len(ips) == 0 {
		var err error
		if ips, err = localIPv4(); err != nil {
			return nil, fmt.Errorf("discovery: list local addresses: %w", err)
		}
	}

	svc, err := mdns.NewMDNSService(cfg.Instance, ServiceType, "", "", cfg.Port, ips, txtRecords(cfg))
	if err != nil {
		return nil, fmt.Errorf("discovery: create service: %w", err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: svc})
	if err != nil {
		return nil, fmt.Errorf("discovery: start mdns server: %w", err)
	}

	slog.Info("discovery: advertising control api",
		"instance", cfg.Instance,
		"service", ServiceType,
		"port", cfg.Port,
		"ips", len(ips),
	)
	return &Advertiser{server: server, cfg: cfg}, nil
}

// Close stops answering queries.
func (a *Advertiser) Close() error {
	if err := a.server.Shutdown(); err != nil {
		return fmt.Errorf("discovery: shutdown: %w", err)
	}
	slog.Debug("discovery: advertisement withdrawn", "instance", a.cfg.Instance)
	return nil
}

func txtRecords(cfg Config) []string {
	txt := []string{"path=/v1/session"}
	if cfg.Version != "" {
		txt = append(txt, "version="+cfg.Version)
	}
	return txt
}

// PortFromAddr extracts the port of a listen address such as ":8080" or
// "127.0.0.1:9000".
func PortFromAddr(addr string) (int, error) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("discovery: parse listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("discovery: invalid port in %q", addr)
	}
	return port, nil
}

// localIPv4 returns the IPv4 addresses of up, non-loopback interfaces.
func localIPv4() ([]net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	var ips []net.IP
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.To4() != nil && !ipnet.IP.IsLoopback() {
				ips = append(ips, ipnet.IP)
			}
		}
	}
	return ips, nil
}
