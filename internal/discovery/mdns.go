// ABOUTME: mDNS service discovery for the soundboard remote server
// ABOUTME: Advertises _soundboard._tcp and browses for it from remote clients
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/Resonate-Protocol/soundboard-go/internal/protocol"
	"github.com/charmbracelet/log"
	"github.com/hashicorp/mdns"
)

// ServiceType is the DNS-SD service type of a soundboard server
const ServiceType = "_soundboard._tcp"

// ErrNotFound is returned by Find when no server answered in time
var ErrNotFound = errors.New("no soundboard server found")

// Config holds discovery configuration
type Config struct {
	ServiceName string
	Port        int

	// QueryTimeout bounds a single browse query
	QueryTimeout time.Duration
}

// Manager handles mDNS operations
type Manager struct {
	config  Config
	ctx     context.Context
	cancel  context.CancelFunc
	servers chan *ServerInfo
	logger  *log.Logger

	mu     sync.Mutex
	server *mdns.Server
	wg     sync.WaitGroup
}

// ServerInfo describes a discovered server
type ServerInfo struct {
	Name    string
	Host    string
	Port    int
	Path    string
	Version string
}

// Addr returns host:port of the server
func (s *ServerInfo) Addr() string {
	return net.JoinHostPort(s.Host, fmt.Sprint(s.Port))
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	if config.QueryTimeout <= 0 {
		config.QueryTimeout = 3 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
		servers: make(chan *ServerInfo, 10),
		logger:  log.WithPrefix("mdns"),
	}
}

// Advertise advertises this server via mDNS until Stop is called
func (m *Manager) Advertise() error {
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		m.config.ServiceName,
		ServiceType,
		"",
		"",
		m.config.Port,
		ips,
		txtRecords(),
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	m.mu.Lock()
	m.server = server
	m.mu.Unlock()

	m.logger.Info("Advertising mDNS service", "name", m.config.ServiceName, "port", m.config.Port, "type", ServiceType)
	return nil
}

func txtRecords() []string {
	return []string{
		"path=" + protocol.Path,
		fmt.Sprintf("version=%d", protocol.Version),
	}
}

// Browse searches for soundboard servers in the background; results arrive on Servers()
func (m *Manager) Browse() error {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.browseLoop()
	}()
	return nil
}

// browseLoop continuously browses for servers
func (m *Manager) browseLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		for _, server := range m.query() {
			m.logger.Debug("Discovered server", "name", server.Name, "addr", server.Addr())
			select {
			case m.servers <- server:
			case <-m.ctx.Done():
				return
			}
		}
	}
}

// query runs one browse query and collects the answers
func (m *Manager) query() []*ServerInfo {
	entries := make(chan *mdns.ServiceEntry, 10)
	var found []*ServerInfo

	done := make(chan struct{})
	go func() {
		defer close(done)
		for entry := range entries {
			if server := serverFromEntry(entry); server != nil {
				found = append(found, server)
			}
		}
	}()

	params := &mdns.QueryParam{
		Service: ServiceType,
		Domain:  "local",
		Timeout: m.config.QueryTimeout,
		Entries: entries,
	}
	if err := mdns.Query(params); err != nil {
		m.logger.Warn("mDNS query failed", "err", err)
	}
	close(entries)
	<-done

	return found
}

// Find returns the first server that answers within the query timeout
func (m *Manager) Find(ctx context.Context) (*ServerInfo, error) {
	result := make(chan []*ServerInfo, 1)
	go func() { result <- m.query() }()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case servers := <-result:
		if len(servers) == 0 {
			return nil, ErrNotFound
		}
		return servers[0], nil
	}
}

// serverFromEntry converts a service entry, ignoring ones without an address
func serverFromEntry(entry *mdns.ServiceEntry) *ServerInfo {
	if entry == nil || !strings.Contains(entry.Name, ServiceType) {
		return nil
	}

	var host string
	switch {
	case entry.AddrV4 != nil:
		host = entry.AddrV4.String()
	case entry.AddrV6 != nil:
		host = entry.AddrV6.String()
	default:
		return nil
	}

	server := &ServerInfo{
		Name: strings.TrimSuffix(entry.Name, "."+ServiceType+".local."),
		Host: host,
		Port: entry.Port,
		Path: protocol.Path,
	}
	for _, field := range entry.InfoFields {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch key {
		case "path":
			server.Path = value
		case "version":
			server.Version = value
		}
	}
	return server
}

// Servers returns the channel of discovered servers
func (m *Manager) Servers() <-chan *ServerInfo {
	return m.servers
}

// Stop stops advertising and browsing
func (m *Manager) Stop() {
	m.cancel()

	m.mu.Lock()
	server := m.server
	m.server = nil
	m.mu.Unlock()

	if server != nil {
		if err := server.Shutdown(); err != nil {
			m.logger.Warn("mDNS shutdown failed", "err", err)
		}
	}
	m.wg.Wait()
}

// getLocalIPs returns local IP addresses
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
