package discovery

import (
	"net"
	"sync"
	"time"

	"github.com/capydeploy/capydeploy/pkg/protocol"
)

// manualTTL is a freshness window for manually-added agents. Directory
// does not apply it: manual entries never expire and stay until
// RemoveManual. Manual entries never arrive via mDNS, so only AddManual
// and Touch refresh their LastSeen.
const manualTTL = 10 * time.Minute

// Directory is the Hub-side view of known agents: it merges agents found
// through a Client's mDNS browsing with agents added by host:port that
// mDNS will never see (different subnet, multicast blocked by network
// policy, and so on). Both sources emit through the same Events channel.
type Directory struct {
	mu     sync.RWMutex
	client *Client
	manual map[string]*DiscoveredAgent

	eventsCh chan DiscoveryEvent
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewDirectory wraps a discovery Client, merging its events with manually
// added agents.
func NewDirectory(client *Client) *Directory {
	d := &Directory{
		client:   client,
		manual:   make(map[string]*DiscoveredAgent),
		eventsCh: make(chan DiscoveryEvent, 16),
		stopCh:   make(chan struct{}),
	}
	go d.relayClientEvents()
	return d
}

func (d *Directory) relayClientEvents() {
	for {
		select {
		case ev, ok := <-d.client.Events():
			if !ok {
				return
			}
			d.emit(ev)
		case <-d.stopCh:
			return
		}
	}
}

func (d *Directory) emit(ev DiscoveryEvent) {
	select {
	case d.eventsCh <- ev:
	default:
	}
}

// Events returns the merged discovery event channel.
func (d *Directory) Events() <-chan DiscoveryEvent {
	return d.eventsCh
}

// AddManual registers an agent at a fixed host:port, bypassing mDNS. This
// is how a Hub reaches an agent that discovery cannot see, such as one on
// a different subnet or behind a multicast-filtering switch. Calling this
// again for an ID already known refreshes LastSeen instead of duplicating
// the entry.
func (d *Directory) AddManual(info protocol.AgentInfo, host string, port int) *DiscoveredAgent {
	now := time.Now()

	d.mu.Lock()
	existing, ok := d.manual[info.ID]
	if ok {
		existing.Info = info
		existing.Host = host
		existing.Port = port
		existing.LastSeen = now
		d.mu.Unlock()
		d.emit(DiscoveryEvent{Type: EventUpdated, Agent: existing})
		return existing
	}

	agent := &DiscoveredAgent{
		Info:         info,
		Host:         host,
		Port:         port,
		IPs:          resolveHostIPs(host),
		DiscoveredAt: now,
		LastSeen:     now,
	}
	d.manual[info.ID] = agent
	d.mu.Unlock()

	d.emit(DiscoveryEvent{Type: EventDiscovered, Agent: agent})
	return agent
}

// RemoveManual drops a manually added agent.
func (d *Directory) RemoveManual(id string) {
	d.mu.Lock()
	agent, ok := d.manual[id]
	if ok {
		delete(d.manual, id)
	}
	d.mu.Unlock()

	if ok {
		d.emit(DiscoveryEvent{Type: EventLost, Agent: agent})
	}
}

// Touch refreshes a manual agent's LastSeen, keeping it from appearing
// stale to callers that check IsStale on it themselves.
func (d *Directory) Touch(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if agent, ok := d.manual[id]; ok {
		agent.LastSeen = time.Now()
	}
}

// Agents returns every known agent, mDNS-discovered and manual combined.
func (d *Directory) Agents() []*DiscoveredAgent {
	agents := d.client.GetAgents()

	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, a := range d.manual {
		agents = append(agents, a)
	}
	return agents
}

// Agent returns a known agent by ID, checking manual entries first since
// they are cheaper to look up and a Hub operator's explicit add should win
// over a stale mDNS record sharing the same ID.
func (d *Directory) Agent(id string) *DiscoveredAgent {
	d.mu.RLock()
	agent, ok := d.manual[id]
	d.mu.RUnlock()
	if ok {
		return agent
	}
	return d.client.GetAgent(id)
}

// Close stops relaying events and releases the merged channel. It does not
// close the underlying Client.
func (d *Directory) Close() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
	})
}

// resolveHostIPs best-effort resolves a hostname to IPs so Address() can
// prefer an IP over a raw hostname, matching how mDNS-discovered agents
// are represented. A failed lookup just leaves IPs empty; DiscoveredAgent
// already falls back to Host in that case.
func resolveHostIPs(host string) []net.IP {
	ips, err := net.LookupIP(host)
	if err != nil {
		return nil
	}
	return ips
}
