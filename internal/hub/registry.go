package hub

import (
	"sort"
	"sync"

	"breakwatch/internal/events"
)

// Peer is one live connection as seen by the registry.
type Peer interface {
	ID() string
	// Send queues a frame without blocking; false means it was dropped.
	Send(frame []byte) bool
	Close() error
}

// Identity is the worker a connection identified as.
type Identity struct {
	WorkerID string
	Name     string
}

// WorkerChannel is the channel every connection of a worker joins on identify.
func WorkerChannel(workerID string) string { return "user:" + workerID }

// TopicChannel is the channel for an opt-in topic such as monitoring.
func TopicChannel(topic string) string { return "topic:" + topic }

// Registry tracks connections, their identities and channel membership.
type Registry interface {
	Add(p Peer)
	// Remove drops the connection and returns its identity if it had one.
	Remove(connID string) (Identity, bool)
	// Identify binds a connection to a worker and moves it to that worker's channel.
	Identify(connID string, id Identity) bool
	Identity(connID string) (Identity, bool)
	Join(connID, channel string) bool
	Leave(connID, channel string)
	All() []Peer
	Members(channel string) []Peer
	Presence() events.PresencePayload
	// Counts returns the number of open and of identified connections.
	Counts() (connections, identified int)
}

type registryEntry struct {
	peer     Peer
	identity *Identity
	channels map[string]struct{}
}

// MemoryRegistry is the in-process Registry.
type MemoryRegistry struct {
	mu       sync.RWMutex
	peers    map[string]*registryEntry
	channels map[string]map[string]Peer
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		peers:    make(map[string]*registryEntry),
		channels: make(map[string]map[string]Peer),
	}
}

func (r *MemoryRegistry) Add(p Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[p.ID()] = &registryEntry{peer: p, channels: make(map[string]struct{})}
}

func (r *MemoryRegistry) Remove(connID string) (Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.peers[connID]
	if !ok {
		return Identity{}, false
	}
	for ch := range e.channels {
		r.leaveLocked(connID, ch)
	}
	delete(r.peers, connID)

	if e.identity == nil {
		return Identity{}, false
	}
	return *e.identity, true
}

func (r *MemoryRegistry) Identify(connID string, id Identity) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.peers[connID]
	if !ok {
		return false
	}
	if e.identity != nil && e.identity.WorkerID != id.WorkerID {
		r.leaveLocked(connID, WorkerChannel(e.identity.WorkerID))
	}
	e.identity = &id
	r.joinLocked(e, WorkerChannel(id.WorkerID))
	return true
}

func (r *MemoryRegistry) Identity(connID string) (Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.peers[connID]
	if !ok || e.identity == nil {
		return Identity{}, false
	}
	return *e.identity, true
}

func (r *MemoryRegistry) Join(connID, channel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.peers[connID]
	if !ok {
		return false
	}
	r.joinLocked(e, channel)
	return true
}

func (r *MemoryRegistry) Leave(connID, channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(connID, channel)
}

func (r *MemoryRegistry) joinLocked(e *registryEntry, channel string) {
	e.channels[channel] = struct{}{}
	members, ok := r.channels[channel]
	if !ok {
		members = make(map[string]Peer)
		r.channels[channel] = members
	}
	members[e.peer.ID()] = e.peer
}

func (r *MemoryRegistry) leaveLocked(connID, channel string) {
	if e, ok := r.peers[connID]; ok {
		delete(e.channels, channel)
	}
	members, ok := r.channels[channel]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(r.channels, channel)
	}
}

func (r *MemoryRegistry) All() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Peer, 0, len(r.peers))
	for _, e := range r.peers {
		out = append(out, e.peer)
	}
	return out
}

func (r *MemoryRegistry) Members(channel string) []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.channels[channel]
	out := make([]Peer, 0, len(members))
	for _, p := range members {
		out = append(out, p)
	}
	return out
}

func (r *MemoryRegistry) Presence() events.PresencePayload {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byWorker := make(map[string]*events.PresenceEntry)
	count := 0
	for _, e := range r.peers {
		if e.identity == nil {
			continue
		}
		count++
		entry, ok := byWorker[e.identity.WorkerID]
		if !ok {
			entry = &events.PresenceEntry{WorkerID: e.identity.WorkerID, Name: e.identity.Name}
			byWorker[e.identity.WorkerID] = entry
		}
		entry.Connections++
	}

	list := make([]events.PresenceEntry, 0, len(byWorker))
	for _, entry := range byWorker {
		list = append(list, *entry)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].WorkerID < list[j].WorkerID })

	return events.PresencePayload{Count: count, List: list}
}

func (r *MemoryRegistry) Counts() (connections, identified int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.peers {
		if e.identity != nil {
			identified++
		}
	}
	return len(r.peers), identified
}
