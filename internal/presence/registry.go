// Package presence tracks which users are online, through which
// connections, and which communities they are following live.
//
// The registry is process local. A restart loses all presence state.
package presence

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// entry is one user's aggregate state. A user with no connections and a
// LastSeen value is a tombstone.
type entry struct {
	conns       map[string]struct{}
	communities map[string]struct{}
	lastSeen    time.Time
}

func (e *entry) online() bool { return len(e.conns) > 0 }

// Registry is safe for concurrent use, but is meant to have a single writer
// (the chat hub); readers may query it from any goroutine.
type Registry struct {
	mu    sync.RWMutex
	clock clock.Clock

	users map[string]*entry
	// community id -> users online and subscribed to it
	byCommunity map[string]map[string]struct{}
}

func NewRegistry(c clock.Clock) *Registry {
	if c == nil {
		c = clock.New()
	}
	return &Registry{
		clock:       c,
		users:       map[string]*entry{},
		byCommunity: map[string]map[string]struct{}{},
	}
}

// NormalizeCommunity trims a community id; an empty result means "no
// community".
func NormalizeCommunity(id string) string {
	return strings.TrimSpace(id)
}

// Connect adds connID to userID's connections and merges communities into
// the subscribed set. It reports whether this was the user's first open
// connection, i.e. the offline -> online edge.
func (r *Registry) Connect(userID, connID string, communities ...string) (first bool) {
	if userID == "" || connID == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.users[userID]
	if !ok {
		e = &entry{conns: map[string]struct{}{}, communities: map[string]struct{}{}}
		r.users[userID] = e
	}
	first = !e.online()
	e.conns[connID] = struct{}{}
	e.lastSeen = time.Time{}
	for _, c := range communities {
		r.subscribe(userID, e, c)
	}
	return first
}

// Disconnect removes connID. When the last connection goes, the subscribed
// communities are dropped and last-seen is stamped; the entry itself stays
// as a tombstone. Unknown users or connections are a no-op. It reports
// whether this call took the user offline.
func (r *Registry) Disconnect(userID, connID string) (last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.users[userID]
	if !ok {
		return false
	}
	if _, ok := e.conns[connID]; !ok {
		return false
	}
	delete(e.conns, connID)
	if e.online() {
		return false
	}
	for c := range e.communities {
		r.unindex(userID, c)
	}
	e.communities = map[string]struct{}{}
	e.lastSeen = r.clock.Now()
	return true
}

// JoinCommunity subscribes an online user to live updates for communityID.
// It returns false for offline users or an empty id. Offline joins are not
// remembered: subscriptions live only as long as the user's connections, so
// a user who reconnects must join again (or list the community at handshake).
func (r *Registry) JoinCommunity(userID, communityID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.users[userID]
	if !ok || !e.online() {
		return false
	}
	return r.subscribe(userID, e, communityID)
}

// LeaveCommunity drops the subscription. Online status is untouched.
func (r *Registry) LeaveCommunity(userID, communityID string) {
	communityID = NormalizeCommunity(communityID)
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.users[userID]
	if !ok {
		return
	}
	if _, ok := e.communities[communityID]; !ok {
		return
	}
	delete(e.communities, communityID)
	r.unindex(userID, communityID)
}

func (r *Registry) subscribe(userID string, e *entry, communityID string) bool {
	communityID = NormalizeCommunity(communityID)
	if communityID == "" {
		return false
	}
	e.communities[communityID] = struct{}{}
	members, ok := r.byCommunity[communityID]
	if !ok {
		members = map[string]struct{}{}
		r.byCommunity[communityID] = members
	}
	members[userID] = struct{}{}
	return true
}

func (r *Registry) unindex(userID, communityID string) {
	members, ok := r.byCommunity[communityID]
	if !ok {
		return
	}
	delete(members, userID)
	if len(members) == 0 {
		delete(r.byCommunity, communityID)
	}
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.users[userID]
	return ok && e.online()
}

func (r *Registry) IsOnlineInCommunity(userID, communityID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byCommunity[NormalizeCommunity(communityID)][userID]
	return ok
}

// ListOnline returns every online user id, sorted.
func (r *Registry) ListOnline() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.users))
	for id, e := range r.users {
		if e.online() {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// ListOnlineInCommunity returns the online users subscribed to communityID,
// sorted.
func (r *Registry) ListOnlineInCommunity(communityID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.byCommunity[NormalizeCommunity(communityID)])
}

// Connections returns the open connection ids of userID, sorted.
func (r *Registry) Connections(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.users[userID]
	if !ok {
		return nil
	}
	return sortedKeys(e.conns)
}

// Communities returns the communities userID is subscribed to, sorted.
func (r *Registry) Communities(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.users[userID]
	if !ok {
		return nil
	}
	return sortedKeys(e.communities)
}

// LastSeen returns when userID last went offline. ok is false while the
// user is online or if they were never seen.
func (r *Registry) LastSeen(userID string) (t time.Time, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, found := r.users[userID]
	if !found || e.online() || e.lastSeen.IsZero() {
		return time.Time{}, false
	}
	return e.lastSeen, true
}

// Reset drops every entry. Called at shutdown.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = map[string]*entry{}
	r.byCommunity = map[string]map[string]struct{}{}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
