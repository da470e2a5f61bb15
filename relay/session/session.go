package session

import (
	"sort"
	"time"
)

// Peer is a live connection attached to a session.
type Peer interface {
	// ID is unique per connection for the life of the process.
	ID() string
	// Send queues msg for delivery and reports whether it was accepted.
	// It must not block.
	Send(msg any) bool
	// Close ends the connection. Calling it more than once is allowed.
	Close()
}

// slot is one participant code inside a session.
type slot struct {
	fullCode    string
	suffix      string
	displayName string
	hostConnID  string
	web         Peer
}

// Session is the registry's record of one pairing. All fields are guarded by
// the owning Manager's mutex.
type Session struct {
	Key            string
	DisplayCode    string
	CreatedAt      time.Time
	LastActivityAt time.Time

	hosts map[string]Peer
	slots map[string]*slot
}

func newSession(key, displayCode string, now time.Time) *Session {
	return &Session{
		Key:            key,
		DisplayCode:    displayCode,
		CreatedAt:      now,
		LastActivityAt: now,
		hosts:          make(map[string]Peer),
		slots:          make(map[string]*slot),
	}
}

// peers returns every attached connection except the one with id exclude.
func (s *Session) peers(exclude string) []Peer {
	out := make([]Peer, 0, len(s.hosts)+len(s.slots))
	for _, p := range s.hosts {
		if p.ID() != exclude {
			out = append(out, p)
		}
	}
	for _, sl := range s.slots {
		if sl.web != nil && sl.web.ID() != exclude {
			out = append(out, sl.web)
		}
	}
	return out
}

func (s *Session) hostPeers() []Peer {
	out := make([]Peer, 0, len(s.hosts))
	for _, p := range s.hosts {
		out = append(out, p)
	}
	return out
}

func (s *Session) webPeers() []Peer {
	var out []Peer
	for _, sl := range s.slots {
		if sl.web != nil {
			out = append(out, sl.web)
		}
	}
	return out
}

func (s *Session) info() *Info {
	info := &Info{
		Key:            s.Key,
		DisplayCode:    s.DisplayCode,
		Hosts:          make([]string, 0, len(s.hosts)),
		Codes:          make([]CodeInfo, 0, len(s.slots)),
		CreatedAt:      s.CreatedAt,
		LastActivityAt: s.LastActivityAt,
	}
	for id := range s.hosts {
		info.Hosts = append(info.Hosts, id)
	}
	sort.Strings(info.Hosts)
	for _, sl := range s.slots {
		info.Codes = append(info.Codes, CodeInfo{
			FullCode:         sl.fullCode,
			DisplayName:      sl.displayName,
			HostConnectionID: sl.hostConnID,
			Claimed:          sl.web != nil,
		})
	}
	sort.Slice(info.Codes, func(i, j int) bool { return info.Codes[i].FullCode < info.Codes[j].FullCode })
	return info
}

// CodeInfo describes one participant slot.
type CodeInfo struct {
	FullCode         string `json:"full_code"`
	DisplayName      string `json:"display_name,omitempty"`
	HostConnectionID string `json:"host_connection_id"`
	Claimed          bool   `json:"claimed"`
}

// Info is a point-in-time copy of a session, safe to read without the lock.
// The session key is an ownership token and is never serialized.
type Info struct {
	Key            string     `json:"-"`
	DisplayCode    string     `json:"display_code"`
	Hosts          []string   `json:"hosts"`
	Codes          []CodeInfo `json:"codes"`
	CreatedAt      time.Time  `json:"created_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
}

// Code returns the slot for fullCode, if registered.
func (i *Info) Code(fullCode string) (CodeInfo, bool) {
	for _, c := range i.Codes {
		if c.FullCode == fullCode {
			return c, true
		}
	}
	return CodeInfo{}, false
}

// Claim is the result of a successful ClaimCode.
type Claim struct {
	Session     *Info
	FullCode    string
	DisplayName string
}

// Stats counts live registry entries.
type Stats struct {
	Sessions int `json:"sessions"`
	Hosts    int `json:"hosts"`
	Webs     int `json:"webs"`
	Codes    int `json:"codes"`
}
