package websocket

// reconcile removes a closing connection from the registry according to the
// role it was classified with. Unclassified connections, and connections the
// registry already dropped, are no-ops.
func (h *Hub) reconcile(c *Conn) {
	switch r := c.role; r.Kind {
	case HostRole:
		if h.sessions.RemoveHost(r.SessionKey, r.HostConnID, c.ID()) {
			h.debugf("Host %s (%s) detached", r.HostConnID, c.ID())
		}
	case WebRole:
		if h.sessions.RemoveWeb(r.FullCode, c.ID()) {
			h.debugf("Web %s (%s) detached", r.FullCode, c.ID())
		}
	}
}
