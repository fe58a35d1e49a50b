// Package entitymap translates between server and client entity ids.
package entitymap

import (
	"github.com/danmuck/replica/internal/entity"
	"github.com/rs/zerolog/log"
)

// Map keeps server->client and client->server tables as mutual inverses.
// Every mutation updates both sides before returning.
type Map struct {
	toClient map[entity.Entity]entity.Entity
	toServer map[entity.Entity]entity.Entity
}

func New() *Map {
	return &Map{
		toClient: make(map[entity.Entity]entity.Entity),
		toServer: make(map[entity.Entity]entity.Entity),
	}
}

// Insert maps server to client. A conflicting earlier mapping on either side
// is dropped and the new pair wins.
func (m *Map) Insert(server, client entity.Entity) {
	if prev, ok := m.toClient[server]; ok {
		if prev == client {
			log.Debug().Msgf("entitymap.Insert duplicate server=%v client=%v", server, client)
			return
		}
		log.Warn().Msgf("entitymap.Insert conflict server=%v old_client=%v new_client=%v", server, prev, client)
		delete(m.toServer, prev)
	}
	if prev, ok := m.toServer[client]; ok && prev != server {
		log.Warn().Msgf("entitymap.Insert conflict client=%v old_server=%v new_server=%v", client, prev, server)
		delete(m.toClient, prev)
	}
	m.toClient[server] = client
	m.toServer[client] = server
}

// GetOrCreate returns the client entity for server, calling spawn and
// recording the pair when none exists.
func (m *Map) GetOrCreate(server entity.Entity, spawn func() entity.Entity) entity.Entity {
	if client, ok := m.toClient[server]; ok {
		return client
	}
	client := spawn()
	m.Insert(server, client)
	return client
}

// ToClient looks up the client entity paired with server.
func (m *Map) ToClient(server entity.Entity) (entity.Entity, bool) {
	client, ok := m.toClient[server]
	return client, ok
}

// ToServer looks up the server entity paired with client.
func (m *Map) ToServer(client entity.Entity) (entity.Entity, bool) {
	server, ok := m.toServer[client]
	return server, ok
}

// RemoveByServer drops the pair keyed by server and returns its client side.
func (m *Map) RemoveByServer(server entity.Entity) (entity.Entity, bool) {
	client, ok := m.toClient[server]
	if !ok {
		return entity.Entity{}, false
	}
	delete(m.toClient, server)
	delete(m.toServer, client)
	return client, true
}

// RemoveByClient drops the pair keyed by client and returns its server side.
func (m *Map) RemoveByClient(client entity.Entity) (entity.Entity, bool) {
	server, ok := m.toServer[client]
	if !ok {
		return entity.Entity{}, false
	}
	delete(m.toServer, client)
	delete(m.toClient, server)
	return server, true
}

// Range calls fn for each pair until fn returns false. Order is unspecified.
func (m *Map) Range(fn func(server, client entity.Entity) bool) {
	for server, client := range m.toClient {
		if !fn(server, client) {
			return
		}
	}
}

func (m *Map) Len() int {
	return len(m.toClient)
}

// Clear drops every pair without despawning anything.
func (m *Map) Clear() {
	clear(m.toClient)
	clear(m.toServer)
}
