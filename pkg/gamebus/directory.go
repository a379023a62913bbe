// Copyright 2024-2026 Aiku AI

package gamebus

import (
	"cmp"
	"context"
	"strings"
	"sync"

	"github.com/aiku/mattermost-ecolink/pkg/events"
)

// UserLister returns every user known to the game server.
type UserLister interface {
	Users(ctx context.Context) ([]events.User, error)
}

// Directory caches game users. It is seeded from the server and kept
// current from join, login and logout events.
type Directory struct {
	mu    sync.RWMutex
	users map[string]*events.User
}

func NewDirectory() *Directory {
	return &Directory{users: make(map[string]*events.User)}
}

// Refresh replaces the cache with the server's user list.
func (d *Directory) Refresh(ctx context.Context, lister UserLister) error {
	users, err := lister.Users(ctx)
	if err != nil {
		return err
	}
	fresh := make(map[string]*events.User, len(users))
	for _, u := range users {
		put(fresh, u)
	}
	d.mu.Lock()
	d.users = fresh
	d.mu.Unlock()
	return nil
}

func put(m map[string]*events.User, u events.User) {
	entry := &u
	if u.SlgID != "" {
		m["slg:"+u.SlgID] = entry
	}
	if u.SteamID != "" {
		m["steam:"+u.SteamID] = entry
	}
}

// HandleEvent tracks users and their online state.
func (d *Directory) HandleEvent(evt events.Event) {
	var user events.User
	online := false
	switch evt.Type {
	case events.Join:
		p, ok := events.PayloadAs[events.UserJoined](evt)
		if !ok {
			return
		}
		user, online = p.User, true
	case events.Login:
		p, ok := events.PayloadAs[events.UserLoggedIn](evt)
		if !ok {
			return
		}
		user, online = p.User, true
	case events.Logout:
		p, ok := events.PayloadAs[events.UserLoggedOut](evt)
		if !ok {
			return
		}
		user = p.User
	default:
		return
	}
	if user.SlgID == "" && user.SteamID == "" {
		return
	}
	user.Online = online

	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.lookupLocked(user.SlgID, user.SteamID); ok {
		user.Name = cmp.Or(user.Name, existing.Name)
		user.SlgID = cmp.Or(user.SlgID, existing.SlgID)
		user.SteamID = cmp.Or(user.SteamID, existing.SteamID)
	}
	put(d.users, user)
}

func (d *Directory) lookupLocked(slgID, steamID string) (*events.User, bool) {
	if slgID != "" {
		if u, ok := d.users["slg:"+slgID]; ok {
			return u, true
		}
	}
	if steamID != "" {
		if u, ok := d.users["steam:"+steamID]; ok {
			return u, true
		}
	}
	return nil, false
}

// UserByEcoID finds a user by either id.
func (d *Directory) UserByEcoID(slgID, steamID string) (events.User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.lookupLocked(slgID, steamID)
	if !ok {
		return events.User{}, false
	}
	return *u, true
}

// UserByName finds a user by name, ignoring case.
func (d *Directory) UserByName(name string) (events.User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, u := range d.users {
		if strings.EqualFold(u.Name, name) {
			return *u, true
		}
	}
	return events.User{}, false
}

// Counts returns the number of online and known users.
func (d *Directory) Counts() (online, total int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	seen := make(map[*events.User]bool, len(d.users))
	for _, u := range d.users {
		if seen[u] {
			continue
		}
		seen[u] = true
		total++
		if u.Online {
			online++
		}
	}
	return online, total
}
