package authclient

import (
	"encoding/json"
	"errors"
	"sync"
)

// Profile is the cached account profile held with the session.
type Profile struct {
	UID         string `json:"uid"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	PhotoURL    string `json:"photoUrl"`
	RememberMe  bool   `json:"rememberMe"`
}

// Snapshot is a point-in-time copy of the session.
type Snapshot struct {
	AccessToken  string
	RefreshToken string
	Profile      *Profile
	Durable      bool
}

func (s Snapshot) Authenticated() bool {
	return s.AccessToken != "" && s.RefreshToken != ""
}

// Session is the client's view of the signed-in user. The session lives in
// exactly one of two scopes: durable (remember me) or ephemeral. Only the
// Gateway writes it; everyone else reads.
type Session struct {
	mu        sync.RWMutex
	durable   Storage
	ephemeral Storage
	cur       Snapshot
}

func NewSession(durable, ephemeral Storage) *Session {
	return &Session{durable: durable, ephemeral: ephemeral}
}

// Restore loads a session saved by an earlier run. A scope holding only part
// of a session is wiped.
func (s *Session) Restore() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur = Snapshot{}
	var errs []error
	for _, sc := range []struct {
		store   Storage
		durable bool
	}{{s.durable, true}, {s.ephemeral, false}} {
		snap, ok := load(sc.store)
		if !ok {
			if err := sc.store.Remove(sessionKeys...); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if s.cur.Authenticated() {
			// a session already came from the durable scope
			errs = append(errs, sc.store.Remove(sessionKeys...))
			continue
		}
		snap.Durable = sc.durable
		s.cur = snap
	}
	return errors.Join(errs...)
}

func load(st Storage) (Snapshot, bool) {
	jwt, ok1 := st.Get(KeyJWT)
	refresh, ok2 := st.Get(KeyRefresh)
	raw, ok3 := st.Get(KeyUser)
	if !ok1 || !ok2 || !ok3 || jwt == "" || refresh == "" {
		return Snapshot{}, false
	}
	var p Profile
	if err := json.Unmarshal([]byte(raw), &p); err != nil || p.UID == "" {
		return Snapshot{}, false
	}
	return Snapshot{AccessToken: jwt, RefreshToken: refresh, Profile: &p}, true
}

func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.cur
	if out.Profile != nil {
		p := *out.Profile
		out.Profile = &p
	}
	return out
}

func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.AccessToken
}

func (s *Session) refreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.RefreshToken
}

func (s *Session) Authenticated() bool {
	return s.Snapshot().Authenticated()
}

// Theme is a UI preference kept in durable storage.
func (s *Session) Theme() string {
	v, _ := s.durable.Get(KeyTheme)
	return v
}

func (s *Session) SetTheme(theme string) error {
	return s.durable.Set(KeyTheme, theme)
}

func (s *Session) scopes(durable bool) (target, other Storage) {
	if durable {
		return s.durable, s.ephemeral
	}
	return s.ephemeral, s.durable
}

// establish stores a fresh session in the scope chosen by p.RememberMe and
// empties the other scope.
func (s *Session) establish(access, refresh string, p Profile) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	target, other := s.scopes(p.RememberMe)
	if err := other.Remove(sessionKeys...); err != nil {
		return err
	}
	if err := writeAll(target, map[string]string{KeyJWT: access, KeyRefresh: refresh, KeyUser: string(raw)}); err != nil {
		_ = target.Remove(sessionKeys...)
		s.cur = Snapshot{}
		return err
	}
	s.cur = Snapshot{AccessToken: access, RefreshToken: refresh, Profile: &p, Durable: p.RememberMe}
	return nil
}

// rotate replaces the token pair in whichever scope holds the session.
func (s *Session) rotate(access, refresh string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, _ := s.scopes(s.cur.Durable)
	if err := writeAll(target, map[string]string{KeyJWT: access, KeyRefresh: refresh}); err != nil {
		return err
	}
	s.cur.AccessToken = access
	s.cur.RefreshToken = refresh
	return nil
}

// clear removes the session from both scopes. Theme is kept.
func (s *Session) clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur = Snapshot{}
	return errors.Join(s.durable.Remove(sessionKeys...), s.ephemeral.Remove(sessionKeys...))
}

func writeAll(st Storage, kv map[string]string) error {
	for _, k := range sessionKeys {
		v, ok := kv[k]
		if !ok {
			continue
		}
		if err := st.Set(k, v); err != nil {
			return err
		}
	}
	return nil
}
