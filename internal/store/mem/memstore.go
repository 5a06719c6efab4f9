// Package mem holds an in-memory access.Store. It backs the service
// tests and is handy for local experiments; production always runs the
// Postgres store.
package mem

import (
	"context"
	"sort"
	"sync"
	"time"

	"sitewright.io/internal/access"
)

type Store struct {
	mu sync.Mutex

	groups        map[string]*access.Group
	users         map[string]*access.User
	sessions      map[string]*access.Session // by id
	verifications map[string]*access.EmailVerification
	resets        map[string]*access.PasswordReset
	questions     map[string]access.SecurityQuestion
	answers       map[string][]access.UserSecurityAnswer // by user id
	pages         map[string]*access.PageAccess
	permissions   map[string]access.PermissionDefinition
	Audit         []access.AuditEntry
}

var _ access.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		groups:        make(map[string]*access.Group),
		users:         make(map[string]*access.User),
		sessions:      make(map[string]*access.Session),
		verifications: make(map[string]*access.EmailVerification),
		resets:        make(map[string]*access.PasswordReset),
		questions:     make(map[string]access.SecurityQuestion),
		answers:       make(map[string][]access.UserSecurityAnswer),
		pages:         make(map[string]*access.PageAccess),
		permissions:   make(map[string]access.PermissionDefinition),
	}
}

// --- groups ---

func (s *Store) CreateGroup(ctx context.Context, g *access.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.groups {
		if existing.Slug == g.Slug {
			return access.ErrConflict
		}
	}
	if g.IsDefault {
		for _, existing := range s.groups {
			existing.IsDefault = false
		}
	}
	cp := *g
	s.groups[g.ID] = &cp
	return nil
}

func (s *Store) GetGroup(ctx context.Context, id string) (*access.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return nil, access.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (s *Store) GetGroupBySlug(ctx context.Context, slug string) (*access.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.groups {
		if g.Slug == slug {
			cp := *g
			return &cp, nil
		}
	}
	return nil, access.ErrNotFound
}

func (s *Store) DefaultGroup(ctx context.Context) (*access.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.groups {
		if g.IsDefault {
			cp := *g
			return &cp, nil
		}
	}
	return nil, access.ErrNotFound
}

func (s *Store) ListGroups(ctx context.Context) ([]*access.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*access.Group, 0, len(s.groups))
	for _, g := range s.groups {
		cp := *g
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].HierarchyLevel != out[j].HierarchyLevel {
			return out[i].HierarchyLevel < out[j].HierarchyLevel
		}
		return out[i].Slug < out[j].Slug
	})
	return out, nil
}

func (s *Store) UpdateGroup(ctx context.Context, g *access.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[g.ID]; !ok {
		return access.ErrNotFound
	}
	if g.IsDefault {
		for _, existing := range s.groups {
			if existing.ID != g.ID {
				existing.IsDefault = false
			}
		}
	}
	cp := *g
	s.groups[g.ID] = &cp
	return nil
}

func (s *Store) DeleteGroup(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[id]; !ok {
		return access.ErrNotFound
	}
	for _, u := range s.users {
		if u.GroupID == id {
			return access.ErrConflict
		}
	}
	delete(s.groups, id)
	return nil
}

func (s *Store) CountGroupMembers(ctx context.Context, groupID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, u := range s.users {
		if u.GroupID == groupID {
			n++
		}
	}
	return n, nil
}

// --- users ---

func (s *Store) CreateUser(ctx context.Context, u *access.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return access.ErrConflict
		}
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*access.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, access.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*access.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, access.ErrNotFound
}

func (s *Store) ListUsers(ctx context.Context) ([]*access.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*access.User, 0, len(s.users))
	for _, u := range s.users {
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (s *Store) UpdateUserStatus(ctx context.Context, userID, status string) error {
	return s.mutateUser(userID, func(u *access.User) { u.Status = status })
}

func (s *Store) UpdateUserGroup(ctx context.Context, userID, groupID string) error {
	return s.mutateUser(userID, func(u *access.User) { u.GroupID = groupID })
}

func (s *Store) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	return s.mutateUser(userID, func(u *access.User) { u.PasswordHash = passwordHash })
}

func (s *Store) UpdateUserOverrides(ctx context.Context, userID string, overrides access.PermissionMap) error {
	return s.mutateUser(userID, func(u *access.User) { u.Overrides = overrides })
}

func (s *Store) RecordLogin(ctx context.Context, userID, ip string, at time.Time) error {
	return s.mutateUser(userID, func(u *access.User) {
		t := at
		u.LastLoginAt = &t
		u.LastLoginIP = ip
	})
}

func (s *Store) mutateUser(userID string, fn func(u *access.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return access.ErrNotFound
	}
	fn(u)
	u.UpdatedAt = time.Now().UTC()
	return nil
}

// --- sessions ---

func (s *Store) CreateSession(ctx context.Context, sess *access.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sessions {
		if existing.Token == sess.Token {
			return access.ErrConflict
		}
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *Store) GetSessionByToken(ctx context.Context, token string) (*access.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.Token == token {
			cp := *sess
			return &cp, nil
		}
	}
	return nil, access.ErrNotFound
}

func (s *Store) TouchSession(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return access.ErrNotFound
	}
	sess.LastActivityAt = at
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return access.ErrNotFound
	}
	delete(s.sessions, id)
	return nil
}

func (s *Store) DeleteSessionsByUser(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, sess := range s.sessions {
		if sess.UserID == userID {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, sess := range s.sessions {
		if sess.ExpiresAt.Before(before) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

// --- verifications ---

func (s *Store) CreateVerification(ctx context.Context, v *access.EmailVerification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.verifications[v.Token]; ok {
		return access.ErrConflict
	}
	cp := *v
	s.verifications[v.Token] = &cp
	return nil
}

func (s *Store) ConsumeVerification(ctx context.Context, token string) (*access.EmailVerification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.verifications[token]
	if !ok {
		return nil, access.ErrNotFound
	}
	delete(s.verifications, token)
	cp := *v
	return &cp, nil
}

func (s *Store) DeleteExpiredVerifications(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for token, v := range s.verifications {
		if v.ExpiresAt.Before(before) {
			delete(s.verifications, token)
			n++
		}
	}
	return n, nil
}

// --- resets ---

func (s *Store) CreateReset(ctx context.Context, r *access.PasswordReset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.resets[r.Token]; ok {
		return access.ErrConflict
	}
	cp := *r
	s.resets[r.Token] = &cp
	return nil
}

func (s *Store) GetResetByToken(ctx context.Context, token string) (*access.PasswordReset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resets[token]
	if !ok {
		return nil, access.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *Store) MarkResetEmailVerified(ctx context.Context, token string) error {
	return s.mutateReset(token, func(r *access.PasswordReset) { r.EmailVerified = true })
}

func (s *Store) MarkResetQuestionsVerified(ctx context.Context, token string) error {
	return s.mutateReset(token, func(r *access.PasswordReset) { r.QuestionsVerified = true })
}

func (s *Store) mutateReset(token string, fn func(r *access.PasswordReset)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resets[token]
	if !ok {
		return access.ErrNotFound
	}
	fn(r)
	return nil
}

func (s *Store) ConsumeReset(ctx context.Context, token string) (*access.PasswordReset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resets[token]
	if !ok {
		return nil, access.ErrNotFound
	}
	delete(s.resets, token)
	cp := *r
	return &cp, nil
}

func (s *Store) DeleteResetsByUser(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for token, r := range s.resets {
		if r.UserID == userID {
			delete(s.resets, token)
			n++
		}
	}
	return n, nil
}

func (s *Store) DeleteExpiredResets(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for token, r := range s.resets {
		if r.ExpiresAt.Before(before) {
			delete(s.resets, token)
			n++
		}
	}
	return n, nil
}

// --- questions ---

func (s *Store) ListQuestions(ctx context.Context, activeOnly bool) ([]access.SecurityQuestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]access.SecurityQuestion, 0, len(s.questions))
	for _, q := range s.questions {
		if activeOnly && !q.Active {
			continue
		}
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (s *Store) EnsureQuestions(ctx context.Context, questions []access.SecurityQuestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range questions {
		if _, ok := s.questions[q.ID]; !ok {
			s.questions[q.ID] = q
		}
	}
	return nil
}

func (s *Store) SaveAnswers(ctx context.Context, userID string, answers []access.UserSecurityAnswer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers[userID] = append([]access.UserSecurityAnswer(nil), answers...)
	return nil
}

func (s *Store) AnswersForUser(ctx context.Context, userID string) ([]access.UserSecurityAnswer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]access.UserSecurityAnswer(nil), s.answers[userID]...), nil
}

// --- pages ---

func (s *Store) UpsertPage(ctx context.Context, p *access.PageAccess) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.pages[p.PageID] = &cp
	return nil
}

func (s *Store) GetPage(ctx context.Context, pageID string) (*access.PageAccess, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pages[pageID]
	if !ok {
		return nil, access.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) ListPages(ctx context.Context) ([]*access.PageAccess, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*access.PageAccess, 0, len(s.pages))
	for _, p := range s.pages {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PageID < out[j].PageID })
	return out, nil
}

func (s *Store) DeletePage(ctx context.Context, pageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pages[pageID]; !ok {
		return access.ErrNotFound
	}
	delete(s.pages, pageID)
	return nil
}

// --- permissions, audit ---

func (s *Store) EnsurePermissions(ctx context.Context, defs []access.PermissionDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, def := range defs {
		if _, ok := s.permissions[def.Key]; !ok {
			s.permissions[def.Key] = def
		}
	}
	return nil
}

func (s *Store) ListPermissions(ctx context.Context) ([]access.PermissionDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]access.PermissionDefinition, 0, len(s.permissions))
	for _, def := range s.permissions {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) AppendAudit(ctx context.Context, e *access.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Audit = append(s.Audit, *e)
	return nil
}
