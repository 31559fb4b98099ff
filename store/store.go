// Package store keeps the durable deployment records. All access goes
// through a single mutex and every write snapshots the full map to a
// JSON file so a restarted process picks up where it left off.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Deployment statuses. complete, failed and stopped are terminal.
const (
	StatusDeploying = "deploying"
	StatusRunning   = "running"
	StatusComplete  = "complete"
	StatusFailed    = "failed"
	StatusStopped   = "stopped"
)

var ErrNotFound = errors.New("deployment not found")

// Container is one row of `docker compose ps` as tracked on a record.
type Container struct {
	Name   string `json:"name"`
	Image  string `json:"image,omitempty"`
	State  string `json:"state"`
	Status string `json:"status,omitempty"`
}

// Deployment is the persistent record of one deployment. Owner is
// immutable after Add.
type Deployment struct {
	ID            string            `json:"id"`
	Owner         string            `json:"address"`
	AppID         string            `json:"app_id"`
	AppName       string            `json:"app_name"`
	SSHHost       string            `json:"ssh_host"`
	SSHPort       int               `json:"ssh_port"`
	SSHUser       string            `json:"ssh_user,omitempty"`
	InstanceHash  string            `json:"instance_hash,omitempty"`
	Status        string            `json:"status"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	PublicURL     *string           `json:"public_url"`
	Containers    []Container       `json:"containers,omitempty"`
	LastError     *string           `json:"error,omitempty"`
	Warning       *string           `json:"warning,omitempty"`
	TunnelStatus  string            `json:"tunnel_status,omitempty"`
	Passwords     map[string]string `json:"generated_passwords,omitempty"`
	PasswordsSeen bool              `json:"passwords_disclosed,omitempty"`
}

// Fields is a partial update applied by Update. Nil members are left
// untouched.
type Fields struct {
	Status        *string
	PublicURL     *string
	Containers    []Container
	LastError     *string
	Warning       *string
	TunnelStatus  *string
	Passwords     map[string]string
	PasswordsSeen *bool
}

// Store is the deployment registry with snapshot-on-write persistence.
type Store struct {
	mu          sync.Mutex
	deployments map[string]*Deployment
	path        string
	now         func() time.Time
}

// Open loads the snapshot at path, starting empty when the file is
// missing or unreadable. An empty path disables persistence.
func Open(path string) *Store {
	s := &Store{
		deployments: make(map[string]*Deployment),
		path:        path,
		now:         time.Now,
	}
	if path == "" {
		return s
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logrus.WithError(err).WithField("path", path).Warn("could not read deployment snapshot, starting empty")
		}
		return s
	}
	if err := json.Unmarshal(data, &s.deployments); err != nil {
		logrus.WithError(err).WithField("path", path).Warn("corrupt deployment snapshot, starting empty")
		s.deployments = make(map[string]*Deployment)
	}
	return s
}

// Add inserts a new record. The id must not already exist.
func (s *Store) Add(d Deployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.deployments[d.ID]; exists {
		return fmt.Errorf("deployment %s already exists", d.ID)
	}
	now := s.now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now
	if d.Status == "" {
		d.Status = StatusDeploying
	}
	s.deployments[d.ID] = &d
	return s.snapshotLocked()
}

// Update applies the non-nil members of f to the record and bumps
// updated_at.
func (s *Store) Update(id string, f Fields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deployments[id]
	if !ok {
		return ErrNotFound
	}
	if f.Status != nil {
		d.Status = *f.Status
	}
	if f.PublicURL != nil {
		d.PublicURL = f.PublicURL
	}
	if f.Containers != nil {
		d.Containers = f.Containers
	}
	if f.LastError != nil {
		d.LastError = f.LastError
	}
	if f.Warning != nil {
		d.Warning = f.Warning
	}
	if f.TunnelStatus != nil {
		d.TunnelStatus = *f.TunnelStatus
	}
	if f.Passwords != nil {
		d.Passwords = f.Passwords
	}
	if f.PasswordsSeen != nil {
		d.PasswordsSeen = *f.PasswordsSeen
	}
	d.UpdatedAt = s.now().UTC()
	return s.snapshotLocked()
}

// TakePasswords hands the generated passwords to exactly one caller:
// the record's passwords are returned, cleared, and marked disclosed
// under the same lock, so every later call gets nil no matter how the
// callers interleave.
func (s *Store) TakePasswords(id string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deployments[id]
	if !ok {
		return nil, ErrNotFound
	}
	if len(d.Passwords) == 0 || d.PasswordsSeen {
		return nil, nil
	}
	passwords := d.Passwords
	d.Passwords = nil
	d.PasswordsSeen = true
	d.UpdatedAt = s.now().UTC()
	return passwords, s.snapshotLocked()
}

// Get returns a copy of the record.
func (s *Store) Get(id string) (Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deployments[id]
	if !ok {
		return Deployment{}, ErrNotFound
	}
	return *d, nil
}

// ListByOwner returns the owner's records, newest first.
func (s *Store) ListByOwner(owner string) []Deployment {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Deployment
	for _, d := range s.deployments {
		if d.Owner == owner {
			out = append(out, *d)
		}
	}
	sortNewestFirst(out)
	return out
}

// ListAll returns every record, newest first.
func (s *Store) ListAll() []Deployment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Deployment, 0, len(s.deployments))
	for _, d := range s.deployments {
		out = append(out, *d)
	}
	sortNewestFirst(out)
	return out
}

// Remove deletes the record. Removing an unknown id is not an error.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deployments[id]; !ok {
		return nil
	}
	delete(s.deployments, id)
	return s.snapshotLocked()
}

func sortNewestFirst(ds []Deployment) {
	sort.Slice(ds, func(i, j int) bool {
		if ds[i].CreatedAt.Equal(ds[j].CreatedAt) {
			return ds[i].ID > ds[j].ID
		}
		return ds[i].CreatedAt.After(ds[j].CreatedAt)
	})
}

// snapshotLocked writes the whole map to a sibling temp file and
// renames it over the target so readers never see a torn file.
func (s *Store) snapshotLocked() error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.deployments, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}
