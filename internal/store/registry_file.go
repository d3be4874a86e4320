package store

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileRegistryStore persists the known-identity set and group membership
// snapshots as flat files in the data directory.
type FileRegistryStore struct {
	usersPath  string
	groupsPath string

	usersMu  sync.Mutex
	groupsMu sync.Mutex
}

// NewFileRegistryStore creates the data directory if needed.
func NewFileRegistryStore(dir string) (*FileRegistryStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &FileRegistryStore{
		usersPath:  filepath.Join(dir, "users.txt"),
		groupsPath: filepath.Join(dir, "groups.txt"),
	}, nil
}

// SaveIdentities writes the full identity snapshot, one per line.
func (s *FileRegistryStore) SaveIdentities(identities []string) error {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()

	var b strings.Builder
	for _, id := range identities {
		b.WriteString(id)
		b.WriteByte('\n')
	}
	if err := writeFileAtomic(s.usersPath, []byte(b.String())); err != nil {
		return fmt.Errorf("save identities: %w", err)
	}
	return nil
}

// LoadIdentities reads the identity snapshot. A missing file is an empty
// set, not an error.
func (s *FileRegistryStore) LoadIdentities() ([]string, error) {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()

	f, err := os.Open(s.usersPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("load identities: %w", err)
	}
	defer f.Close()

	var identities []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		identities = append(identities, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("load identities: %w", err)
	}
	return identities, nil
}

// SaveGroups writes the full membership snapshot as "name:m1,m2" lines.
func (s *FileRegistryStore) SaveGroups(groups map[string][]string) error {
	s.groupsMu.Lock()
	defer s.groupsMu.Unlock()

	var b strings.Builder
	for name, members := range groups {
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(strings.Join(members, ","))
		b.WriteByte('\n')
	}
	if err := writeFileAtomic(s.groupsPath, []byte(b.String())); err != nil {
		return fmt.Errorf("save groups: %w", err)
	}
	return nil
}

// LoadGroups reads the membership snapshot.
func (s *FileRegistryStore) LoadGroups() (map[string][]string, error) {
	s.groupsMu.Lock()
	defer s.groupsMu.Unlock()

	groups := make(map[string][]string)

	f, err := os.Open(s.groupsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return groups, nil
		}
		return nil, fmt.Errorf("load groups: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		name, memberList, found := strings.Cut(scanner.Text(), ":")
		if !found {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		var members []string
		for _, m := range strings.Split(memberList, ",") {
			if m = strings.TrimSpace(m); m != "" {
				members = append(members, m)
			}
		}
		// A group with no members is still a group.
		groups[name] = members
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("load groups: %w", err)
	}
	return groups, nil
}

// writeFileAtomic writes via a temp file and rename so a crash never
// leaves a torn snapshot.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
