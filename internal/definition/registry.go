package definition

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/halcyonix/playbook/model"
)

// snapshot is an immutable collection of all definitions indexed by ID.
type snapshot struct {
	playbooks map[string]model.Playbook
	versions  map[string]map[int]model.Playbook
	prompts   map[string]model.PromptTemplate
	checksum  string
}

// Registry is a read-optimized, thread-safe store of all loaded playbooks and
// prompt templates. It uses atomic pointer swap for lock-free concurrent
// reads; Replace installs a new set wholesale, running executions keep the
// playbook value they resolved at start.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates a Registry from the given definitions.
func NewRegistry(playbooks []model.Playbook, prompts []model.PromptTemplate) *Registry {
	r := &Registry{}
	r.Replace(playbooks, prompts)
	return r
}

// Replace atomically swaps the registry contents. When the same playbook ID
// appears at several versions the highest version wins the ID slot.
func (r *Registry) Replace(playbooks []model.Playbook, prompts []model.PromptTemplate) {
	s := &snapshot{
		playbooks: make(map[string]model.Playbook, len(playbooks)),
		versions:  make(map[string]map[int]model.Playbook, len(playbooks)),
		prompts:   make(map[string]model.PromptTemplate, len(prompts)),
	}

	var checksumParts []string
	for _, pb := range playbooks {
		if cur, ok := s.playbooks[pb.ID]; !ok || pb.Version > cur.Version {
			s.playbooks[pb.ID] = pb
		}
		if s.versions[pb.ID] == nil {
			s.versions[pb.ID] = make(map[int]model.Playbook)
		}
		s.versions[pb.ID][pb.Version] = pb
		checksumParts = append(checksumParts, pb.Checksum)
	}
	for _, p := range prompts {
		s.prompts[p.ID] = p
	}

	sort.Strings(checksumParts)
	combined := strings.Join(checksumParts, ":")
	s.checksum = fmt.Sprintf("%x", sha256.Sum256([]byte(combined)))

	r.snap.Store(s)
}

func (r *Registry) current() *snapshot {
	return r.snap.Load()
}

// GetPlaybook returns the playbook with the given ID at its latest loaded
// version.
func (r *Registry) GetPlaybook(playbookID string) (model.Playbook, bool) {
	pb, ok := r.current().playbooks[playbookID]
	return pb, ok
}

// GetPlaybookVersion returns the playbook at a specific version. Executions
// resolve their playbook through this so a reload that installs a newer
// version never changes a run already in flight.
func (r *Registry) GetPlaybookVersion(playbookID string, version int) (model.Playbook, bool) {
	pb, ok := r.current().versions[playbookID][version]
	return pb, ok
}

// GetPrompt returns the prompt template with the given ID. It satisfies the
// prompt resolution interface of the step executors.
func (r *Registry) GetPrompt(id string) (model.PromptTemplate, error) {
	p, ok := r.current().prompts[id]
	if !ok {
		return model.PromptTemplate{}, fmt.Errorf("prompt %q not found", id)
	}
	return p, nil
}

// AllPlaybooks returns all registered playbooks.
func (r *Registry) AllPlaybooks() []model.Playbook {
	s := r.current()
	pbs := make([]model.Playbook, 0, len(s.playbooks))
	for _, pb := range s.playbooks {
		pbs = append(pbs, pb)
	}
	sort.Slice(pbs, func(i, j int) bool { return pbs[i].ID < pbs[j].ID })
	return pbs
}

// Checksum returns the combined checksum of all loaded playbooks.
func (r *Registry) Checksum() string {
	return r.current().checksum
}
