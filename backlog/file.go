package backlog

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// TasksFileName is the default backlog file inside the run root.
const TasksFileName = "tasks.yaml"

// tasksFile is the on-disk shape of the backlog.
type tasksFile struct {
	Tasks []WorkItem `yaml:"tasks"`
}

// FileProvider is a Provider backed by a single YAML file.
// Writes rewrite the whole file; reads always come from disk so external
// edits between calls are picked up.
type FileProvider struct {
	mu   sync.Mutex
	path string
}

// NewFileProvider returns a provider for the backlog file at path.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path}
}

// Capability reports whether the backlog file exists and parses.
func (p *FileProvider) Capability() Capability {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.load(); err != nil {
		return Capability{Available: false, Source: p.path}
	}
	return Capability{Available: true, Source: p.path}
}

// ListWorkItems returns items in the given state, or all items when state is empty.
func (p *FileProvider) ListWorkItems(state State) ([]WorkItem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tf, err := p.load()
	if err != nil {
		return nil, err
	}

	if state == "" {
		return tf.Tasks, nil
	}

	items := make([]WorkItem, 0, len(tf.Tasks))
	for _, item := range tf.Tasks {
		if item.State == state {
			items = append(items, item)
		}
	}
	return items, nil
}

// MoveItem transitions the item with the given id to newState and rewrites the file.
func (p *FileProvider) MoveItem(id string, newState State) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	tf, err := p.load()
	if err != nil {
		return err
	}

	found := false
	for i := range tf.Tasks {
		if tf.Tasks[i].ID == id {
			tf.Tasks[i].State = newState
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("work item %q not found in %s", id, p.path)
	}

	return p.save(tf)
}

func (p *FileProvider) load() (*tasksFile, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read backlog file: %w", err)
	}

	var tf tasksFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("failed to parse backlog file %s: %w", p.path, err)
	}
	return &tf, nil
}

func (p *FileProvider) save(tf *tasksFile) error {
	data, err := yaml.Marshal(tf)
	if err != nil {
		return fmt.Errorf("failed to marshal backlog: %w", err)
	}
	return os.WriteFile(p.path, data, 0644)
}
