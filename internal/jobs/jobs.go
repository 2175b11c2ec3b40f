// Package jobs loads scraper definitions from YAML and keeps them by id.
package jobs

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/Loopxo/khoj/pkg/models"
	"gopkg.in/yaml.v3"
)

// Job is a named, reusable extraction request
type Job struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	models.ExtractionRequest `yaml:",inline"`
}

// File is the on-disk layout. A file may also hold a single bare job.
type File struct {
	Defaults models.ExtractionOptions `yaml:"defaults"`
	Jobs     []Job                    `yaml:"jobs"`
}

// Load reads jobs from a YAML file
func Load(path string) ([]Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job file: %w", err)
	}
	jobs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return jobs, nil
}

// Parse decodes jobs, applies file-level defaults and assigns missing ids
func Parse(data []byte) ([]Job, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		// Not a jobs file; try a single job.
		var single Job
		if serr := yaml.Unmarshal(data, &single); serr != nil || single.URL == "" {
			return nil, fmt.Errorf("parse jobs: %w", err)
		}
		f = File{Jobs: []Job{single}}
	}
	if len(f.Jobs) == 0 {
		return nil, fmt.Errorf("no jobs defined")
	}

	seen := make(map[string]bool, len(f.Jobs))
	for i := range f.Jobs {
		j := &f.Jobs[i]
		if j.URL == "" {
			return nil, fmt.Errorf("job %d has no url", i+1)
		}
		if j.ID == "" {
			j.ID = Slug(j.Name)
		}
		if j.ID == "" {
			j.ID = fmt.Sprintf("job-%d", i+1)
		}
		if seen[j.ID] {
			return nil, fmt.Errorf("duplicate job id %q", j.ID)
		}
		seen[j.ID] = true
		j.Options = MergeOptions(f.Defaults, j.Options)
	}
	return f.Jobs, nil
}

// MergeOptions fills unset fields of opts from defaults
func MergeOptions(defaults, opts models.ExtractionOptions) models.ExtractionOptions {
	if opts.Engine == "" {
		opts.Engine = defaults.Engine
	}
	if opts.Proxy == nil {
		opts.Proxy = defaults.Proxy
	}
	if opts.AntiBot == nil {
		opts.AntiBot = defaults.AntiBot
	}
	if !opts.Screenshot {
		opts.Screenshot = defaults.Screenshot
	}
	if opts.Timeout == 0 {
		opts.Timeout = defaults.Timeout
	}
	if opts.MaxRetries == nil {
		opts.MaxRetries = defaults.MaxRetries
	}
	return opts
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slug turns a display name into an id
func Slug(name string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(name), "-"), "-")
}

// Registry holds jobs by id. It is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]Job
}

// NewRegistry creates a registry holding jobs
func NewRegistry(jobs ...Job) *Registry {
	r := &Registry{jobs: make(map[string]Job, len(jobs))}
	for _, j := range jobs {
		r.jobs[j.ID] = j
	}
	return r
}

// Get returns the job with id
func (r *Registry) Get(id string) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	return j, ok
}

// Put adds or replaces a job
func (r *Registry) Put(j Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[j.ID] = j
}

// List returns all jobs sorted by id
func (r *Registry) List() []Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}
