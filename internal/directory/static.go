package directory

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Static serves agents from memory, usually seeded from a YAML file.
type Static struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

type seedFile struct {
	Agents []Agent `yaml:"agents"`
}

// NewStatic builds a directory holding agents.
func NewStatic(agents ...Agent) *Static {
	s := &Static{agents: make(map[string]Agent, len(agents))}
	for _, a := range agents {
		s.Put(a)
	}
	return s
}

// LoadStatic reads a seed file of the form `agents: [{account, name, active}]`.
func LoadStatic(path string) (*Static, error) {
	if path == "" {
		return NewStatic(), nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agent seed file: %w", err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(content, &seed); err != nil {
		return nil, fmt.Errorf("parse agent seed file: %w", err)
	}
	return NewStatic(seed.Agents...), nil
}

// Put inserts or replaces an agent.
func (s *Static) Put(agent Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[normalize(agent.Account)] = agent
}

// GetAgent implements Directory.
func (s *Static) GetAgent(_ context.Context, account string) (Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agent, ok := s.agents[normalize(account)]
	if !ok {
		return Agent{}, notFound(account)
	}
	return agent, nil
}
