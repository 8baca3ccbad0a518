package chain

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dsa110/taskq/pkg/queue"
)

// Catalog resolves chains by name. Definitions saved in the repository take
// precedence over locally registered ones (built-ins and YAML files), so
// operators can redefine a built-in without a redeploy.
type Catalog struct {
	mu    sync.RWMutex
	local map[string]Chain
	repo  queue.ChainRepository
	now   func() time.Time
}

// NewCatalog returns a catalog preloaded with Builtins. repo may be nil.
func NewCatalog(repo queue.ChainRepository) *Catalog {
	c := &Catalog{
		local: make(map[string]Chain),
		repo:  repo,
		now:   time.Now,
	}
	for _, b := range Builtins() {
		c.local[b.Name] = b
	}
	return c
}

// Register adds or replaces a local chain.
func (c *Catalog) Register(ch Chain) error {
	if err := ch.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.local[ch.Name] = ch
	return nil
}

// Get returns the named chain or ErrChainNotFound.
func (c *Catalog) Get(ctx context.Context, name string) (Chain, error) {
	if c.repo != nil {
		def, err := c.repo.GetChain(ctx, name)
		switch {
		case err == nil:
			return FromDefinition(*def), nil
		case !errors.Is(err, queue.ErrChainNotFound):
			return Chain{}, fmt.Errorf("load chain %s: %w", name, err)
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if ch, ok := c.local[name]; ok {
		return ch, nil
	}
	return Chain{}, fmt.Errorf("%w: %s", ErrChainNotFound, name)
}

// List returns every known chain sorted by name.
func (c *Catalog) List(ctx context.Context) ([]Chain, error) {
	merged := make(map[string]Chain)

	c.mu.RLock()
	for name, ch := range c.local {
		merged[name] = ch
	}
	c.mu.RUnlock()

	if c.repo != nil {
		defs, err := c.repo.ListChains(ctx)
		if err != nil {
			return nil, fmt.Errorf("list chains: %w", err)
		}
		for _, def := range defs {
			merged[def.Name] = FromDefinition(def)
		}
	}

	out := make([]Chain, 0, len(merged))
	for _, ch := range merged {
		out = append(out, ch)
	}
	slices.SortFunc(out, func(a, b Chain) int { return cmp.Compare(a.Name, b.Name) })
	return out, nil
}

// Save persists ch in the repository.
func (c *Catalog) Save(ctx context.Context, ch Chain) error {
	if c.repo == nil {
		return ErrNoRepository
	}
	if err := ch.Validate(); err != nil {
		return err
	}
	return c.repo.SaveChain(ctx, ch.Definition(c.now().UTC()))
}

// Delete removes a stored chain. Local chains cannot be deleted.
func (c *Catalog) Delete(ctx context.Context, name string) error {
	if c.repo == nil {
		return ErrNoRepository
	}
	return c.repo.DeleteChain(ctx, name)
}

// LoadFile registers every chain defined in a YAML file.
func (c *Catalog) LoadFile(path string) error {
	chains, err := LoadFile(path)
	if err != nil {
		return err
	}
	for _, ch := range chains {
		if err := c.Register(ch); err != nil {
			return err
		}
	}
	return nil
}

type file struct {
	Chains []Chain `yaml:"chains"`
}

// LoadFile reads chain definitions from YAML:
//
//	chains:
//	  - name: nightly
//	    description: Nightly reprocessing
//	    tasks: [convert-uvh5-to-ms, calibration-apply, imaging]
func LoadFile(path string) ([]Chain, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chain file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML chain definitions and validates each one.
func Parse(data []byte) ([]Chain, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Join(ErrInvalidFile, err)
	}

	seen := make(map[string]struct{}, len(f.Chains))
	for _, ch := range f.Chains {
		if err := ch.Validate(); err != nil {
			return nil, errors.Join(ErrInvalidFile, err)
		}
		if _, dup := seen[ch.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate chain %s", ErrInvalidFile, ch.Name)
		}
		seen[ch.Name] = struct{}{}
	}
	return f.Chains, nil
}
