// Package strategy holds the ordered catalog of extraction profiles.
//
// A Strategy is one client-impersonation identity: the engine that runs it,
// the upstream client it pretends to be, the headers it sends and the
// container formats it accepts. Upstream blocks or throttles identities
// independently, so the orchestrator walks the catalog in a fixed order.
package strategy

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"

	"github.com/use-agent/soundgrab/models"
	"gopkg.in/yaml.v3"
)

// Engine names understood by the extractor.
const (
	EngineYtDlp   = "ytdlp"
	EngineHTTP    = "http"
	EngineBrowser = "browser"
)

// Strategy is an immutable extraction profile.
type Strategy struct {
	Name string `yaml:"name"`

	// Engine is one of EngineYtDlp, EngineHTTP or EngineBrowser.
	Engine string `yaml:"engine"`

	// ClientIdentity is the upstream player client to impersonate
	// (yt-dlp youtube:player_client), e.g. "ios", "android", "web".
	ClientIdentity string `yaml:"client_identity"`

	UserAgent string            `yaml:"user_agent"`
	Headers   map[string]string `yaml:"headers"`

	// AllowedContainers narrows the source formats, e.g. ["m4a", "webm"].
	// Empty accepts any container.
	AllowedContainers []string `yaml:"allowed_containers"`

	// Rank orders the catalog; lower is more reliable and tried first.
	Rank int `yaml:"rank"`

	// RequiresCredentials skips the strategy when no cookie copy is available.
	RequiresCredentials bool `yaml:"requires_credentials"`

	// ForceGeneric asks yt-dlp to use its generic extractor (metadata only).
	ForceGeneric bool `yaml:"force_generic"`

	// Modes lists the request modes this strategy serves. Empty means both.
	Modes []models.Mode `yaml:"modes"`
}

// Supports reports whether s may run in mode.
func (s Strategy) Supports(mode models.Mode) bool {
	if len(s.Modes) == 0 {
		return true
	}
	return slices.Contains(s.Modes, mode)
}

// Catalog is an ordered, read-only set of strategies.
type Catalog struct {
	strategies []Strategy
}

// NewCatalog validates strategies and orders them by Rank. Ties keep the
// order they were given in.
func NewCatalog(strategies []Strategy) (*Catalog, error) {
	if len(strategies) == 0 {
		return nil, errors.New("strategy: catalog is empty")
	}

	seen := make(map[string]struct{}, len(strategies))
	out := make([]Strategy, 0, len(strategies))
	for i, s := range strategies {
		if s.Name == "" {
			return nil, fmt.Errorf("strategy: entry %d has no name", i)
		}
		if _, dup := seen[s.Name]; dup {
			return nil, fmt.Errorf("strategy: duplicate name %q", s.Name)
		}
		seen[s.Name] = struct{}{}

		if s.Engine == "" {
			s.Engine = EngineYtDlp
		}
		switch s.Engine {
		case EngineYtDlp, EngineHTTP, EngineBrowser:
		default:
			return nil, fmt.Errorf("strategy: %q has unknown engine %q", s.Name, s.Engine)
		}
		for _, m := range s.Modes {
			if m != models.ModeMetadata && m != models.ModeDownload {
				return nil, fmt.Errorf("strategy: %q has unknown mode %q", s.Name, m)
			}
		}
		if s.Engine != EngineYtDlp && s.Supports(models.ModeDownload) {
			return nil, fmt.Errorf("strategy: %q engine %q cannot download audio, restrict modes to metadata", s.Name, s.Engine)
		}
		out = append(out, s)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return &Catalog{strategies: out}, nil
}

// Ordered returns every strategy, most reliable first. The returned slice is
// a copy; each request iterates from the start.
func (c *Catalog) Ordered() []Strategy {
	return slices.Clone(c.strategies)
}

// For returns the strategies usable for mode, in catalog order. Strategies
// that need credentials are dropped when haveCredentials is false.
func (c *Catalog) For(mode models.Mode, haveCredentials bool) []Strategy {
	out := make([]Strategy, 0, len(c.strategies))
	for _, s := range c.strategies {
		if !s.Supports(mode) {
			continue
		}
		if s.RequiresCredentials && !haveCredentials {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Without returns a catalog lacking every strategy that runs on engine.
// It is used to drop opt-in engines that are not enabled.
func (c *Catalog) Without(engine string) (*Catalog, error) {
	kept := make([]Strategy, 0, len(c.strategies))
	for _, s := range c.strategies {
		if s.Engine != engine {
			kept = append(kept, s)
		}
	}
	return NewCatalog(kept)
}

// Names lists strategy names in order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.strategies))
	for i, s := range c.strategies {
		names[i] = s.Name
	}
	return names
}

// Len returns the number of strategies.
func (c *Catalog) Len() int { return len(c.strategies) }

type catalogFile struct {
	Strategies []Strategy `yaml:"strategies"`
}

// LoadFile reads a YAML catalog of the form:
//
//	strategies:
//	  - name: ios
//	    client_identity: ios
//	    rank: 1
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("strategy: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML catalog document.
func Parse(data []byte) (*Catalog, error) {
	var f catalogFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("strategy: parse catalog: %w", err)
	}
	return NewCatalog(f.Strategies)
}
