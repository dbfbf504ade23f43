package relay

import (
	"context"
	"fmt"
	"log"
	"os"
	"regexp"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// crossLinkRe matches >>>/name/ tokens pointing at partner lounges
var crossLinkRe = regexp.MustCompile(`&gt;&gt;&gt;/([A-Za-z0-9_]+)/`)

// plainLinkRe is the unescaped form, used only to decide whether a plain
// message needs rewriting at all
var plainLinkRe = regexp.MustCompile(`>>>/[A-Za-z0-9_]+/`)

// Network maps short lounge names to telegram bot handles, expanding
// >>>/name/ tokens in relayed text into deep links. When backed by a file it
// reloads itself on changes.
type Network struct {
	mu    sync.RWMutex
	links map[string]string
	path  string // empty for inline configuration
}

// NewNetwork creates a network from an inline mapping
func NewNetwork(links map[string]string) *Network {
	if links == nil {
		links = map[string]string{}
	}
	return &Network{links: links}
}

// NewNetworkFile creates a network backed by a yaml file of {short: handle}
func NewNetworkFile(path string) (*Network, error) {
	n := &Network{path: path, links: map[string]string{}}
	if err := n.load(); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *Network) load() error {
	data, err := os.ReadFile(n.path) //nolint:gosec // path comes from the operator's config
	if err != nil {
		return fmt.Errorf("failed to read linked network file: %w", err)
	}
	links := map[string]string{}
	if err := yaml.Unmarshal(data, &links); err != nil {
		return fmt.Errorf("failed to parse linked network file %s: %w", n.path, err)
	}
	n.mu.Lock()
	n.links = links
	n.mu.Unlock()
	log.Printf("[INFO] linked network loaded, %d entries", len(links))
	return nil
}

// Watch reloads the backing file when it changes, until ctx cancels.
// No-op for inline networks.
func (n *Network) Watch(ctx context.Context) error {
	if n.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(n.path); err != nil {
		return fmt.Errorf("failed to watch %s: %w", n.path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := n.load(); err != nil {
				log.Printf("[WARN] linked network reload failed: %v", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("[WARN] linked network watcher: %v", err)
		}
	}
}

// Matches reports if the raw text contains any cross-link token
func (n *Network) Matches(text string) bool {
	if n == nil {
		return false
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.links) > 0 && plainLinkRe.MatchString(text)
}

// ExpandHTML replaces cross-link tokens in already-escaped html with deep
// links. Unknown names are left as they are.
func (n *Network) ExpandHTML(html string) string {
	if n == nil {
		return html
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	if len(n.links) == 0 {
		return html
	}
	return crossLinkRe.ReplaceAllStringFunc(html, func(tok string) string {
		name := crossLinkRe.FindStringSubmatch(tok)[1]
		handle, ok := n.links[name]
		if !ok {
			return tok
		}
		return fmt.Sprintf(`<a href="https://t.me/%s">%s</a>`, handle, tok)
	})
}
