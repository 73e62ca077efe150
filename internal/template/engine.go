package template

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/nikolalohinski/gonja"
	"github.com/nikolalohinski/gonja/exec"
)

// ErrTemplateNotFound is returned when a name resolves in neither the memory
// nor the file namespace.
var ErrTemplateNotFound = errors.New("template_not_found")

// Engine renders message bodies from jinja-syntax templates. Two namespaces:
// memory templates registered at runtime and file templates loaded from a
// directory. Memory wins on name collision. Autoescape stays off; message
// bodies are not HTML.
type Engine struct {
	mu       sync.RWMutex
	sources  map[string]string
	compiled map[string]*exec.Template
	dir      string
}

// NewEngine creates an engine. dir may be empty or point at a directory that
// does not exist; the file namespace is simply empty then.
func NewEngine(dir string) *Engine {
	return &Engine{
		sources:  make(map[string]string),
		compiled: make(map[string]*exec.Template),
		dir:      dir,
	}
}

// Register stores a memory template under name. Re-registering replaces the
// previous source and drops the stale compiled form.
func (e *Engine) Register(name, source string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sources[name] = source
	delete(e.compiled, name)
}

// Unregister removes a memory template. Returns false when name was unknown.
func (e *Engine) Unregister(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.sources[name]; !ok {
		return false
	}
	delete(e.sources, name)
	delete(e.compiled, name)
	return true
}

// Has reports whether name resolves in either namespace.
func (e *Engine) Has(name string) bool {
	e.mu.RLock()
	_, ok := e.sources[name]
	e.mu.RUnlock()
	if ok {
		return true
	}
	return e.fileExists(name)
}

// List returns the memory and file template names, sorted.
func (e *Engine) List() map[string][]string {
	e.mu.RLock()
	memory := make([]string, 0, len(e.sources))
	for name := range e.sources {
		memory = append(memory, name)
	}
	e.mu.RUnlock()
	sort.Strings(memory)

	files := []string{}
	if e.dir != "" {
		if entries, err := os.ReadDir(e.dir); err == nil {
			for _, entry := range entries {
				if !entry.IsDir() {
					files = append(files, entry.Name())
				}
			}
		}
	}
	sort.Strings(files)

	return map[string][]string{"memory": memory, "files": files}
}

// Render resolves name (memory first, then files) and executes it with vars.
func (e *Engine) Render(name string, vars map[string]any) (string, error) {
	if vars == nil {
		vars = map[string]any{}
	}
	tpl, err := e.lookup(name)
	if err != nil {
		return "", err
	}
	out, err := tpl.Execute(gonja.Context(vars))
	if err != nil {
		return "", fmt.Errorf("render template %q: %w", name, err)
	}
	return out, nil
}

// RenderString compiles and executes an inline template without registering it.
func (e *Engine) RenderString(source string, vars map[string]any) (string, error) {
	if vars == nil {
		vars = map[string]any{}
	}
	tpl, err := gonja.FromString(source)
	if err != nil {
		return "", fmt.Errorf("parse inline template: %w", err)
	}
	out, err := tpl.Execute(gonja.Context(vars))
	if err != nil {
		return "", fmt.Errorf("render inline template: %w", err)
	}
	return out, nil
}

func (e *Engine) lookup(name string) (*exec.Template, error) {
	e.mu.Lock()
	if tpl, ok := e.compiled[name]; ok {
		e.mu.Unlock()
		return tpl, nil
	}
	if source, ok := e.sources[name]; ok {
		tpl, err := gonja.FromString(source)
		if err != nil {
			e.mu.Unlock()
			return nil, fmt.Errorf("parse template %q: %w", name, err)
		}
		e.compiled[name] = tpl
		e.mu.Unlock()
		return tpl, nil
	}
	e.mu.Unlock()

	if e.fileExists(name) {
		tpl, err := gonja.FromFile(filepath.Join(e.dir, name))
		if err != nil {
			return nil, fmt.Errorf("parse template file %q: %w", name, err)
		}
		return tpl, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
}

func (e *Engine) fileExists(name string) bool {
	if e.dir == "" || name == "" || filepath.Base(name) != name {
		return false
	}
	info, err := os.Stat(filepath.Join(e.dir, name))
	return err == nil && !info.IsDir()
}
