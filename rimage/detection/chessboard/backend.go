package chessboard

import (
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/camcalib/rimage/transform"
)

// BackendSaddle is the pure Go finder and refiner, always available.
const BackendSaddle = "saddle"

// BackendConstructor returns a fresh finder and refiner pair.
type BackendConstructor func() (Finder, Refiner)

var (
	backendsMu sync.RWMutex
	backends   = map[string]BackendConstructor{
		BackendSaddle: func() (Finder, Refiner) { return NewSaddleFinder(), SubPixRefiner{} },
	}
)

// RegisterBackend makes a finder and refiner pair selectable by name. Registering a name twice panics.
func RegisterBackend(name string, constructor BackendConstructor) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	name = strings.ToLower(name)
	if _, ok := backends[name]; ok {
		panic(errors.Errorf("chessboard backend %q already registered", name))
	}
	backends[name] = constructor
}

// NewBackend constructs the named backend. An empty name selects BackendSaddle.
func NewBackend(name string) (Finder, Refiner, error) {
	if name == "" {
		name = BackendSaddle
	}
	backendsMu.RLock()
	constructor, ok := backends[strings.ToLower(name)]
	backendsMu.RUnlock()
	if !ok {
		return nil, nil, transform.NewInvalidParameterError("unknown detection backend %q, available: %s",
			name, strings.Join(Backends(), ", "))
	}
	finder, refiner := constructor()
	return finder, refiner, nil
}

// Backends lists the registered backend names in order.
func Backends() []string {
	backendsMu.RLock()
	names := lo.Keys(backends)
	backendsMu.RUnlock()
	sort.Strings(names)
	return names
}
