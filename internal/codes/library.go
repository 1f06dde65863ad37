package codes

import (
	"fmt"
	"sync"

	"github.com/star/gnsssynth/internal/gnss"
)

// Component selects the data or the pilot code of a signal.
type Component int

const (
	Data Component = iota
	Pilot
)

func (c Component) String() string {
	if c == Pilot {
		return "pilot"
	}
	return "data"
}

// Source provides one code period of a satellite signal.
type Source interface {
	Code(sig gnss.Signal, prn int, comp Component) ([]int8, error)
}

type libraryKey struct {
	signal string
	prn    int
	comp   Component
}

// Library generates codes on first use and keeps them for the lifetime of
// the process. Returned slices are shared and must not be modified.
type Library struct {
	mu    sync.RWMutex
	codes map[libraryKey][]int8
}

// NewLibrary creates an empty code library.
func NewLibrary() *Library {
	return &Library{codes: make(map[libraryKey][]int8)}
}

// Code implements Source.
func (l *Library) Code(sig gnss.Signal, prn int, comp Component) ([]int8, error) {
	key := libraryKey{signal: sig.Name, prn: prn, comp: comp}

	l.mu.RLock()
	code, ok := l.codes[key]
	l.mu.RUnlock()
	if ok {
		return code, nil
	}

	code, err := generate(sig, prn, comp)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	if existing, ok := l.codes[key]; ok {
		code = existing
	} else {
		l.codes[key] = code
	}
	l.mu.Unlock()
	return code, nil
}

func generate(sig gnss.Signal, prn int, comp Component) ([]int8, error) {
	var (
		code []int8
		err  error
	)
	switch {
	case sig.Code == gnss.CodeGPSCA && comp == Data:
		code, err = GoldCA(prn)
	case sig.Code == gnss.CodeGLONASSST && comp == Data:
		code = GlonassST()
	default:
		code, err = Ranging(sig.Name+"/"+comp.String(), prn, sig.CodeLength)
	}
	if err != nil {
		return nil, fmt.Errorf("%s PRN %d %s code: %w", sig.Name, prn, comp, err)
	}
	if len(code) != sig.CodeLength {
		return nil, fmt.Errorf("%s PRN %d %s code has %d chips, want %d", sig.Name, prn, comp, len(code), sig.CodeLength)
	}
	return code, nil
}
