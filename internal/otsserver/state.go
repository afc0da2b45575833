package otsserver

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/r9s-ai/open-treebank-server/pkg/corpus"
	"github.com/r9s-ai/open-treebank-server/pkg/registry"
)

// state is shared by all handlers. Requests load the registry pointer once
// and never write to it; reloads publish a new snapshot.
type state struct {
	reg    atomic.Pointer[registry.Registry]
	opener corpus.Opener
	log    *zap.Logger

	startedAtUnix atomic.Int64
}

func newState(reg *registry.Registry, opener corpus.Opener, l *zap.Logger) *state {
	if opener == nil {
		opener = corpus.DefaultOpener
	}
	if l == nil {
		l = zap.NewNop()
	}
	st := &state{opener: opener, log: l}
	st.reg.Store(reg)
	return st
}

func (s *state) Registry() *registry.Registry { return s.reg.Load() }

func (s *state) SetRegistry(r *registry.Registry) { s.reg.Store(r) }

func (s *state) StartedAtUnix() int64 { return s.startedAtUnix.Load() }

func (s *state) SetStartedAtUnix(v int64) { s.startedAtUnix.Store(v) }
