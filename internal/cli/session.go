package cli

import (
	"github.com/chazu/roxor/codecache"
	"github.com/chazu/roxor/compiler"
	"github.com/chazu/roxor/fixture"
	"github.com/chazu/roxor/vm"
)

// session is a runtime with a fixture applied to it.
type session struct {
	rt       *vm.Runtime
	doc      *fixture.Document
	producer *compiler.Producer
	store    *codecache.Store
}

// open builds a runtime from the configuration, attaching the persistent
// code cache when one is configured, and applies the fixture at path.
func (o *RootOptions) open(path string) (*session, error) {
	doc, err := fixture.Load(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "fixture", err)
	}

	opts, err := o.Config.RuntimeOptions()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "configuration", err)
	}

	s := &session{doc: doc}
	if p := o.Config.CodeCachePath(); p != "" {
		if s.store, err = codecache.Open(p); err != nil {
			return nil, WrapExitError(ExitCommandError, "code cache", err)
		}
		s.producer = compiler.NewProducer(s.store)
	} else {
		s.producer = compiler.NewProducer(nil)
	}
	opts.Producer = s.producer

	s.rt = fixture.NewRuntime(opts)
	if err := fixture.Apply(s.rt, doc); err != nil {
		s.close()
		return nil, WrapExitError(ExitCommandError, "fixture "+doc.Name, err)
	}
	return s, nil
}

func (s *session) close() {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log().Warningf("closing code cache: %s", err)
		}
	}
}
