package vm

import (
	"errors"
	"fmt"
)

// Body is a method body in whatever form the producer understands.
type Body any

// Producer turns method bodies into invocable methods.
type Producer interface {
	Compile(body Body) (Method, Arity, error)
}

// ProducerFunc adapts a function to the Producer interface.
type ProducerFunc func(body Body) (Method, Arity, error)

func (f ProducerFunc) Compile(body Body) (Method, Arity, error) { return f(body) }

var errNoProducer = errors.New("no producer configured")

// SourceState is the compilation state of a MethodSource.
type SourceState uint8

const (
	SourcePending SourceState = iota
	SourceCompiled
	SourcePoisoned
)

func (s SourceState) String() string {
	switch s {
	case SourcePending:
		return "pending"
	case SourceCompiled:
		return "compiled"
	case SourcePoisoned:
		return "poisoned"
	}
	return "unknown"
}

// MethodSource is a body registered for a selector on one or more classes
// and compiled the first time any of them dispatches it. One source
// compiles at most once; classes sharing it share the compiled method.
// Fields are guarded by the runtime's mutation lock.
type MethodSource struct {
	Selector Selector
	Body     Body

	state    SourceState
	method   Method
	arity    Arity
	err      error
	attempts int
}

// State returns the source's compilation state.
func (s *MethodSource) State() SourceState { return s.state }

// Attempts returns how many times compilation was tried.
func (s *MethodSource) Attempts() int { return s.attempts }

// materialize compiles the source behind node if needed and replaces node
// in k's table with the compiled body. Caller holds rt.mu, which also
// serializes concurrent first callers.
func (rt *Runtime) materialize(k *Class, node *MethodNode) (*MethodNode, error) {
	src := node.Source
	switch src.state {
	case SourcePoisoned:
		return nil, src.err
	case SourcePending:
		if err := rt.compileSource(k, src); err != nil {
			return nil, err
		}
	}

	compiled := &MethodNode{
		Selector:   node.Selector,
		Owner:      node.Owner,
		Kind:       NodeBody,
		Impl:       src.method,
		Arity:      src.arity,
		Visibility: node.Visibility,
		Flags:      node.Flags,
	}
	// Swapping a source for its compiled form does not change what lookup
	// selects, so no generation bump.
	k.methods[node.Selector] = compiled
	rt.dropPendingLocked(k, node.Selector)
	return compiled, nil
}

func (rt *Runtime) compileSource(k *Class, src *MethodSource) error {
	src.attempts++
	rt.stats.compiles.Add(1)

	producer := rt.opts.Producer
	var (
		m     Method
		arity Arity
		err   error
	)
	if producer == nil {
		err = errNoProducer
	} else {
		m, arity, err = producer.Compile(src.Body)
	}
	if err == nil && m == nil {
		err = fmt.Errorf("producer returned no method")
	}
	if err != nil {
		rt.stats.compileFailures.Add(1)
		cerr := &CompileError{Class: k.name, Selector: rt.selectors.Name(src.Selector), Err: err}
		if rt.opts.CompileFailure == CompilePoison {
			src.state = SourcePoisoned
			src.err = cerr
		}
		log().Warningf("%s (policy %s)", cerr, rt.opts.CompileFailure)
		return cerr
	}

	src.method = m
	src.arity = arity
	src.state = SourceCompiled
	log().Debugf("compiled %s#%s (arity %s)", k.name, rt.selectors.Name(src.Selector), arity)
	return nil
}

// DefineLazy registers one body for name on every class in classes. The
// body is compiled at the first dispatch that reaches any of them.
func (rt *Runtime) DefineLazy(name string, body Body, vis Visibility, classes ...*Class) *MethodSource {
	sel := rt.selectors.Intern(name)
	src := &MethodSource{Selector: sel, Body: body}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	for _, k := range classes {
		rt.armSource(k, src, vis)
	}
	return src
}

// AddSourceClass arms an existing source on another class. If the source
// already compiled, the class reuses the compiled method.
func (rt *Runtime) AddSourceClass(src *MethodSource, class *Class, vis Visibility) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.armSource(class, src, vis)
}

func (rt *Runtime) armSource(k *Class, src *MethodSource, vis Visibility) {
	rt.armSourceNode(k, &MethodNode{
		Selector:   src.Selector,
		Owner:      k,
		Kind:       NodeSource,
		Source:     src,
		Visibility: vis,
	})
}

// PendingSources returns the classes holding an uncompiled body for name.
func (rt *Runtime) PendingSources(name string) []*Class {
	sel := rt.selectors.Lookup(name)
	if sel == NoSelector {
		return nil
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	var out []*Class
	for id := range rt.sources[sel] {
		out = append(out, rt.classAt(id))
	}
	return out
}
