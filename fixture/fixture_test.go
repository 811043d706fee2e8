package fixture

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/chazu/roxor/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadAndApply(t *testing.T, name string) (*vm.Runtime, *Document) {
	t.Helper()
	doc, err := Load(filepath.Join("testdata", name))
	require.NoError(t, err)
	rt := NewRuntime(vm.Options{})
	require.NoError(t, Apply(rt, doc))
	return rt, doc
}

func requireAllPassed(t *testing.T, results []Result) {
	t.Helper()
	for _, r := range results {
		assert.True(t, r.Passed, "%s: want %s, got %s", r.Name, r.Want, r.Got)
	}
}

func TestYAMLFixture(t *testing.T) {
	rt, doc := loadAndApply(t, "animals.yaml")
	assert.Equal(t, "animals", doc.Name)

	dog, ok := rt.ClassNamed("Dog")
	require.True(t, ok)
	var names []string
	for _, k := range rt.Ancestors(dog) {
		names = append(names, k.Name())
	}
	assert.Equal(t, []string{"Loud", "Dog", "Walkable", "Animal", "Object", "Kernel", "BasicObject"}, names)

	results := Run(context.Background(), rt, doc)
	require.Len(t, results, len(doc.Checks))
	requireAllPassed(t, results)
	assert.Zero(t, Failed(results))
}

func TestCUEFixture(t *testing.T) {
	rt, doc := loadAndApply(t, "counter.cue")
	assert.Equal(t, "counter", doc.Name)
	require.Len(t, doc.Classes, 1)
	assert.Len(t, doc.Classes[0].Methods, 3)

	requireAllPassed(t, Run(context.Background(), rt, doc))
}

func TestFailingChecksAreReported(t *testing.T) {
	rt, doc := loadAndApply(t, "broken.yaml")
	results := Run(context.Background(), rt, doc)
	require.Len(t, results, 2)
	assert.Equal(t, 2, Failed(results))
	assert.Contains(t, results[0].Got, "raise")
	assert.Equal(t, `"#<Broken>"`, results[1].Got)
	assert.Equal(t, `"nope"`, results[1].Want)
}

func TestCancelledRunSkipsChecks(t *testing.T) {
	rt, doc := loadAndApply(t, "animals.yaml")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results := Run(ctx, rt, doc)
	assert.Equal(t, len(doc.Checks), Failed(results))
	assert.Contains(t, results[0].Got, "not run")
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join("testdata", "typo.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clases")

	_, err = Load(filepath.Join("testdata", "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read fixture")

	_, err = Load(filepath.Join("testdata", "fixture.json"))
	assert.ErrorContains(t, err, "unsupported fixture format")

	_, err = DecodeCUE([]byte(`classes: [{name: string}]`), "incomplete.cue")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	doc := &Document{
		Classes: []ClassDef{{Module: true, Name: "M", Superclass: "Object"}, {}},
		Checks:  []Check{{Name: "empty"}},
	}
	err := doc.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "module M cannot have a superclass")
	assert.Contains(t, err.Error(), "classes[1]: name is required")
	assert.Contains(t, err.Error(), "checks[0]: send is required")
}

func TestApplyErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  Document
		want string
	}{
		{"unknown superclass", Document{Classes: []ClassDef{{Name: "A", Superclass: "Nope"}}}, "uninitialized constant Nope"},
		{"include a class", Document{Classes: []ClassDef{{Name: "A"}, {Name: "B", Include: []string{"A"}}}}, "mixing A into B"},
		{"bad visibility", Document{Classes: []ClassDef{{Name: "A", Methods: []MethodDef{{Name: "m", Body: "self", Visibility: "secret"}}}}}, "unknown visibility"},
		{"eager compile error", Document{Classes: []ClassDef{{Name: "A", Methods: []MethodDef{{Name: "m", Body: "jump", Eager: true}}}}}, "method m"},
		{"undef missing", Document{Classes: []ClassDef{{Name: "A", Undef: []string{"zzz"}}}}, "undef zzz"},
		{"bad constant", Document{Classes: []ClassDef{{Name: "A", Constants: map[string]any{"X": map[string]any{}}}}}, "constant X"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Apply(NewRuntime(vm.Options{}), &tt.doc)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestToValue(t *testing.T) {
	tests := []struct {
		in   any
		want vm.Value
	}{
		{nil, nil},
		{true, true},
		{3, int64(3)},
		{uint64(7), int64(7)},
		{1.5, 1.5},
		{"plain", "plain"},
		{":sym", vm.Symbol("sym")},
		{":", ":"},
		{[]any{1, "a"}, []vm.Value{int64(1), "a"}},
	}
	for _, tt := range tests {
		got, err := ToValue(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
	_, err := ToValue(uint64(math.MaxUint64))
	assert.ErrorContains(t, err, "out of range")
	_, err = ToValue([]any{1, uint64(math.MaxInt64) + 1})
	assert.ErrorContains(t, err, "out of range")

	assert.Equal(t, `[1, :a, nil]`, Render([]vm.Value{int64(1), vm.Symbol("a"), nil}))
}
