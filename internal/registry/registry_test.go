package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canectors/flow/internal/errhandling"
	"github.com/canectors/flow/pkg/connector"
)

type fakeExtractor struct{ name, tag string }

func (f fakeExtractor) Name() string { return f.name }
func (f fakeExtractor) Extract(context.Context, map[string]any) (connector.Value, error) {
	return connector.Scalar(f.tag), nil
}
func (fakeExtractor) Supports(map[string]any) bool { return true }

type fakeTransformer struct{ name string }

func (f fakeTransformer) Name() string { return f.name }
func (fakeTransformer) Transform(_ context.Context, in connector.Value, _ map[string]any) (connector.Value, error) {
	return in, nil
}
func (fakeTransformer) Supports(map[string]any) bool { return true }

type fakeLoader struct{ name string }

func (f fakeLoader) Name() string { return f.name }
func (fakeLoader) Load(_ context.Context, in connector.Value, _ map[string]any) (connector.Value, error) {
	return in, nil
}
func (fakeLoader) Supports(map[string]any) bool { return true }

func TestRegisterAndResolve(t *testing.T) {
	r := New()
	r.RegisterExtractor(fakeExtractor{name: "static"})
	r.RegisterTransformer(fakeTransformer{name: "set"})
	r.RegisterLoader(fakeLoader{name: "console"})

	e, err := r.Extractor("static")
	require.NoError(t, err)
	assert.Equal(t, "static", e.Name())

	_, err = r.Transformer("set")
	require.NoError(t, err)
	_, err = r.Loader("console")
	require.NoError(t, err)

	assert.True(t, r.Has(connector.Extract, "static"))
	assert.False(t, r.Has(connector.Load, "static"), "tables are independent per kind")
}

func TestResolveUnknownName(t *testing.T) {
	r := New()
	_, err := r.Loader("missing")

	var notFound *errhandling.StepNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "load", notFound.Kind)
	assert.Equal(t, "missing", notFound.Name)
	assert.ErrorIs(t, err, errhandling.ErrStepNotFound)
}

func TestLastRegistrationWins(t *testing.T) {
	r := New()
	first := r.RegisterExtractor(fakeExtractor{name: "src", tag: "first"})
	second := r.RegisterExtractor(fakeExtractor{name: "src", tag: "second"})

	e, err := r.Extractor("src")
	require.NoError(t, err)
	v, _ := e.Extract(context.Background(), nil)
	got, _ := v.AsScalar()
	assert.Equal(t, "second", got)

	assert.False(t, r.Remove(first), "stale handle does not remove the newer registration")
	assert.True(t, r.Has(connector.Extract, "src"))
	assert.True(t, r.Remove(second))
	assert.False(t, r.Has(connector.Extract, "src"))
	assert.False(t, r.Remove(second), "double remove is a no-op")
}

func TestNames(t *testing.T) {
	r := New()
	r.RegisterTransformer(fakeTransformer{name: "script"})
	r.RegisterTransformer(fakeTransformer{name: "condition"})
	r.RegisterTransformer(fakeTransformer{name: "join"})

	assert.Equal(t, []string{"condition", "join", "script"}, r.Names(connector.Transform))
	assert.Empty(t, r.Names(connector.Extract))
	assert.Nil(t, r.Names(connector.StepKind(99)))
}

func TestRegistriesAreIsolated(t *testing.T) {
	a, b := New(), New()
	a.RegisterLoader(fakeLoader{name: "file"})
	assert.False(t, b.Has(connector.Load, "file"))
}

func TestConcurrentRegistration(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := r.RegisterLoader(fakeLoader{name: "shared"})
			_, _ = r.Loader("shared")
			r.Remove(h)
		}()
	}
	wg.Wait()
}
