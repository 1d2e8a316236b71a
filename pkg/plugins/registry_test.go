package plugins

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flatbed/pescan/pkg/identity"
)

func TestRegistry_LoadUnit(t *testing.T) {
	dir := t.TempDir()
	path := writeImage(t, dir, "a.dll", pluginImage("Acme.A", "Acme.A.Plugin"))

	r := NewRegistry(quietLogger())
	unit, err := r.LoadUnit(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, path, unit.Path)
	assert.Equal(t, "Acme.A, Version=1.0.0.0, Culture=neutral, PublicKeyToken=null", unit.Identity.String())

	tests := []struct {
		name string
		path string
	}{
		{"not an image", filepath.Join(dir, "text.dll")},
		{"broken metadata", brokenImage(t, dir, "broken.dll")},
	}
	require.NoError(t, os.WriteFile(tests[0].path, []byte("plain text"), 0644))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.LoadUnit(context.Background(), tt.path)
			assert.ErrorIs(t, err, ErrBadImage)
			assert.Contains(t, err.Error(), tt.path)
		})
	}

	_, err = r.LoadUnit(context.Background(), filepath.Join(dir, "missing.dll"))
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.NotErrorIs(t, err, ErrBadImage)
}

func TestRegistry_LoadPlugin(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	r := NewRegistry(quietLogger())
	r.now = func() time.Time { return now }

	unit := Unit{Path: "/plugins/a.dll", Identity: identity.MustParse("Acme.A, Version=1.0.0.0")}
	r.LoadPlugin(context.Background(), unit, "Acme.A.Zeta", unit.Path, AfterStartup)
	r.LoadPlugin(context.Background(), unit, "Acme.A.Alpha", unit.Path, AfterStartup)
	r.LoadPlugin(context.Background(), unit, "Acme.A.Boot", unit.Path, Startup)

	assert.Equal(t, 3, r.Count())
	assert.Equal(t, []string{"Acme.A.Zeta", "Acme.A.Alpha", "Acme.A.Boot"}, typeNames(r.Plugins()))
	assert.Equal(t, []string{"Acme.A.Alpha", "Acme.A.Zeta"}, typeNames(r.ListByMode(AfterStartup)))
	assert.Equal(t, []string{"Acme.A.Boot"}, typeNames(r.ListByMode(Startup)))

	d, err := r.Get("Acme.A.Boot")
	require.NoError(t, err)
	assert.Equal(t, Description{
		TypeName: "Acme.A.Boot",
		Source:   "/plugins/a.dll",
		Identity: unit.Identity,
		Mode:     Startup,
		LoadedAt: now,
	}, d)

	_, err = r.Get("Acme.Missing")
	assert.Error(t, err)
}

func TestRegistry_ReplacesTypeName(t *testing.T) {
	r := NewRegistry(quietLogger())
	r.LoadPlugin(context.Background(), Unit{Path: "/a.dll"}, "Acme.Plugin", "/a.dll", Startup)
	r.LoadPlugin(context.Background(), Unit{Path: "/b.dll"}, "Acme.Plugin", "/b.dll", AfterStartup)

	assert.Equal(t, 1, r.Count())
	d, err := r.Get("Acme.Plugin")
	require.NoError(t, err)
	assert.Equal(t, "/b.dll", d.Source)
	assert.Equal(t, AfterStartup, d.Mode)
}

func TestRegistry_PluginsIsACopy(t *testing.T) {
	r := NewRegistry(quietLogger())
	r.LoadPlugin(context.Background(), Unit{}, "Acme.Plugin", "/a.dll", Startup)

	plugins := r.Plugins()
	plugins[0].Source = "/elsewhere.dll"

	d, err := r.Get("Acme.Plugin")
	require.NoError(t, err)
	assert.Equal(t, "/a.dll", d.Source)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry(quietLogger())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			name := filepath.Join("Acme", string(rune('A'+i)))
			r.LoadPlugin(context.Background(), Unit{}, name, "/"+name+".dll", Startup)
		}(i)
		go func() {
			defer wg.Done()
			_ = r.Plugins()
			_ = r.Count()
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, r.Count())
}

func TestDescription_JSON(t *testing.T) {
	d := Description{
		TypeName: "Acme.Plugin",
		Source:   "/a.dll",
		Identity: identity.MustParse("Acme, Version=1.0.0.0, Culture=neutral, PublicKeyToken=null"),
		Mode:     AfterStartup,
		LoadedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type_name": "Acme.Plugin",
		"source": "/a.dll",
		"identity": "Acme, Version=1.0.0.0, Culture=neutral, PublicKeyToken=null",
		"mode": "after_startup",
		"loaded_at": "2024-03-01T12:00:00Z"
	}`, string(data))
}

func TestConnectMode_String(t *testing.T) {
	assert.Equal(t, "startup", Startup.String())
	assert.Equal(t, "after_startup", AfterStartup.String())
	assert.Equal(t, "unknown", ConnectMode(7).String())
}

func TestParseConnectMode(t *testing.T) {
	for _, mode := range []ConnectMode{Startup, AfterStartup} {
		got, err := ParseConnectMode(mode.String())
		require.NoError(t, err)
		assert.Equal(t, mode, got)
	}

	_, err := ParseConnectMode("later")
	assert.ErrorContains(t, err, "later")
}
