package authrequest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestConf_Set(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		values      []string
		wantURI     string
		wantEnabled bool
		wantErr     error
	}{
		{name: "uri", values: []string{"/auth"}, wantURI: "/auth", wantEnabled: true},
		{name: "uri with query", values: []string{"/auth?scope=api"}, wantURI: "/auth?scope=api", wantEnabled: true},
		{name: "off", values: []string{"off"}},
		{name: "duplicate", values: []string{"/auth", "/other"}, wantURI: "/auth", wantEnabled: true, wantErr: ErrDuplicateDirective},
		{name: "duplicate after off", values: []string{"off", "/auth"}, wantErr: ErrDuplicateDirective},
		{name: "not a path", values: []string{"auth"}, wantErr: ErrInvalidDirective},
		{name: "absolute url", values: []string{"http://auth/check"}, wantErr: ErrInvalidDirective},
		{name: "empty", values: []string{""}, wantErr: ErrInvalidDirective},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := &Conf{}
			var err error
			for _, v := range tt.values {
				if err = c.Set(v); err != nil {
					break
				}
			}

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantURI, c.URI)
			assert.Equal(t, tt.wantEnabled, c.Enabled())
		})
	}
}

func TestConf_DuplicateMessage(t *testing.T) {
	t.Parallel()

	c := &Conf{}
	require.NoError(t, c.Set("/auth"))
	assert.EqualError(t, c.Set("/auth"), `"authRequest" directive is duplicate`)
}

func TestMerge(t *testing.T) {
	t.Parallel()

	set := func(v string) *Conf {
		c := &Conf{}
		require.NoError(t, c.Set(v))
		return c
	}

	tests := []struct {
		name    string
		parent  *Conf
		child   *Conf
		wantURI string
		wantSet bool
	}{
		{name: "child inherits parent", parent: set("/auth"), child: &Conf{}, wantURI: "/auth", wantSet: true},
		{name: "child overrides parent", parent: set("/auth"), child: set("/other"), wantURI: "/other", wantSet: true},
		{name: "off blocks inheritance", parent: set("/auth"), child: set("off"), wantURI: "", wantSet: true},
		{name: "child under off parent", parent: set("off"), child: set("/auth"), wantURI: "/auth", wantSet: true},
		{name: "neither set", parent: &Conf{}, child: &Conf{}},
		{name: "nil parent", parent: nil, child: &Conf{}},
		{name: "nil child", parent: set("/auth"), child: nil, wantURI: "/auth", wantSet: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := Merge(tt.parent, tt.child)
			require.NotNil(t, got)
			assert.Equal(t, tt.wantURI, got.URI)
			assert.Equal(t, tt.wantSet, got.IsSet())
		})
	}
}

func TestMerge_ThreeScopes(t *testing.T) {
	t.Parallel()

	global, err := ParseConf(strPtr("/auth"))
	require.NoError(t, err)
	server, err := ParseConf(nil)
	require.NoError(t, err)
	public, err := ParseConf(strPtr("off"))
	require.NoError(t, err)
	private, err := ParseConf(nil)
	require.NoError(t, err)

	srv := Merge(global, server)
	assert.Equal(t, "/auth", Merge(srv, private).URI)
	assert.False(t, Merge(srv, public).Enabled())
}

func TestParseConf(t *testing.T) {
	t.Parallel()

	c, err := ParseConf(nil)
	require.NoError(t, err)
	assert.False(t, c.IsSet())

	_, err = ParseConf(strPtr("auth"))
	assert.ErrorIs(t, err, ErrInvalidDirective)
}
