package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/leapstack-labs/nodebook/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/lodash", func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		versions := ""
		for i := 20; i > 0; i-- {
			if versions != "" {
				versions += ","
			}
			versions += fmt.Sprintf(`{"version":"4.17.%d","links":{}}`, i)
		}
		_, _ = fmt.Fprintf(w, `{"type":"npm","name":"lodash","tags":{"latest":"4.17.20"},"versions":[%s],"links":{}}`, versions)
	})
	mux.HandleFunc("/@scope/pkg", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `{"type":"npm","name":"@scope/pkg","tags":{},"versions":[{"version":"1.0.0"}]}`)
	})
	mux.HandleFunc("/gh-thing", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `{"type":"gh","name":"gh-thing"}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Lookup(t *testing.T) {
	var hits atomic.Int32
	srv := newTestServer(t, &hits)
	c := NewClient(Config{APIURL: srv.URL + "/", CDNURL: "https://cdn.example/npm", Logger: testutil.NewTestLogger(t)})

	info, err := c.Lookup(context.Background(), "lodash")
	require.NoError(t, err)
	assert.Equal(t, "lodash", info.Name)
	assert.Len(t, info.Versions, MaxVersions)
	assert.Equal(t, "4.17.20", info.Versions[0])
	assert.Equal(t, "4.17.20", info.Latest())

	_, err = c.Lookup(context.Background(), "lodash")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load(), "second lookup is cached")

	scoped, err := c.Lookup(context.Background(), "@scope/pkg")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", scoped.Latest())
}

func TestClient_LookupErrors(t *testing.T) {
	var hits atomic.Int32
	srv := newTestServer(t, &hits)
	c := NewClient(Config{APIURL: srv.URL})

	tests := []struct {
		name string
		pkg  string
		want error
	}{
		{name: "not npm", pkg: "gh-thing", want: ErrNotNPM},
		{name: "missing", pkg: "nope", want: ErrPackageNotFound},
		{name: "empty", pkg: " ", want: ErrPackageNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Lookup(context.Background(), tt.pkg)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestClient_Package(t *testing.T) {
	var hits atomic.Int32
	srv := newTestServer(t, &hits)
	c := NewClient(Config{APIURL: srv.URL, CDNURL: "https://cdn.example/npm/"})

	assert.Equal(t, "https://cdn.example/npm/lodash@4.17.21/+esm", c.ModuleURL("lodash", "4.17.21"))

	pkg, err := c.Package(context.Background(), "lodash", "")
	require.NoError(t, err)
	assert.Equal(t, "4.17.20", pkg.Version)
	assert.Equal(t, "https://cdn.example/npm/lodash@4.17.20/+esm", pkg.URL)

	pinned, err := c.Package(context.Background(), "left-pad", "1.3.0")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/npm/left-pad@1.3.0/+esm", pinned.URL)
	assert.Equal(t, int32(1), hits.Load())
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(Config{})
	assert.Equal(t, DefaultAPIURL, c.apiURL)
	assert.Equal(t, "https://cdn.jsdelivr.net/npm/react@18.2.0/+esm", c.ModuleURL("react", "18.2.0"))
}
