package checkers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func githubMeta(method string) Meta {
	return Meta{
		Repository: "cincan",
		Tool:       "radamsa",
		Provider:   "github",
		Method:     method,
	}
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	_, err := New(Meta{Provider: "sourceforge", Repository: "a", Tool: "b"}, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewRejectsIncompleteConfig(t *testing.T) {
	_, err := New(Meta{Provider: "github", Tool: "radamsa"}, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestSupportedIsCaseInsensitive(t *testing.T) {
	assert.True(t, Supported("GitHub"))
	assert.True(t, Supported("didierstevens@github"))
	assert.False(t, Supported("sourceforge"))
}

func TestGitHubRelease(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/cincan/radamsa/releases/latest", r.URL.Path)
		assert.Equal(t, "application/vnd.github.v3+json", r.Header.Get("Accept"))
		json.NewEncoder(w).Encode(map[string]string{"tag_name": "v0.6"})
	}))
	defer srv.Close()

	c, err := New(githubMeta(MethodRelease), Options{BaseURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "v0.6", c.FetchVersion(context.Background(), ""))
	assert.Equal(t, "v0.6", c.Version())
}

func TestGitHubReleaseSendsToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "token sekrit", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]string{"tag_name": "v1.0"})
	}))
	defer srv.Close()

	c, err := New(githubMeta(MethodRelease), Options{BaseURL: srv.URL, Token: "sekrit"})
	require.NoError(t, err)
	assert.Equal(t, "v1.0", c.FetchVersion(context.Background(), ""))
}

func TestGitHubTagReleasePicksNewestCommitDate(t *testing.T) {
	dates := map[string]string{
		"aaa": "2020-01-01T10:00:00Z",
		"bbb": "2021-06-01T10:00:00Z",
		"ccc": "2019-01-01T10:00:00Z",
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/cincan/radamsa/tags":
			json.NewEncoder(w).Encode([]map[string]any{
				{"name": "v0.1", "commit": map[string]string{"sha": "aaa"}},
				{"name": "v0.2", "commit": map[string]string{"sha": "bbb"}},
				{"name": "old", "commit": map[string]string{"sha": "ccc"}},
			})
		default:
			sha := r.URL.Path[len("/repos/cincan/radamsa/git/commits/"):]
			json.NewEncoder(w).Encode(map[string]any{
				"author": map[string]string{"date": dates[sha]},
			})
		}
	}))
	defer srv.Close()

	c, err := New(githubMeta(MethodTagRelease), Options{BaseURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "v0.2", c.FetchVersion(context.Background(), ""))
}

func TestGitHubTagReleaseTieKeepsFirst(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/cincan/radamsa/tags":
			json.NewEncoder(w).Encode([]map[string]any{
				{"name": "first", "commit": map[string]string{"sha": "aaa"}},
				{"name": "second", "commit": map[string]string{"sha": "bbb"}},
			})
		default:
			json.NewEncoder(w).Encode(map[string]any{
				"author": map[string]string{"date": "2021-06-01T10:00:00Z"},
			})
		}
	}))
	defer srv.Close()

	c, err := New(githubMeta(MethodTagRelease), Options{BaseURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "first", c.FetchVersion(context.Background(), ""))
}

func TestGitHubCommitWithHint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/cincan/radamsa/compare/master...abc123", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"behind_by":   7,
			"base_commit": map[string]string{"sha": "def456"},
		})
	}))
	defer srv.Close()

	c, err := New(githubMeta(MethodCommit), Options{BaseURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "def456", c.FetchVersion(context.Background(), "abc123"))
	assert.Equal(t, "7 commits behind master.", c.ExtraInfo())
}

func TestGitHubCommitWithoutHint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/cincan/radamsa/commits/master", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"sha": "headsha"})
	}))
	defer srv.Close()

	c, err := New(githubMeta(MethodCommit), Options{BaseURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "headsha", c.FetchVersion(context.Background(), ""))
	assert.Equal(t, "Current commit in master.", c.ExtraInfo())
}

func TestGitLabRelease(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.EscapedPath(), "cincan%2Ftool")
		json.NewEncoder(w).Encode([]map[string]string{{"name": "2.1"}, {"name": "2.0"}})
	}))
	defer srv.Close()

	c, err := New(Meta{Repository: "cincan", Tool: "tool", Provider: "gitlab", Method: MethodRelease},
		Options{BaseURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "2.1", c.FetchVersion(context.Background(), ""))
}

func TestBitbucketTagRelease(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repositories/jsmith/tool/refs/tags", r.URL.Path)
		assert.Equal(t, "-name", r.URL.Query().Get("sort"))
		json.NewEncoder(w).Encode(map[string]any{
			"values": []map[string]string{{"name": "5.40"}, {"name": "5.39"}},
		})
	}))
	defer srv.Close()

	c, err := New(Meta{Repository: "jsmith", Tool: "tool", Provider: "bitbucket", Method: MethodTagRelease},
		Options{BaseURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "5.40", c.FetchVersion(context.Background(), ""))
}

func TestPypiRelease(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pypi/oletools/json", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"info": map[string]string{"version": "0.56.2"},
		})
	}))
	defer srv.Close()

	c, err := New(Meta{Repository: "decalage2", Tool: "oletools", Provider: "pypi", Method: MethodRelease},
		Options{BaseURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "0.56.2", c.FetchVersion(context.Background(), ""))
}

func TestDebianSelectsSuite(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/binwalk", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"versions": []map[string]any{
				{"version": "2.3.1", "suites": []string{"sid"}},
				{"version": "2.1.1-16", "suites": []string{"buster", "stable"}},
			},
		})
	}))
	defer srv.Close()

	c, err := New(Meta{Repository: "debian", Tool: "binwalk", Provider: "debian",
		Method: MethodRelease, Suite: "stable"}, Options{BaseURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "2.1.1-16", c.FetchVersion(context.Background(), ""))
}

func TestDebianSuiteNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"versions": []map[string]any{
				{"version": "2.3.1", "suites": []string{"sid"}},
			},
		})
	}))
	defer srv.Close()

	c, err := New(Meta{Repository: "debian", Tool: "binwalk", Provider: "debian",
		Method: MethodRelease, Suite: "jessie"}, Options{BaseURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, NoVersion, c.FetchVersion(context.Background(), ""))
}

func TestAlpineParsesAPKBuild(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/community/tshark/APKBUILD", r.URL.Path)
		assert.Equal(t, "master", r.URL.Query().Get("h"))
		fmt.Fprint(w, "# Maintainer: someone\npkgname=tshark\npkgver=3.4.5\npkgrel=0\n")
	}))
	defer srv.Close()

	c, err := New(Meta{Repository: "community", Tool: "tshark", Provider: "alpine", Method: MethodRelease},
		Options{BaseURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "3.4.5", c.FetchVersion(context.Background(), ""))
}

func TestAlpineMissingPkgver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "pkgname=tshark\n")
	}))
	defer srv.Close()

	c, err := New(Meta{Repository: "community", Tool: "tshark", Provider: "alpine", Method: MethodRelease},
		Options{BaseURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, NoVersion, c.FetchVersion(context.Background(), ""))
}

func TestDidierStevensParsesVersionAssignment(t *testing.T) {
	source := "#!/usr/bin/env python\n__description__ = 'pdf tool'\n__version__ = '0.7.5'\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/DidierStevens/pdf-parser/contents/pdf-parser.py", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{
			"content": base64.StdEncoding.EncodeToString([]byte(source)),
		})
	}))
	defer srv.Close()

	c, err := New(Meta{Repository: "DidierStevens", Tool: "pdf-parser",
		Provider: "didierstevens@github", Method: MethodRelease}, Options{BaseURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "0.7.5", c.FetchVersion(context.Background(), ""))
}

func TestInvalidMethodSkipsNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	c, err := New(Meta{Repository: "d", Tool: "t", Provider: "pypi", Method: MethodCommit},
		Options{BaseURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, NoVersion, c.FetchVersion(context.Background(), ""))
	assert.Equal(t, int32(0), hits.Load())
}

func TestTimeoutDegradesToSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c, err := New(githubMeta(MethodRelease), Options{
		BaseURL: srv.URL,
		Timeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.Equal(t, NoVersion, c.FetchVersion(context.Background(), ""))
}

func TestAPIErrorDegradesToSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]string{"message": "rate limit exceeded"})
	}))
	defer srv.Close()

	c, err := New(githubMeta(MethodRelease), Options{BaseURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, NoVersion, c.FetchVersion(context.Background(), ""))
}

func TestDescribeCarriesFetchResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"tag_name": "v2.0"})
	}))
	defer srv.Close()

	meta := githubMeta(MethodRelease)
	meta.Origin = true
	c, err := New(meta, Options{BaseURL: srv.URL})
	require.NoError(t, err)
	c.FetchVersion(context.Background(), "")

	d := c.Describe()
	assert.Equal(t, "v2.0", d["version"])
	assert.Equal(t, true, d["origin"])
	assert.Equal(t, "github", d["provider"])
	assert.True(t, c.IsOrigin())
	assert.False(t, c.IsDockerOrigin())
}
