// Package metafiles reads the tool metadata repository: the index file
// naming tool directory groups and the per-tool meta.json carrying upstream
// checker configurations. The repository is a git clone kept in sync on
// demand, or a plain local checkout that is used as-is.
package metafiles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	gogithttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"gopkg.in/yaml.v3"

	"gitlab.com/cincan/cincan-registry/internal/checkers"
)

// Options configures a metadata repository handle.
type Options struct {
	// URL of the git repository holding the tool metadata.
	URL string
	// Branch to track. Defaults to master.
	Branch string
	// Path of the local clone or checkout.
	Path string
	// Token authenticates clone and pull. Optional.
	Token string
	// IndexFilename names the group index. Defaults to index.yml.
	IndexFilename string
	// MetaFilename names the per-tool checker configuration. Defaults to
	// meta.json.
	MetaFilename string
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Repo is a handle on the tool metadata repository.
type Repo struct {
	url        string
	branch     string
	path       string
	token      string
	indexFile  string
	metaFile   string
	logger     *slog.Logger
	lastCommit string
}

// NewRepo builds a metadata repository handle.
func NewRepo(opts Options) (*Repo, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("metadata repository path is required")
	}
	branch := opts.Branch
	if branch == "" {
		branch = "master"
	}
	indexFile := opts.IndexFilename
	if indexFile == "" {
		indexFile = "index.yml"
	}
	metaFile := opts.MetaFilename
	if metaFile == "" {
		metaFile = "meta.json"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Repo{
		url:       opts.URL,
		branch:    branch,
		path:      opts.Path,
		token:     opts.Token,
		indexFile: indexFile,
		metaFile:  metaFile,
		logger:    logger.With("component", "metafiles"),
	}, nil
}

// Path returns the local checkout location.
func (r *Repo) Path() string { return r.path }

// LastCommit returns the HEAD commit hash after the last successful sync,
// empty for plain checkouts.
func (r *Repo) LastCommit() string { return r.lastCommit }

func (r *Repo) auth() *gogithttp.BasicAuth {
	if r.token == "" {
		return nil
	}
	// Username is ignored for token auth.
	return &gogithttp.BasicAuth{Username: "git", Password: r.token}
}

// Sync brings the checkout up to date. A directory that exists but is not a
// git repository is treated as a local checkout and left alone; a missing
// directory is cloned from the configured URL.
func (r *Repo) Sync(ctx context.Context) error {
	repo, err := gogit.PlainOpen(r.path)
	if errors.Is(err, gogit.ErrRepositoryNotExists) {
		if _, statErr := os.Stat(r.path); statErr == nil {
			r.logger.Warn("using local metadata checkout, automatic updates disabled",
				"path", r.path)
			return nil
		}
		return r.clone(ctx)
	}
	if err != nil {
		return fmt.Errorf("open metadata repository: %w", err)
	}
	return r.pull(ctx, repo)
}

func (r *Repo) clone(ctx context.Context) error {
	if r.url == "" {
		return fmt.Errorf("no metadata checkout at %s and no repository URL configured", r.path)
	}
	r.logger.Info("cloning tool metadata repository",
		"url", r.url, "branch", r.branch, "path", r.path)
	repo, err := gogit.PlainCloneContext(ctx, r.path, false, &gogit.CloneOptions{
		URL:           r.url,
		ReferenceName: plumbing.NewBranchReferenceName(r.branch),
		SingleBranch:  true,
		Depth:         1,
		Auth:          r.auth(),
	})
	if err != nil {
		return fmt.Errorf("clone %s: %w", r.url, err)
	}
	return r.updateLastCommit(repo)
}

func (r *Repo) pull(ctx context.Context, repo *gogit.Repository) error {
	w, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	err = w.PullContext(ctx, &gogit.PullOptions{
		RemoteName:    "origin",
		ReferenceName: plumbing.NewBranchReferenceName(r.branch),
		SingleBranch:  true,
		Auth:          r.auth(),
	})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return fmt.Errorf("pull metadata repository: %w", err)
	}
	return r.updateLastCommit(repo)
}

func (r *Repo) updateLastCommit(repo *gogit.Repository) error {
	ref, err := repo.Head()
	if err != nil {
		return fmt.Errorf("resolve HEAD: %w", err)
	}
	r.lastCommit = ref.Hash().String()
	return nil
}

// ReadIndex returns the tool directory groups named in the index file, in
// file order.
func (r *Repo) ReadIndex() ([]string, error) {
	data, err := os.ReadFile(filepath.Join(r.path, r.indexFile))
	if err != nil {
		return nil, fmt.Errorf("read index file: %w", err)
	}
	var index struct {
		Tools []string `yaml:"tools"`
	}
	if err := yaml.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("parse index file: %w", err)
	}
	if len(index.Tools) == 0 {
		return nil, fmt.Errorf("index file %s names no tool directories", r.indexFile)
	}
	return index.Tools, nil
}

// toolMeta is the on-disk form of a per-tool meta.json. The upstreams value
// is historically either a list or a single object.
type toolMeta struct {
	Upstreams []checkers.Meta `json:"upstreams"`
}

func (m *toolMeta) UnmarshalJSON(data []byte) error {
	var multi struct {
		Upstreams []checkers.Meta `json:"upstreams"`
	}
	if err := json.Unmarshal(data, &multi); err == nil && multi.Upstreams != nil {
		m.Upstreams = multi.Upstreams
		return nil
	}
	var single struct {
		Upstreams checkers.Meta `json:"upstreams"`
	}
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	m.Upstreams = []checkers.Meta{single.Upstreams}
	return nil
}

// ReadMetas walks every tool directory group and collects the upstream
// checker configurations, keyed by tool name. Tools without a metadata file
// are simply absent. An unreadable file is logged and skipped so one bad
// tool cannot hide the rest.
func (r *Repo) ReadMetas() (map[string][]checkers.Meta, error) {
	groups, err := r.ReadIndex()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]checkers.Meta)
	for _, group := range groups {
		groupDir := filepath.Join(r.path, group)
		entries, err := os.ReadDir(groupDir)
		if err != nil {
			r.logger.Warn("tool directory group missing", "group", group, "error", err)
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			tool := entry.Name()
			metas, err := r.readToolMeta(filepath.Join(groupDir, tool, r.metaFile))
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			if err != nil {
				r.logger.Error("skipping unreadable tool metadata", "tool", tool, "error", err)
				continue
			}
			out[tool] = metas
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no tool metadata found under %s", r.path)
	}
	return out, nil
}

// MetaFor returns the upstream configurations of one tool, nil when the tool
// has no metadata file in any group.
func (r *Repo) MetaFor(tool string) ([]checkers.Meta, error) {
	groups, err := r.ReadIndex()
	if err != nil {
		return nil, err
	}
	for _, group := range groups {
		metas, err := r.readToolMeta(filepath.Join(r.path, group, tool, r.metaFile))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return metas, nil
	}
	return nil, nil
}

func (r *Repo) readToolMeta(path string) ([]checkers.Meta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var meta toolMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return meta.Upstreams, nil
}
