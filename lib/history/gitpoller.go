// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bureau-foundation/conveyor/lib/git"
	"github.com/bureau-foundation/conveyor/lib/material"
)

// GitPoller polls git materials through mirror clones kept under a
// root directory, one per material fingerprint. Callers must not poll
// the same material concurrently; the Updater guarantees this.
type GitPoller struct {
	root    string
	secrets PasswordDecrypter
	logger  *slog.Logger
}

// NewGitPoller returns a poller that keeps mirrors under root. secrets
// may be nil when no material carries an encrypted password.
func NewGitPoller(root string, secrets PasswordDecrypter, logger *slog.Logger) *GitPoller {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &GitPoller{root: root, secrets: secrets, logger: logger}
}

func (p *GitPoller) Latest(ctx context.Context, m material.Material) (material.Modifications, error) {
	repository, err := p.mirror(ctx, m)
	if err != nil {
		return nil, err
	}
	return p.log(ctx, repository, m, git.LogOptions{Limit: 1})
}

func (p *GitPoller) Since(ctx context.Context, m material.Material, revision string) (material.Modifications, error) {
	repository, err := p.mirror(ctx, m)
	if err != nil {
		return nil, err
	}
	if !repository.HasCommit(ctx, revision) {
		p.logger.Warn("previous revision no longer in repository, taking latest",
			"material", m.DisplayName(),
			"revision", revision,
		)
		return p.log(ctx, repository, m, git.LogOptions{Limit: 1})
	}
	return p.log(ctx, repository, m, git.LogOptions{Exclude: revision})
}

func (p *GitPoller) log(ctx context.Context, repository *git.Repository, m material.Material, options git.LogOptions) (material.Modifications, error) {
	options.Ref = "refs/heads/" + m.EffectiveBranch()
	options.Files = true
	commits, err := repository.Log(ctx, options)
	if err != nil {
		return nil, fmt.Errorf("git material %s: %w", m.DisplayName(), err)
	}

	mods := make(material.Modifications, 0, len(commits))
	for _, commit := range commits {
		modification := material.Modification{
			Revision:     commit.Hash,
			Username:     commit.AuthorName,
			Email:        commit.AuthorEmail,
			Comment:      commit.Message,
			ModifiedTime: commit.AuthorTime,
		}
		for _, file := range commit.Files {
			modification.Files = append(modification.Files, material.ModifiedFile{
				Path:   file.Path,
				Action: fileAction(file.Status),
			})
		}
		mods = append(mods, modification)
	}
	return mods, nil
}

func fileAction(status string) material.FileAction {
	switch status {
	case "A", "C":
		return material.FileAdded
	case "M", "T":
		return material.FileModified
	case "D":
		return material.FileDeleted
	case "R":
		return material.FileRenamed
	default:
		return material.FileUnknown
	}
}

// mirror returns an up to date mirror of m, cloning it on first use.
func (p *GitPoller) mirror(ctx context.Context, m material.Material) (*git.Repository, error) {
	env, err := p.credentialEnv(m)
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(p.root, m.Fingerprint()+".git")
	_, statErr := os.Stat(dir)
	switch {
	case statErr == nil:
		repository := git.NewRepository(dir).WithEnv(env...)
		if err := repository.Fetch(ctx); err != nil {
			return nil, fmt.Errorf("git material %s: %w", m.DisplayName(), err)
		}
		return repository, nil
	case errors.Is(statErr, fs.ErrNotExist):
		if err := os.MkdirAll(p.root, 0o755); err != nil {
			return nil, fmt.Errorf("git material %s: %w", m.DisplayName(), err)
		}
		p.logger.Info("cloning material", "material", m.DisplayName(), "fingerprint", m.Fingerprint())
		repository, err := git.CloneMirror(ctx, m.URL, dir, env...)
		if err != nil {
			// A failed clone can leave a partial directory that would
			// otherwise be fetched forever.
			os.RemoveAll(dir)
			return nil, fmt.Errorf("git material %s: %w", m.DisplayName(), err)
		}
		return repository, nil
	default:
		return nil, fmt.Errorf("git material %s: %w", m.DisplayName(), statErr)
	}
}

func (p *GitPoller) credentialEnv(m material.Material) ([]string, error) {
	if m.EncryptedPassword == "" {
		return nil, nil
	}
	if p.secrets == nil {
		return nil, fmt.Errorf("git material %s: encrypted password configured but the server has no secrets identity", m.DisplayName())
	}
	password, err := p.secrets.Decrypt(m.EncryptedPassword)
	if err != nil {
		return nil, fmt.Errorf("git material %s: decrypting password: %w", m.DisplayName(), err)
	}
	defer password.Close()
	return git.CredentialEnv(m.Username, strings.TrimSpace(password.String())), nil
}
