// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package git runs the git CLI against local mirrors of material
// repositories. Every command targets one repository directory via
// "git -C <dir>", which all Repository methods inject.
//
// Credentials never appear on the command line: CredentialEnv installs
// a one-shot credential helper through GIT_CONFIG_* variables that
// reads the username and password from the command's environment.
package git

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Repository is a git repository at a specific directory.
type Repository struct {
	dir string
	env []string
}

// NewRepository returns a Repository targeting dir.
func NewRepository(dir string) *Repository {
	return &Repository{dir: dir}
}

// WithEnv returns a copy of r whose commands also receive env
// ("KEY=value" entries).
func (r *Repository) WithEnv(env ...string) *Repository {
	return &Repository{dir: r.dir, env: append(append([]string(nil), r.env...), env...)}
}

// Dir returns the repository directory.
func (r *Repository) Dir() string {
	return r.dir
}

// Run executes a git command in the repository and returns stdout.
// Stderr is included in the error on failure.
func (r *Repository) Run(ctx context.Context, args ...string) (string, error) {
	return run(ctx, r.env, append([]string{"-C", r.dir}, args...)...)
}

func run(ctx context.Context, env []string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, "git", args...)
	command.Stdout = &stdout
	command.Stderr = &stderr
	command.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "LC_ALL=C")
	command.Env = append(command.Env, env...)

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w (stderr: %s)",
			strings.Join(redact(args), " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// redact hides the userinfo part of URL arguments in error messages.
func redact(args []string) []string {
	redacted := make([]string, len(args))
	for index, arg := range args {
		if scheme, rest, ok := strings.Cut(arg, "://"); ok {
			if at := strings.Index(rest, "@"); at >= 0 && !strings.Contains(rest[:at], "/") {
				arg = scheme + "://***@" + rest[at+1:]
			}
		}
		redacted[index] = arg
	}
	return redacted
}

// CredentialEnv returns environment entries that make git answer
// credential prompts with username and password.
func CredentialEnv(username, password string) []string {
	return []string{
		"GIT_CONFIG_COUNT=1",
		"GIT_CONFIG_KEY_0=credential.helper",
		`GIT_CONFIG_VALUE_0=!f() { test "$1" = get && echo "username=$CONVEYOR_GIT_USERNAME" && echo "password=$CONVEYOR_GIT_PASSWORD"; }; f`,
		"CONVEYOR_GIT_USERNAME=" + username,
		"CONVEYOR_GIT_PASSWORD=" + password,
	}
}

// CloneMirror creates a mirror clone of url at dir.
func CloneMirror(ctx context.Context, url, dir string, env ...string) (*Repository, error) {
	if _, err := run(ctx, env, "clone", "--mirror", "--quiet", url, dir); err != nil {
		return nil, err
	}
	return NewRepository(dir).WithEnv(env...), nil
}

// Fetch updates a mirror from its origin, pruning deleted refs.
func (r *Repository) Fetch(ctx context.Context) error {
	_, err := r.Run(ctx, "fetch", "--prune", "--quiet", "origin")
	return err
}

// ResolveCommit returns the commit hash ref points to.
func (r *Repository) ResolveCommit(ctx context.Context, ref string) (string, error) {
	output, err := r.Run(ctx, "rev-parse", "--verify", "--quiet", ref+"^{commit}")
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", ref, err)
	}
	return strings.TrimSpace(output), nil
}

// HasCommit reports whether hash names a commit in the repository.
func (r *Repository) HasCommit(ctx context.Context, hash string) bool {
	_, err := r.Run(ctx, "cat-file", "-e", hash+"^{commit}")
	return err == nil
}

// Commit is one entry of Log.
type Commit struct {
	Hash        string
	AuthorName  string
	AuthorEmail string
	AuthorTime  time.Time
	Message     string
	Files       []FileChange
}

// FileChange is a path changed by a commit with its git status letter
// (A, M, D, R, C, T).
type FileChange struct {
	Status string
	Path   string
}

// LogOptions selects commits for Log.
type LogOptions struct {
	// Ref is the tip to walk from. Required.
	Ref string

	// Exclude stops the walk at this commit and its ancestors.
	Exclude string

	// Limit caps the number of commits. Zero means no cap.
	Limit int

	// Files loads the changed files of each commit.
	Files bool
}

const (
	fieldSeparator  = "\x1f"
	recordSeparator = "\x1e"
)

// Log lists commits newest first.
func (r *Repository) Log(ctx context.Context, options LogOptions) ([]Commit, error) {
	args := []string{"log", "--format=%H%x1f%an%x1f%ae%x1f%at%x1f%B%x1e"}
	if options.Limit > 0 {
		args = append(args, "-n", strconv.Itoa(options.Limit))
	}
	args = append(args, options.Ref)
	if options.Exclude != "" {
		args = append(args, "^"+options.Exclude)
	}
	args = append(args, "--")

	output, err := r.Run(ctx, args...)
	if err != nil {
		return nil, err
	}

	var commits []Commit
	for _, record := range strings.Split(output, recordSeparator) {
		record = strings.TrimLeft(record, "\n")
		if record == "" {
			continue
		}
		fields := strings.SplitN(record, fieldSeparator, 5)
		if len(fields) != 5 {
			return nil, fmt.Errorf("git log: malformed record %q", record)
		}
		seconds, err := strconv.ParseInt(fields[3], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("git log: commit %s: invalid author time %q", fields[0], fields[3])
		}
		commits = append(commits, Commit{
			Hash:        fields[0],
			AuthorName:  fields[1],
			AuthorEmail: fields[2],
			AuthorTime:  time.Unix(seconds, 0).UTC(),
			Message:     strings.TrimRight(fields[4], "\n"),
		})
	}

	if options.Files {
		for index := range commits {
			files, err := r.ChangedFiles(ctx, commits[index].Hash)
			if err != nil {
				return nil, err
			}
			commits[index].Files = files
		}
	}
	return commits, nil
}

// ChangedFiles lists the paths a commit changed relative to its first
// parent, or all of its paths for a root commit.
func (r *Repository) ChangedFiles(ctx context.Context, hash string) ([]FileChange, error) {
	output, err := r.Run(ctx, "diff-tree", "--root", "--no-commit-id", "--name-status", "-r", "-z", "-M", hash)
	if err != nil {
		return nil, err
	}

	fields := strings.Split(strings.TrimSuffix(output, "\x00"), "\x00")
	var files []FileChange
	for index := 0; index < len(fields); {
		status := fields[index]
		if status == "" {
			index++
			continue
		}
		// Renames and copies carry a source and a destination path.
		if status[0] == 'R' || status[0] == 'C' {
			if index+2 >= len(fields) {
				return nil, fmt.Errorf("git diff-tree %s: truncated rename entry", hash)
			}
			files = append(files, FileChange{Status: status[:1], Path: fields[index+2]})
			index += 3
			continue
		}
		if index+1 >= len(fields) {
			return nil, fmt.Errorf("git diff-tree %s: truncated entry", hash)
		}
		files = append(files, FileChange{Status: status[:1], Path: fields[index+1]})
		index += 2
	}
	return files, nil
}
