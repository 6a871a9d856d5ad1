// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package material

import (
	"encoding/hex"
	"fmt"
	"maps"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/conveyor/lib/codec"
)

// Kind is the material variant.
type Kind string

const (
	Git        Kind = "git"
	Mercurial  Kind = "hg"
	Subversion Kind = "svn"
	Perforce   Kind = "p4"
	TFS        Kind = "tfs"
	Dependency Kind = "dependency"
	Package    Kind = "package"
	Plugin     Kind = "plugin"
)

// Kinds lists every valid Kind.
var Kinds = []Kind{Git, Mercurial, Subversion, Perforce, TFS, Dependency, Package, Plugin}

// ParseKind validates a kind name.
func ParseKind(name string) (Kind, error) {
	for _, kind := range Kinds {
		if string(kind) == name {
			return kind, nil
		}
	}
	return "", fmt.Errorf("unknown material type %q", name)
}

// IsSCM reports whether the kind is a source control repository that
// reports changed files.
func (k Kind) IsSCM() bool {
	switch k {
	case Git, Mercurial, Subversion, Perforce, TFS, Plugin:
		return true
	}
	return false
}

// Material is one configured change source. Which attributes are
// meaningful depends on Kind; Validate enforces the required ones.
type Material struct {
	Kind Kind   `json:"type" cbor:"kind"`
	Name string `json:"name,omitempty" cbor:"name,omitempty"`

	// Source control.
	URL               string `json:"url,omitempty" cbor:"url,omitempty"`
	Branch            string `json:"branch,omitempty" cbor:"branch,omitempty"`
	Username          string `json:"username,omitempty" cbor:"username,omitempty"`
	EncryptedPassword string `json:"encrypted_password,omitempty" cbor:"encrypted_password,omitempty"`
	Domain            string `json:"domain,omitempty" cbor:"domain,omitempty"`
	ProjectPath       string `json:"project_path,omitempty" cbor:"project_path,omitempty"`
	View              string `json:"view,omitempty" cbor:"view,omitempty"`

	// Dependency on an upstream stage.
	Pipeline string `json:"pipeline,omitempty" cbor:"pipeline,omitempty"`
	Stage    string `json:"stage,omitempty" cbor:"stage,omitempty"`

	// Package repository.
	Repository string `json:"repository,omitempty" cbor:"repository,omitempty"`
	PackageID  string `json:"package,omitempty" cbor:"package,omitempty"`

	// Plugin-defined SCM.
	PluginID   string            `json:"plugin,omitempty" cbor:"plugin,omitempty"`
	SCMID      string            `json:"scm,omitempty" cbor:"scm,omitempty"`
	Properties map[string]string `json:"properties,omitempty" cbor:"properties,omitempty"`

	// Folder is the checkout destination inside the pipeline's
	// working directory.
	Folder string `json:"destination,omitempty" cbor:"destination,omitempty"`

	Filter Filter `json:"filter,omitzero" cbor:"filter"`

	// AutoUpdate controls whether the server polls this material on
	// its own. Nil means true.
	AutoUpdate *bool `json:"auto_update,omitempty" cbor:"auto_update,omitempty"`
}

// identity is the fingerprinted subset of a Material. Field order is
// irrelevant (deterministic CBOR sorts keys) but field names are part
// of every stored fingerprint.
type identity struct {
	Kind        Kind              `cbor:"kind"`
	URL         string            `cbor:"url,omitempty"`
	Branch      string            `cbor:"branch,omitempty"`
	Username    string            `cbor:"username,omitempty"`
	Domain      string            `cbor:"domain,omitempty"`
	ProjectPath string            `cbor:"project_path,omitempty"`
	View        string            `cbor:"view,omitempty"`
	Pipeline    string            `cbor:"pipeline,omitempty"`
	Stage       string            `cbor:"stage,omitempty"`
	Repository  string            `cbor:"repository,omitempty"`
	PackageID   string            `cbor:"package,omitempty"`
	PluginID    string            `cbor:"plugin,omitempty"`
	SCMID       string            `cbor:"scm,omitempty"`
	Properties  map[string]string `cbor:"properties,omitempty"`
	Folder      string            `cbor:"folder,omitempty"`
}

var (
	fingerprintKey = domainKey("conveyor.material.fingerprint")
	uniqueKey      = domainKey("conveyor.material.pipeline-unique")
)

// domainKey zero-pads an ASCII domain name to a BLAKE3 key.
func domainKey(name string) [32]byte {
	var key [32]byte
	copy(key[:], name)
	return key
}

// DefaultGitBranch is the branch of a git material that names none.
const DefaultGitBranch = "master"

// EffectiveBranch returns the branch to poll: Branch, or
// DefaultGitBranch for a git material without one.
func (m Material) EffectiveBranch() string {
	if m.Kind == Git && m.Branch == "" {
		return DefaultGitBranch
	}
	return m.Branch
}

func (m Material) identity() identity {
	branch := m.EffectiveBranch()
	return identity{
		Kind:        m.Kind,
		URL:         m.URL,
		Branch:      branch,
		Username:    m.Username,
		Domain:      m.Domain,
		ProjectPath: m.ProjectPath,
		View:        m.View,
		// Pipeline and stage names are case-insensitive.
		Pipeline:   strings.ToLower(m.Pipeline),
		Stage:      strings.ToLower(m.Stage),
		Repository: m.Repository,
		PackageID:  m.PackageID,
		PluginID:   m.PluginID,
		SCMID:      m.SCMID,
		Properties: m.Properties,
	}
}

// Fingerprint identifies where the material's changes come from. It is
// the join key between pipelines and the material history.
func (m Material) Fingerprint() string {
	return hashIdentity(fingerprintKey, m.identity())
}

// PipelineUniqueFingerprint is Fingerprint extended with the checkout
// folder.
func (m Material) PipelineUniqueFingerprint() string {
	id := m.identity()
	id.Folder = m.Folder
	return hashIdentity(uniqueKey, id)
}

func hashIdentity(key [32]byte, id identity) string {
	data, err := codec.Marshal(id)
	if err != nil {
		// identity has only strings and a string map.
		panic("material: encoding identity: " + err.Error())
	}
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("material: blake3 key: " + err.Error())
	}
	hasher.Write(data)
	return hex.EncodeToString(hasher.Sum(nil))
}

// IsAutoUpdate reports whether the server polls this material.
func (m Material) IsAutoUpdate() bool {
	return m.AutoUpdate == nil || *m.AutoUpdate
}

// Ordering returns the revision ordering for this material's kind.
func (m Material) Ordering() Ordering {
	return OrderingFor(m.Kind)
}

// DisplayName is the human-readable name used in messages.
func (m Material) DisplayName() string {
	if m.Name != "" {
		return m.Name
	}
	switch m.Kind {
	case Dependency:
		return m.Pipeline + "/" + m.Stage
	case Package:
		return m.Repository + ":" + m.PackageID
	case Plugin:
		return m.PluginID + ":" + m.SCMID
	case Git:
		if m.Branch != "" && m.Branch != "master" {
			return m.URL + ", " + m.Branch
		}
		return m.URL
	default:
		return m.URL
	}
}

func (m Material) String() string {
	return fmt.Sprintf("%s material [%s]", m.Kind, m.DisplayName())
}

// Equal reports whether two materials have the same configuration,
// including filter and folder.
func (m Material) Equal(other Material) bool {
	return m.PipelineUniqueFingerprint() == other.PipelineUniqueFingerprint() &&
		m.Name == other.Name &&
		m.EncryptedPassword == other.EncryptedPassword &&
		m.IsAutoUpdate() == other.IsAutoUpdate() &&
		m.Filter.Equal(other.Filter)
}

// Clone returns a copy that shares no mutable state with m.
func (m Material) Clone() Material {
	clone := m
	clone.Properties = maps.Clone(m.Properties)
	clone.Filter = m.Filter.Clone()
	if m.AutoUpdate != nil {
		value := *m.AutoUpdate
		clone.AutoUpdate = &value
	}
	return clone
}

// Validate checks that the attributes required by the kind are set.
func (m Material) Validate() error {
	if _, err := ParseKind(string(m.Kind)); err != nil {
		return err
	}
	var missing []string
	require := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	switch m.Kind {
	case Git, Mercurial, Subversion, TFS:
		require("url", m.URL)
	case Perforce:
		require("url", m.URL)
		require("view", m.View)
	case Dependency:
		require("pipeline", m.Pipeline)
		require("stage", m.Stage)
	case Package:
		require("repository", m.Repository)
		require("package", m.PackageID)
	case Plugin:
		require("plugin", m.PluginID)
		require("scm", m.SCMID)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s material: missing %s", m.Kind, strings.Join(missing, ", "))
	}
	if err := m.Filter.Validate(); err != nil {
		return fmt.Errorf("%s: %w", m, err)
	}
	return nil
}
