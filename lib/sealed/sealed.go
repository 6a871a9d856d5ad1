// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed encrypts material passwords to the server's age
// identity and decrypts them for pollers.
//
// Pipeline definitions carry passwords as base64-encoded age
// ciphertext (the encrypted_password attribute). Operators produce it
// with "conveyor encrypt" against the server's public key; the server
// decrypts with its identity file into a [secret.Buffer].
//
// Identity files use the age key file format: comment lines starting
// with "#" and one AGE-SECRET-KEY-1 line.
package sealed

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"filippo.io/age"

	"github.com/bureau-foundation/conveyor/lib/secret"
)

// Identity is the server's age keypair. The private key lives in a
// secret.Buffer; call Close when done.
type Identity struct {
	privateKey *secret.Buffer
	recipient  string
}

// GenerateIdentity creates a new x25519 identity.
func GenerateIdentity() (*Identity, error) {
	generated, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("sealed: generating identity: %w", err)
	}
	privateKey, err := secret.NewFromBytes([]byte(generated.String()))
	if err != nil {
		return nil, fmt.Errorf("sealed: protecting private key: %w", err)
	}
	return &Identity{privateKey: privateKey, recipient: generated.Recipient().String()}, nil
}

// LoadIdentity reads an identity file.
func LoadIdentity(path string) (*Identity, error) {
	contents, err := secret.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sealed: reading identity %s: %w", path, err)
	}
	defer contents.Close()

	var keyLine []byte
	scanner := bufio.NewScanner(bytes.NewReader(contents.Bytes()))
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		if keyLine != nil {
			return nil, fmt.Errorf("sealed: identity %s holds more than one key", path)
		}
		keyLine = line
	}
	if keyLine == nil {
		return nil, fmt.Errorf("sealed: identity %s holds no key", path)
	}

	privateKey, err := secret.NewFromBytes(bytes.Clone(keyLine))
	if err != nil {
		return nil, fmt.Errorf("sealed: protecting private key: %w", err)
	}
	parsed, err := age.ParseX25519Identity(privateKey.String())
	if err != nil {
		privateKey.Close()
		return nil, fmt.Errorf("sealed: identity %s: %w", path, err)
	}
	return &Identity{privateKey: privateKey, recipient: parsed.Recipient().String()}, nil
}

// Recipient is the public key ("age1...") to encrypt passwords to.
func (i *Identity) Recipient() string {
	return i.recipient
}

// WriteTo writes the identity in key file format, private key
// included.
func (i *Identity) WriteTo(writer io.Writer) (int64, error) {
	var buffer bytes.Buffer
	fmt.Fprintf(&buffer, "# created: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&buffer, "# public key: %s\n", i.recipient)
	buffer.Write(i.privateKey.Bytes())
	buffer.WriteByte('\n')
	defer secret.Zero(buffer.Bytes())
	written, err := writer.Write(buffer.Bytes())
	return int64(written), err
}

// Save writes the identity to path with mode 0600, refusing to
// overwrite an existing file.
func (i *Identity) Save(path string) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("sealed: %w", err)
	}
	if _, err := i.WriteTo(file); err != nil {
		file.Close()
		return fmt.Errorf("sealed: writing %s: %w", path, err)
	}
	return file.Close()
}

// Decrypt recovers a password encrypted with Encrypt. The caller
// closes the returned buffer.
func (i *Identity) Decrypt(ciphertext string) (*secret.Buffer, error) {
	parsed, err := age.ParseX25519Identity(i.privateKey.String())
	if err != nil {
		return nil, fmt.Errorf("sealed: parsing private key: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(ciphertext))
	if err != nil {
		return nil, fmt.Errorf("sealed: decoding ciphertext: %w", err)
	}
	reader, err := age.Decrypt(bytes.NewReader(raw), parsed)
	if err != nil {
		return nil, fmt.Errorf("sealed: decrypting for %s: %w", i.recipient, err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		secret.Zero(plaintext)
		return nil, fmt.Errorf("sealed: reading plaintext: %w", err)
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("sealed: ciphertext decrypts to an empty password")
	}
	return secret.NewFromBytes(plaintext)
}

// Close releases the private key.
func (i *Identity) Close() error {
	return i.privateKey.Close()
}

// Encrypt encrypts plaintext to the given age public keys and returns
// base64 for a definition's encrypted_password.
func Encrypt(plaintext []byte, recipients ...string) (string, error) {
	if len(recipients) == 0 {
		return "", fmt.Errorf("sealed: at least one recipient is required")
	}
	parsed := make([]age.Recipient, 0, len(recipients))
	for _, key := range recipients {
		recipient, err := ParseRecipient(key)
		if err != nil {
			return "", err
		}
		parsed = append(parsed, recipient)
	}

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, parsed...)
	if err != nil {
		return "", fmt.Errorf("sealed: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return "", fmt.Errorf("sealed: encrypting: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("sealed: encrypting: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ciphertext.Bytes()), nil
}

// ParseRecipient validates an age public key.
func ParseRecipient(key string) (*age.X25519Recipient, error) {
	recipient, err := age.ParseX25519Recipient(strings.TrimSpace(key))
	if err != nil {
		return nil, fmt.Errorf("sealed: invalid recipient %q: %w", key, err)
	}
	return recipient, nil
}
