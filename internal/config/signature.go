package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	minisign "github.com/jedisct1/go-minisign"
)

// SignatureSuffix is appended to a config path to locate its detached signature.
const SignatureSuffix = ".minisig"

// Verifier checks detached Minisign signatures over configuration files.
type Verifier struct {
	publicKey minisign.PublicKey
}

// NewVerifier parses a Minisign public key, including its comment line.
func NewVerifier(pubKey string) (*Verifier, error) {
	pubKey = strings.TrimSpace(pubKey)
	if pubKey == "" {
		return nil, errors.New("minisign public key is required")
	}
	publicKey, err := minisign.DecodePublicKey(pubKey)
	if err != nil {
		return nil, fmt.Errorf("parse minisign public key: %w", err)
	}
	return &Verifier{publicKey: publicKey}, nil
}

// NewVerifierFromFile reads the public key from disk.
func NewVerifierFromFile(path string) (*Verifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key %q: %w", path, err)
	}
	return NewVerifier(string(data))
}

// VerifyFile checks path against path+SignatureSuffix.
func (v *Verifier) VerifyFile(ctx context.Context, path string) error {
	if v == nil {
		return errors.New("config verifier not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	sigPath := path + SignatureSuffix
	sigBytes, err := os.ReadFile(sigPath)
	if err != nil {
		return fmt.Errorf("read signature %q: %w", sigPath, err)
	}
	signature, err := minisign.DecodeSignature(string(sigBytes))
	if err != nil {
		return fmt.Errorf("decode signature %q: %w", sigPath, err)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %q: %w", path, err)
	}
	ok, err := v.publicKey.Verify(body, signature)
	if err != nil {
		return fmt.Errorf("verify config %q: %w", path, err)
	}
	if !ok {
		return fmt.Errorf("verify config %q: signature mismatch", path)
	}
	return nil
}
