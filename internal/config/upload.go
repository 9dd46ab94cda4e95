package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed upload_policy.yaml
var defaultUploadPolicy []byte

type Dimensions struct {
	Width     int `yaml:"width"`
	Height    int `yaml:"height"`
	MinWidth  int `yaml:"minWidth"`
	MinHeight int `yaml:"minHeight"`
}

type FileTypePolicy struct {
	Directory    string      `yaml:"directory"`
	MaxSize      int64       `yaml:"maxSize"`
	AllowedTypes []string    `yaml:"allowedTypes"`
	Dimensions   *Dimensions `yaml:"dimensions"`
}

type ChunkPolicy struct {
	MaxChunkSize    int64 `yaml:"maxChunkSize"`
	ExpirationHours int   `yaml:"expirationHours"`
}

type LargeFilePolicy struct {
	MinSize             int64    `yaml:"minSize"`
	MaxSize             int64    `yaml:"maxSize"`
	ForbiddenTypes      []string `yaml:"forbiddenTypes"`
	ForbiddenExtensions []string `yaml:"forbiddenExtensions"`
}

// UploadPolicy holds size and type limits for every upload path.
type UploadPolicy struct {
	Types     map[string]FileTypePolicy `yaml:"types"`
	Chunk     ChunkPolicy               `yaml:"chunk"`
	LargeFile LargeFilePolicy           `yaml:"largeFile"`
}

// LoadUploadPolicy reads the policy at path, or the embedded default when
// path is empty.
func LoadUploadPolicy(path string) (*UploadPolicy, error) {
	data := defaultUploadPolicy
	if path != "" {
		raw, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, fmt.Errorf("read upload policy: %w", err)
		}
		data = raw
	}

	var p UploadPolicy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse upload policy: %w", err)
	}
	if p.Chunk.MaxChunkSize <= 0 {
		return nil, fmt.Errorf("upload policy: chunk.maxChunkSize must be positive")
	}
	if p.Chunk.ExpirationHours <= 0 {
		p.Chunk.ExpirationHours = 24
	}
	if p.LargeFile.MaxSize <= 0 {
		return nil, fmt.Errorf("upload policy: largeFile.maxSize must be positive")
	}
	for i, ext := range p.LargeFile.ForbiddenExtensions {
		p.LargeFile.ForbiddenExtensions[i] = strings.ToLower(strings.TrimPrefix(ext, "."))
	}
	return &p, nil
}

// ExtensionForbidden reports whether ext (with or without the dot) is on the
// large-file deny list.
func (p *UploadPolicy) ExtensionForbidden(ext string) bool {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, f := range p.LargeFile.ForbiddenExtensions {
		if f == ext {
			return true
		}
	}
	return false
}

// TypeForbidden reports whether the MIME type is on the large-file deny list.
func (p *UploadPolicy) TypeForbidden(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	for _, f := range p.LargeFile.ForbiddenTypes {
		if strings.EqualFold(f, mimeType) {
			return true
		}
	}
	return false
}
