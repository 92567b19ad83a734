// Package config decodes and hot-reloads the mirror's Bootstrap
// configuration, grounded on the teacher's conf/conf.go field layout
// (Logger/Server/Upstream/Storage blocks) and spec §6's recognized option
// set (host/port/repos-path/cache-size-limit/...).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/vtuber-plan/olah/internal/logging"
	"github.com/vtuber-plan/olah/internal/reaper"
	"github.com/vtuber-plan/olah/internal/rules"
)

// Bootstrap is the top-level decoded config document.
type Bootstrap struct {
	Server   Server          `yaml:"server"`
	Logger   logging.Config  `yaml:"logger"`
	Upstream Upstream        `yaml:"upstream"`
	Cache    Cache           `yaml:"cache"`
	Proxy    []RuleConfig    `yaml:"proxy"`
	CacheACL []RuleConfig    `yaml:"cache_rules"`
}

// Server is the listener configuration (spec §6: host, port, ssl-key,
// ssl-cert).
type Server struct {
	Addr         string        `yaml:"addr"`
	TLSCert      string        `yaml:"ssl-cert"`
	TLSKey       string        `yaml:"ssl-key"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// Upstream is the hub this mirror fronts (spec §6: hf-scheme, hf-netloc,
// hf-lfs-netloc, mirror-scheme, mirror-netloc, mirror-lfs-netloc, offline).
type Upstream struct {
	Scheme         string `yaml:"hf-scheme"`
	Netloc         string `yaml:"hf-netloc"`
	LFSNetloc      string `yaml:"hf-lfs-netloc"`
	MirrorScheme   string `yaml:"mirror-scheme"`
	MirrorNetloc   string `yaml:"mirror-netloc"`
	MirrorLFSNetloc string `yaml:"mirror-lfs-netloc"`
	Offline        bool   `yaml:"offline"`
}

// Cache is the on-disk layout root and eviction policy (spec §6:
// repos-path, cache-size-limit, cache-clean-strategy, mirrors-path).
type Cache struct {
	ReposPath      string `yaml:"repos-path"`
	SizeLimit      string `yaml:"cache-size-limit"`
	CleanStrategy  string `yaml:"cache-clean-strategy"`
	MirrorsPath    string `yaml:"mirrors-path"`
	DefaultBlockSize uint64 `yaml:"block_size"`
}

// RuleConfig is one rules.Rule in wire form.
type RuleConfig struct {
	Pattern string `yaml:"pattern"`
	Regex   bool   `yaml:"regex"`
	Allow   bool   `yaml:"allow"`
}

// Default returns the zero-config starting point: listen on :8090,
// HF's own hub as upstream, allow-all rules — matching
// rules.DefaultRules's "allow everything" posture.
func Default() *Bootstrap {
	return &Bootstrap{
		Server: Server{
			Addr:         ":8090",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  90 * time.Second,
		},
		Logger: logging.Config{Level: "info"},
		Upstream: Upstream{
			Scheme:    "https",
			Netloc:    "huggingface.co",
			LFSNetloc: "cdn-lfs.huggingface.co",
		},
		Cache: Cache{
			ReposPath:     "./repos",
			CleanStrategy: string(reaper.FIFO),
		},
		Proxy:    rulesToConfig(rules.DefaultRules()),
		CacheACL: rulesToConfig(rules.DefaultRules()),
	}
}

func rulesToConfig(rs []rules.Rule) []RuleConfig {
	out := make([]RuleConfig, len(rs))
	for i, r := range rs {
		out[i] = RuleConfig{Pattern: r.Pattern, Regex: r.UseRegex, Allow: r.Allow}
	}
	return out
}

// ToRules converts decoded RuleConfig entries to rules.Rule.
func ToRules(rs []RuleConfig) []rules.Rule {
	out := make([]rules.Rule, len(rs))
	for i, r := range rs {
		out[i] = rules.Rule{Pattern: r.Pattern, UseRegex: r.Regex, Allow: r.Allow}
	}
	return out
}

// Load reads and decodes path into a raw Bootstrap — fields the document
// doesn't mention stay at their zero value. Callers combine it with a
// base (Default, or the previously active config) via Merge.
func Load(path string) (*Bootstrap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var bc Bootstrap
	if err := yaml.Unmarshal(data, &bc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &bc, nil
}

// Merge overlays override's non-zero fields onto a copy of base, the
// reload-time counterpart of the teacher's storage/builder.go default-merge
// use of dario.cat/mergo. Slices (Proxy, CacheACL) are replaced wholesale
// by override when non-empty, matching "a reloaded rule list fully
// replaces the previous one" rather than element-wise merging.
func Merge(base *Bootstrap, override *Bootstrap) (*Bootstrap, error) {
	merged := *base
	if err := mergo.Merge(&merged, *override, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("config: merge: %w", err)
	}
	return &merged, nil
}

// LoadMerged reads path and merges it onto Default in one call — the
// common case for initial startup.
func LoadMerged(path string) (*Bootstrap, error) {
	raw, err := Load(path)
	if err != nil {
		return nil, err
	}
	return Merge(Default(), raw)
}

// ParseSize parses a cache-size-limit string like "500G" into bytes,
// grounded on original_source/src/olah/utils/disk_utils.py's
// convert_to_bytes. An empty string means "unset" (0, reaper no-ops).
func ParseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}
	multipliers := []struct {
		suffix string
		factor int64
	}{
		{"TB", 1 << 40}, {"GB", 1 << 30}, {"MB", 1 << 20}, {"KB", 1 << 10},
		{"T", 1 << 40}, {"G", 1 << 30}, {"M", 1 << 20}, {"K", 1 << 10},
	}
	for _, m := range multipliers {
		if strings.HasSuffix(s, m.suffix) {
			n, err := strconv.ParseInt(strings.TrimSuffix(s, m.suffix), 10, 64)
			if err != nil {
				return 0, fmt.Errorf("config: bad cache-size-limit %q: %w", s, err)
			}
			return n * m.factor, nil
		}
	}
	return strconv.ParseInt(s, 10, 64)
}
