// Package session turns an acquisition directory into registration tiles:
// manifests, channel grouping, nominal positions, pixel loading and
// feature extraction.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"automontage/internal/registration"
)

// ManifestName is the file a watched or batch directory must contain.
const ManifestName = "montage.yaml"

// ErrMalformed marks input that cannot be turned into a tile set.
var ErrMalformed = errors.New("malformed session input")

// Naming maps each channel to the token that identifies it in file names.
type Naming struct {
	Confocal string `yaml:"confocal" json:"confocal"`
	Split    string `yaml:"split" json:"split"`
	Avg      string `yaml:"avg" json:"avg"`
}

// DefaultNaming is the convention used by the AO-SLO processing software.
func DefaultNaming() Naming {
	return Naming{Confocal: "confocal", Split: "split_det", Avg: "avg"}
}

// Token returns the file-name token for ch.
func (n Naming) Token(ch registration.Channel) string {
	switch ch {
	case registration.ChannelConfocal:
		return n.Confocal
	case registration.ChannelSplit:
		return n.Split
	default:
		return n.Avg
	}
}

func (n Naming) validate() error {
	seen := map[string]bool{}
	for _, ch := range registration.Channels() {
		tok := n.Token(ch)
		if tok == "" {
			return fmt.Errorf("%w: empty naming token for %s", ErrMalformed, ch)
		}
		if seen[tok] {
			return fmt.Errorf("%w: naming token %q used twice", ErrMalformed, tok)
		}
		seen[tok] = true
	}
	return nil
}

// RegistrationOverrides replace individual engine parameters for one session.
type RegistrationOverrides struct {
	NomThresh        *float64 `yaml:"nom_thresh"`
	MinInliers       *int     `yaml:"min_inliers"`
	AutoAccept       *int     `yaml:"auto_accept"`
	AutoAcceptFirst  *bool    `yaml:"auto_accept_first"`
	RansacIterations *int     `yaml:"ransac_iterations"`
	RansacThreshold  *float64 `yaml:"ransac_threshold"`
	RatioTest        *float64 `yaml:"ratio_test"`
	Seed             *int64   `yaml:"seed"`
}

// Apply returns p with every set override applied.
func (o *RegistrationOverrides) Apply(p registration.Params) registration.Params {
	if o == nil {
		return p
	}
	if o.NomThresh != nil {
		p.NomThresh = *o.NomThresh
	}
	if o.MinInliers != nil {
		p.MinInliers = *o.MinInliers
	}
	if o.AutoAccept != nil {
		p.AutoAccept = *o.AutoAccept
	}
	if o.AutoAcceptFirst != nil {
		p.AutoAcceptFirst = *o.AutoAcceptFirst
	}
	if o.RansacIterations != nil {
		p.RansacIterations = *o.RansacIterations
	}
	if o.RansacThreshold != nil {
		p.RansacThreshold = *o.RansacThreshold
	}
	if o.RatioTest != nil {
		p.RatioTest = *o.RatioTest
	}
	if o.Seed != nil {
		p.Seed = *o.Seed
	}
	return p
}

// Manifest describes one montage session.
type Manifest struct {
	Name         string                 `yaml:"name"`
	Directory    string                 `yaml:"directory"`
	Positions    string                 `yaml:"positions"`
	Eye          Eye                    `yaml:"eye"`
	Naming       Naming                 `yaml:"naming"`
	Output       string                 `yaml:"output"`
	WriteTiles   *bool                  `yaml:"write_tiles,omitempty"`
	Registration *RegistrationOverrides `yaml:"registration,omitempty"`
}

// LoadManifest reads a YAML manifest. Relative paths resolve against the
// manifest's directory and missing fields take defaults.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: parse manifest %s: %v", ErrMalformed, path, err)
	}
	base := filepath.Dir(path)
	if m.Directory == "" {
		m.Directory = base
	}
	m.Directory = resolve(base, m.Directory)
	if m.Positions != "" {
		m.Positions = resolve(base, m.Positions)
	}
	if m.Output != "" {
		m.Output = resolve(base, m.Output)
	}
	m.applyDefaults()
	if m.Name == "" {
		m.Name = filepath.Base(filepath.Clean(base))
	}
	return &m, m.Validate()
}

func (m *Manifest) applyDefaults() {
	def := DefaultNaming()
	if m.Naming.Confocal == "" {
		m.Naming.Confocal = def.Confocal
	}
	if m.Naming.Split == "" {
		m.Naming.Split = def.Split
	}
	if m.Naming.Avg == "" {
		m.Naming.Avg = def.Avg
	}
	if m.Eye == "" {
		m.Eye = EyeOS
	}
	m.Eye = Eye(strings.ToUpper(string(m.Eye)))
}

// Validate checks that the manifest can drive a run.
func (m *Manifest) Validate() error {
	if m.Directory == "" {
		return fmt.Errorf("%w: manifest has no image directory", ErrMalformed)
	}
	if m.Positions == "" {
		return fmt.Errorf("%w: manifest has no positions sheet", ErrMalformed)
	}
	if m.Eye != EyeOD && m.Eye != EyeOS {
		return fmt.Errorf("%w: eye must be OD or OS, got %q", ErrMalformed, m.Eye)
	}
	return m.Naming.validate()
}

func resolve(base, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
