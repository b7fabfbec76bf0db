package plan

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/beim/sdm/pkg/checksum"
	"github.com/pkg/errors"
)

// Plan is a single migration plan as declared in its JSON file.
//
// The exported fields mirror the on-disk representation. The checksum is
// computed lazily over the canonical JSON of the declared fields plus the
// bytes of any referenced script files, and cached; a hand-edited plan
// file therefore produces a different checksum than the one recorded in
// history, which is how edits are detected.
type Plan struct {
	Version      string      `json:"version"`
	Name         string      `json:"name"`
	Author       string      `json:"author"`
	Type         Type        `json:"type"`
	Change       Change      `json:"change"`
	Dependencies []Signature `json:"dependencies"`
	IgnoreAfter  *Signature  `json:"ignore_after,omitempty"`

	dataDir       string
	cachedSum     string
	checksumMatch *bool
}

// String implements fmt.Stringer for log messages.
func (p *Plan) String() string {
	return fmt.Sprintf("plan(%s_%s)", p.Version, p.Name)
}

// Sig returns the plan's signature.
func (p *Plan) Sig() Signature {
	return Signature{Version: p.Version, Name: p.Name}
}

// Match reports whether the plan carries the given signature.
func (p *Plan) Match(sig Signature) bool {
	return p.Version == sig.Version && p.Name == sig.Name
}

// Rollbackable reports whether the plan declares a backward change.
func (p *Plan) Rollbackable() bool {
	return p.Change.Backward != nil
}

// BindDataDir records the data directory used to resolve external script
// files during checksumming. The manager binds it at load time.
func (p *Plan) BindDataDir(dir string) {
	p.dataDir = dir
}

// SetChecksumMatch records whether the history checksum matched the plan
// checksum when the repeatable scheduler selected this plan. Scripted
// condition checks receive the flag through SDM_CHECKSUM_MATCH.
func (p *Plan) SetChecksumMatch(match bool) {
	p.checksumMatch = &match
}

// ChecksumMatch returns the recorded checksum-match flag, or nil when the
// plan was never scheduled against history.
func (p *Plan) ChecksumMatch() *bool {
	return p.checksumMatch
}

// Normalize validates the decoded plan and folds legacy fields into their
// canonical form. Called once after decoding, before anything else reads
// the plan.
func (p *Plan) Normalize() error {
	if !p.Type.Valid() {
		return errors.Errorf("invalid plan type %q in %s_%s", p.Type, p.Version, p.Name)
	}
	p.Change.Forward.normalize()
	p.Change.Backward.normalize()
	if p.Dependencies == nil {
		p.Dependencies = []Signature{}
	}
	if p.Change.Forward == nil {
		return errors.Errorf("missing forward change in %s_%s", p.Version, p.Name)
	}
	return p.Sig().Validate(p.Type, true)
}

// Dict returns the canonical map form of the declared fields. Maps
// serialize with lexically sorted keys, which makes the JSON canonical.
func (p *Plan) Dict() map[string]any {
	deps := make([]any, 0, len(p.Dependencies))
	for _, d := range p.Dependencies {
		deps = append(deps, d.Dict())
	}
	obj := map[string]any{
		"version":      p.Version,
		"name":         p.Name,
		"author":       p.Author,
		"type":         string(p.Type),
		"change":       p.Change.dict(p.Type),
		"dependencies": deps,
	}
	if p.IgnoreAfter != nil {
		obj["ignore_after"] = p.IgnoreAfter.Dict()
	}
	return obj
}

// LogDict returns the Dict form augmented with the computed checksum, the
// shape recorded in history log snapshots.
func (p *Plan) LogDict() (map[string]any, error) {
	sum, err := p.Checksum()
	if err != nil {
		return nil, err
	}
	obj := p.Dict()
	obj["checksum"] = sum
	return obj, nil
}

// Checksum returns the plan checksum: SHA-1 over the canonical JSON of
// the declared fields, followed by the bytes of any externally referenced
// script files (forward then backward). Schema plans need no extra file
// hashing since the content-addressed manifest id already pins content.
// The result is cached.
func (p *Plan) Checksum() (string, error) {
	if p.cachedSum != "" {
		return p.cachedSum, nil
	}

	canonical, err := json.Marshal(p.Dict())
	if err != nil {
		return "", errors.Wrapf(err, "failed to serialize %s", p)
	}
	h := checksum.NewHasher()
	h.AddString(string(canonical))

	if p.Type == TypeData || p.Type == TypeRepeatable {
		for _, step := range []*Step{p.Change.Forward, p.Change.Backward} {
			if step == nil || !step.Kind.External() {
				continue
			}
			if err := h.AddFile(filepath.Join(p.dataDir, step.File)); err != nil {
				return "", errors.Wrapf(err, "failed to checksum %s", p)
			}
		}
	}

	p.cachedSum = h.Sum()
	return p.cachedSum, nil
}

// Filename returns the plan's file name under the plan directory.
func (p *Plan) Filename() string {
	return fmt.Sprintf("%s_%s.json", p.Version, p.Name)
}

// Save validates the plan and writes it to dir as indented JSON. It
// returns the written path.
func (p *Plan) Save(dir string) (string, error) {
	if err := p.Sig().Validate(p.Type, true); err != nil {
		return "", err
	}
	if p.Dependencies == nil {
		p.Dependencies = []Signature{}
	}
	data, err := json.MarshalIndent(p, "", "    ")
	if err != nil {
		return "", errors.Wrapf(err, "failed to serialize %s", p)
	}
	path := filepath.Join(dir, p.Filename())
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrapf(err, "failed to write plan file: %s", path)
	}
	return path, nil
}

// Decode parses a plan file's contents and normalizes it.
func Decode(data []byte) (*Plan, error) {
	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrap(err, "failed to decode plan")
	}
	if err := p.Normalize(); err != nil {
		return nil, err
	}
	return &p, nil
}
