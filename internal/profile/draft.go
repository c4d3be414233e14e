package profile

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/msageha/autosteer/internal/condition"
	"github.com/msageha/autosteer/internal/model"
)

// Draft is a private, editable copy of a profile. Edits never reach the
// profile it was cloned from; Dirty reports whether the draft differs from the
// version it was based on.
type Draft struct {
	profile         model.Profile
	baseFingerprint string
}

// NewDraft clones p into a draft based on p.
func NewDraft(p model.Profile) *Draft {
	c := Clone(p)
	return &Draft{profile: c, baseFingerprint: Fingerprint(c)}
}

// FromTemplate clones a starter profile into an unsaved draft with a fresh id.
// The draft is dirty until it is first saved.
func FromTemplate(tpl model.Profile) *Draft {
	c := Clone(tpl)
	c.ID = model.NewID(model.KindProfile)
	c.IsTemplate = false
	c.UpdatedAt = ""
	return &Draft{profile: c}
}

// Restore rebuilds a draft from stored state.
func Restore(p model.Profile, baseFingerprint string) *Draft {
	return &Draft{profile: Clone(p), baseFingerprint: baseFingerprint}
}

func (d *Draft) ID() string { return d.profile.ID }

// Profile returns a deep copy of the current draft contents.
func (d *Draft) Profile() model.Profile { return Clone(d.profile) }

func (d *Draft) BaseFingerprint() string { return d.baseFingerprint }

func (d *Draft) Fingerprint() string { return Fingerprint(d.profile) }

func (d *Draft) Dirty() bool { return d.Fingerprint() != d.baseFingerprint }

// MarkSaved rebases the draft on the profile returned by a successful save.
func (d *Draft) MarkSaved(saved model.Profile) {
	d.profile = Clone(saved)
	d.baseFingerprint = Fingerprint(d.profile)
}

func (d *Draft) Validate() *ValidationErrors { return Validate(d.profile) }

func (d *Draft) SetName(name string) { d.profile.Name = name }

func (d *Draft) SetDescription(desc string) { d.profile.Description = desc }

func (d *Draft) SetTags(tags []string) { d.profile.Tags = NormalizeTags(tags) }

func (d *Draft) AddPhase(mode model.PhaseMode) int {
	d.profile.Phases = AddPhase(d.profile.Phases, NewPhase(mode))
	return len(d.profile.Phases) - 1
}

func (d *Draft) UpdatePhase(index int, patch PhasePatch) error {
	return d.apply(func(ph []model.Phase) ([]model.Phase, error) { return UpdatePhase(ph, index, patch) })
}

func (d *Draft) RemovePhase(index int) error {
	return d.apply(func(ph []model.Phase) ([]model.Phase, error) { return RemovePhase(ph, index) })
}

func (d *Draft) MovePhase(index int, dir Direction) error {
	return d.apply(func(ph []model.Phase) ([]model.Phase, error) { return MovePhase(ph, index, dir) })
}

func (d *Draft) DuplicatePhase(index int) error {
	return d.apply(func(ph []model.Phase) ([]model.Phase, error) { return DuplicatePhase(ph, index) })
}

func (d *Draft) InsertCondition(phase int, parent condition.Path, kind model.ConditionType) error {
	return d.editConditions(phase, func(tree []model.ConditionNode) ([]model.ConditionNode, error) {
		return condition.InsertAt(tree, parent, kind)
	})
}

func (d *Draft) UpdateCondition(phase int, path condition.Path, patch condition.Patch) error {
	return d.editConditions(phase, func(tree []model.ConditionNode) ([]model.ConditionNode, error) {
		return condition.UpdateAt(tree, path, patch)
	})
}

func (d *Draft) RemoveCondition(phase int, path condition.Path) error {
	return d.editConditions(phase, func(tree []model.ConditionNode) ([]model.ConditionNode, error) {
		return condition.RemoveAt(tree, path)
	})
}

func (d *Draft) apply(fn func([]model.Phase) ([]model.Phase, error)) error {
	next, err := fn(d.profile.Phases)
	if err != nil {
		return err
	}
	d.profile.Phases = next
	return nil
}

func (d *Draft) editConditions(phase int, fn func([]model.ConditionNode) ([]model.ConditionNode, error)) error {
	if err := checkIndex(d.profile.Phases, phase); err != nil {
		return fmt.Errorf("edit conditions: %w", err)
	}
	tree, err := fn(d.profile.Phases[phase].StopConditions)
	if err != nil {
		return fmt.Errorf("phase %d: %w", phase, err)
	}
	next, err := UpdatePhase(d.profile.Phases, phase, PhasePatch{StopConditions: tree, ReplaceConditions: true})
	if err != nil {
		return err
	}
	d.profile.Phases = next
	return nil
}

// Fingerprint hashes the canonical JSON form of p with blake3. Server-managed
// fields and representation-only differences (nil vs empty, tag order) do not
// affect it.
func Fingerprint(p model.Profile) string {
	c := canonical(p)
	data, err := json.Marshal(c)
	if err != nil {
		// NaN thresholds are not representable in JSON.
		data = []byte(fmt.Sprintf("%#v", c))
	}
	h := blake3.New()
	_, _ = h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

func canonical(p model.Profile) model.Profile {
	c := Clone(p)
	c.UpdatedAt = ""
	c.Tags = NormalizeTags(c.Tags)
	if len(c.Phases) == 0 {
		c.Phases = nil
	}
	for i := range c.Phases {
		c.Phases[i].StopConditions = canonicalTree(c.Phases[i].StopConditions)
	}
	return c
}

func canonicalTree(tree []model.ConditionNode) []model.ConditionNode {
	if len(tree) == 0 {
		return nil
	}
	for i := range tree {
		tree[i].Conditions = canonicalTree(tree[i].Conditions)
	}
	return tree
}
