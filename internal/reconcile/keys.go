// Package reconcile keeps one cached view per backend entity and reconciles
// it with push events, periodic polling, and local edits.
package reconcile

import (
	"fmt"
	"strings"
)

type Kind string

const (
	KindQueueStatus    Kind = "queue_status"
	KindProcesses      Kind = "processes"
	KindTasks          Kind = "tasks"
	KindTask           Kind = "task"
	KindExecutionState Kind = "execution_state"
	KindSettings       Kind = "settings"
	KindProfiles       Kind = "profiles"
	KindProfile        Kind = "profile"
	KindTemplates      Kind = "templates"
	KindPerformance    Kind = "performance"
)

// Class decides how an entity is kept fresh.
type Class int

const (
	// Operational entities change constantly and are refreshed by the poller.
	Operational Class = iota
	// Configuration entities are refreshed on access once older than the
	// staleness window.
	Configuration
)

func (k Kind) Class() Class {
	switch k {
	case KindSettings, KindProfiles, KindProfile, KindTemplates, KindPerformance:
		return Configuration
	default:
		return Operational
	}
}

var knownKinds = map[Kind]bool{
	KindQueueStatus: true, KindProcesses: true, KindTasks: true, KindTask: true,
	KindExecutionState: true, KindSettings: true, KindProfiles: true,
	KindProfile: true, KindTemplates: true, KindPerformance: true,
}

// Key names one cached entity. ID is empty for singleton and list entities.
type Key struct {
	Kind Kind
	ID   string
}

// wildcard as a Key ID addresses every entry of the kind.
const wildcard = "*"

func (k Key) String() string {
	if k.ID == "" {
		return string(k.Kind)
	}
	return string(k.Kind) + ":" + k.ID
}

func (k Key) IsWildcard() bool { return k.ID == wildcard }

// ParseKey parses the form produced by Key.String.
func ParseKey(s string) (Key, error) {
	kind, id, _ := strings.Cut(s, ":")
	k := Key{Kind: Kind(kind), ID: id}
	if !knownKinds[k.Kind] {
		return Key{}, fmt.Errorf("unknown cache key kind %q", kind)
	}
	return k, nil
}

func QueueStatusKey() Key                 { return Key{Kind: KindQueueStatus} }
func ProcessesKey() Key                   { return Key{Kind: KindProcesses} }
func TasksKey() Key                       { return Key{Kind: KindTasks} }
func TaskKey(id string) Key               { return Key{Kind: KindTask, ID: id} }
func ExecutionStateKey(taskID string) Key { return Key{Kind: KindExecutionState, ID: taskID} }
func SettingsKey() Key                    { return Key{Kind: KindSettings} }
func ProfilesKey() Key                    { return Key{Kind: KindProfiles} }
func ProfileKey(id string) Key            { return Key{Kind: KindProfile, ID: id} }
func TemplatesKey() Key                   { return Key{Kind: KindTemplates} }

// PerformanceKey addresses performance records filtered by profile; an empty
// profile id lists all of them.
func PerformanceKey(profileID string) Key { return Key{Kind: KindPerformance, ID: profileID} }

// AllOf addresses every cached entry of kind.
func AllOf(kind Kind) Key { return Key{Kind: kind, ID: wildcard} }
