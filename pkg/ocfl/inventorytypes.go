package ocfl

import (
	"encoding/json"
	"time"

	"emperror.dev/errors"
	"golang.org/x/exp/slices"
)

// OCFLTime marshals as RFC3339, the only timestamp form the inventory
// document allows.
type OCFLTime struct {
	time.Time
}

func (t OCFLTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Format(time.RFC3339))
}

func (t *OCFLTime) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return errors.Wrapf(err, "cannot unmarshal time '%s'", string(data))
	}
	tt, err := time.Parse(time.RFC3339, str)
	if err != nil {
		return errors.Wrapf(err, "cannot parse time '%s'", str)
	}
	t.Time = tt
	return nil
}

type User struct {
	Address string `json:"address,omitempty"`
	Name    string `json:"name"`
}

// Version is one version block of an inventory. State maps content digest
// to the logical paths carrying that content in this version.
type Version struct {
	Created OCFLTime            `json:"created"`
	Message string              `json:"message,omitempty"`
	State   map[string][]string `json:"state"`
	User    *User               `json:"user,omitempty"`
}

// LogicalState inverts State into logical path -> digest, the form the
// diff engine and callers consume.
func (v *Version) LogicalState() map[string]string {
	result := map[string]string{}
	for digest, paths := range v.State {
		for _, path := range paths {
			result[path] = digest
		}
	}
	return result
}

// EqualState compares the path -> digest mappings, ignoring metadata.
func (v *Version) EqualState(other *Version) bool {
	if other == nil {
		return false
	}
	if len(v.State) != len(other.State) {
		return false
	}
	for digest, paths := range v.State {
		otherPaths, ok := other.State[digest]
		if !ok || len(paths) != len(otherPaths) {
			return false
		}
		sorted := slices.Clone(paths)
		otherSorted := slices.Clone(otherPaths)
		slices.Sort(sorted)
		slices.Sort(otherSorted)
		if !slices.Equal(sorted, otherSorted) {
			return false
		}
	}
	return true
}

// EqualMeta compares created timestamp, message and user.
func (v *Version) EqualMeta(other *Version) bool {
	if other == nil {
		return false
	}
	if !v.Created.Equal(other.Created.Time) || v.Message != other.Message {
		return false
	}
	if (v.User == nil) != (other.User == nil) {
		return false
	}
	if v.User != nil && (v.User.Name != other.User.Name || v.User.Address != other.User.Address) {
		return false
	}
	return true
}
