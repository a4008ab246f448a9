package vcs

import (
	"encoding/json"
	"time"

	"github.com/craftreg/registry/pkg/model"
)

// ComposerManifest is the subset of composer.json fields the registry
// persists onto a PackageVersion.
type ComposerManifest struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Keywords     []string        `json:"keywords"`
	Homepage     string          `json:"homepage"`
	Time         string          `json:"time"`
	License      json.RawMessage `json:"license"`
	Authors      json.RawMessage `json:"authors"`
	Support      json.RawMessage `json:"support"`
	Require      map[string]string `json:"require"`
	RequireDev   map[string]string `json:"require-dev"`
	Conflict     json.RawMessage `json:"conflict"`
	Replace      json.RawMessage `json:"replace"`
	Provide      json.RawMessage `json:"provide"`
	Suggest      json.RawMessage `json:"suggest"`
	Autoload     json.RawMessage `json:"autoload"`
	IncludePath  json.RawMessage `json:"include-path"`
	TargetDir    string          `json:"target-dir"`
	Extra        json.RawMessage `json:"extra"`
	Bin          []string        `json:"bin"`
	Type         string          `json:"type"`
}

// PopulateFromManifest copies m's fields onto release.
func PopulateFromManifest(release *model.PackageVersion, m ComposerManifest) error {
	release.Description = m.Description
	release.Keywords = m.Keywords
	release.Homepage = m.Homepage
	release.Binaries = m.Bin
	release.TargetDir = m.TargetDir

	if m.Time != "" {
		if t, err := parseManifestTime(m.Time); err == nil {
			release.Time = t
		}
	}

	release.License = parseLicense(m.License)
	release.Require = m.Require
	release.Authors = model.NewRawJSON(m.Authors)
	release.Support = model.NewRawJSON(m.Support)
	release.Conflict = model.NewRawJSON(m.Conflict)
	release.Replace = model.NewRawJSON(m.Replace)
	release.Provide = model.NewRawJSON(m.Provide)
	release.Suggest = model.NewRawJSON(m.Suggest)
	release.Autoload = model.NewRawJSON(m.Autoload)
	release.IncludePaths = model.NewRawJSON(m.IncludePath)
	release.Extra = model.NewRawJSON(m.Extra)

	return nil
}

// parseLicense normalizes composer.json's "license" field, which Composer
// accepts as either a single string or an array of strings.
func parseLicense(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return []string{single}
	}

	return nil
}

func parseManifestTime(raw string) (time.Time, error) {
	layouts := []string{
		"2006-01-02T15:04:05-07:00",
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	var lastErr error
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}
