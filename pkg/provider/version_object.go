package provider

import (
	"encoding/json"

	"github.com/craftreg/registry/pkg/model"
)

// buildVersionObject assembles one Composer version object: fixed field
// order (declared on versionObject itself), serialized-JSON-string
// fields re-decoded to native JSON values, empty/null optional fields
// omitted (keywords, license and authors default to [], dist to null,
// and description, homepage and type are always present), and require
// sourced from the stored DependencyEdge rows rather than the transient
// manifest Require map (which only exists to drive UpdateEngine's
// cascade); suggest/conflict/provide/replace come from the version's
// stored RawJSON fields.
func buildVersionObject(pkg model.Package, v model.PackageVersion, edges []model.DependencyEdge) versionObject {
	obj := versionObject{
		Name:              pkg.Name,
		Description:       v.Description,
		Keywords:          emptySliceDefault(v.Keywords),
		Homepage:          v.Homepage,
		Version:           v.Version,
		VersionNormalized: v.NormalizedVersion,
		License:           emptySliceDefault(v.License),
		Authors:           decodeRawOr(v.Authors, []interface{}{}),
		Dist:              decodeRaw(v.Dist),
		Type:              pkg.Type,
		Autoload:          decodeRaw(v.Autoload),
		Extra:             decodeRaw(v.Extra),
		TargetDir:         v.TargetDir,
		IncludePath:       decodeRaw(v.IncludePaths),
		Bin:               v.Binaries,
		Conflict:          decodeRaw(v.Conflict),
		Provide:           decodeRaw(v.Provide),
		Replace:           decodeRaw(v.Replace),
		UID:               v.ID,
	}

	if !v.Time.IsZero() {
		obj.Time = v.Time.UTC().Format("2006-01-02 15:04:05")
	}

	if require := requireMap(edges); len(require) > 0 {
		obj.Require = require
	}
	obj.Suggest = decodeRaw(v.Suggest)

	switch {
	case pkg.Abandoned && pkg.ReplacementPackage != "":
		obj.Abandoned = pkg.ReplacementPackage
	case pkg.Abandoned:
		obj.Abandoned = true
	}

	return obj
}

// requireMap turns a version's stored DependencyEdge rows back into the
// name->constraint map Composer's "require" field expects. Only
// production requires are persisted as edges (the update engine's
// cascade only needs those); suggest/conflict/provide/replace stay
// carried as opaque RawJSON on the version itself.
func requireMap(edges []model.DependencyEdge) map[string]string {
	if len(edges) == 0 {
		return nil
	}
	require := make(map[string]string, len(edges))
	for _, e := range edges {
		require[e.Name] = e.Constraints
	}
	return require
}

// decodeRaw re-decodes an opaque stored manifest field into a native
// JSON value (map/slice/string/etc.) so it serializes inline rather than
// as a quoted JSON string. A nil/empty RawJSON yields a nil interface:
// for the fields carrying a "?" suffix in the wire contract, the
// omitempty tag drops that key entirely; buildVersionObject substitutes
// a concrete default instead for fields that must always be present.
func decodeRaw(raw model.RawJSON) interface{} {
	return decodeRawOr(raw, nil)
}

// decodeRawOr is decodeRaw, substituting def rather than nil when raw is
// empty or absent.
func decodeRawOr(raw model.RawJSON, def interface{}) interface{} {
	if raw.IsEmpty() {
		return def
	}
	var v interface{}
	if err := json.Unmarshal(raw.Bytes(), &v); err != nil {
		return def
	}
	return v
}

// emptySliceDefault returns s unchanged when non-nil, or a non-nil empty
// slice when s is nil, so JSON marshaling emits "[]" rather than "null"
// for the wire contract's "[] default" fields.
func emptySliceDefault(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
