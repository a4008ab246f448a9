// Package postgres is the production store.Store backend: PostgreSQL via
// sqlx/lib/pq. The schema lives in schema.sql alongside this file; the
// registry does not run migrations itself — a deployment applies
// schema.sql with whatever migration tool it already uses.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/craftreg/registry/pkg/model"
	"github.com/craftreg/registry/pkg/semverops"
	"github.com/craftreg/registry/pkg/store"
)

// Store is a PostgreSQL-backed store.Store.
type Store struct {
	db  *sqlx.DB
	log *logrus.Entry
}

// Open connects to dsn and pings it once before returning.
func Open(dsn string, log *logrus.Entry) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Store{db: db, log: log.WithField("component", "store.postgres")}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type packageRow struct {
	ID                 int64     `db:"id"`
	Name               string    `db:"name"`
	Type               string    `db:"type"`
	Repository         *string   `db:"repository"`
	Managed            bool      `db:"managed"`
	Abandoned          bool      `db:"abandoned"`
	ReplacementPackage *string   `db:"replacement_package"`
	LatestVersion      *string   `db:"latest_version"`
	DateCreated        time.Time `db:"date_created"`
	DateUpdated        time.Time `db:"date_updated"`
}

func (r packageRow) toModel() model.Package {
	p := model.Package{
		ID:          r.ID,
		Name:        r.Name,
		Type:        r.Type,
		Managed:     r.Managed,
		Abandoned:   r.Abandoned,
		DateCreated: r.DateCreated,
		DateUpdated: r.DateUpdated,
	}
	if r.Repository != nil {
		p.Repository = *r.Repository
	}
	if r.ReplacementPackage != nil {
		p.ReplacementPackage = *r.ReplacementPackage
	}
	if r.LatestVersion != nil {
		p.LatestVersion = *r.LatestVersion
	}
	return p
}

func (s *Store) PackageExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM packages WHERE name = $1)`, name)
	return exists, err
}

func (s *Store) PackageUpdatedWithin(ctx context.Context, name string, d time.Duration) (bool, error) {
	var row struct {
		DateCreated time.Time `db:"date_created"`
		DateUpdated time.Time `db:"date_updated"`
	}
	err := s.db.GetContext(ctx, &row, `SELECT date_created, date_updated FROM packages WHERE name = $1`, name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if row.DateUpdated.Equal(row.DateCreated) {
		return false, nil
	}
	return time.Since(row.DateUpdated) < d, nil
}

func (s *Store) GetPackage(ctx context.Context, name string) (*model.Package, error) {
	var row packageRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM packages WHERE name = $1`, name)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m := row.toModel()
	return &m, nil
}

func (s *Store) GetPackageByID(ctx context.Context, id int64) (*model.Package, error) {
	var row packageRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM packages WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m := row.toModel()
	return &m, nil
}

func (s *Store) SavePackage(ctx context.Context, pkg *model.Package) error {
	var repository, replacement, latest *string
	if pkg.Repository != "" {
		repository = &pkg.Repository
	}
	if pkg.ReplacementPackage != "" {
		replacement = &pkg.ReplacementPackage
	}
	if pkg.LatestVersion != "" {
		latest = &pkg.LatestVersion
	}

	if pkg.ID == 0 {
		row := s.db.QueryRowxContext(ctx, `
			INSERT INTO packages (name, type, repository, managed, abandoned, replacement_package, latest_version)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id, date_created, date_updated
		`, pkg.Name, pkg.Type, repository, pkg.Managed, pkg.Abandoned, replacement, latest)

		return row.Scan(&pkg.ID, &pkg.DateCreated, &pkg.DateUpdated)
	}

	row := s.db.QueryRowxContext(ctx, `
		UPDATE packages SET
			name = $1, type = $2, repository = $3, managed = $4,
			abandoned = $5, replacement_package = $6, latest_version = $7,
			date_updated = now()
		WHERE id = $8
		RETURNING date_updated
	`, pkg.Name, pkg.Type, repository, pkg.Managed, pkg.Abandoned, replacement, latest, pkg.ID)

	return row.Scan(&pkg.DateUpdated)
}

func (s *Store) RemovePackage(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM packages WHERE name = $1`, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) AllVersions(ctx context.Context, name string, minStability model.Stability, sorted bool) ([]string, error) {
	admitted := admittedStabilities(minStability)

	query, args, err := sqlx.In(`
		SELECT pv.version FROM packageversions pv
		JOIN packages p ON p.id = pv.package_id
		WHERE p.name = ? AND pv.stability IN (?)
	`, name, admitted)
	if err != nil {
		return nil, err
	}

	var out []string
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	if sorted {
		semverops.SortAscending(out)
	}
	return out, nil
}

func admittedStabilities(min model.Stability) []string {
	all := []model.Stability{model.StabilityDev, model.StabilityAlpha, model.StabilityBeta, model.StabilityRC, model.StabilityStable}
	out := make([]string, 0, len(all))
	for _, s := range all {
		if s.Admits(min) {
			out = append(out, string(s))
		}
	}
	return out
}

type versionRow struct {
	ID                int64          `db:"id"`
	PackageID         int64          `db:"package_id"`
	Version           string         `db:"version"`
	NormalizedVersion string         `db:"normalized_version"`
	Stability         string         `db:"stability"`
	SHA               string         `db:"sha"`
	Description       string         `db:"description"`
	Keywords          pqStringArray  `db:"keywords"`
	Homepage          string         `db:"homepage"`
	ReleaseTime       *time.Time     `db:"release_time"`
	License           pqStringArray  `db:"license"`
	Authors           model.RawJSON  `db:"authors"`
	Support           model.RawJSON  `db:"support"`
	Conflict          model.RawJSON  `db:"conflict"`
	Replace           model.RawJSON  `db:"replace"`
	Provide           model.RawJSON  `db:"provide"`
	Suggest           model.RawJSON  `db:"suggest"`
	Autoload          model.RawJSON  `db:"autoload"`
	IncludePaths      model.RawJSON  `db:"include_paths"`
	TargetDir         string         `db:"target_dir"`
	Extra             model.RawJSON  `db:"extra"`
	Binaries          pqStringArray  `db:"binaries"`
	Source            model.RawJSON  `db:"source"`
	Dist              model.RawJSON  `db:"dist"`
	Changelog         model.RawJSON  `db:"changelog"`
}

func (r versionRow) toModel() model.PackageVersion {
	v := model.PackageVersion{
		ID:                r.ID,
		PackageID:         r.PackageID,
		Version:           r.Version,
		NormalizedVersion: r.NormalizedVersion,
		Stability:         model.Stability(r.Stability),
		SHA:               r.SHA,
		Description:       r.Description,
		Keywords:          []string(r.Keywords),
		Homepage:          r.Homepage,
		License:           []string(r.License),
		Authors:           r.Authors,
		Support:           r.Support,
		Conflict:          r.Conflict,
		Replace:           r.Replace,
		Provide:           r.Provide,
		Suggest:           r.Suggest,
		Autoload:          r.Autoload,
		IncludePaths:      r.IncludePaths,
		TargetDir:         r.TargetDir,
		Extra:             r.Extra,
		Binaries:          []string(r.Binaries),
		Source:            r.Source,
		Dist:              r.Dist,
		Changelog:         r.Changelog,
	}
	if r.ReleaseTime != nil {
		v.Time = *r.ReleaseTime
	}
	return v
}

func (s *Store) GetRelease(ctx context.Context, name, rawVersion string) (*model.PackageVersion, error) {
	normalized, err := semverops.Normalize(rawVersion)
	if err != nil {
		return nil, err
	}

	var row versionRow
	err = s.db.GetContext(ctx, &row, `
		SELECT pv.* FROM packageversions pv
		JOIN packages p ON p.id = pv.package_id
		WHERE p.name = $1 AND pv.normalized_version = $2
	`, name, normalized)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m := row.toModel()
	return &m, nil
}

func (s *Store) GetReleases(ctx context.Context, name string, rawVersions []string) ([]model.PackageVersion, error) {
	out := make([]model.PackageVersion, 0, len(rawVersions))
	for _, rv := range rawVersions {
		v, err := s.GetRelease(ctx, name, rv)
		if err != nil {
			continue
		}
		out = append(out, *v)
	}
	return out, nil
}

func (s *Store) VersionsExist(ctx context.Context, name string, constraints []string) (bool, error) {
	versions, err := s.AllVersions(ctx, name, model.StabilityDev, false)
	if err != nil {
		return false, err
	}

	for _, c := range constraints {
		satisfied := false
		for _, v := range versions {
			ok, err := semverops.Satisfies(v, c)
			if err != nil {
				continue
			}
			if ok {
				satisfied = true
				break
			}
		}
		if !satisfied {
			return false, nil
		}
	}
	return true, nil
}

func (s *Store) IsDependencyVersionRequired(ctx context.Context, name, version string) (bool, error) {
	var constraints []string
	err := s.db.SelectContext(ctx, &constraints, `SELECT DISTINCT constraints FROM packagedeps WHERE name = $1`, name)
	if err != nil {
		return false, err
	}
	for _, c := range constraints {
		ok, err := semverops.Satisfies(version, c)
		if err != nil {
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ReplaceVersions(ctx context.Context, packageID int64, toDelete []int64, toInsert []model.PackageVersion, edgesToInsert []model.DependencyEdge) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Named advisory lock keyed on the package row, so a second concurrent
	// writer for the same package blocks here rather than racing the
	// delete+insert below.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, packageID); err != nil {
		return err
	}

	if len(toDelete) > 0 {
		query, args, err := sqlx.In(`DELETE FROM packageversions WHERE id IN (?)`, toDelete)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			return err
		}
	}

	for i := range toInsert {
		v := &toInsert[i]
		row := tx.QueryRowxContext(ctx, `
			INSERT INTO packageversions (
				package_id, version, normalized_version, stability, sha,
				description, keywords, homepage, release_time, license,
				authors, support, conflict, replace, provide, suggest,
				autoload, include_paths, target_dir, extra, binaries,
				source, dist, changelog
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
				$11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
				$21, $22, $23, $24
			)
			ON CONFLICT (package_id, normalized_version) DO UPDATE SET sha = EXCLUDED.sha
			RETURNING id
		`,
			packageID, v.Version, v.NormalizedVersion, string(v.Stability), v.SHA,
			v.Description, pqStringArray(v.Keywords), v.Homepage, nullTime(v.Time), pqStringArray(v.License),
			v.Authors, v.Support, v.Conflict, v.Replace, v.Provide, v.Suggest,
			v.Autoload, v.IncludePaths, v.TargetDir, v.Extra, pqStringArray(v.Binaries),
			v.Source, v.Dist, v.Changelog,
		)
		if err := row.Scan(&v.ID); err != nil {
			return err
		}
		v.PackageID = packageID
	}

	if len(edgesToInsert) > 0 {
		for _, e := range edgesToInsert {
			versionID := e.VersionID
			if len(toInsert) > 0 {
				versionID = toInsert[len(toInsert)-1].ID
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO packagedeps (package_id, version_id, name, constraints)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (version_id, name, constraints) DO NOTHING
			`, packageID, versionID, e.Name, e.Constraints); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

func (s *Store) SetLatest(ctx context.Context, packageID int64, rawVersion string) error {
	var latest *string
	if rawVersion != "" {
		latest = &rawVersion
	}
	res, err := s.db.ExecContext(ctx, `UPDATE packages SET latest_version = $1, date_updated = now() WHERE id = $2`, latest, packageID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE plugins SET latest_version = $1 WHERE package_id = $2`, latest, packageID); err != nil {
		return err
	}

	return nil
}

func (s *Store) PublishedPackages(ctx context.Context) ([]model.Package, error) {
	var rows []packageRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM packages WHERE latest_version IS NOT NULL`); err != nil {
		return nil, err
	}
	out := make([]model.Package, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

func (s *Store) VersionsForEmission(ctx context.Context, packageID int64) ([]model.PackageVersion, error) {
	var rows []versionRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM packageversions WHERE package_id = $1`, packageID); err != nil {
		return nil, err
	}
	out := make([]model.PackageVersion, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

func (s *Store) EdgesForVersion(ctx context.Context, versionID int64) ([]model.DependencyEdge, error) {
	var out []model.DependencyEdge
	if err := s.db.SelectContext(ctx, &out, `SELECT id, package_id, version_id, name, constraints FROM packagedeps WHERE version_id = $1`, versionID); err != nil {
		return nil, err
	}
	return out, nil
}

// pqStringArray adapts []string to Postgres text[] via lib/pq's array
// support, so model.PackageVersion.Keywords/License/Binaries can be
// scanned/valued directly as sqlx struct fields.
type pqStringArray []string

func (a pqStringArray) Value() (driver.Value, error) {
	return pq.StringArray(a).Value()
}

func (a *pqStringArray) Scan(src interface{}) error {
	var inner pq.StringArray
	if err := inner.Scan(src); err != nil {
		return err
	}
	*a = pqStringArray(inner)
	return nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

var _ store.Store = (*Store)(nil)
