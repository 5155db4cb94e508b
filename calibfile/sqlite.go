package calibfile

import (
	"database/sql"
	"sort"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"go.uber.org/multierr"

	// registers the "sqlite" database/sql driver.
	_ "modernc.org/sqlite"
)

// Tabular layout. Numeric arrays are stored long-form as (param, idx, value) rows, matrices row-major.
var sqliteSchema = []string{
	`CREATE TABLE metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`,
	`CREATE TABLE intrinsic (
		param TEXT NOT NULL,
		idx INTEGER NOT NULL,
		value REAL NOT NULL,
		PRIMARY KEY (param, idx)
	);`,
	`CREATE TABLE extrinsic (
		param TEXT NOT NULL,
		idx INTEGER NOT NULL,
		value REAL NOT NULL,
		PRIMARY KEY (param, idx)
	);`,
	`CREATE TABLE per_image_errors (
		image_index INTEGER PRIMARY KEY,
		error REAL NOT NULL
	);`,
}

type sqliteCodec struct{}

func (sqliteCodec) write(path string, doc *Document) (err error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, db.Close())
	}()
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if err := writeTables(tx, doc); err != nil {
		return multierr.Combine(err, tx.Rollback())
	}
	return tx.Commit()
}

func writeTables(tx *sql.Tx, doc *Document) error {
	for _, stmt := range sqliteSchema {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}

	meta := map[string]string{
		"format_version":   doc.FormatVersion,
		"format_type":      doc.FormatType,
		"timestamp":        doc.Metadata.Timestamp,
		"num_images_used":  cast.ToString(doc.Metadata.NumImagesUsed),
		"software_version": doc.Metadata.SoftwareVersion,
		"notes":            doc.Metadata.Notes,
	}
	if cb := doc.Metadata.Checkerboard; cb != nil {
		meta["checkerboard_rows"] = cast.ToString(cb.Rows)
		meta["checkerboard_cols"] = cast.ToString(cb.Cols)
		meta["square_size_mm"] = cast.ToString(cb.SquareSizeMM)
	}
	for k, v := range meta {
		if _, err := tx.Exec(`INSERT INTO metadata (key, value) VALUES (?, ?)`, k, v); err != nil {
			return errors.Wrapf(err, "metadata %s", k)
		}
	}

	intr := doc.Intrinsic
	imageSize := make([]float64, len(intr.ImageSize))
	for i, v := range intr.ImageSize {
		imageSize[i] = float64(v)
	}
	intrinsic := map[string][]float64{
		"camera_matrix":      flatten(intr.CameraMatrix),
		"distortion_coeffs":  intr.DistortionCoeffs,
		"image_size":         imageSize,
		"reprojection_error": {intr.ReprojectionError},
		"fx":                 {intr.Fx},
		"fy":                 {intr.Fy},
		"cx":                 {intr.Cx},
		"cy":                 {intr.Cy},
	}
	if err := insertParams(tx, "intrinsic", intrinsic); err != nil {
		return err
	}
	if ext := doc.Extrinsic; ext != nil {
		extrinsic := map[string][]float64{
			"rotation_vector":    ext.RotationVector,
			"translation_vector": ext.TranslationVector,
			"rotation_matrix":    flatten(ext.RotationMatrix),
			"camera_position":    ext.CameraPosition,
		}
		if err := insertParams(tx, "extrinsic", extrinsic); err != nil {
			return err
		}
	}
	for i, e := range doc.PerImageErrors {
		if _, err := tx.Exec(`INSERT INTO per_image_errors (image_index, error) VALUES (?, ?)`, i, e); err != nil {
			return errors.Wrapf(err, "per image error %d", i)
		}
	}
	return nil
}

func insertParams(tx *sql.Tx, table string, params map[string][]float64) error {
	//nolint:gosec
	stmt, err := tx.Prepare(`INSERT INTO ` + table + ` (param, idx, value) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() {
		_ = stmt.Close()
	}()
	for name, vals := range params {
		for i, v := range vals {
			if _, err := stmt.Exec(name, i, v); err != nil {
				return errors.Wrapf(err, "%s.%s[%d]", table, name, i)
			}
		}
	}
	return nil
}

func (sqliteCodec) read(path string) (doc *Document, err error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, db.Close())
	}()

	intrinsic, err := readParams(db, "intrinsic")
	if err != nil {
		return nil, err
	}
	meta, err := readMetadata(db)
	if err != nil {
		return nil, err
	}
	doc = &Document{
		FormatVersion: meta["format_version"],
		FormatType:    meta["format_type"],
		Intrinsic: &IntrinsicDoc{
			CameraMatrix:      unflatten(intrinsic["camera_matrix"]),
			DistortionCoeffs:  intrinsic["distortion_coeffs"],
			ReprojectionError: first(intrinsic["reprojection_error"]),
			Fx:                first(intrinsic["fx"]),
			Fy:                first(intrinsic["fy"]),
			Cx:                first(intrinsic["cx"]),
			Cy:                first(intrinsic["cy"]),
		},
		Metadata: MetadataDoc{
			Timestamp:       meta["timestamp"],
			NumImagesUsed:   cast.ToInt(meta["num_images_used"]),
			SoftwareVersion: meta["software_version"],
			Notes:           meta["notes"],
		},
	}
	for _, v := range intrinsic["image_size"] {
		doc.Intrinsic.ImageSize = append(doc.Intrinsic.ImageSize, int(v))
	}
	if rows, ok := meta["checkerboard_rows"]; ok {
		doc.Metadata.Checkerboard = &CheckerboardDoc{
			Rows:         cast.ToInt(rows),
			Cols:         cast.ToInt(meta["checkerboard_cols"]),
			SquareSizeMM: cast.ToFloat64(meta["square_size_mm"]),
		}
	}

	extrinsic, err := readParams(db, "extrinsic")
	if err != nil {
		return nil, err
	}
	if len(extrinsic) > 0 {
		doc.Extrinsic = &ExtrinsicDoc{
			RotationVector:    extrinsic["rotation_vector"],
			TranslationVector: extrinsic["translation_vector"],
			RotationMatrix:    unflatten(extrinsic["rotation_matrix"]),
			CameraPosition:    extrinsic["camera_position"],
		}
	}
	if doc.PerImageErrors, err = readPerImageErrors(db); err != nil {
		return nil, err
	}
	return doc, nil
}

func readMetadata(db *sql.DB) (map[string]string, error) {
	rows, err := db.Query(`SELECT key, value FROM metadata`)
	if err != nil {
		return nil, errors.Wrap(err, "metadata")
	}
	defer func() {
		_ = rows.Close()
	}()
	meta := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		meta[k] = v
	}
	return meta, rows.Err()
}

func readParams(db *sql.DB, table string) (map[string][]float64, error) {
	//nolint:gosec
	rows, err := db.Query(`SELECT param, idx, value FROM ` + table + ` ORDER BY param, idx`)
	if err != nil {
		return nil, errors.Wrap(err, table)
	}
	defer func() {
		_ = rows.Close()
	}()
	params := map[string][]float64{}
	for rows.Next() {
		var name string
		var idx int
		var v float64
		if err := rows.Scan(&name, &idx, &v); err != nil {
			return nil, err
		}
		if idx != len(params[name]) {
			return nil, errors.Errorf("%s.%s: missing index %d", table, name, len(params[name]))
		}
		params[name] = append(params[name], v)
	}
	return params, rows.Err()
}

func readPerImageErrors(db *sql.DB) ([]float64, error) {
	rows, err := db.Query(`SELECT image_index, error FROM per_image_errors`)
	if err != nil {
		return nil, errors.Wrap(err, "per_image_errors")
	}
	defer func() {
		_ = rows.Close()
	}()
	type entry struct {
		idx int
		err float64
	}
	var entries []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.idx, &e.err); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if entries == nil {
		return nil, nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].idx < entries[j].idx })
	out := make([]float64, len(entries))
	for i, e := range entries {
		out[i] = e.err
	}
	return out, nil
}

func flatten(m [][]float64) []float64 {
	var out []float64
	for _, row := range m {
		out = append(out, row...)
	}
	return out
}

// unflatten reshapes nine values into a 3x3 matrix. Any other count is returned as a single row so the
// document validation reports it.
func unflatten(vals []float64) [][]float64 {
	switch len(vals) {
	case 0:
		return nil
	case 9:
		return [][]float64{vals[0:3], vals[3:6], vals[6:9]}
	default:
		return [][]float64{vals}
	}
}

func first(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	return vals[0]
}
