package storage

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/astraguard/astraguard/internal/errs"
)

// ReadBaselineSeedFile reads a JSON array of BaselineRecord (the §4.8
// envelope) from path, for seeding the native detector and the
// baselines bucket at startup. Each record's schema_version is validated
// against BaselineSchemaVersion; a mismatch is a ModelLoadError and the
// record is skipped rather than loaded blindly (§4.8, §9 redesign flag).
func ReadBaselineSeedFile(path string) ([]BaselineRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ReadBaselineSeedFile(%q): %w", path, err)
	}
	var recs []BaselineRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("ReadBaselineSeedFile(%q): %w", path, err)
	}

	valid := make([]BaselineRecord, 0, len(recs))
	var errsOut []error
	for _, rec := range recs {
		if rec.SchemaVersion != BaselineSchemaVersion {
			errsOut = append(errsOut, errs.ModelLoad("storage.ReadBaselineSeedFile", fmt.Errorf(
				"satellite %q: baseline schema_version %d does not match required %d",
				rec.SatelliteID, rec.SchemaVersion, BaselineSchemaVersion)))
			continue
		}
		valid = append(valid, rec)
	}
	if len(errsOut) > 0 {
		return valid, fmt.Errorf("ReadBaselineSeedFile(%q): %d record(s) rejected: %w", path, len(errsOut), errsOut[0])
	}
	return valid, nil
}
