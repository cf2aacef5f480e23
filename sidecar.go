package multilakesar

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Sidecar columns read by the engine.
const (
	ColumnResolution      = "resolution_m"
	ColumnAcquisitionDate = "acquisition_date"
)

// Known SAR metadata table layouts. A sidecar matches a schema when its
// header contains every listed column.
var sidecarSchemas = map[string][]string{
	"product": {
		"product_id", "mission", "sensor", "band", "polarization", "acquisition_date",
		"acquisition_time_utc", "center_lat", "center_lon", "orbit_direction",
		"incidence_angle_deg", "look_angle_deg", "resolution_m", "sigma0_vv_db",
		"sigma0_vh_db", "coherence", "deformation_mm", "soil_moisture_pct",
		"water_mask", "quality_flag",
	},
	"scene": {
		"scene_id", "platform", "band", "polarization", "acquisition_date",
		"orbit_direction", "look_direction", "incidence_angle_deg", "lat", "lon",
		"land_cover", "backscatter_dB", "coherence", "dem_elevation_m", "quality_flag",
	},
}

// Row is one sidecar record keyed by header name.
type Row map[string]string

// Sidecar is the auxiliary metadata table shipped next to a scene.
type Sidecar struct {
	Header []string
	Rows   []Row
}

// LoadSidecar reads a sidecar CSV file.
func LoadSidecar(path string) (*Sidecar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sidecar: %w", err)
	}
	defer f.Close()
	return ReadSidecar(f)
}

// ReadSidecar parses a comma separated table with a header line. A UTF-8 or
// UTF-16 byte order mark is honoured, blank lines are skipped and short rows
// are padded with empty values.
func ReadSidecar(r io.Reader) (*Sidecar, error) {
	cr := csv.NewReader(transform.NewReader(r, unicode.BOMOverride(transform.Nop)))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty table", ErrSidecarSchema)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read sidecar header: %w", err)
	}
	header = lo.Map(header, func(h string, _ int) string { return strings.TrimSpace(h) })

	s := &Sidecar{Header: header}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read sidecar row: %w", err)
		}
		row := make(Row, len(header))
		for i, h := range header {
			if i < len(rec) {
				row[h] = strings.TrimSpace(rec[i])
			} else {
				row[h] = ""
			}
		}
		s.Rows = append(s.Rows, row)
	}
	return s, nil
}

// Validate returns the name of the first known schema the header satisfies.
func (s *Sidecar) Validate() (string, error) {
	names := lo.Keys(sidecarSchemas)
	sort.Strings(names)
	for _, name := range names {
		if lo.Every(s.Header, sidecarSchemas[name]) {
			return name, nil
		}
	}
	return "", ErrSidecarSchema
}

// PixelSize returns the pixel size in meters declared by the sidecar. A nil
// sidecar yields DefaultPixelSizeMeters.
func (s *Sidecar) PixelSize() float64 {
	if s == nil {
		return DefaultPixelSizeMeters
	}
	return ResolvePixelSize(s.Rows)
}

// Dates returns the distinct non-empty acquisition dates in sorted order.
func (s *Sidecar) Dates() []string {
	if s == nil {
		return nil
	}
	dates := lo.Uniq(lo.FilterMap(s.Rows, func(r Row, _ int) (string, bool) {
		d := r[ColumnAcquisitionDate]
		return d, d != ""
	}))
	sort.Strings(dates)
	return dates
}

// HasTimeSeries reports whether the sidecar spans more than one acquisition.
func (s *Sidecar) HasTimeSeries() bool { return len(s.Dates()) > 1 }

// ResolvePixelSize returns the first positive resolution_m value in rows, or
// DefaultPixelSizeMeters when none parses.
func ResolvePixelSize(rows []Row) float64 {
	sizes := lo.FilterMap(rows, func(r Row, _ int) (float64, bool) {
		v, err := strconv.ParseFloat(strings.TrimSpace(r[ColumnResolution]), 64)
		return v, err == nil && v > 0 && !math.IsInf(v, 0)
	})
	if len(sizes) == 0 {
		return DefaultPixelSizeMeters
	}
	return sizes[0]
}
