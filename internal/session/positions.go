package session

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"automontage/internal/registration"
)

// Eye selects the orientation of the nasal/temporal axis.
type Eye string

const (
	EyeOD Eye = "OD"
	EyeOS Eye = "OS"
)

// Position is one row of the positions sheet.
type Position struct {
	Movie   int
	Text    string
	Nominal registration.Vec
	FOV     float64
}

const cornerOffset = 0.6

var namedLocations = map[string]registration.Vec{
	"c":      {},
	"centre": {},
	"center": {},
	"trc":    {X: cornerOffset, Y: cornerOffset},
	"mre":    {Y: cornerOffset},
	"brc":    {X: -cornerOffset, Y: cornerOffset},
	"mbe":    {X: -cornerOffset},
	"blc":    {X: -cornerOffset, Y: -cornerOffset},
	"mle":    {Y: -cornerOffset},
	"mrc":    {Y: cornerOffset},
	"tlc":    {X: cornerOffset, Y: -cornerOffset},
	"mte":    {X: cornerOffset},
}

var (
	numberPattern = regexp.MustCompile(`[-+]?\d*\.\d+|\d+`)
	axisPattern   = regexp.MustCompile(`[^nsti]`)
)

func axis(letter byte, eye Eye) registration.Vec {
	nasal := registration.Vec{Y: 1}
	if eye == EyeOD {
		nasal = registration.Vec{Y: -1}
	}
	switch letter {
	case 's':
		return registration.Vec{X: 1}
	case 'i':
		return registration.Vec{X: -1}
	case 'n':
		return nasal
	default:
		return registration.Vec{X: -nasal.X, Y: -nasal.Y}
	}
}

// ParseLocation converts a location note such as "trc" or "2.5T 1S" into
// nominal coordinates. Coordinate forms pair each number with the n/s/t/i
// letters in order. It reports false for text it cannot interpret.
func ParseLocation(text string, eye Eye) (registration.Vec, bool) {
	s := strings.ToLower(strings.TrimSpace(text))
	nums := numberPattern.FindAllString(s, -1)
	if len(nums) == 0 {
		v, ok := namedLocations[s]
		return v, ok
	}
	letters := axisPattern.ReplaceAllString(s, "")
	if len(letters) == 0 || len(letters) > len(nums) {
		return registration.Vec{}, false
	}
	var loc registration.Vec
	for k := 0; k < len(letters); k++ {
		f, err := strconv.ParseFloat(nums[k], 64)
		if err != nil {
			return registration.Vec{}, false
		}
		a := axis(letters[k], eye)
		loc = loc.Add(registration.Vec{X: f * a.X, Y: f * a.Y})
	}
	return loc, true
}

// ReadPositions loads movie number, location and FOV from the first three
// columns of the first sheet of an .xlsx workbook or a .csv file. Rows whose
// movie number does not parse are skipped as headers; unknown locations are
// logged and placed at the centre.
func ReadPositions(path string, eye Eye, logger *slog.Logger) (map[int]Position, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var rows [][]string
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		rows, err = readWorkbook(path)
	case ".csv":
		rows, err = readCSV(path)
	default:
		return nil, fmt.Errorf("%w: unsupported positions file %s", ErrMalformed, path)
	}
	if err != nil {
		return nil, err
	}

	out := make(map[int]Position)
	for i, row := range rows {
		if len(row) < 2 {
			continue
		}
		movie, err := strconv.ParseFloat(strings.TrimSpace(row[0]), 64)
		if err != nil {
			continue
		}
		p := Position{Movie: int(movie), Text: strings.TrimSpace(row[1])}
		if len(row) > 2 && strings.TrimSpace(row[2]) != "" {
			p.FOV, err = strconv.ParseFloat(strings.TrimSpace(row[2]), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %s row %d: bad FOV %q", ErrMalformed, path, i+1, row[2])
			}
		}
		loc, ok := ParseLocation(p.Text, eye)
		if !ok {
			logger.Warn("unrecognised position, assuming centre", "movie", p.Movie, "position", p.Text)
		}
		p.Nominal = loc
		out[p.Movie] = p
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no positions in %s", ErrMalformed, path)
	}
	return out, nil
}

func readWorkbook(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook %s has no sheets", ErrMalformed, path)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	return rows, nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open positions: %w", err)
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrMalformed, path, err)
	}
	return rows, nil
}
