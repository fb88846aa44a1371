// Package origins loads the fixed list of search centers and normalizes
// their names into comparison keys.
package origins

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"autoscout-scraper/models"
)

// ErrEmpty is returned when a source yields no usable origin.
var ErrEmpty = eris.New("origins: no origins found")

// Key returns the canonical comparison form of an origin name: NFC
// normalized, case folded, whitespace collapsed.
func Key(name string) string {
	s := norm.NFC.String(name)
	s = strings.Join(strings.Fields(s), " ")
	return cases.Lower(language.Und).String(cases.Fold().String(s))
}

// Load reads origins from path. ".yaml"/".yml" files hold either a plain
// list of names or an "origins:" list; anything else is parsed as CSV with
// a header row, taking names from column (first column when column is
// empty or absent).
func Load(path, column string) ([]models.Origin, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "origins: open %q", path)
	}
	defer f.Close()

	var names []string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		names, err = readYAML(f)
	default:
		names, err = readCSV(f, column)
	}
	if err != nil {
		return nil, err
	}
	return FromNames(names)
}

// FromNames builds the origin set from raw names, keeping list order,
// skipping blanks and dropping later names whose key repeats an earlier one.
func FromNames(names []string) ([]models.Origin, error) {
	seen := make(map[string]struct{}, len(names))
	out := make([]models.Origin, 0, len(names))
	for _, n := range names {
		name := strings.TrimSpace(n)
		if name == "" {
			continue
		}
		key := Key(name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, models.Origin{Name: name, Key: key})
	}
	if len(out) == 0 {
		return nil, ErrEmpty
	}
	return out, nil
}

func readCSV(r io.Reader, column string) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, eris.Wrap(err, "origins: read csv header")
	}

	idx := 0
	if column != "" {
		want := Key(column)
		for i, h := range header {
			if Key(strings.TrimPrefix(h, "\ufeff")) == want {
				idx = i
				break
			}
		}
	}

	var names []string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "origins: read csv row")
		}
		if idx < len(rec) {
			names = append(names, rec[idx])
		}
	}
	return names, nil
}

func readYAML(r io.Reader) ([]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "origins: read yaml")
	}

	var list []string
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}

	var doc struct {
		Origins []string `yaml:"origins"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "origins: parse yaml")
	}
	return doc.Origins, nil
}
