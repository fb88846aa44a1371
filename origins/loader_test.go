package origins

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoscout-scraper/models"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Milano", "milano"},
		{"  Reggio   Emilia ", "reggio emilia"},
		{"FORLÌ", "forlì"},
		{"Forlì", "forlì"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Key(tt.in), "Key(%q)", tt.in)
	}
}

func TestLoadCSVByColumn(t *testing.T) {
	path := writeFile(t, "capoluoghi.csv",
		"regione,capoluogo\nLombardia,Milano\nLazio,Roma\nLombardia,MILANO\n,\n")

	got, err := Load(path, "capoluogo")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Milano", got[0].Name)
	assert.Equal(t, "milano", got[0].Key)
	assert.Equal(t, "roma", got[1].Key)
}

func TestLoadCSVFallsBackToFirstColumn(t *testing.T) {
	path := writeFile(t, "cities.csv", "city\nTorino\nBari\n")

	got, err := Load(path, "capoluogo")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "torino", got[0].Key)
	assert.Equal(t, "bari", got[1].Key)
}

func TestLoadYAML(t *testing.T) {
	list := writeFile(t, "origins.yaml", "- Napoli\n- Palermo\n")
	got, err := Load(list, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"napoli", "palermo"}, keys(got))

	doc := writeFile(t, "origins.yml", "origins:\n  - Genova\n  - Firenze\n")
	got, err = Load(doc, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"genova", "firenze"}, keys(got))
}

func TestLoadEmpty(t *testing.T) {
	path := writeFile(t, "empty.csv", "capoluogo\n")
	_, err := Load(path, "capoluogo")
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = FromNames([]string{" ", ""})
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.csv"), "")
	require.Error(t, err)
}

func keys(list []models.Origin) []string {
	out := make([]string, len(list))
	for i, o := range list {
		out[i] = o.Key
	}
	return out
}
