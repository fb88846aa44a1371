package storage

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"autoscout-scraper/models"
)

const (
	SheetBuckets    = "buckets"
	SheetRegression = "regression"
)

// WriteXLSXReport saves the bucket table and, when a model was fit, the
// fitted curve with its confidence band as a two-sheet workbook.
func WriteXLSXReport(path string, summary *models.RunSummary) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return eris.Wrap(err, "xlsx: create output dir")
	}

	f := xlsx.NewFile()

	buckets, err := f.AddSheet(SheetBuckets)
	if err != nil {
		return eris.Wrap(err, "xlsx: add buckets sheet")
	}
	addRow(buckets, "bucket_lower_bound", "count", "mean", "std")
	for _, b := range summary.Buckets {
		row := buckets.AddRow()
		row.AddCell().SetInt(b.LowerBound)
		row.AddCell().SetInt(b.Count)
		row.AddCell().SetFloat(b.MeanPrice)
		row.AddCell().SetFloat(b.StdPrice)
	}

	reg, err := f.AddSheet(SheetRegression)
	if err != nil {
		return eris.Wrap(err, "xlsx: add regression sheet")
	}
	if res := summary.Result; res != nil {
		addRow(reg, "mileage", "predicted", "lower", "upper", "degree")
		for i, x := range res.X {
			row := reg.AddRow()
			row.AddCell().SetFloat(x)
			row.AddCell().SetFloat(res.Predicted[i])
			row.AddCell().SetFloat(res.Lower[i])
			row.AddCell().SetFloat(res.Upper[i])
			row.AddCell().SetInt(res.Degree)
		}
	} else {
		msg := "not enough data to regress"
		if summary.RegressionErr != nil {
			msg = summary.RegressionErr.Error()
		}
		addRow(reg, msg)
	}

	return eris.Wrapf(f.Save(path), "xlsx: save %q", path)
}

// ReadXLSXSheet returns every row of the named sheet as strings.
func ReadXLSXSheet(path, sheetName string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}
	sheet, ok := f.Sheet[sheetName]
	if !ok {
		return nil, eris.Errorf("xlsx: sheet %q not found", sheetName)
	}

	var rows [][]string
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

func addRow(sheet *xlsx.Sheet, values ...string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}
