package service

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/atlasmap-sc/phenospatial/internal/cells"
)

// MissingValue is written for undefined cells.
const MissingValue = "NA"

// AllCategoriesLabel names the unrestricted category in tables.
const AllCategoriesLabel = "All"

// CountColumns is the header of a radius-count table.
var CountColumns = []string{
	"Slide ID", "Field", "Category", "From", "To", "Radius",
	"From Count", "To Count", "From With", "Within Mean",
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatOptFloat(v *float64) string {
	if v == nil {
		return MissingValue
	}
	return formatFloat(*v)
}

func categoryLabel(c string) string {
	if c == cells.AllCategories {
		return AllCategoriesLabel
	}
	return c
}

// WriteCountTable writes rows as tab-separated values with a header.
func WriteCountTable(w io.Writer, rows []CountRow) error {
	tw := csv.NewWriter(w)
	tw.Comma = '\t'
	if err := tw.Write(CountColumns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, r := range rows {
		rec := []string{
			r.Slide, r.Field, categoryLabel(r.Category), r.From, r.To, formatFloat(r.Radius),
			strconv.Itoa(r.FromCount), strconv.Itoa(r.ToCount), strconv.Itoa(r.FromWith),
			formatOptFloat(r.WithinMean),
		}
		if err := tw.Write(rec); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	tw.Flush()
	return tw.Error()
}

// WriteNearestTable writes one line per source point with a distance and an
// ID column per target, e.g. "Distance to CD8+" and "Cell ID CD8+". Targets
// are taken from the first row.
func WriteNearestTable(w io.Writer, rows []NearestRow) error {
	tw := csv.NewWriter(w)
	tw.Comma = '\t'

	header := []string{"Slide ID", "Field", "Cell ID", "Phenotype", "Tissue Category"}
	if len(rows) > 0 {
		for _, n := range rows[0].Neighbors {
			header = append(header, "Distance to "+n.Phenotype, "Cell ID "+n.Phenotype)
		}
	}
	if err := tw.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, r := range rows {
		rec := []string{r.Slide, r.Field, strconv.FormatInt(r.ID, 10), r.Phenotype, r.Category}
		for _, n := range r.Neighbors {
			id := MissingValue
			if n.NearestID != nil {
				id = strconv.FormatInt(*n.NearestID, 10)
			}
			rec = append(rec, formatOptFloat(n.Distance), id)
		}
		if err := tw.Write(rec); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	tw.Flush()
	return tw.Error()
}
