package service

import (
	"bytes"
	"strings"
	"testing"

	"github.com/atlasmap-sc/phenospatial/internal/cells"
)

func TestWriteCountTable(t *testing.T) {
	rows := []CountRow{
		{Field: "f1", Slide: "s1", Category: cells.AllCategories, From: "X", To: "Y", Radius: 5,
			FromCount: 2, ToCount: 2, FromWith: 1, WithinMean: fptr(0.5)},
		{Field: "f1", Slide: "s1", Category: "Tumor", From: "X", To: "Z", Radius: 12.5,
			FromCount: 2, ToCount: 0},
	}
	var buf bytes.Buffer
	if err := WriteCountTable(&buf, rows); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	want := []string{
		strings.Join(CountColumns, "\t"),
		"s1\tf1\tAll\tX\tY\t5\t2\t2\t1\t0.5",
		"s1\tf1\tTumor\tX\tZ\t12.5\t2\t0\t0\tNA",
	}
	if len(lines) != len(want) {
		t.Fatalf("expected %d lines, got %d:\n%s", len(want), len(lines), buf.String())
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d: got %q want %q", i, lines[i], want[i])
		}
	}
}

func TestWriteNearestTable(t *testing.T) {
	rows := []NearestRow{
		{Field: "f1", ID: 1, Phenotype: "X", Category: "Tumor", Neighbors: []Neighbor{
			{Phenotype: "X"},
			{Phenotype: "Y", Distance: fptr(3), NearestID: iptr(3)},
		}},
	}
	var buf bytes.Buffer
	if err := WriteNearestTable(&buf, rows); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "Slide ID\tField\tCell ID\tPhenotype\tTissue Category\tDistance to X\tCell ID X\tDistance to Y\tCell ID Y\n" +
		"\tf1\t1\tX\tTumor\tNA\tNA\t3\t3\n"
	if buf.String() != want {
		t.Fatalf("got\n%q\nwant\n%q", buf.String(), want)
	}
}
