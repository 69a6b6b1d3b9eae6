// Package training fits the classification head that the API serves: it
// discovers labelled images, augments them, extracts features with a frozen
// ONNX backbone and trains a dense head on top.
package training

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".bmp": true, ".tif": true, ".tiff": true, ".gif": true,
}

// Sample is one labelled image on disk.
type Sample struct {
	Path  string
	Label int
}

// Dataset holds samples and the class order their labels index into.
type Dataset struct {
	Classes []string
	Samples []Sample
	// Skipped counts manifest rows whose image file is missing.
	Skipped int
}

// FromDirectory reads a tree with one subdirectory per class. Classes are
// ordered by name.
func FromDirectory(root string) (*Dataset, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset dir: %w", err)
	}

	ds := &Dataset{}
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			ds.Classes = append(ds.Classes, e.Name())
		}
	}
	sort.Strings(ds.Classes)
	if len(ds.Classes) == 0 {
		return nil, fmt.Errorf("no class directories in %s", root)
	}

	for label, class := range ds.Classes {
		dir := filepath.Join(root, class)
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(path))] {
				return nil
			}
			ds.Samples = append(ds.Samples, Sample{Path: path, Label: label})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
		}
	}

	if len(ds.Samples) == 0 {
		return nil, fmt.Errorf("no images found under %s", root)
	}
	return ds, nil
}

// FromCSV reads a manifest whose first column is image_id and whose remaining
// columns score each class. A row's label is its highest-scoring column and
// its image is <imageDir>/<image_id>.jpg. Classes are the labels that occur,
// ordered by name.
func FromCSV(manifest, imageDir string) (*Dataset, error) {
	f, err := os.Open(manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest header: %w", err)
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("manifest needs an image_id column and at least one class column")
	}
	columns := header[1:]

	type row struct {
		path  string
		label string
	}
	var rows []row
	seen := map[string]bool{}
	skipped := 0

	for line := 2; ; line++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("manifest line %d: %w", line, err)
		}

		best, bestScore := -1, math.Inf(-1)
		for i, v := range record[1:] {
			score, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, fmt.Errorf("manifest line %d column %q: %w", line, columns[i], err)
			}
			if score > bestScore {
				best, bestScore = i, score
			}
		}

		if best < 0 {
			return nil, fmt.Errorf("manifest line %d has no finite score", line)
		}

		path := filepath.Join(imageDir, strings.TrimSpace(record[0])+".jpg")
		if _, err := os.Stat(path); err != nil {
			skipped++
			continue
		}
		rows = append(rows, row{path: path, label: columns[best]})
		seen[columns[best]] = true
	}

	ds := &Dataset{Skipped: skipped}
	for class := range seen {
		ds.Classes = append(ds.Classes, class)
	}
	sort.Strings(ds.Classes)
	if len(rows) == 0 {
		return nil, fmt.Errorf("manifest %s lists no existing images", manifest)
	}

	index := make(map[string]int, len(ds.Classes))
	for i, class := range ds.Classes {
		index[class] = i
	}
	for _, r := range rows {
		ds.Samples = append(ds.Samples, Sample{Path: r.path, Label: index[r.label]})
	}
	return ds, nil
}

// Split holds out valFraction of every class for validation. The split is
// reproducible for a given seed.
func (d *Dataset) Split(valFraction float64, seed int64) (train, val []Sample) {
	if valFraction <= 0 || valFraction >= 1 {
		return append([]Sample(nil), d.Samples...), nil
	}

	byClass := make([][]Sample, len(d.Classes))
	for _, s := range d.Samples {
		byClass[s.Label] = append(byClass[s.Label], s)
	}

	rng := rand.New(rand.NewSource(seed))
	for _, samples := range byClass {
		rng.Shuffle(len(samples), func(i, j int) { samples[i], samples[j] = samples[j], samples[i] })
		if len(samples) == 0 {
			continue
		}
		n := int(math.Round(float64(len(samples)) * valFraction))
		if n >= len(samples) {
			n = len(samples) - 1
		}
		val = append(val, samples[:n]...)
		train = append(train, samples[n:]...)
	}
	return train, val
}
