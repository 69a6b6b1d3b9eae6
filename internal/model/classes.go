package model

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
)

// DefaultTreatment is returned for every label without a specific entry.
const DefaultTreatment = "Consult an expert."

// DefaultClassNames is used when the class-names file is missing or empty.
// Its order must match the order the model was trained with.
var DefaultClassNames = ClassList{
	"healthy",
	"bacterial_blight",
	"powdery_mildew",
	"early_blight",
	"late_blight",
	"leaf_rust",
	"septoria_leaf_spot",
	"target_spot",
	"mosaic_virus",
	"yellow_leaf_curl_virus",
	"downy_mildew",
	"spider_mites",
}

// ClassList maps output indices to disease labels.
type ClassList []string

// Label returns the label at index i.
func (c ClassList) Label(i int) (string, bool) {
	if i < 0 || i >= len(c) {
		return "", false
	}
	return c[i], true
}

// LoadClassNames reads one label per line, ignoring blank lines. A missing or
// empty file yields a copy of DefaultClassNames.
func LoadClassNames(path string, log *zap.Logger) (ClassList, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Warn("class names file not found, using default list", zap.String("path", path))
		return append(ClassList(nil), DefaultClassNames...), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open class names: %w", err)
	}
	defer f.Close()

	var names ClassList
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if name := strings.TrimSpace(scanner.Text()); name != "" {
			names = append(names, name)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read class names: %w", err)
	}

	if len(names) == 0 {
		log.Warn("class names file is empty, using default list", zap.String("path", path))
		return append(ClassList(nil), DefaultClassNames...), nil
	}
	log.Info("loaded class names", zap.Int("count", len(names)), zap.String("path", path))
	return names, nil
}

// WriteClassNames writes labels newline-delimited, in order.
func WriteClassNames(path string, names []string) error {
	return os.WriteFile(path, []byte(strings.Join(names, "\n")+"\n"), 0o644)
}

// Treatments maps a label to its advice.
type Treatments map[string]string

// NewTreatments gives every class the default advice.
func NewTreatments(classes ClassList) Treatments {
	t := make(Treatments, len(classes))
	for _, c := range classes {
		t[c] = DefaultTreatment
	}
	return t
}

// Lookup returns the advice for label, or DefaultTreatment.
func (t Treatments) Lookup(label string) string {
	if advice, ok := t[label]; ok && advice != "" {
		return advice
	}
	return DefaultTreatment
}
