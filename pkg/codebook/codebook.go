// Package codebook maps gene names to their per-round label codes and
// combines them with a bleed matrix into gene signatures.
package codebook

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// ErrInvalidCodebook is returned for malformed or inconsistent codebooks.
var ErrInvalidCodebook = errors.New("invalid codebook")

// Gene is one codebook entry. Code[r] is the dye expected in round r.
type Gene struct {
	Name string
	Code []int
}

// Codebook is an ordered list of genes. Gene indices used everywhere else
// are positions in this list.
type Codebook struct {
	Genes []Gene
}

// Len returns the number of genes.
func (cb *Codebook) Len() int { return len(cb.Genes) }

// Names returns gene names in index order.
func (cb *Codebook) Names() []string {
	names := make([]string, len(cb.Genes))
	for i, g := range cb.Genes {
		names[i] = g.Name
	}
	return names
}

// Validate checks code lengths, dye indices and uniqueness.
func (cb *Codebook) Validate(rounds, dyes int) error {
	if len(cb.Genes) == 0 {
		return fmt.Errorf("%w: no genes", ErrInvalidCodebook)
	}
	var errs []error
	names := make(map[string]int)
	codes := make(map[string]int)
	for i, g := range cb.Genes {
		if j, ok := names[g.Name]; ok {
			errs = append(errs, fmt.Errorf("%w: gene %q at %d and %d", ErrInvalidCodebook, g.Name, j, i))
		}
		names[g.Name] = i

		if len(g.Code) != rounds {
			errs = append(errs, fmt.Errorf("%w: gene %q has %d rounds, expected %d",
				ErrInvalidCodebook, g.Name, len(g.Code), rounds))
			continue
		}
		for r, d := range g.Code {
			if d < 0 || d >= dyes {
				errs = append(errs, fmt.Errorf("%w: gene %q round %d uses dye %d, only %d dyes",
					ErrInvalidCodebook, g.Name, r, d, dyes))
			}
		}
		key := formatCode(g.Code)
		if j, ok := codes[key]; ok {
			errs = append(errs, fmt.Errorf("%w: genes %q and %q share code %s",
				ErrInvalidCodebook, cb.Genes[j].Name, g.Name, key))
		}
		codes[key] = i
	}
	return errors.Join(errs...)
}

// Parse reads the text format: one "name code" pair per line where code is
// a digit string with one dye per round. Blank lines and lines starting
// with '#' are ignored.
func Parse(r io.Reader) (*Codebook, error) {
	cb := &Codebook{}
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 2 {
			return nil, fmt.Errorf("%w: line %d: expected \"name code\", got %q", ErrInvalidCodebook, line, text)
		}
		code, err := parseCode(fields[1])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		cb.Genes = append(cb.Genes, Gene{Name: fields[0], Code: code})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading codebook: %w", err)
	}
	return cb, nil
}

type tomlFile struct {
	Gene []struct {
		Name string `toml:"name"`
		Code string `toml:"code"`
	} `toml:"gene"`
}

// ParseTOML reads the TOML format, a list of [[gene]] tables with name and
// code keys.
func ParseTOML(data []byte) (*Codebook, error) {
	var f tomlFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing codebook: %w", err)
	}
	cb := &Codebook{}
	for i, g := range f.Gene {
		if g.Name == "" {
			return nil, fmt.Errorf("%w: gene %d has no name", ErrInvalidCodebook, i)
		}
		code, err := parseCode(g.Code)
		if err != nil {
			return nil, fmt.Errorf("gene %q: %w", g.Name, err)
		}
		cb.Genes = append(cb.Genes, Gene{Name: g.Name, Code: code})
	}
	return cb, nil
}

// Load reads a codebook file, choosing the format by extension.
func Load(path string) (*Codebook, error) {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading codebook: %w", err)
		}
		return ParseTOML(data)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening codebook: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

func parseCode(s string) ([]int, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty code", ErrInvalidCodebook)
	}
	code := make([]int, len(s))
	for i, ch := range s {
		if ch < '0' || ch > '9' {
			return nil, fmt.Errorf("%w: code %q contains %q", ErrInvalidCodebook, s, ch)
		}
		code[i] = int(ch - '0')
	}
	return code, nil
}

func formatCode(code []int) string {
	var sb strings.Builder
	for _, d := range code {
		fmt.Fprintf(&sb, "%d", d)
	}
	return sb.String()
}
