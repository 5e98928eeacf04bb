package codebook

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"genecall/pkg/bleed"
)

// Dictionary holds the expected colour of every gene. It is derived from a
// bleed matrix and is immutable once built.
type Dictionary struct {
	Rounds   int
	Channels int
	Names    []string

	// Signatures[g] has Rounds*Channels entries in r*Channels + c order,
	// unit-normalised within every round.
	Signatures [][]float64

	// Units[g] is Signatures[g] scaled to unit length over all rounds.
	Units [][]float64
}

// NumGenes returns the number of genes in the dictionary.
func (d *Dictionary) NumGenes() int { return len(d.Signatures) }

// Dictionary combines the codebook with a bleed matrix. A round whose dye
// column is all zero contributes nothing to the signature.
func (cb *Codebook) Dictionary(bm *bleed.Matrix) (*Dictionary, error) {
	if err := cb.Validate(bm.Rounds, bm.Dyes); err != nil {
		return nil, err
	}
	rounds, channels := bm.Rounds, bm.Channels
	dict := &Dictionary{
		Rounds:     rounds,
		Channels:   channels,
		Names:      cb.Names(),
		Signatures: make([][]float64, len(cb.Genes)),
		Units:      make([][]float64, len(cb.Genes)),
	}

	for g, gene := range cb.Genes {
		sig := make([]float64, rounds*channels)
		for r, dye := range gene.Code {
			col := bm.Column(r, dye)
			n := floats.Norm(col, 2)
			if n == 0 {
				continue
			}
			for c, v := range col {
				sig[r*channels+c] = v / n
			}
		}
		dict.Signatures[g] = sig

		unit := make([]float64, len(sig))
		if n := floats.Norm(sig, 2); n > 0 {
			floats.ScaleTo(unit, 1/n, sig)
		}
		dict.Units[g] = unit
	}
	return dict, nil
}

// Matrix returns the signatures of the given genes as the columns of a
// (Rounds*Channels) x len(genes) matrix.
func (d *Dictionary) Matrix(genes []int) *mat.Dense {
	m := mat.NewDense(d.Rounds*d.Channels, len(genes), nil)
	for j, g := range genes {
		m.SetCol(j, d.Signatures[g])
	}
	return m
}

// Lookup returns the index of the named gene.
func (d *Dictionary) Lookup(name string) (int, error) {
	for i, n := range d.Names {
		if n == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("gene %q not in codebook", name)
}

// Degenerate reports genes whose signature is zero in at least one round.
func (d *Dictionary) Degenerate() []int {
	var out []int
	for g, sig := range d.Signatures {
		for r := 0; r < d.Rounds; r++ {
			if floats.Norm(sig[r*d.Channels:(r+1)*d.Channels], 2) == 0 {
				out = append(out, g)
				break
			}
		}
	}
	return out
}

