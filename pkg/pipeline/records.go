package pipeline

import (
	"fmt"

	"github.com/google/uuid"

	"genecall/internal/models"
	"genecall/pkg/omp"
	"genecall/pkg/spots"
)

// recordID is a name-based UUID of the tile, location and gene, so
// reprocessing a tile reproduces the same identifiers.
func recordID(tile int, loc models.Location, gene int) string {
	name := fmt.Sprintf("genecall/tile/%d/z/%d/y/%d/x/%d/gene/%d", tile, loc.Z, loc.Y, loc.X, gene)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

func newRecord(tile int, loc models.Location, c spots.Candidate, pixel omp.Result, names []string) models.SpotRecord {
	coefs := make([]models.GeneCoef, len(pixel.Genes))
	for k, g := range pixel.Genes {
		coefs[k] = models.GeneCoef{Gene: g, Coef: pixel.Coefs[k]}
	}
	return models.SpotRecord{
		ID:         recordID(tile, loc, c.Gene),
		Tile:       tile,
		Y:          loc.Y,
		X:          loc.X,
		Z:          loc.Z,
		Gene:       c.Gene,
		GeneName:   names[c.Gene],
		Coef:       pixel.Coef(c.Gene),
		PixelCoefs: coefs,
		Score:      c.Score,
		Intensity:  c.Intensity,
		Accepted:   c.Accepted,
	}
}
