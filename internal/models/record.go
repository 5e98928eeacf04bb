package models

// GeneCoef is one (gene, coefficient) pair assigned to a pixel.
type GeneCoef struct {
	Gene int     `json:"gene" bson:"gene"`
	Coef float64 `json:"coef" bson:"coef"`
}

// SpotRecord is one detected gene spot as written to the output sinks.
type SpotRecord struct {
	// ID is a deterministic identifier derived from tile, location and gene
	ID string `json:"id" bson:"_id"`

	Tile int `json:"tile" bson:"tile"`
	Y    int `json:"y" bson:"y"`
	X    int `json:"x" bson:"x"`
	Z    int `json:"z" bson:"z"`

	Gene     int    `json:"gene" bson:"gene"`
	GeneName string `json:"gene_name" bson:"gene_name"`

	// Coef is the coefficient of Gene at the spot pixel
	Coef float64 `json:"coef" bson:"coef"`

	// PixelCoefs lists every gene assigned to the spot pixel in selection order
	PixelCoefs []GeneCoef `json:"pixel_coefs" bson:"pixel_coefs"`

	Score     float64 `json:"score" bson:"score"`
	Intensity float64 `json:"intensity" bson:"intensity"`
	Accepted  bool    `json:"accepted" bson:"accepted"`
}

// Less orders records by position then gene.
func (r SpotRecord) Less(o SpotRecord) bool {
	if r.Z != o.Z {
		return r.Z < o.Z
	}
	if r.Y != o.Y {
		return r.Y < o.Y
	}
	if r.X != o.X {
		return r.X < o.X
	}
	return r.Gene < o.Gene
}
