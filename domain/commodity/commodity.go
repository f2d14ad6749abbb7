// Package commodity holds the lightweight reference types the matching core
// reads but does not own: commodities, varieties, and the quality parameter
// vocabulary attached to them.
package commodity

// Commodity is a traded commodity reference (cotton, gold, wheat, ...).
type Commodity struct {
	ID   string
	Code string
	Name string
	Unit string
}

// Variety narrows a Commodity to a specific cultivar/grade.
type Variety struct {
	ID          string
	CommodityID string
	Name        string
}
