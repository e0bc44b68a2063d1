package loom

// Model describes a provider model's context limits and pricing. Models are
// typically loaded from the catalog package and feed the capacity policy and
// cost computation.
type Model struct {
	ID         string
	ProviderID string
	Family     Family
	Limit      Limit
	Cost       Rates
}

// Limit holds a model's token limits. Input is a hard input cap; 0 means the
// model declares none and capacity is derived from Context minus Output.
type Limit struct {
	Context int
	Input   int
	Output  int
}

// Rates are USD per million tokens. A zero rate means the category is free
// or unpriced and contributes nothing to cost.
type Rates struct {
	Input        float64
	Output       float64
	CacheRead    float64
	CacheWrite5m float64
}
