package model_selection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateExhaustiveProduct(t *testing.T) {
	space := ParamSpace{
		{Name: "max_depth", Domain: Values{3, 5}},
		{Name: "min_samples_leaf", Domain: IntRange{Min: 1, Max: 3}},
		{Name: "criterion", Domain: Values{"gini", "entropy", "log_loss", "misclass"}},
	}

	grid, err := Generate("decision_tree", space, 0, ModeExhaustive, 0)
	require.NoError(t, err)
	require.Len(t, grid, 2*3*4)

	keys := make(map[string]bool)
	for i, spec := range grid {
		assert.Equal(t, i, spec.ID)
		assert.Equal(t, "decision_tree", spec.Family)
		keys[spec.Params.Key()] = true
	}
	assert.Len(t, keys, 24, "every combination must be unique")

	assert.Equal(t, 3, grid[0].Params["max_depth"])
	assert.Equal(t, 1, grid[0].Params["min_samples_leaf"])
	assert.Equal(t, "gini", grid[0].Params["criterion"])
	assert.Equal(t, "entropy", grid[1].Params["criterion"])
	assert.Equal(t, 5, grid[23].Params["max_depth"])
}

func TestGenerateExhaustiveLimit(t *testing.T) {
	space := ParamSpace{{Name: "n_estimators", Domain: IntRange{Min: 10, Max: 100}}}
	grid, err := Generate("bagged_trees", space, 5, ModeExhaustive, 0)
	require.NoError(t, err)
	require.Len(t, grid, 5)
	assert.Equal(t, 14, grid[4].Params["n_estimators"])
}

func TestGenerateExhaustiveRejectsContinuous(t *testing.T) {
	space := ParamSpace{{Name: "learning_rate", Domain: FloatRange{Min: 0.01, Max: 0.3}}}
	_, err := Generate("boosted_trees", space, 0, ModeExhaustive, 0)
	assert.Error(t, err)
}

func TestGenerateRandomWithinDomains(t *testing.T) {
	space := ParamSpace{
		{Name: "cost_complexity", Domain: FloatRange{Min: 0, Max: 0.05}},
		{Name: "max_depth", Domain: IntRange{Min: 1, Max: 15}},
		{Name: "criterion", Domain: Values{"gini", "entropy"}},
	}

	grid, err := Generate("decision_tree", space, 40, ModeRandom, 7)
	require.NoError(t, err)
	require.Len(t, grid, 40)

	keys := make(map[string]bool)
	for i, spec := range grid {
		assert.Equal(t, i, spec.ID)
		cc := spec.Params["cost_complexity"].(float64)
		assert.GreaterOrEqual(t, cc, 0.0)
		assert.LessOrEqual(t, cc, 0.05)
		depth := spec.Params["max_depth"].(int)
		assert.GreaterOrEqual(t, depth, 1)
		assert.LessOrEqual(t, depth, 15)
		assert.Contains(t, []any{"gini", "entropy"}, spec.Params["criterion"])
		keys[spec.Params.Key()] = true
	}
	assert.Len(t, keys, 40)
}

func TestGenerateRandomDeterministic(t *testing.T) {
	space := ParamSpace{{Name: "max_depth", Domain: IntRange{Min: 1, Max: 1000}}}

	a, err := Generate("decision_tree", space, 10, ModeRandom, 5)
	require.NoError(t, err)
	b, err := Generate("decision_tree", space, 10, ModeRandom, 5)
	require.NoError(t, err)
	c, err := Generate("decision_tree", space, 10, ModeRandom, 6)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestGenerateRandomDeduplicates(t *testing.T) {
	space := ParamSpace{{Name: "max_depth", Domain: IntRange{Min: 1, Max: 4}}}

	grid, err := Generate("decision_tree", space, 4, ModeRandom, 11)
	require.NoError(t, err)

	seen := make(map[int]bool)
	for _, spec := range grid {
		seen[spec.Params["max_depth"].(int)] = true
	}
	// 32 redraws make a repeated value vanishingly unlikely
	assert.Len(t, seen, 4)
}

func TestGenerateRandomAcceptsDuplicatesWhenExhausted(t *testing.T) {
	space := ParamSpace{{Name: "max_depth", Domain: IntRange{Min: 1, Max: 2}}}

	grid, err := Generate("decision_tree", space, 10, ModeRandom, 1)
	require.NoError(t, err)
	assert.Len(t, grid, 10)
}

func TestGenerateEmptySpace(t *testing.T) {
	grid, err := Generate("majority", nil, 1, ModeRandom, 0)
	require.NoError(t, err)
	require.Len(t, grid, 1)
	assert.Empty(t, grid[0].Params)

	grid, err = Generate("majority", nil, 0, ModeExhaustive, 0)
	require.NoError(t, err)
	assert.Len(t, grid, 1)
}

func TestGenerateRegular(t *testing.T) {
	space := ParamSpace{
		{Name: "learning_rate", Domain: FloatRange{Min: 0, Max: 1}},
		{Name: "max_depth", Domain: IntRange{Min: 1, Max: 15}},
	}

	grid, err := Generate("boosted_trees", space, 3, ModeRegular, 0)
	require.NoError(t, err)
	require.Len(t, grid, 9)

	assert.Equal(t, 0.0, grid[0].Params["learning_rate"])
	assert.Equal(t, 1, grid[0].Params["max_depth"])
	assert.Equal(t, 8, grid[1].Params["max_depth"])
	assert.Equal(t, 15, grid[2].Params["max_depth"])
	assert.Equal(t, 0.5, grid[3].Params["learning_rate"])
	assert.Equal(t, 1.0, grid[8].Params["learning_rate"])
}

func TestGenerateValidation(t *testing.T) {
	tests := []struct {
		name  string
		space ParamSpace
		size  int
		mode  Mode
	}{
		{"inverted int range", ParamSpace{{Name: "a", Domain: IntRange{Min: 5, Max: 1}}}, 3, ModeRandom},
		{"inverted float range", ParamSpace{{Name: "a", Domain: FloatRange{Min: 1, Max: 0}}}, 3, ModeRandom},
		{"empty values", ParamSpace{{Name: "a", Domain: Values{}}}, 3, ModeRandom},
		{"duplicate values", ParamSpace{{Name: "a", Domain: Values{1, 1, 2}}}, 0, ModeExhaustive},
		{"int and float duplicate", ParamSpace{{Name: "a", Domain: Values{3, 3.0}}}, 0, ModeExhaustive},
		{"duplicate strings", ParamSpace{{Name: "a", Domain: Values{"gini", "gini"}}}, 2, ModeRandom},
		{"duplicate name", ParamSpace{{Name: "a", Domain: Values{1}}, {Name: "a", Domain: Values{2}}}, 0, ModeExhaustive},
		{"zero random size", ParamSpace{{Name: "a", Domain: Values{1}}}, 0, ModeRandom},
		{"zero regular size", ParamSpace{{Name: "a", Domain: Values{1}}}, 0, ModeRegular},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Generate("decision_tree", tt.space, tt.size, tt.mode, 0)
			assert.Error(t, err)
		})
	}
}

func TestParamSpaceWith(t *testing.T) {
	base := ParamSpace{
		{Name: "max_depth", Domain: IntRange{Min: 1, Max: 15}},
		{Name: "min_samples_leaf", Domain: IntRange{Min: 1, Max: 40}},
	}
	merged := base.With(ParamSpace{
		{Name: "max_depth", Domain: Values{2, 4}},
		{Name: "criterion", Domain: Values{"entropy"}},
	})

	require.Len(t, merged, 3)
	assert.Equal(t, Values{2, 4}, merged[0].Domain)
	assert.Equal(t, "criterion", merged[2].Name)
	assert.Equal(t, IntRange{Min: 1, Max: 15}, base[0].Domain)
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"random": ModeRandom, "exhaustive": ModeExhaustive, "grid": ModeExhaustive, "regular": ModeRegular} {
		got, err := ParseMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseMode("bayes")
	assert.Error(t, err)
}

func TestValuesDistinctTypesAreDistinct(t *testing.T) {
	grid, err := Generate("decision_tree", ParamSpace{{Name: "a", Domain: Values{3, "3"}}}, 0, ModeExhaustive, 0)
	require.NoError(t, err)
	assert.Len(t, grid, 2)
}
