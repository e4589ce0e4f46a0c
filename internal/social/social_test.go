package social

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpinionClampedOnWrite(t *testing.T) {
	r := NewRelations()
	assert.Equal(t, DefaultOpinion, r.Opinion(1, 2))

	r.SetOpinion(1, 2, 250)
	assert.Equal(t, MaxOpinion, r.Opinion(1, 2))

	r.SetOpinion(1, 2, -4)
	assert.Equal(t, MinOpinion, r.Opinion(1, 2))

	got := r.AdjustOpinion(2, 1, 60)
	assert.Equal(t, MaxOpinion, got)
	assert.Equal(t, DefaultOpinion, r.Opinion(3, 1), "opinions are directed")
}

func TestRelationsExportImport(t *testing.T) {
	r := NewRelations()
	r.SetOpinion(2, 1, 70)
	r.SetOpinion(1, 3, 20)
	r.SetOpinion(1, 2, 40)

	ops := r.Export()
	require.Len(t, ops, 3)
	assert.Equal(t, RelationKey{From: 1, To: 2}, ops[0].RelationKey)
	assert.Equal(t, RelationKey{From: 2, To: 1}, ops[2].RelationKey)
	assert.Equal(t, []uint64{2, 3}, r.Known(1))

	r2 := NewRelations()
	r2.Import(append(ops, Opinion{RelationKey: RelationKey{From: 9, To: 9}, Value: 1000}))
	assert.Equal(t, 70.0, r2.Opinion(2, 1))
	assert.Equal(t, MaxOpinion, r2.Opinion(9, 9))
}

func TestAgendaModifiers(t *testing.T) {
	a := NewMissionAgenda("Find water", map[string]float64{"ResearchScience": 2, "WalkOutside": 50})
	a.AddSubAgenda("Feed the crew", map[string]float64{"TendGreenhouse": 1.5, "ResearchScience": 0.5})

	assert.Equal(t, 1.0, a.Modifier("ResearchScience"))
	assert.Equal(t, MaxModifier, a.Modifier("WalkOutside"))
	assert.Equal(t, 1.0, a.Modifier("Sleep"))
	assert.Equal(t, []string{"ResearchScience", "TendGreenhouse", "WalkOutside"}, a.Tasks())
}

func TestRegistryOrderAndModifier(t *testing.T) {
	reg := NewRegistry([]*Settlement{
		{ID: 3, Name: "C"},
		{ID: 1, Name: "A", Agenda: NewMissionAgenda("a", map[string]float64{"Eat": 2})},
	})
	all := reg.All()
	require.Len(t, all, 2)
	assert.Equal(t, "A", all[0].Name)
	assert.Equal(t, 2.0, reg.Modifier(1, "Eat"))
	assert.Equal(t, 1.0, reg.Modifier(3, "Eat"))
	assert.Equal(t, 1.0, reg.Modifier(99, "Eat"))
	assert.Nil(t, reg.Get(99))
}
