package interactions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegismed/caseflow/internal/model"
)

func TestStaticTable_ClassAllergy(t *testing.T) {
	table := NewStaticTable()

	// Amoxicillin is a penicillin derivative: the class lookup catches
	// what a plain name comparison cannot.
	findings, err := table.Check(context.Background(), "Amoxicillin", []string{"Penicillin"}, nil)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "class_allergy", findings[0].Kind)
	assert.Equal(t, "Amoxicillin", findings[0].Medication)
	assert.Equal(t, "Penicillin", findings[0].With)
	assert.Equal(t, model.SeverityHigh, findings[0].Severity)
}

func TestStaticTable_DrugDrugInteraction(t *testing.T) {
	table := NewStaticTable()

	findings, err := table.Check(context.Background(), "Ibuprofen", nil, []string{"Warfarin", "Metformin"})
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "drug_drug", findings[0].Kind)
	assert.Equal(t, "Warfarin", findings[0].With)
	assert.Equal(t, model.SeverityHigh, findings[0].Severity)
}

func TestStaticTable_InteractionIsSymmetric(t *testing.T) {
	table := NewStaticTable()

	forward, err := table.Check(context.Background(), "warfarin", nil, []string{"aspirin"})
	require.NoError(t, err)
	reverse, err := table.Check(context.Background(), "aspirin", nil, []string{"warfarin"})
	require.NoError(t, err)

	require.Len(t, forward, 1)
	require.Len(t, reverse, 1)
	assert.Equal(t, forward[0].Severity, reverse[0].Severity)
	assert.Equal(t, forward[0].Detail, reverse[0].Detail)
}

func TestStaticTable_NoConflicts(t *testing.T) {
	table := NewStaticTable()

	findings, err := table.Check(context.Background(), "Acetaminophen", []string{"shellfish"}, []string{"Levothyroxine"})
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestStaticTable_EmptyMedicationIsError(t *testing.T) {
	table := NewStaticTable()

	_, err := table.Check(context.Background(), "  ", nil, nil)
	assert.Error(t, err)
}
