package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQualityTierRank(t *testing.T) {
	assert.Equal(t, 4, TierExcellent.Rank())
	assert.Equal(t, 3, TierGood.Rank())
	assert.Equal(t, 2, TierAcceptable.Rank())
	assert.Equal(t, 1, TierReviewNeeded.Rank())
	assert.Equal(t, 0, TierFailed.Rank())
	assert.Equal(t, 0, QualityTier("").Rank())
}

func TestReviewPriorityRank(t *testing.T) {
	assert.Equal(t, 4, PriorityCritical.Rank())
	assert.Equal(t, 3, PriorityHigh.Rank())
	assert.Equal(t, 2, PriorityMedium.Rank())
	assert.Equal(t, 1, PriorityLow.Rank())
	assert.Equal(t, 0, PriorityNone.Rank())
}

func TestHasCoordinates(t *testing.T) {
	rec := &GeocodeRecord{}
	assert.False(t, rec.HasCoordinates())

	rec.Latitude = Float64Ptr(31.9)
	assert.False(t, rec.HasCoordinates())

	rec.Longitude = Float64Ptr(-102.1)
	assert.True(t, rec.HasCoordinates())
}

func TestConfidenceValue(t *testing.T) {
	rec := &GeocodeRecord{}
	assert.Equal(t, 0.0, rec.ConfidenceValue())

	rec.Confidence = Float64Ptr(0.85)
	assert.Equal(t, 0.85, rec.ConfidenceValue())
}

func TestHasFlag(t *testing.T) {
	rec := &GeocodeRecord{ValidationFlags: []string{"low_confidence", "city_distance"}}
	assert.True(t, rec.HasFlag("low_confidence"))
	assert.False(t, rec.HasFlag("out_of_corridor"))
}

func TestSetMetadataNeverOverwrites(t *testing.T) {
	rec := &GeocodeRecord{}
	rec.SetMetadata("distance_m", 42.0)
	rec.SetMetadata("distance_m", 99.0)

	require.Contains(t, rec.Metadata, "distance_m")
	assert.Equal(t, 42.0, rec.Metadata["distance_m"])
}

func TestTicketValidate(t *testing.T) {
	tk := &Ticket{}
	err := tk.Validate()
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInput))

	tk.TicketNumber = "TX-100"
	assert.NoError(t, tk.Validate())
}
