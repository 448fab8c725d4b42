package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/comport/pkg/models"
)

func part(category models.Category, specs models.Specifications) *models.Product {
	return &models.Product{Category: category, Specifications: specs}
}

func powerHungryParts(psuWattage string) models.PartSet {
	return models.PartSet{
		models.CategoryCPU:     part(models.CategoryCPU, models.Specifications{"TDP": "100W"}),
		models.CategoryGPU:     part(models.CategoryGPU, models.Specifications{"TDP": "200W"}),
		models.CategoryRAM:     part(models.CategoryRAM, nil),
		models.CategoryStorage: part(models.CategoryStorage, models.Specifications{"type": "HDD 7200rpm"}),
		models.CategoryPSU:     part(models.CategoryPSU, models.Specifications{"wattage": psuWattage}),
	}
}

func TestCheckPSUWattage(t *testing.T) {
	tests := []struct {
		name       string
		psu        string
		compatible bool
		warnings   int
	}{
		{"below estimate", "400W", false, 0},
		{"tight", "500W", true, 1},
		{"comfortable", "600W", true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CheckPSUWattage(powerHungryParts(tt.psu))

			assert.Equal(t, 450, result.TotalWattage)
			assert.Equal(t, 540, result.RecommendedWattage)
			assert.Equal(t, tt.compatible, result.Compatible)
			assert.Len(t, result.Warnings, tt.warnings)
			if !tt.compatible {
				require.Len(t, result.Issues, 1)
				assert.Contains(t, result.Issues[0], "need at least 450W")
			}
		})
	}
}

func TestCheckPSUWattage_Defaults(t *testing.T) {
	result := CheckPSUWattage(models.PartSet{
		models.CategoryCPU:     part(models.CategoryCPU, nil),
		models.CategoryGPU:     part(models.CategoryGPU, models.Specifications{"tdp": "n/a"}),
		models.CategoryStorage: part(models.CategoryStorage, models.Specifications{"Type": "NVMe SSD"}),
	})

	// 100 base + 65 cpu + 150 gpu + 10 ssd
	assert.Equal(t, 325, result.TotalWattage)
	assert.Equal(t, 390, result.RecommendedWattage)
	assert.Equal(t, 500, result.PSUWattage)
	assert.True(t, result.Compatible)
	assert.Empty(t, result.Warnings)
}

func TestCheckCPUMotherboard(t *testing.T) {
	cpu := part(models.CategoryCPU, models.Specifications{"socket": "AM5"})

	assert.True(t, CheckCPUMotherboard(cpu, part(models.CategoryMotherboard, models.Specifications{"socket": "am5"})).Compatible)
	assert.True(t, CheckCPUMotherboard(cpu, part(models.CategoryMotherboard, nil)).Compatible)
	assert.True(t, CheckCPUMotherboard(cpu, nil).Compatible)

	mismatch := CheckCPUMotherboard(cpu, part(models.CategoryMotherboard, models.Specifications{"socket": "LGA1700"}))
	assert.False(t, mismatch.Compatible)
	assert.Equal(t, []string{"Socket mismatch: CPU (AM5) vs Motherboard (LGA1700)"}, mismatch.Issues)
}

func TestCheckRAMMotherboard(t *testing.T) {
	mb := part(models.CategoryMotherboard, models.Specifications{"memoryType": "DDR5"})

	assert.True(t, CheckRAMMotherboard(part(models.CategoryRAM, models.Specifications{"type": "DDR5-6000"}), mb).Compatible)
	assert.False(t, CheckRAMMotherboard(part(models.CategoryRAM, models.Specifications{"type": "DDR4 3200"}), mb).Compatible)

	// unrecognised strings both fall back to ddr3
	legacy := part(models.CategoryMotherboard, models.Specifications{"memoryType": "SDRAM"})
	assert.True(t, CheckRAMMotherboard(part(models.CategoryRAM, models.Specifications{"type": "unknown"}), legacy).Compatible)
}

func TestCheckGPUCase(t *testing.T) {
	gpu := part(models.CategoryGPU, models.Specifications{"length": "336mm"})

	assert.False(t, CheckGPUCase(gpu, part(models.CategoryCase, nil)).Compatible)
	assert.True(t, CheckGPUCase(gpu, part(models.CategoryCase, models.Specifications{"maxGPULength": "400 mm"})).Compatible)
	assert.True(t, CheckGPUCase(part(models.CategoryGPU, nil), part(models.CategoryCase, nil)).Compatible)
}

func TestCheckCompatibility(t *testing.T) {
	t.Run("EmptySetPassesEverything", func(t *testing.T) {
		report := CheckCompatibility(models.PartSet{})
		assert.True(t, report.Compatible)
		assert.Equal(t, 100, report.Score)
		assert.Empty(t, report.Issues)
		assert.Empty(t, report.Warnings)
	})

	t.Run("OneFailingCheckScores75", func(t *testing.T) {
		parts := powerHungryParts("600W")
		parts[models.CategoryMotherboard] = part(models.CategoryMotherboard, models.Specifications{"socket": "AM4"})
		parts[models.CategoryCPU].Specifications["socket"] = "AM5"

		report := CheckCompatibility(parts)
		assert.False(t, report.Compatible)
		assert.Equal(t, 75, report.Score)
		assert.Len(t, report.Issues, 1)
		assert.False(t, report.Checks.CPUMotherboard.Compatible)
	})

	t.Run("IssuesInCheckOrder", func(t *testing.T) {
		parts := powerHungryParts("400W")
		parts[models.CategoryCPU].Specifications["socket"] = "AM5"
		parts[models.CategoryMotherboard] = part(models.CategoryMotherboard, models.Specifications{"socket": "AM4"})
		parts[models.CategoryGPU].Specifications["length"] = "350mm"
		parts[models.CategoryCase] = part(models.CategoryCase, nil)

		report := CheckCompatibility(parts)
		require.Len(t, report.Issues, 3)
		assert.Contains(t, report.Issues[0], "Socket")
		assert.Contains(t, report.Issues[1], "PSU")
		assert.Contains(t, report.Issues[2], "GPU too long")
		assert.Equal(t, 25, report.Score)
	})

	t.Run("WarningKeepsCompatible", func(t *testing.T) {
		report := CheckCompatibility(powerHungryParts("500W"))
		assert.True(t, report.Compatible)
		assert.Equal(t, 100, report.Score)
		assert.Len(t, report.Warnings, 1)
	})
}
