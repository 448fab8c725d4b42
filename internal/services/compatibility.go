package services

import (
	"fmt"
	"math"
	"strings"

	"github.com/temcen/comport/internal/ml"
	"github.com/temcen/comport/pkg/models"
)

// Power draw estimates in watts.
const (
	baseSystemWattage = 100
	defaultCPUTDP     = 65
	defaultGPUTDP     = 150
	ramWattage        = 30
	ssdWattage        = 10
	hddWattage        = 20
	defaultPSUWattage = 500
	wattageHeadroom   = 1.2

	defaultGPULength    = 280
	defaultMaxGPULength = 320

	totalCompatibilityChecks = 4
)

// CheckCompatibility runs every rule over parts. It performs no I/O and never
// fails; missing parts or spec values make the affected rule pass.
func CheckCompatibility(parts models.PartSet) *models.CompatibilityReport {
	report := &models.CompatibilityReport{
		Compatible: true,
		Issues:     []string{},
		Warnings:   []string{},
	}

	report.Checks.CPUMotherboard = CheckCPUMotherboard(parts.Get(models.CategoryCPU), parts.Get(models.CategoryMotherboard))
	report.Checks.RAMMotherboard = CheckRAMMotherboard(parts.Get(models.CategoryRAM), parts.Get(models.CategoryMotherboard))
	report.Checks.PSUWattage = CheckPSUWattage(parts)
	report.Checks.GPUCase = CheckGPUCase(parts.Get(models.CategoryGPU), parts.Get(models.CategoryCase))

	passed := 0
	for _, check := range []models.CheckResult{
		report.Checks.CPUMotherboard,
		report.Checks.RAMMotherboard,
		report.Checks.PSUWattage.CheckResult,
		report.Checks.GPUCase,
	} {
		if check.Compatible {
			passed++
		} else {
			report.Compatible = false
		}
		report.Issues = append(report.Issues, check.Issues...)
		report.Warnings = append(report.Warnings, check.Warnings...)
	}

	report.Score = int(math.Round(100 * float64(passed) / totalCompatibilityChecks))
	return report
}

func newCheckResult(issues []string) models.CheckResult {
	if issues == nil {
		issues = []string{}
	}
	return models.CheckResult{Compatible: len(issues) == 0, Issues: issues}
}

// CheckCPUMotherboard compares sockets case-insensitively.
func CheckCPUMotherboard(cpu, motherboard *models.Product) models.CheckResult {
	if cpu == nil || motherboard == nil {
		return newCheckResult(nil)
	}

	cpuSocket := ml.SpecString(cpu.Specifications, "socket")
	mbSocket := ml.SpecString(motherboard.Specifications, "socket")

	var issues []string
	if cpuSocket != "" && mbSocket != "" && cpuSocket != mbSocket {
		rawCPU, _ := cpu.Specifications.Get("socket")
		rawMB, _ := motherboard.Specifications.Get("socket")
		issues = append(issues, fmt.Sprintf("Socket mismatch: CPU (%s) vs Motherboard (%s)", rawCPU, rawMB))
	}
	return newCheckResult(issues)
}

// memoryGeneration classifies a memory type string; unknown strings count as ddr3.
func memoryGeneration(memoryType string) string {
	switch {
	case strings.Contains(memoryType, "ddr5"):
		return "ddr5"
	case strings.Contains(memoryType, "ddr4"):
		return "ddr4"
	default:
		return "ddr3"
	}
}

// CheckRAMMotherboard compares the RAM "type" with the motherboard "memoryType".
func CheckRAMMotherboard(ram, motherboard *models.Product) models.CheckResult {
	if ram == nil || motherboard == nil {
		return newCheckResult(nil)
	}

	ramType := ml.SpecString(ram.Specifications, "type")
	mbType := ml.SpecString(motherboard.Specifications, "memoryType")

	var issues []string
	if ramType != "" && mbType != "" && memoryGeneration(ramType) != memoryGeneration(mbType) {
		issues = append(issues, fmt.Sprintf("Memory type mismatch: RAM (%s) vs Motherboard (%s)", ramType, mbType))
	}
	return newCheckResult(issues)
}

// EstimateWattage returns the estimated system draw and the recommended PSU
// size including headroom.
func EstimateWattage(parts models.PartSet) (estimated, recommended int) {
	estimated = baseSystemWattage
	if cpu := parts.Get(models.CategoryCPU); cpu != nil {
		estimated += ml.ParseSpecInt(cpu.Specifications, "TDP", defaultCPUTDP)
	}
	if gpu := parts.Get(models.CategoryGPU); gpu != nil {
		estimated += ml.ParseSpecInt(gpu.Specifications, "TDP", defaultGPUTDP)
	}
	if parts.Get(models.CategoryRAM) != nil {
		estimated += ramWattage
	}
	if storage := parts.Get(models.CategoryStorage); storage != nil {
		if strings.Contains(ml.SpecString(storage.Specifications, "type"), "ssd") {
			estimated += ssdWattage
		} else {
			estimated += hddWattage
		}
	}
	recommended = int(math.Ceil(float64(estimated) * wattageHeadroom))
	return estimated, recommended
}

// CheckPSUWattage fails when the PSU is below the estimated draw and warns
// when it is below the recommended size.
func CheckPSUWattage(parts models.PartSet) models.PSUCheckResult {
	estimated, recommended := EstimateWattage(parts)

	psuWattage := defaultPSUWattage
	if psu := parts.Get(models.CategoryPSU); psu != nil {
		psuWattage = ml.ParseSpecInt(psu.Specifications, "wattage", defaultPSUWattage)
	}

	var issues, warnings []string
	switch {
	case psuWattage < estimated:
		issues = append(issues, fmt.Sprintf("PSU wattage too low: %dW (need at least %dW)", psuWattage, estimated))
	case psuWattage < recommended:
		warnings = append(warnings, fmt.Sprintf("PSU wattage adequate but tight: %dW (recommended %dW)", psuWattage, recommended))
	}

	result := models.PSUCheckResult{
		CheckResult:        newCheckResult(issues),
		TotalWattage:       estimated,
		PSUWattage:         psuWattage,
		RecommendedWattage: recommended,
	}
	result.Warnings = warnings
	return result
}

// CheckGPUCase verifies the GPU length against the case limit.
func CheckGPUCase(gpu, pcCase *models.Product) models.CheckResult {
	if gpu == nil || pcCase == nil {
		return newCheckResult(nil)
	}

	length := ml.ParseSpecInt(gpu.Specifications, "length", defaultGPULength)
	maxLength := ml.ParseSpecInt(pcCase.Specifications, "maxGPULength", defaultMaxGPULength)

	var issues []string
	if length > maxLength {
		issues = append(issues, fmt.Sprintf("GPU too long: %dmm (case supports up to %dmm)", length, maxLength))
	}
	return newCheckResult(issues)
}
