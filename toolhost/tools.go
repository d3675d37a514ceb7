package toolhost

import (
	"math"
	"strconv"

	"github.com/user/mcp-tool-relay/errorsx"
)

// SecretText is the fixed payload of the secret tool.
const SecretText = "secret : thisisyoursecretyayelvishbhhhaaaai"

type bmiArgs struct {
	WeightKg float64 `json:"weight_kg" mapstructure:"weight_kg" jsonschema:"body weight in kilograms"`
	HeightM  float64 `json:"height_m" mapstructure:"height_m" jsonschema:"height in meters"`
}

type areaArgs struct {
	Width  float64 `json:"width" mapstructure:"width" jsonschema:"rectangle width"`
	Height float64 `json:"height" mapstructure:"height" jsonschema:"rectangle height"`
}

type secretArgs struct{}

func calculateBMI(a bmiArgs) (string, error) {
	return formatNumber("calculate_bmi", a.WeightKg/(a.HeightM*a.HeightM))
}

func calculateArea(a areaArgs) (string, error) {
	return formatNumber("calculate_area", a.Width*a.Height)
}

func secret(secretArgs) (string, error) {
	return SecretText, nil
}

// formatNumber renders v in its shortest round-trip form, so 12.0 prints as "12".
func formatNumber(tool string, v float64) (string, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "", errorsx.New(errorsx.ReasonToolExecution, "%s: result is not a finite number (%v)", tool, v)
	}
	return strconv.FormatFloat(v, 'f', -1, 64), nil
}
