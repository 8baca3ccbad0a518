package chain

import "slices"

// Pipeline task names used by the built-in chains.
const (
	TaskCatalogSetup     = "catalog-setup"
	TaskConvertUVH5ToMS  = "convert-uvh5-to-ms"
	TaskCalibrationSolve = "calibration-solve"
	TaskCalibrationApply = "calibration-apply"
	TaskImaging          = "imaging"
	TaskValidation       = "validation"
	TaskCrossmatch       = "crossmatch"
	TaskPhotometry       = "photometry"
)

var builtins = []Chain{
	{
		Name:        "full-pipeline",
		Description: "Convert, solve and apply calibration, then image",
		Tasks:       []string{TaskConvertUVH5ToMS, TaskCalibrationSolve, TaskCalibrationApply, TaskImaging},
	},
	{
		Name:        "reuse-calibration",
		Description: "Convert and image with an existing calibration solution",
		Tasks:       []string{TaskConvertUVH5ToMS, TaskCalibrationApply, TaskImaging},
	},
	{
		Name:        "standard-pipeline",
		Description: "Full processing from catalog setup to photometry",
		Tasks: []string{
			TaskCatalogSetup,
			TaskConvertUVH5ToMS,
			TaskCalibrationSolve,
			TaskCalibrationApply,
			TaskImaging,
			TaskValidation,
			TaskCrossmatch,
			TaskPhotometry,
		},
	},
	{
		Name:        "quick-imaging",
		Description: "Image with an existing calibration",
		Tasks:       []string{TaskConvertUVH5ToMS, TaskCalibrationApply, TaskImaging},
	},
	{
		Name:        "calibrator",
		Description: "Derive a calibration solution from a calibrator observation",
		Tasks:       []string{TaskCatalogSetup, TaskConvertUVH5ToMS, TaskCalibrationSolve},
	},
	{
		Name:        "target",
		Description: "Process a target field with an existing calibration",
		Tasks:       []string{TaskConvertUVH5ToMS, TaskCalibrationApply, TaskImaging, TaskValidation, TaskPhotometry},
	},
}

// Builtins returns copies of the predefined pipeline chains.
func Builtins() []Chain {
	out := make([]Chain, len(builtins))
	for i, c := range builtins {
		out[i] = Chain{Name: c.Name, Description: c.Description, Tasks: slices.Clone(c.Tasks)}
	}
	return out
}
