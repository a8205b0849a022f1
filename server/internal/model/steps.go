package model

// 向导的步骤编号固定为 1..8，导航只能逐步前进。

const (
	StepScenario    = 1
	StepParameters  = 2
	StepEVData      = 3
	StepLocations   = 4
	StepTimePeriods = 5
	StepDistances   = 6
	StepWork        = 7
	StepReview      = 8
	MaxStep         = StepReview
)

var stepNames = map[int]string{
	StepScenario:    "scenario_setup",
	StepParameters:  "model_parameters",
	StepEVData:      "ev_battery_data",
	StepLocations:   "locations",
	StepTimePeriods: "time_periods",
	StepDistances:   "distance_matrices",
	StepWork:        "work_requirements",
	StepReview:      "review_generate",
}

// StepName 返回步骤的稳定标识，越界时返回 "unknown"。
func StepName(step int) string {
	if name, ok := stepNames[step]; ok {
		return name
	}
	return "unknown"
}

// ClampStep 把任意目标步收敛到 [1, MaxStep]。
func ClampStep(step int) int {
	if step < StepScenario {
		return StepScenario
	}
	if step > MaxStep {
		return MaxStep
	}
	return step
}
