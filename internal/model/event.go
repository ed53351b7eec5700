package model

// GenContext describes what the generator was producing when a failure was
// observed.
type GenContext struct {
	Entity           string `json:"entity,omitempty" yaml:"entity,omitempty"`
	Method           string `json:"method,omitempty" yaml:"method,omitempty"`
	Endpoint         string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	ExpectedBehavior string `json:"expected_behavior,omitempty" yaml:"expected_behavior,omitempty"`
}

// FailureEvent is one failed generation attempt as reported by the
// code-generation/execution harness (smoke tests, service exceptions).
type FailureEvent struct {
	GenContext      `yaml:",inline"`
	TaskDescription string `json:"task_description,omitempty" yaml:"task_description,omitempty"`
	ExceptionClass  string `json:"exception_class,omitempty" yaml:"exception_class,omitempty"`
	ErrorMessage    string `json:"error_message" yaml:"error_message"`
	FailedCode      string `json:"failed_code,omitempty" yaml:"failed_code,omitempty"`
	FixedCode       string `json:"fixed_code,omitempty" yaml:"fixed_code,omitempty"`
	FixDescription  string `json:"fix_description,omitempty" yaml:"fix_description,omitempty"`
	TargetFile      string `json:"target_file,omitempty" yaml:"target_file,omitempty"`
	StatusCode      int    `json:"status_code,omitempty" yaml:"status_code,omitempty"`
}

// Violation is a failure captured by the runtime diagnostics subsystem. It
// carries the same logical fields as FailureEvent under that subsystem's
// names and is reconciled into the same pattern space by the bridge.
type Violation struct {
	Endpoint      string `json:"endpoint" yaml:"endpoint"`
	Method        string `json:"method,omitempty" yaml:"method,omitempty"`
	ViolationType string `json:"violation_type" yaml:"violation_type" validate:"required_without=Detail"`
	Detail        string `json:"detail" yaml:"detail" validate:"required_without=ViolationType"`
	Exception     string `json:"exception,omitempty" yaml:"exception,omitempty"`
	Entity        string `json:"entity,omitempty" yaml:"entity,omitempty"`
	Code          string `json:"code,omitempty" yaml:"code,omitempty"`
	HTTPStatus    int    `json:"http_status,omitempty" yaml:"http_status,omitempty" validate:"omitempty,min=100,max=599"`
	Source        string `json:"source,omitempty" yaml:"source,omitempty"`
}
