// Package resolve turns the layered configuration document into the
// per-job effective configuration and the list of jobs to execute.
package resolve

import "fmt"

// ConfigError is a fatal pre-execution configuration error. For required
// settings it names both keys that were checked so the operator can see the
// whole chain that came up empty.
type ConfigError struct {
	JobName   string
	JobKey    string
	GlobalKey string
	Detail    string
}

func (e *ConfigError) Error() string {
	if e.JobKey != "" && e.GlobalKey != "" {
		return fmt.Sprintf("job %q: required setting missing: neither %s nor global %s is set",
			e.JobName, e.JobKey, e.GlobalKey)
	}
	return fmt.Sprintf("job %q: %s", e.JobName, e.Detail)
}

func requiredErr(jobName, jobKey, globalKey string) error {
	return &ConfigError{JobName: jobName, JobKey: jobKey, GlobalKey: globalKey}
}

func configErr(jobName, format string, args ...any) error {
	return &ConfigError{JobName: jobName, Detail: fmt.Sprintf(format, args...)}
}
