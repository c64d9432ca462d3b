package server

import "time"

// metricsStageCallback records each pipeline stage's duration into the
// editStageDuration histogram; it implements editpipeline.StageCallback.
type metricsStageCallback struct{}

func (metricsStageCallback) OnStageStart(stage string) {}

func (metricsStageCallback) OnStageComplete(stage string, dur time.Duration) {
	editStageDuration.WithLabelValues(stage).Observe(dur.Seconds())
}

func (metricsStageCallback) OnError(stage string, err error) {}
