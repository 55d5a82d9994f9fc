package models

import "time"

// BuildResult holds the outcome of a build run.
type BuildResult struct {
	Stage           string
	StartTime       time.Time
	EndTime         time.Time
	Files           int
	Folders         int
	ProductCount    int
	PageCount       int
	Collisions      int
	ImagesRewritten int
	InvalidProducts int
	DanglingRefs    int
	RelinkedRefs    int
	Warnings        []string
	StageDurations  map[string]time.Duration
	OutputFiles     []string
}
