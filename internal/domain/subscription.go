package domain

import "time"

// Subscription tracks one live observer's interests within a tenant.
type Subscription struct {
	SubscriberID  string
	TenantID      string
	WatchedJobs   map[string]struct{}
	WatchedGroups map[string]struct{}
}

// NewSubscription creates an empty subscription for a connecting observer.
func NewSubscription(subscriberID, tenantID string) *Subscription {
	return &Subscription{
		SubscriberID:  subscriberID,
		TenantID:      tenantID,
		WatchedJobs:   make(map[string]struct{}),
		WatchedGroups: make(map[string]struct{}),
	}
}

func (s *Subscription) MonitorJob(jobID string)    { s.WatchedJobs[jobID] = struct{}{} }
func (s *Subscription) UnmonitorJob(jobID string)  { delete(s.WatchedJobs, jobID) }
func (s *Subscription) MonitorGroup(parentID string) { s.WatchedGroups[parentID] = struct{}{} }

func (s *Subscription) WatchesJob(jobID string) bool {
	_, ok := s.WatchedJobs[jobID]
	return ok
}

func (s *Subscription) WatchesGroup(parentID string) bool {
	_, ok := s.WatchedGroups[parentID]
	return ok
}

// JobProjection is the last-known state of a job, cached for late
// subscribers and served by getJob/listJobsByParent.
type JobProjection struct {
	JobID     string
	TenantID  string
	ParentID  string
	JobType   JobType
	State     JobState
	Progress  int
	Result    any
	Error     string
	UpdatedAt time.Time
}
