package engagement

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	checkInsRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engagement_check_ins_recorded_total",
		Help: "Check-ins written.",
	})
	checkInDuplicates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engagement_check_in_duplicates_total",
		Help: "Check-ins rejected because one already exists for the day.",
	})
	pointsGranted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engagement_points_granted_total",
		Help: "Points credited for check-ins.",
	})
	transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engagement_enrollment_transitions_total",
		Help: "Enrollments moved out of ONGOING by the lifecycle rule.",
	}, []string{"verdict"})
	invariantViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engagement_invariant_violations_total",
	}, []string{"ledger"})
)
