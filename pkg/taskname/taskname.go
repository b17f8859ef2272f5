package taskname

const (
	// EnrollmentEvaluate re-evaluates one enrollment after a check-in.
	EnrollmentEvaluate = "engagement:enrollment:evaluate"

	// CampaignSweep evaluates every ongoing enrollment of a campaign.
	CampaignSweep = "engagement:campaign:sweep"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)
