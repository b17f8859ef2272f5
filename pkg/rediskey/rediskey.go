package rediskey

import "fmt"

const (
	CampaignStatusPrefix = "engagement:status"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildCampaignStatusKey returns "engagement:status:{campaignID}:{date}".
// The date is part of the key so a cached status never survives midnight.
func BuildCampaignStatusKey(campaignID, date string) string {
	return NamespaceKey(CampaignStatusPrefix, fmt.Sprintf("%s:%s", campaignID, date))
}
