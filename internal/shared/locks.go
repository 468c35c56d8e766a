package shared

import "fmt"

// ExpiryScanLockKey builds redis keys guarding the per-organisation expiry scan.
func ExpiryScanLockKey(orgID int64) string {
	return fmt.Sprintf("ledger:org:%d:expiry-scan:lock", orgID)
}

// StatusRebuildLockKey builds redis keys guarding projection rebuilds.
func StatusRebuildLockKey(orgID int64) string {
	return fmt.Sprintf("ledger:org:%d:status-rebuild:lock", orgID)
}
