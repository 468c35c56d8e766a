package shared

// Scope identifies the organisation and actor a request acts for. It is passed
// explicitly into every service call; there is no default organisation.
type Scope struct {
	OrgID   int64
	ActorID int64
}
